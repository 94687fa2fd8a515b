// Package format implements MessageFormatter (spec §4.8): converts a
// resolved reference chain, the inbound user message, and prioritized
// media into the LLM wire payload, assigning roles so the model never
// mistakes its own prior reply for user input.
package format

import (
	"fmt"

	"github.com/tomasmach/personabridge/llmclient"
	"github.com/tomasmach/personabridge/reference"
	"github.com/tomasmach/personabridge/registry"
)

// BuildMessages assembles the LLM turn list for personality, given the
// resolved chain (already root-first) and the final inbound user message.
// media is the already-prioritized, already-truncated slice from
// ReferenceResolver; it is attached to the final turn only (spec §4.8).
func BuildMessages(personality *registry.Personality, userMessage string, chain reference.Chain, media []reference.MediaRef) []llmclient.Message {
	messages := make([]llmclient.Message, 0, len(chain.Nodes)+1)

	for _, node := range chain.Nodes {
		messages = append(messages, nodeToMessage(node, personality))
	}

	final := llmclient.Message{Role: "user", Content: userMessage}
	if len(media) > 0 {
		final.ContentParts = append(final.ContentParts, llmclient.ContentPart{Type: "text", Text: userMessage})
		for _, m := range media {
			final.ContentParts = append(final.ContentParts, mediaToContentPart(m))
		}
	}
	messages = append(messages, final)

	return messages
}

func nodeToMessage(node reference.Node, personality *registry.Personality) llmclient.Message {
	switch node.AuthorKind {
	case reference.AuthorOwnPersonality:
		return llmclient.Message{
			Role:    "assistant",
			Content: fmt.Sprintf("As %s, I said: %s", personality.DisplayName, node.Content),
		}
	case reference.AuthorOtherPersonality:
		return llmclient.Message{
			Role:    "user",
			Content: fmt.Sprintf("%s said: %s", node.AuthorHandle, node.Content),
		}
	default: // reference.AuthorUser
		return llmclient.Message{
			Role:    "user",
			Content: fmt.Sprintf("%s: %s", node.AuthorHandle, node.Content),
		}
	}
}

func mediaToContentPart(m reference.MediaRef) llmclient.ContentPart {
	switch m.Kind {
	case reference.MediaAudio:
		return llmclient.ContentPart{Type: "audio_url", AudioURL: m.URL}
	case reference.MediaImage:
		return llmclient.ContentPart{Type: "image_url", ImageURL: m.URL}
	default: // video and file both travel as a generic file reference
		return llmclient.ContentPart{Type: "file_url", FileURL: m.URL}
	}
}
