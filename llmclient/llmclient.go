// Package llmclient defines the wire shape and interface of the external LLM
// inference endpoint (spec §6): a JSON POST bearing the calling user's own
// bearer token, returning a single assistant message.
package llmclient

import "context"

// ContentPart is one element of a multimodal message body. Exactly one of
// Text/ImageURL/AudioURL/FileURL is set, selected by Type.
type ContentPart struct {
	Type     string `json:"type"` // "text" | "image_url" | "audio_url" | "file_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
}

// Message is one turn in the conversation sent to the LLM.
type Message struct {
	Role         string // "system" | "user" | "assistant"
	Content      string
	ContentParts []ContentPart
}

// Request is the fully-formed call the Dispatcher hands to a Client.
type Request struct {
	Token    string // the real author's bearer token, never a webhook identity's
	Model    string
	Messages []Message
}

// Client is the external LLM inference endpoint contract. Implementations
// must classify non-2xx responses per spec §6/§7: >=500 and 429 retriable,
// other 4xx terminal.
type Client interface {
	Chat(ctx context.Context, req Request) (content string, err error)
}
