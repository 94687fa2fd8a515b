// Package reference implements ReferenceResolver (spec §4.5): BFS over a
// message's reply chain and in-content platform links, extracting an
// ordered, cycle-free chain of context nodes plus prioritized media.
package reference

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tomasmach/personabridge/identity"
	"github.com/tomasmach/personabridge/platform"
)

// AuthorKind classifies a chain node relative to the personality currently
// being resolved (spec §4.5, drives MessageFormatter role assignment).
type AuthorKind string

const (
	AuthorUser             AuthorKind = "user"
	AuthorOwnPersonality   AuthorKind = "own-personality"
	AuthorOtherPersonality AuthorKind = "other-personality"
)

// MediaKind is the normalized media type used for prioritization.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaFile  MediaKind = "file"
)

// mediaPriority ranks kinds for truncation to MAX_MEDIA: audio > image >
// video > file (spec §4.5).
var mediaPriority = map[MediaKind]int{
	MediaAudio: 0,
	MediaImage: 1,
	MediaVideo: 2,
	MediaFile:  3,
}

// MediaRef is one piece of media discovered anywhere in the chain, tagged
// with how far from the resolving message it was found (for recency sort).
type MediaRef struct {
	URL      string
	Kind     MediaKind
	Distance int // BFS depth from the resolving message; 0 is m itself
}

// Node is one message in the resolved chain.
type Node struct {
	AuthorKind    AuthorKind
	AuthorHandle  string
	Content       string
	MediaRefs     []MediaRef
	Timestamp     time.Time
	LocationLabel string // e.g. channel id, for cross-channel context
}

// Chain is the resolved, root-first reference chain plus the media gathered
// across all of it, already truncated and priority-sorted.
type Chain struct {
	Nodes []Node
	Media []MediaRef
}

var (
	messageLinkPattern = regexp.MustCompile(`/channels/\d+/(\d+)/(\d+)`)
	inBandImagePattern = regexp.MustCompile(`\[Image:\s*(\S+)\]`)
	inBandAudioPattern = regexp.MustCompile(`\[Audio:\s*(\S+)\]`)
)

// Resolver builds reference chains for inbound messages.
type Resolver struct {
	client   platform.Client
	tracker  *identity.Tracker
	maxDepth int
	maxMedia int
}

// New builds a Resolver. maxDepth/maxMedia fall back to the spec defaults
// (10, 10) when zero.
func New(client platform.Client, tracker *identity.Tracker, maxDepth, maxMedia int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	if maxMedia <= 0 {
		maxMedia = 10
	}
	return &Resolver{client: client, tracker: tracker, maxDepth: maxDepth, maxMedia: maxMedia}
}

// Resolve builds the chain for m, resolved against resolvingPersonalityName
// (the display name of the personality this turn addresses). m itself is
// never added as a chain node — the chain is m's ancestors (its reply
// parent and any in-content linked messages, fetched and added transitively);
// the caller is responsible for m's own turn.
func (r *Resolver) Resolve(ctx context.Context, m platform.Message, resolvingPersonalityName string) Chain {
	seen := map[string]bool{m.ID: true}

	var nodes []Node
	allMedia := extractMedia(m, 0)
	queue := r.linkedFrom(ctx, m, 1, seen)

	for len(queue) > 0 && len(nodes) < r.maxDepth {
		cur := queue[0]
		queue = queue[1:]

		node := r.toNode(cur.msg, cur.depth, resolvingPersonalityName)
		nodes = append(nodes, node)
		allMedia = append(allMedia, node.MediaRefs...)

		if cur.depth+1 > r.maxDepth {
			continue
		}
		queue = append(queue, r.linkedFrom(ctx, cur.msg, cur.depth+1, seen)...)
	}

	// nodes were appended in BFS (closest-first) order; reverse for root-first.
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}

	return Chain{Nodes: nodes, Media: r.prioritizedMedia(allMedia)}
}

type queuedMessage struct {
	msg   platform.Message
	depth int
}

// linkedFrom fetches m's reply parent and any in-content linked messages not
// already seen, returning them tagged with depth for the BFS queue.
func (r *Resolver) linkedFrom(ctx context.Context, m platform.Message, depth int, seen map[string]bool) []queuedMessage {
	var out []queuedMessage

	if m.Reference != nil && !seen[m.Reference.MessageID] {
		seen[m.Reference.MessageID] = true
		if parent, err := r.client.FetchMessage(ctx, m.ChannelID, m.Reference.MessageID); err == nil {
			out = append(out, queuedMessage{msg: parent, depth: depth})
		}
	}

	for _, match := range messageLinkPattern.FindAllStringSubmatch(m.Content, -1) {
		channelID, messageID := match[1], match[2]
		if seen[messageID] {
			continue
		}
		seen[messageID] = true
		if linked, err := r.client.FetchMessage(ctx, channelID, messageID); err == nil {
			out = append(out, queuedMessage{msg: linked, depth: depth})
		}
	}

	return out
}

func (r *Resolver) toNode(m platform.Message, depth int, resolvingPersonalityName string) Node {
	kind := AuthorUser
	if r.tracker.Classify(m).Kind == identity.OwnWebhook {
		if m.AuthorDisplayName == resolvingPersonalityName {
			kind = AuthorOwnPersonality
		} else {
			kind = AuthorOtherPersonality
		}
	}

	return Node{
		AuthorKind:    kind,
		AuthorHandle:  m.AuthorDisplayName,
		Content:       m.Content,
		MediaRefs:     extractMedia(m, depth),
		Timestamp:     m.Timestamp,
		LocationLabel: m.ChannelID,
	}
}

func extractMedia(m platform.Message, depth int) []MediaRef {
	var refs []MediaRef

	for _, a := range m.Attachments {
		refs = append(refs, MediaRef{URL: a.URL, Kind: classifyContentType(a.ContentType), Distance: depth})
	}
	for _, e := range m.Embeds {
		if e.Media.ImageURL != "" {
			refs = append(refs, MediaRef{URL: e.Media.ImageURL, Kind: MediaImage, Distance: depth})
		}
		if e.Media.ThumbnailURL != "" {
			refs = append(refs, MediaRef{URL: e.Media.ThumbnailURL, Kind: MediaImage, Distance: depth})
		}
		if e.Media.VideoURL != "" {
			refs = append(refs, MediaRef{URL: e.Media.VideoURL, Kind: MediaVideo, Distance: depth})
		}
	}
	for _, match := range inBandImagePattern.FindAllStringSubmatch(m.Content, -1) {
		refs = append(refs, MediaRef{URL: match[1], Kind: MediaImage, Distance: depth})
	}
	for _, match := range inBandAudioPattern.FindAllStringSubmatch(m.Content, -1) {
		refs = append(refs, MediaRef{URL: match[1], Kind: MediaAudio, Distance: depth})
	}

	return refs
}

func classifyContentType(contentType string) MediaKind {
	switch {
	case strings.HasPrefix(contentType, "audio/"):
		return MediaAudio
	case strings.HasPrefix(contentType, "image/"):
		return MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return MediaVideo
	default:
		return MediaFile
	}
}

// prioritizedMedia truncates all to maxMedia, ordered audio > image > video
// > file, ties broken by recency (closest to the resolving message first).
// Stable sort preserves discovery order within equal (kind, distance) pairs.
func (r *Resolver) prioritizedMedia(all []MediaRef) []MediaRef {
	sort.SliceStable(all, func(i, j int) bool {
		if mediaPriority[all[i].Kind] != mediaPriority[all[j].Kind] {
			return mediaPriority[all[i].Kind] < mediaPriority[all[j].Kind]
		}
		return all[i].Distance < all[j].Distance
	})

	if len(all) > r.maxMedia {
		all = all[:r.maxMedia]
	}
	return all
}
