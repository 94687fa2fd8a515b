package reference

import (
	"context"
	"testing"
	"time"

	"github.com/tomasmach/personabridge/identity"
	"github.com/tomasmach/personabridge/platform"
)

type fakeNamer struct{ names map[string]bool }

func (f fakeNamer) HasDisplayName(name string) bool { return f.names[name] }

type fakePlatform struct {
	byID map[string]platform.Message
}

func (f fakePlatform) FetchMessage(ctx context.Context, channelID, messageID string) (platform.Message, error) {
	m, ok := f.byID[messageID]
	if !ok {
		return platform.Message{}, errNotFound
	}
	return m, nil
}
func (f fakePlatform) IsNSFW(ctx context.Context, channelID string) (bool, error) { return false, nil }
func (f fakePlatform) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	return "", nil
}
func (f fakePlatform) SendDirectMessage(ctx context.Context, userID, content string) (string, error) {
	return "", nil
}
func (f fakePlatform) MemberHasManageMessages(ctx context.Context, channelID, userID string) (bool, error) {
	return false, nil
}
func (f fakePlatform) ListWebhooks(ctx context.Context, channelID string) ([]platform.WebhookHandle, error) {
	return nil, nil
}
func (f fakePlatform) CreateWebhook(ctx context.Context, channelID, name string) (platform.WebhookHandle, error) {
	return platform.WebhookHandle{}, nil
}
func (f fakePlatform) SendWebhookMessage(ctx context.Context, handle platform.WebhookHandle, msg platform.WebhookMessage) (string, error) {
	return "", nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

func newTestTracker(names map[string]bool) *identity.Tracker {
	return identity.New("self-bot", nil, nil, fakeNamer{names: names})
}

func TestResolveFollowsDirectReplyChain(t *testing.T) {
	root := platform.Message{ID: "root", ChannelID: "c1", Content: "hello", Timestamp: time.Unix(1, 0)}
	mid := platform.Message{ID: "mid", ChannelID: "c1", Content: "world", Reference: &platform.Reference{MessageID: "root"}, Timestamp: time.Unix(2, 0)}
	m := platform.Message{ID: "m", ChannelID: "c1", Content: "and then", Reference: &platform.Reference{MessageID: "mid"}, Timestamp: time.Unix(3, 0)}

	pf := fakePlatform{byID: map[string]platform.Message{"root": root, "mid": mid}}
	r := New(pf, newTestTracker(nil), 10, 10)

	chain := r.Resolve(context.Background(), m, "SomePersonality")

	// m itself is never a chain node; only its ancestors (mid, root) are.
	if len(chain.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2 (ancestors only, m excluded)", len(chain.Nodes))
	}
	if chain.Nodes[0].Content != "hello" || chain.Nodes[1].Content != "world" {
		t.Errorf("chain not root-first: %+v", chain.Nodes)
	}
}

func TestResolveStopsAtMaxDepth(t *testing.T) {
	msgs := map[string]platform.Message{}
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		msgs[id] = platform.Message{ID: id, ChannelID: "c1", Content: id}
	}
	// chain t -> s -> r -> ... each replying to the previous
	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		ids = append(ids, string(rune('a'+i)))
	}
	for i := 1; i < len(ids); i++ {
		prev := ids[i-1]
		cur := msgs[ids[i]]
		cur.Reference = &platform.Reference{MessageID: prev}
		msgs[ids[i]] = cur
	}

	pf := fakePlatform{byID: msgs}
	r := New(pf, newTestTracker(nil), 5, 10)

	head := msgs[ids[len(ids)-1]]
	chain := r.Resolve(context.Background(), head, "SomePersonality")

	if len(chain.Nodes) != 5 {
		t.Errorf("len(Nodes) = %d, want bounded to maxDepth 5", len(chain.Nodes))
	}
}

func TestResolveExtractsAttachmentsAndEmbeds(t *testing.T) {
	m := platform.Message{
		ID:        "m",
		ChannelID: "c1",
		Content:   "check this [Audio: https://example.com/a.mp3]",
		Attachments: []platform.Attachment{
			{URL: "https://example.com/pic.png", ContentType: "image/png"},
		},
		Embeds: []platform.Embed{
			{Media: platform.EmbedMedia{VideoURL: "https://example.com/clip.mp4"}},
		},
	}
	pf := fakePlatform{byID: map[string]platform.Message{}}
	r := New(pf, newTestTracker(nil), 10, 10)

	chain := r.Resolve(context.Background(), m, "SomePersonality")

	if len(chain.Media) != 3 {
		t.Fatalf("len(Media) = %d, want 3", len(chain.Media))
	}
	// audio > image > video
	if chain.Media[0].Kind != MediaAudio {
		t.Errorf("Media[0].Kind = %v, want audio (highest priority)", chain.Media[0].Kind)
	}
	if chain.Media[1].Kind != MediaImage {
		t.Errorf("Media[1].Kind = %v, want image", chain.Media[1].Kind)
	}
	if chain.Media[2].Kind != MediaVideo {
		t.Errorf("Media[2].Kind = %v, want video", chain.Media[2].Kind)
	}
}

func TestResolveTruncatesToMaxMedia(t *testing.T) {
	var attachments []platform.Attachment
	for i := 0; i < 15; i++ {
		attachments = append(attachments, platform.Attachment{URL: "u", ContentType: "image/png"})
	}
	m := platform.Message{ID: "m", ChannelID: "c1", Attachments: attachments}
	pf := fakePlatform{byID: map[string]platform.Message{}}
	r := New(pf, newTestTracker(nil), 10, 10)

	chain := r.Resolve(context.Background(), m, "SomePersonality")

	if len(chain.Media) != 10 {
		t.Errorf("len(Media) = %d, want truncated to 10", len(chain.Media))
	}
}

func TestResolveAuthorKindOwnPersonalityVsOther(t *testing.T) {
	names := map[string]bool{"Lilith": true, "Morrigan": true}
	tracker := newTestTracker(names)

	own := platform.Message{ID: "parent", ChannelID: "c1", AuthorDisplayName: "Lilith", WebhookID: "w1"}
	m := platform.Message{ID: "m", ChannelID: "c1", Content: "and then", Reference: &platform.Reference{MessageID: "parent"}}
	pf := fakePlatform{byID: map[string]platform.Message{"parent": own}}
	r := New(pf, tracker, 10, 10)

	chain := r.Resolve(context.Background(), m, "Lilith")
	if chain.Nodes[0].AuthorKind != AuthorOwnPersonality {
		t.Errorf("AuthorKind = %v, want own-personality", chain.Nodes[0].AuthorKind)
	}

	chain2 := r.Resolve(context.Background(), m, "Morrigan")
	if chain2.Nodes[0].AuthorKind != AuthorOtherPersonality {
		t.Errorf("AuthorKind = %v, want other-personality when resolving a different personality", chain2.Nodes[0].AuthorKind)
	}
}

func TestResolveAuthorKindUserForRealAuthor(t *testing.T) {
	parent := platform.Message{ID: "parent", ChannelID: "c1", AuthorID: "u1", AuthorDisplayName: "Alice"}
	m := platform.Message{ID: "m", ChannelID: "c1", Content: "and then", Reference: &platform.Reference{MessageID: "parent"}}
	pf := fakePlatform{byID: map[string]platform.Message{"parent": parent}}
	r := New(pf, newTestTracker(nil), 10, 10)

	chain := r.Resolve(context.Background(), m, "SomePersonality")

	if chain.Nodes[0].AuthorKind != AuthorUser {
		t.Errorf("AuthorKind = %v, want user", chain.Nodes[0].AuthorKind)
	}
}

func TestResolveIsCycleFree(t *testing.T) {
	a := platform.Message{ID: "a", ChannelID: "c1", Content: "a", Reference: &platform.Reference{MessageID: "b"}}
	b := platform.Message{ID: "b", ChannelID: "c1", Content: "b", Reference: &platform.Reference{MessageID: "a"}}

	pf := fakePlatform{byID: map[string]platform.Message{"a": a, "b": b}}
	r := New(pf, newTestTracker(nil), 10, 10)

	chain := r.Resolve(context.Background(), b, "SomePersonality")

	// b is the resolving message, excluded from the chain; a is its only
	// ancestor, and a's own reference back to b must not loop.
	if len(chain.Nodes) != 1 {
		t.Fatalf("len(Nodes) = %d, want 1 (cycle must not loop forever)", len(chain.Nodes))
	}
	if chain.Nodes[0].Content != "a" {
		t.Errorf("Nodes[0].Content = %q, want a", chain.Nodes[0].Content)
	}
}
