// Package bot adapts a discordgo session to the platform.Client contract
// and feeds inbound gateway events into the Dispatcher.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/tomasmach/personabridge/platform"
)

// Handler is the minimal slice of dispatch.Dispatcher the bot needs, kept
// narrow to avoid an import of the dispatch package's full dependency graph.
type Handler interface {
	Handle(ctx context.Context, m platform.Message) error
}

// Bot wraps a Discord gateway session, translating discordgo events into
// platform.Message values and implementing platform.Client against the
// same session.
type Bot struct {
	session *discordgo.Session
	handler Handler
	selfID  string
}

// New creates a discordgo session for token (Start opens the gateway
// connection) and registers the message handler. The Dispatcher must be
// wired via SetHandler before Start.
func New(token string) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	b := &Bot{session: session}
	session.AddHandler(b.onMessageCreate)
	return b, nil
}

// SetHandler wires the Dispatcher into the bot for message routing.
func (b *Bot) SetHandler(h Handler) { b.handler = h }

// Session returns the underlying discordgo session, for callers that need
// direct gateway access (e.g. the web admin server's status poller).
func (b *Bot) Session() *discordgo.Session { return b.session }

// Start opens the gateway connection.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return err
	}
	if b.session.State.User != nil {
		b.selfID = b.session.State.User.ID
	}
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error { return b.session.Close() }

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || b.handler == nil {
		return
	}
	if err := b.handler.Handle(context.Background(), toPlatformMessage(m.Message)); err != nil {
		slog.Error("dispatch handling failed", "error", err, "message_id", m.ID)
	}
}

func toPlatformMessage(m *discordgo.Message) platform.Message {
	out := platform.Message{
		ID:            m.ID,
		ChannelID:     m.ChannelID,
		GuildID:       m.GuildID,
		Content:       m.Content,
		WebhookID:     m.WebhookID,
		ApplicationID: m.ApplicationID,
		Timestamp:     m.Timestamp,
		IsDM:          m.GuildID == "",
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorDisplayName = m.Author.Username
	}
	if m.MessageReference != nil {
		out.Reference = &platform.Reference{MessageID: m.MessageReference.MessageID}
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, platform.Attachment{URL: a.URL, ContentType: a.ContentType})
	}
	for _, e := range m.Embeds {
		var media platform.EmbedMedia
		if e.Image != nil {
			media.ImageURL = e.Image.URL
		}
		if e.Thumbnail != nil {
			media.ThumbnailURL = e.Thumbnail.URL
		}
		if e.Video != nil {
			media.VideoURL = e.Video.URL
		}
		footer := ""
		if e.Footer != nil {
			footer = e.Footer.Text
		}
		out.Embeds = append(out.Embeds, platform.Embed{Media: media, FooterText: footer})
	}
	return out
}

// platform.Client implementation, backed by the same gateway session.

func (b *Bot) FetchMessage(ctx context.Context, channelID, messageID string) (platform.Message, error) {
	m, err := b.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, err
	}
	return toPlatformMessage(m), nil
}

func (b *Bot) IsNSFW(ctx context.Context, channelID string) (bool, error) {
	ch, err := b.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, err
	}
	return ch.NSFW, nil
}

func (b *Bot) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	m, err := b.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (b *Bot) SendDirectMessage(ctx context.Context, userID, content string) (string, error) {
	ch, err := b.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	m, err := b.session.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (b *Bot) MemberHasManageMessages(ctx context.Context, channelID, userID string) (bool, error) {
	perms, err := b.session.State.UserChannelPermissions(userID, channelID)
	if err != nil {
		// fall back to a live permission check when the state cache is cold.
		perms, err = b.session.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
		if err != nil {
			return false, err
		}
	}
	return perms&discordgo.PermissionManageMessages != 0, nil
}

func (b *Bot) ListWebhooks(ctx context.Context, channelID string) ([]platform.WebhookHandle, error) {
	hooks, err := b.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]platform.WebhookHandle, 0, len(hooks))
	for _, h := range hooks {
		ownerID := ""
		if h.User != nil {
			ownerID = h.User.ID
		}
		out = append(out, platform.WebhookHandle{ID: h.ID, ChannelID: h.ChannelID, OwnerID: ownerID})
	}
	return out, nil
}

func (b *Bot) CreateWebhook(ctx context.Context, channelID, name string) (platform.WebhookHandle, error) {
	h, err := b.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return platform.WebhookHandle{}, err
	}
	return platform.WebhookHandle{ID: h.ID, ChannelID: channelID, OwnerID: b.selfID}, nil
}

func (b *Bot) SendWebhookMessage(ctx context.Context, handle platform.WebhookHandle, msg platform.WebhookMessage) (string, error) {
	m, err := b.session.WebhookExecute(handle.ID, "", true, &discordgo.WebhookParams{
		Content:   msg.Content,
		Username:  msg.Username,
		AvatarURL: msg.AvatarURL,
	}, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return "", platform.ErrWebhookNotFound
		}
		return "", err
	}
	return m.ID, nil
}

func isNotFound(err error) bool {
	var rerr *discordgo.RESTError
	if restError, ok := err.(*discordgo.RESTError); ok {
		rerr = restError
	}
	return rerr != nil && rerr.Response != nil && rerr.Response.StatusCode == 404 || strings.Contains(err.Error(), "Unknown Webhook")
}
