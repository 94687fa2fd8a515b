// Package platform defines the abstract chat-platform surface the dispatch
// core depends on (spec §6). The core never imports a concrete SDK type;
// the bot package adapts discordgo to this interface.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrWebhookNotFound is returned by SendWebhookMessage when the platform
// reports the webhook no longer exists (e.g. a 404), signalling the caller
// to evict its cached handle and retry once against a freshly created one.
var ErrWebhookNotFound = errors.New("platform: webhook not found")

// Attachment is a direct file/image/audio/video attachment on a message.
type Attachment struct {
	URL         string
	ContentType string
}

// EmbedMedia is the subset of a platform embed that can carry media.
type EmbedMedia struct {
	ImageURL     string
	ThumbnailURL string
	VideoURL     string
}

// Embed is a platform-rendered rich embed attached to a message.
type Embed struct {
	Media       EmbedMedia
	FooterText  string // used for proxy-system signature detection
}

// Reference points at the message this one replies to, if any.
type Reference struct {
	MessageID string
}

// Message is the platform-agnostic shape of an inbound or fetched message.
type Message struct {
	ID                string
	ChannelID         string
	GuildID           string
	AuthorID          string
	AuthorDisplayName string
	Content           string
	WebhookID         string // empty if not webhook-authored
	ApplicationID     string // empty if not application-authored
	WebhookOwnerID    string // owner of the webhook, if WebhookID is set
	Attachments       []Attachment
	Embeds            []Embed
	Reference         *Reference
	Timestamp         time.Time
	IsDM              bool
}

// Client is the chat-platform operations the core needs beyond the message
// event stream (which arrives via the bot adapter calling into Dispatcher).
type Client interface {
	FetchMessage(ctx context.Context, channelID, messageID string) (Message, error)
	IsNSFW(ctx context.Context, channelID string) (bool, error)
	SendMessage(ctx context.Context, channelID, content string) (messageID string, err error)
	// SendDirectMessage delivers content to userID's DM channel. Returns an
	// error the caller can't distinguish from "DM blocked" beyond a non-nil
	// return — callers fall back to a channel-visible message on any error.
	SendDirectMessage(ctx context.Context, userID, content string) (messageID string, err error)
	MemberHasManageMessages(ctx context.Context, channelID, userID string) (bool, error)

	ListWebhooks(ctx context.Context, channelID string) ([]WebhookHandle, error)
	CreateWebhook(ctx context.Context, channelID, name string) (WebhookHandle, error)
	SendWebhookMessage(ctx context.Context, handle WebhookHandle, msg WebhookMessage) (messageID string, err error)
}

// WebhookHandle identifies a platform webhook this process can send through.
type WebhookHandle struct {
	ID        string
	ChannelID string
	OwnerID   string
}

// WebhookMessage is the content sent through a webhook, impersonating a
// personality's display name and avatar.
type WebhookMessage struct {
	Content   string
	Username  string
	AvatarURL string
}
