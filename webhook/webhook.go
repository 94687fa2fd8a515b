// Package webhook implements WebhookSender (spec §4.9): per-channel
// webhook-handle caching, content splitting for platform length limits,
// and retry-with-backoff around the underlying platform send.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tomasmach/personabridge/convstate"
	"github.com/tomasmach/personabridge/errkind"
	"github.com/tomasmach/personabridge/identity"
	"github.com/tomasmach/personabridge/platform"
	"github.com/tomasmach/personabridge/registry"
)

// MaxMessageLength is the platform-typical outbound length limit (spec
// §4.9 MAX_MSG), measured in UTF-16 code units.
const MaxMessageLength = 2000

// webhookSentinelName is the fixed name used when this process must create
// a new channel webhook.
const webhookSentinelName = "personabridge"

// retryDelays is 100ms * 2^n for n in [0,3), i.e. up to 3 retries after the
// first attempt, 4 attempts total.
var retryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// Sender emits personality-impersonated replies through platform webhooks,
// falling back to a prefixed plain message when no webhook is available.
type Sender struct {
	client    platform.Client
	tracker   *identity.Tracker
	convState *convstate.State
	selfBotID string

	mu    sync.RWMutex
	cache map[string]platform.WebhookHandle // channelID -> handle
}

// New builds a Sender. selfBotID identifies webhooks this process already
// owns, so discoverOrCreateWebhook can reuse one instead of creating a
// second (spec §4.9).
func New(client platform.Client, tracker *identity.Tracker, convState *convstate.State, selfBotID string) *Sender {
	return &Sender{client: client, tracker: tracker, convState: convState, selfBotID: selfBotID, cache: make(map[string]platform.WebhookHandle)}
}

// Send emits content impersonating personality in channelID, splitting it
// across multiple webhook messages if needed, recording a ReplyBinding for
// each emitted chunk.
func (s *Sender) Send(ctx context.Context, channelID string, personality *registry.Personality, content string, binding convstate.ReplyBinding) error {
	handle, ok := s.handleFor(ctx, channelID)
	if !ok {
		return s.sendPlainFallback(ctx, channelID, personality, content)
	}

	chunks := splitContent(content, MaxMessageLength)
	for _, chunk := range chunks {
		messageID, err := s.sendChunkWithRetry(ctx, handle, personality, chunk)
		if err != nil {
			return err
		}
		s.convState.RecordReplyBinding(messageID, binding)
	}
	return nil
}

func (s *Sender) handleFor(ctx context.Context, channelID string) (platform.WebhookHandle, bool) {
	s.mu.RLock()
	h, ok := s.cache[channelID]
	s.mu.RUnlock()
	if ok {
		return h, true
	}

	handle, err := s.discoverOrCreateWebhook(ctx, channelID)
	if err != nil {
		slog.Warn("webhook unavailable for channel, falling back to plain message", "channel", channelID, "error", err)
		return platform.WebhookHandle{}, false
	}

	s.mu.Lock()
	s.cache[channelID] = handle
	s.mu.Unlock()
	s.tracker.RememberOwnWebhook(handle.ID)
	return handle, true
}

func (s *Sender) discoverOrCreateWebhook(ctx context.Context, channelID string) (platform.WebhookHandle, error) {
	existing, err := s.client.ListWebhooks(ctx, channelID)
	if err == nil {
		for _, h := range existing {
			if h.OwnerID == s.selfBotID {
				return h, nil
			}
		}
	}
	return s.client.CreateWebhook(ctx, channelID, webhookSentinelName)
}

func (s *Sender) sendChunkWithRetry(ctx context.Context, handle platform.WebhookHandle, personality *registry.Personality, chunk string) (string, error) {
	msg := platform.WebhookMessage{Content: chunk, Username: personality.DisplayName, AvatarURL: personality.AvatarURL}

	messageID, err := s.client.SendWebhookMessage(ctx, handle, msg)
	if err == nil {
		return messageID, nil
	}

	if errors.Is(err, platform.ErrWebhookNotFound) {
		s.mu.Lock()
		delete(s.cache, handle.ChannelID)
		s.mu.Unlock()
		fresh, createErr := s.client.CreateWebhook(ctx, handle.ChannelID, webhookSentinelName)
		if createErr != nil {
			return "", errkind.New(errkind.SendFailed, createErr, "webhook gone and recreation failed")
		}
		s.mu.Lock()
		s.cache[handle.ChannelID] = fresh
		s.mu.Unlock()
		s.tracker.RememberOwnWebhook(fresh.ID)
		return s.client.SendWebhookMessage(ctx, fresh, msg)
	}

	for _, delay := range retryDelays {
		select {
		case <-ctx.Done():
			return "", errkind.New(errkind.SendFailed, ctx.Err(), "context cancelled during webhook retry")
		case <-time.After(delay):
		}
		messageID, err = s.client.SendWebhookMessage(ctx, handle, msg)
		if err == nil {
			return messageID, nil
		}
	}

	return "", errkind.New(errkind.SendFailed, err, "webhook send failed after retries")
}

func (s *Sender) sendPlainFallback(ctx context.Context, channelID string, personality *registry.Personality, content string) error {
	prefixed := fmt.Sprintf("**%s**: %s", personality.DisplayName, content)
	chunks := splitContent(prefixed, MaxMessageLength)
	for _, chunk := range chunks {
		if _, err := s.client.SendMessage(ctx, channelID, chunk); err != nil {
			return errkind.New(errkind.SendFailed, err, "plain fallback send failed")
		}
	}
	return nil
}
