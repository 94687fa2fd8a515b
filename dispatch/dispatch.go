// Package dispatch implements the Dispatcher (spec §4.10): the single
// top-level handler that linearizes every inbound chat event through
// identity classification, deduplication, personality resolution,
// reference gathering, credential lookup, coalesced LLM dispatch, and
// webhook emission, in that fixed order.
package dispatch

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tomasmach/personabridge/authstore"
	"github.com/tomasmach/personabridge/clock"
	"github.com/tomasmach/personabridge/coalesce"
	"github.com/tomasmach/personabridge/convstate"
	"github.com/tomasmach/personabridge/dedup"
	"github.com/tomasmach/personabridge/errkind"
	"github.com/tomasmach/personabridge/format"
	"github.com/tomasmach/personabridge/history"
	"github.com/tomasmach/personabridge/identity"
	"github.com/tomasmach/personabridge/llmclient"
	"github.com/tomasmach/personabridge/platform"
	"github.com/tomasmach/personabridge/reference"
	"github.com/tomasmach/personabridge/registry"
	"github.com/tomasmach/personabridge/webhook"
)

// Config carries the Dispatcher's tunables (spec §6 env vars not already
// owned by a narrower component).
type Config struct {
	CommandPrefix string
	Model         string

	// RateLimitPerMinute and RateLimitBurst bound how often a single real
	// user may trigger a personality turn. Zero disables the limiter
	// (unbounded), which is also what tests get by default.
	RateLimitPerMinute float64
	RateLimitBurst     int
}

// userLimiters lazily creates and caches one token-bucket limiter per real
// user, generalizing the teacher's hand-rolled sliding-window spam guard
// into a standard token-bucket.
type userLimiters struct {
	mu     sync.Mutex
	rps    rate.Limit
	burst  int
	byUser map[string]*rate.Limiter
}

func newUserLimiters(perMinute float64, burst int) *userLimiters {
	return &userLimiters{rps: rate.Limit(perMinute / 60), burst: burst, byUser: make(map[string]*rate.Limiter)}
}

func (u *userLimiters) allow(userID string) bool {
	if u == nil || u.rps <= 0 {
		return true
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	l, ok := u.byUser[userID]
	if !ok {
		l = rate.NewLimiter(u.rps, u.burst)
		u.byUser[userID] = l
	}
	return l.Allow()
}

// Dispatcher wires C1-C9 together in the fixed order of spec §4.10.
type Dispatcher struct {
	identity  *identity.Tracker
	dedup     *dedup.Deduplicator
	registry  *registry.Registry
	convState *convstate.State
	resolver  *reference.Resolver
	tokens    *authstore.Store
	coalescer *coalesce.Coalescer
	llm       llmclient.Client
	sender    *webhook.Sender
	platform  platform.Client
	clock     clock.Clock
	cfg       Config
	limiters  *userLimiters
	history   *history.Store // nil disables audit logging
}

// New builds a Dispatcher from its component collaborators. hist may be nil
// to disable the audit-log enrichment entirely.
func New(
	identityTracker *identity.Tracker,
	deduplicator *dedup.Deduplicator,
	reg *registry.Registry,
	convState *convstate.State,
	resolver *reference.Resolver,
	tokens *authstore.Store,
	coalescer *coalesce.Coalescer,
	llm llmclient.Client,
	sender *webhook.Sender,
	platformClient platform.Client,
	c clock.Clock,
	cfg Config,
	hist *history.Store,
) *Dispatcher {
	return &Dispatcher{
		identity:  identityTracker,
		dedup:     deduplicator,
		registry:  reg,
		convState: convState,
		resolver:  resolver,
		tokens:    tokens,
		coalescer: coalescer,
		llm:       llm,
		sender:    sender,
		platform:  platformClient,
		clock:     c,
		cfg:       cfg,
		limiters:  newUserLimiters(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		history:   hist,
	}
}

// Handle processes one inbound message end to end. It never returns an
// error for conditions the spec defines as user-visible or silent; a
// returned error indicates a bug the caller should log as Internal.
func (d *Dispatcher) Handle(ctx context.Context, m platform.Message) error {
	log := slog.With("correlation_id", m.ID, "channel_id", m.ChannelID)

	// 1. own-webhook echo suppression.
	if d.identity.ShouldIgnore(m) {
		log.Debug("ignored own webhook")
		return nil
	}

	classification := d.identity.Classify(m)

	// 2. replay rejection.
	if !d.dedup.ShouldProcessMessage(m.ID) {
		log.Debug("dropped replay")
		return nil
	}

	if classification.RealUserID != "" && !d.limiters.allow(classification.RealUserID) {
		log.Warn("rate limit exceeded, dropping message", "real_user_id", classification.RealUserID)
		return nil
	}

	// 3. command prefix handling. Only the auth-forbidden-for-proxy check is
	// in scope here; the command subsystem itself is out of scope (spec §1).
	if strings.HasPrefix(m.Content, d.cfg.CommandPrefix) {
		body := strings.TrimPrefix(m.Content, d.cfg.CommandPrefix)
		isAuthCommand := strings.HasPrefix(strings.TrimSpace(body), "auth")
		if isAuthCommand && !classification.IsAuthCommandAllowed {
			log.Info("auth command denied for proxy-system identity")
			d.sendChannelGuidance(ctx, m.ChannelID, "Proxy-impersonated messages can't run authentication commands. Use your own account to authenticate.")
			return nil
		}
		log.Debug("command message, handled by command subsystem")
		return nil
	}

	// 4. target personality resolution.
	personality, ok := d.resolveTargetPersonality(m, classification)
	if !ok {
		log.Debug("no personality applies, ignoring")
		return nil
	}
	log = log.With("personality_id", personality.ID)

	// 5. NSFW gate.
	isAuthCommand := false
	if !d.identity.MayBypassAgeGate(m, isAuthCommand) {
		nsfw, err := d.platform.IsNSFW(ctx, m.ChannelID)
		if err != nil {
			log.Warn("IsNSFW check failed, treating as not verified", "error", err)
		}
		if !nsfw && !d.convState.IsVerified(classification.RealUserID) {
			log.Info("NSFW gate blocked message", "personality", personality.ID)
			d.sendChannelGuidance(ctx, m.ChannelID, "This personality requires an age-verified or NSFW-flagged channel.")
			return nil
		}
	}

	// 6. credential lookup.
	token, err := d.tokens.GetToken(classification.RealUserID)
	if err != nil {
		log.Info("no valid token for real user", "real_user_id", classification.RealUserID)
		d.sendAuthGuidance(ctx, m.ChannelID, classification.RealUserID)
		return nil
	}

	// 7. reference chain + media.
	chain := d.resolver.Resolve(ctx, m, personality.DisplayName)

	// 8. coalesced LLM dispatch.
	fingerprint := d.fingerprint(personality.ID, m.ChannelID, classification.RealUserID, m.Content)
	reply, err := d.coalescer.Dispatch(ctx, fingerprint, func(ctx context.Context) (string, error) {
		messages := format.BuildMessages(personality, m.Content, chain, chain.Media)
		return d.llm.Chat(ctx, llmclient.Request{Token: token, Model: d.cfg.Model, Messages: messages})
	})
	if err != nil {
		d.handleLLMError(ctx, log, m.ChannelID, personality, err)
		return nil
	}

	// 9. webhook emission.
	binding := convstate.ReplyBinding{ChannelID: m.ChannelID, UserID: classification.RealUserID, PersonalityID: personality.ID, EmittedAt: d.clock.Now()}
	if err := d.sender.Send(ctx, m.ChannelID, personality, reply, binding); err != nil {
		log.Error("webhook send failed after retries", "error", err)
		d.sendChannelGuidance(ctx, m.ChannelID, "Failed to deliver the reply after retrying. Please try again.")
		return nil
	}

	// 10. refresh auto-respond.
	if classification.RealUserID != "" {
		d.convState.TouchAutoRespond(m.ChannelID, classification.RealUserID, personality.ID)
	}

	if d.history != nil {
		turn := history.Turn{
			Timestamp:     d.clock.Now(),
			ChannelID:     m.ChannelID,
			UserID:        classification.RealUserID,
			PersonalityID: personality.ID,
			RequestText:   m.Content,
			ReplyText:     reply,
		}
		if err := d.history.Record(ctx, turn); err != nil {
			log.Warn("failed to record turn in history", "error", err)
		}
	}

	return nil
}

func (d *Dispatcher) resolveTargetPersonality(m platform.Message, c identity.Classification) (*registry.Personality, bool) {
	// 4a. reply-binding.
	if m.Reference != nil {
		if binding, ok := d.convState.LookupReplyBinding(m.Reference.MessageID); ok {
			if p, ok := d.registry.Get(binding.PersonalityID); ok {
				return p, true
			}
		}
	}

	// 4b. explicit mention.
	for _, mention := range parseMentions(m.Content) {
		if p, ok := d.registry.Lookup(mention, c.RealUserID); ok {
			return p, true
		}
	}

	// 4c. channel activation.
	if activation, ok := d.convState.GetActivation(m.ChannelID); ok {
		if p, ok := d.registry.Get(activation.PersonalityID); ok {
			return p, true
		}
	}

	// 4d. auto-respond continuation.
	if c.RealUserID != "" {
		if auto, ok := d.convState.LookupAutoRespond(m.ChannelID, c.RealUserID); ok {
			if p, ok := d.registry.Get(auto.PersonalityID); ok {
				return p, true
			}
		}
	}

	return nil, false
}

// fingerprint implements RequestFingerprint (spec glossary): a stable key
// over (personality, channel, user, content, 10s window slot) so
// near-simultaneous identical requests collide but requests spaced further
// apart do not.
func (d *Dispatcher) fingerprint(personalityID, channelID, userID, content string) string {
	windowSlot := d.clock.Now().Unix() / 10
	return personalityID + "\x00" + channelID + "\x00" + userID + "\x00" + content + "\x00" + strconv.FormatInt(windowSlot, 10)
}

func (d *Dispatcher) handleLLMError(ctx context.Context, log *slog.Logger, channelID string, personality *registry.Personality, err error) {
	message := personality.ErrorMessage
	if message == "" {
		message = "Something went wrong talking to the model. Please try again in a moment."
	}

	if e, ok := errkind.As(err); ok && e.Kind == errkind.LLMPermanent {
		log.Error("LLM call failed permanently", "error", err)
	} else {
		log.Warn("LLM call failed", "error", err)
	}

	d.sendChannelGuidance(ctx, channelID, message)
}

func (d *Dispatcher) sendChannelGuidance(ctx context.Context, channelID, message string) {
	if _, err := d.platform.SendMessage(ctx, channelID, message); err != nil {
		slog.Error("failed to deliver channel guidance", "error", err)
	}
}

func (d *Dispatcher) sendAuthGuidance(ctx context.Context, channelID, realUserID string) {
	message := "You need to authenticate before talking to a personality. Check your DMs for instructions."
	if realUserID == "" {
		d.sendChannelGuidance(ctx, channelID, message)
		return
	}
	if _, err := d.platform.SendDirectMessage(ctx, realUserID, message); err != nil {
		d.sendChannelGuidance(ctx, channelID, message)
	}
}

