// Package identity implements IdentityTracker (spec §4.1): classifying every
// inbound message as own-webhook, proxy-system, or real-user, so the rest of
// the pipeline never confuses an impersonated reply with its real author.
package identity

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/tomasmach/personabridge/platform"
)

// Kind is the closed set of message origins.
type Kind int

const (
	RealUser Kind = iota
	OwnWebhook
	ProxySystem
)

func (k Kind) String() string {
	switch k {
	case OwnWebhook:
		return "own-webhook"
	case ProxySystem:
		return "proxy-system"
	default:
		return "real-user"
	}
}

// Classification is the result of classifying one message.
type Classification struct {
	Kind                 Kind
	RealUserID           string // empty when Kind==ProxySystem and the real author is unknown
	IsAuthCommandAllowed bool
}

// PersonalityNamer is the minimal slice of PersonalityRegistry the tracker
// needs: display-name lookup is classification signal (d), a defensive
// fallback for platforms that strip application metadata.
type PersonalityNamer interface {
	HasDisplayName(name string) bool
}

// Tracker classifies inbound messages and caches webhook-id recognition so
// repeated messages from the same webhook resolve in O(1).
type Tracker struct {
	selfBotID        string
	knownProxyAppIDs map[string]bool
	proxyPatterns    []*regexp.Regexp
	registry         PersonalityNamer

	ownWebhooks   sync.Map // webhookID -> struct{}
	proxyWebhooks sync.Map // webhookID -> struct{}
}

// New builds a Tracker. proxyUsernamePatterns are compiled regexes matched
// against the author's display name (e.g. `\[PK\]`, `\[TP\]`).
func New(selfBotID string, knownProxyAppIDs []string, proxyUsernamePatterns []*regexp.Regexp, registry PersonalityNamer) *Tracker {
	m := make(map[string]bool, len(knownProxyAppIDs))
	for _, id := range knownProxyAppIDs {
		m[id] = true
	}
	return &Tracker{
		selfBotID:        selfBotID,
		knownProxyAppIDs: m,
		proxyPatterns:    proxyUsernamePatterns,
		registry:         registry,
	}
}

// RememberOwnWebhook records a webhook id this process created, so future
// messages through it are recognized without re-checking the four signals.
func (t *Tracker) RememberOwnWebhook(webhookID string) {
	t.ownWebhooks.Store(webhookID, struct{}{})
}

// Classify implements spec §4.1. It never panics: any internal error defaults
// to RealUser, the safe fallback that cannot leak another user's credentials.
func (t *Tracker) Classify(m platform.Message) (c Classification) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("identity classification panicked, defaulting to real-user", "panic", r)
			c = Classification{Kind: RealUser, RealUserID: m.AuthorID, IsAuthCommandAllowed: true}
		}
	}()

	if t.isOwnWebhook(m) {
		return Classification{Kind: OwnWebhook, RealUserID: "", IsAuthCommandAllowed: false}
	}
	if proxy, realUserID := t.isProxySystem(m); proxy {
		t.proxyWebhooks.Store(m.WebhookID, struct{}{})
		return Classification{Kind: ProxySystem, RealUserID: realUserID, IsAuthCommandAllowed: false}
	}
	return Classification{Kind: RealUser, RealUserID: m.AuthorID, IsAuthCommandAllowed: true}
}

// ShouldIgnore reports whether m should be dropped unconditionally: the only
// such case is own-webhook (spec §4.1).
func (t *Tracker) ShouldIgnore(m platform.Message) bool {
	return t.Classify(m).Kind == OwnWebhook
}

// MayBypassAgeGate reports whether m may skip the NSFW gate: own-webhook and
// proxy-system bypass it, except when the content is an auth-privileged
// command, which must re-anchor to the real user (spec §4.1).
func (t *Tracker) MayBypassAgeGate(m platform.Message, isAuthCommand bool) bool {
	if isAuthCommand {
		return false
	}
	kind := t.Classify(m).Kind
	return kind == OwnWebhook || kind == ProxySystem
}

func (t *Tracker) isOwnWebhook(m platform.Message) bool {
	if m.WebhookID != "" {
		if m.WebhookOwnerID == t.selfBotID {
			return true
		}
		if _, ok := t.ownWebhooks.Load(m.WebhookID); ok {
			return true
		}
	}
	if m.ApplicationID != "" && m.ApplicationID == t.selfBotID {
		return true
	}
	if t.registry != nil && t.registry.HasDisplayName(m.AuthorDisplayName) {
		return true
	}
	return false
}

func (t *Tracker) isProxySystem(m platform.Message) (bool, string) {
	if m.WebhookID == "" {
		return false, ""
	}
	if _, ok := t.proxyWebhooks.Load(m.WebhookID); ok {
		return true, ""
	}
	if m.ApplicationID != "" && t.knownProxyAppIDs[m.ApplicationID] {
		return true, ""
	}
	for _, p := range t.proxyPatterns {
		if p.MatchString(m.AuthorDisplayName) {
			return true, ""
		}
	}
	for _, e := range m.Embeds {
		if e.FooterText != "" && strings.Contains(strings.ToLower(e.FooterText), "proxy") {
			return true, ""
		}
	}
	return false, ""
}
