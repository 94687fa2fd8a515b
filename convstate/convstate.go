// Package convstate implements ConversationState (spec §4.6): three
// independent, in-memory indexes that together let the Dispatcher resolve
// "who is this message talking to" without an explicit mention.
package convstate

import (
	"sync"
	"time"

	"github.com/tomasmach/personabridge/clock"
)

// Activation is one channel's sticky personality, set by an explicit
// activate/deactivate command. It carries no TTL.
type Activation struct {
	PersonalityID string
	ActivatedBy   string
	ActivatedAt   time.Time
}

// ReplyBinding records which (channel, user, personality) turn a bot
// emission belongs to, so a platform reply to it resolves without a
// mention.
type ReplyBinding struct {
	ChannelID     string
	UserID        string
	PersonalityID string
	EmittedAt     time.Time
}

// AutoRespond is the last personality a (channel, user) pair was talking
// to, refreshed on every turn, governing whether their next unaddressed
// message continues the conversation.
type AutoRespond struct {
	PersonalityID  string
	LastActivityAt time.Time
}

type replyBindingEntry struct {
	binding ReplyBinding
	expiry  time.Time
}

type autoRespondEntry struct {
	value  AutoRespond
	expiry time.Time
}

// State holds the three indexes. Each has its own mutex so activation
// writes never block reply-binding or auto-respond lookups.
type State struct {
	clock clock.Clock

	replyBindingTTL time.Duration
	autoRespondTTL  time.Duration

	activationMu sync.RWMutex
	activation   map[string]Activation // channelID -> Activation

	replyMu sync.RWMutex
	reply   map[string]replyBindingEntry // botMessageID -> entry

	autoRespondMu sync.RWMutex
	autoRespond   map[string]autoRespondEntry // channelID+"\x00"+userID -> entry

	disabledMu sync.RWMutex
	autoRespondDisabled map[string]bool // userID -> disabled (UserPrefs.autoRespond=false)

	verifiedMu sync.RWMutex
	verified   map[string]bool // userID -> explicit age-verified flag (NSFW gate bypass outside an NSFW channel)
}

// Config carries the two TTL'd indexes' durations; zero values fall back to
// spec defaults.
type Config struct {
	ReplyBindingTTL time.Duration // default 30m
	AutoRespondTTL  time.Duration // default 15m (CONV_TTL)
}

func (c Config) withDefaults() Config {
	if c.ReplyBindingTTL == 0 {
		c.ReplyBindingTTL = 30 * time.Minute
	}
	if c.AutoRespondTTL == 0 {
		c.AutoRespondTTL = 15 * time.Minute
	}
	return c
}

// New builds a State. c must not be nil.
func New(cfg Config, c clock.Clock) *State {
	cfg = cfg.withDefaults()
	return &State{
		clock:               c,
		replyBindingTTL:     cfg.ReplyBindingTTL,
		autoRespondTTL:      cfg.AutoRespondTTL,
		activation:          make(map[string]Activation),
		reply:               make(map[string]replyBindingEntry),
		autoRespond:         make(map[string]autoRespondEntry),
		autoRespondDisabled: make(map[string]bool),
		verified:            make(map[string]bool),
	}
}

func autoRespondKey(channelID, userID string) string { return channelID + "\x00" + userID }

// Activate sets channelID's sticky personality. Permission/NSFW checks are
// the Dispatcher's responsibility (spec §4.6).
func (s *State) Activate(channelID, personalityID, activatedBy string) {
	s.activationMu.Lock()
	defer s.activationMu.Unlock()
	s.activation[channelID] = Activation{PersonalityID: personalityID, ActivatedBy: activatedBy, ActivatedAt: s.clock.Now()}
}

// Deactivate clears channelID's sticky personality.
func (s *State) Deactivate(channelID string) {
	s.activationMu.Lock()
	defer s.activationMu.Unlock()
	delete(s.activation, channelID)
}

// GetActivation returns channelID's sticky personality, if any.
func (s *State) GetActivation(channelID string) (Activation, bool) {
	s.activationMu.RLock()
	defer s.activationMu.RUnlock()
	a, ok := s.activation[channelID]
	return a, ok
}

// RecordReplyBinding is called by WebhookSender after every bot emission.
func (s *State) RecordReplyBinding(botMessageID string, binding ReplyBinding) {
	s.replyMu.Lock()
	defer s.replyMu.Unlock()
	s.reply[botMessageID] = replyBindingEntry{binding: binding, expiry: s.clock.Now().Add(s.replyBindingTTL)}
}

// LookupReplyBinding resolves a reply reference to the bound turn. Entries
// referencing a since-removed personality are still returned — callers
// (the PersonalityRegistry lookup downstream) tolerate a missing
// personality as "no binding" per spec §4.6's invariant.
func (s *State) LookupReplyBinding(botMessageID string) (ReplyBinding, bool) {
	s.replyMu.RLock()
	defer s.replyMu.RUnlock()
	e, ok := s.reply[botMessageID]
	if !ok || !s.clock.Now().Before(e.expiry) {
		return ReplyBinding{}, false
	}
	return e.binding, true
}

// TouchAutoRespond refreshes (channelID, userID)'s last-active personality.
func (s *State) TouchAutoRespond(channelID, userID, personalityID string) {
	s.autoRespondMu.Lock()
	defer s.autoRespondMu.Unlock()
	now := s.clock.Now()
	s.autoRespond[autoRespondKey(channelID, userID)] = autoRespondEntry{
		value:  AutoRespond{PersonalityID: personalityID, LastActivityAt: now},
		expiry: now.Add(s.autoRespondTTL),
	}
}

// LookupAutoRespond returns the personality (channelID, userID) was last
// talking to, if still within CONV_TTL and the user hasn't disabled
// auto-respond.
func (s *State) LookupAutoRespond(channelID, userID string) (AutoRespond, bool) {
	s.disabledMu.RLock()
	disabled := s.autoRespondDisabled[userID]
	s.disabledMu.RUnlock()
	if disabled {
		return AutoRespond{}, false
	}

	s.autoRespondMu.RLock()
	defer s.autoRespondMu.RUnlock()
	e, ok := s.autoRespond[autoRespondKey(channelID, userID)]
	if !ok || !s.clock.Now().Before(e.expiry) {
		return AutoRespond{}, false
	}
	return e.value, true
}

// SetAutoRespondEnabled implements UserPrefs.autoRespond: when disabled, the
// user's AutoRespondIndex entries are never read (they still get written).
func (s *State) SetAutoRespondEnabled(userID string, enabled bool) {
	s.disabledMu.Lock()
	defer s.disabledMu.Unlock()
	if enabled {
		delete(s.autoRespondDisabled, userID)
	} else {
		s.autoRespondDisabled[userID] = true
	}
}

// SetVerified records the user's explicit age-verification flag, which
// lets a real-user message bypass the NSFW gate outside a platform-flagged
// NSFW channel (spec §4.10 step 5).
func (s *State) SetVerified(userID string, verified bool) {
	s.verifiedMu.Lock()
	defer s.verifiedMu.Unlock()
	if verified {
		s.verified[userID] = true
	} else {
		delete(s.verified, userID)
	}
}

// IsVerified reports the user's explicit age-verification flag.
func (s *State) IsVerified(userID string) bool {
	s.verifiedMu.RLock()
	defer s.verifiedMu.RUnlock()
	return s.verified[userID]
}

// Sweep prunes expired reply-binding and auto-respond entries. Activation
// has no TTL and is never swept.
func (s *State) Sweep() {
	now := s.clock.Now()

	s.replyMu.Lock()
	for k, e := range s.reply {
		if !now.Before(e.expiry) {
			delete(s.reply, k)
		}
	}
	s.replyMu.Unlock()

	s.autoRespondMu.Lock()
	for k, e := range s.autoRespond {
		if !now.Before(e.expiry) {
			delete(s.autoRespond, k)
		}
	}
	s.autoRespondMu.Unlock()
}
