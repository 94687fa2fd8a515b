// Package dedup implements the Deduplicator (spec §4.2): four independent
// TTL-scoped sets guarding against platform re-delivery, double-tapped
// commands, racing outbound embeds, and retried add-commands.
package dedup

import (
	"strings"
	"sync"
	"time"

	"github.com/tomasmach/personabridge/clock"
)

// Scope names the four independent dedup scopes of spec §4.2.
type Scope int

const (
	ScopeMessageID Scope = iota
	ScopeRecentCommand
	ScopeOutboundEmbed
	ScopeCompletedAdd
)

// ttlSet is a mutex-guarded map of key to expiry. check-and-mark happens
// under one lock acquisition, which is the atomicity spec §4.2 requires:
// two concurrent calls with the same key yield exactly one true.
type ttlSet struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clock.Clock
	keys  map[string]time.Time
}

func newTTLSet(ttl time.Duration, c clock.Clock) *ttlSet {
	return &ttlSet{ttl: ttl, clock: c, keys: make(map[string]time.Time)}
}

// markIfAbsent returns true and marks key if it was not already present (or
// had expired); returns false without marking otherwise.
func (s *ttlSet) markIfAbsent(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if expiry, ok := s.keys[key]; ok && now.Before(expiry) {
		return false
	}
	s.keys[key] = now.Add(s.ttl)
	return true
}

// sweep deletes expired entries. Correctness never depends on sweep cadence:
// markIfAbsent already treats an expired entry as absent.
func (s *ttlSet) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for k, expiry := range s.keys {
		if !now.Before(expiry) {
			delete(s.keys, k)
		}
	}
}

// clear removes the given key immediately, regardless of TTL.
func (s *ttlSet) clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

// Config carries the TTLs for each scope; zero values fall back to spec
// defaults.
type Config struct {
	MessageIDTTL     time.Duration // default 30s
	RecentCommandTTL time.Duration // default 3s
	OutboundEmbedTTL time.Duration // default 5s
	CompletedAddTTL  time.Duration // default 30m
}

func (c Config) withDefaults() Config {
	if c.MessageIDTTL == 0 {
		c.MessageIDTTL = 30 * time.Second
	}
	if c.RecentCommandTTL == 0 {
		c.RecentCommandTTL = 3 * time.Second
	}
	if c.OutboundEmbedTTL == 0 {
		c.OutboundEmbedTTL = 5 * time.Second
	}
	if c.CompletedAddTTL == 0 {
		c.CompletedAddTTL = 30 * time.Minute
	}
	return c
}

// Deduplicator guards the four scopes of spec §4.2 behind one
// shouldProcess-shaped entry point per scope.
type Deduplicator struct {
	messageID     *ttlSet
	recentCommand *ttlSet
	outboundEmbed *ttlSet
	completedAdd  *ttlSet
}

// New builds a Deduplicator. c must not be nil.
func New(cfg Config, c clock.Clock) *Deduplicator {
	cfg = cfg.withDefaults()
	return &Deduplicator{
		messageID:     newTTLSet(cfg.MessageIDTTL, c),
		recentCommand: newTTLSet(cfg.RecentCommandTTL, c),
		outboundEmbed: newTTLSet(cfg.OutboundEmbedTTL, c),
		completedAdd:  newTTLSet(cfg.CompletedAddTTL, c),
	}
}

// ShouldProcessMessage guards against platform re-delivery of the same
// message id.
func (d *Deduplicator) ShouldProcessMessage(messageID string) bool {
	return d.messageID.markIfAbsent(messageID)
}

// ShouldProcessCommand guards against a double-tap of the same command
// invocation by the same user.
func (d *Deduplicator) ShouldProcessCommand(userID, commandName string, args []string) bool {
	return d.recentCommand.markIfAbsent(userID + "\x00" + commandName + "\x00" + strings.Join(args, "\x00"))
}

// ShouldEmitEmbed guards against duplicate help/list/info embeds racing to
// reply to the same message.
func (d *Deduplicator) ShouldEmitEmbed(replyToMessageID, embedPurpose string) bool {
	return d.outboundEmbed.markIfAbsent(replyToMessageID + "\x00" + embedPurpose)
}

// ShouldProcessAdd guards against a retried add-command being processed
// twice for the same (user, personality name).
func (d *Deduplicator) ShouldProcessAdd(userID, personalityName string) bool {
	return d.completedAdd.markIfAbsent(userID + "\x00" + personalityName)
}

// ClearCompletedAdd removes a completed-add mark, called on explicit remove
// so a later re-add of the same name is not spuriously deduped.
func (d *Deduplicator) ClearCompletedAdd(userID, personalityName string) {
	d.completedAdd.clear(userID + "\x00" + personalityName)
}

// Sweep prunes expired entries from all four scopes. Intended to be called
// periodically by a scheduler (see schedule.go); safe to call concurrently
// with any other method.
func (d *Deduplicator) Sweep() {
	d.messageID.sweep()
	d.recentCommand.sweep()
	d.outboundEmbed.sweep()
	d.completedAdd.sweep()
}
