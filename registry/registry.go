package registry

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// snapshot is the immutable, read-only view served to lookups. A new
// snapshot is installed after every mutation by the single writer goroutine;
// readers never block on writers and never observe a partial mutation.
type snapshot struct {
	personalities []*Personality          // insertion order, ascending
	globalAliases map[string]string       // case-folded alias -> personality id
	userAliases   map[string]map[string]string // userID -> case-folded alias -> personality id
}

func emptySnapshot() *snapshot {
	return &snapshot{
		globalAliases: make(map[string]string),
		userAliases:   make(map[string]map[string]string),
	}
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Registry owns the personality set and alias map. All mutations are
// serialized through a single writer goroutine (see writer.go); reads take
// a lock-free snapshot.
type Registry struct {
	snap     atomic.Pointer[snapshot]
	mutate   chan mutation
	store    Store // nil disables persistence (used in tests)
	adminSet map[string]bool
}

// Store persists the registry's document; see FileStore for the production
// implementation (atomic tmp+rename JSON, spec §6).
type Store interface {
	Save(doc Document) error
	Load() (Document, error)
}

// New builds a Registry backed by store. adminUserIDs may remove any
// personality regardless of ownership (platform-admin authorization, spec
// §4.3). Call Close when done to stop the writer goroutine.
func New(store Store, adminUserIDs []string) (*Registry, error) {
	admin := make(map[string]bool, len(adminUserIDs))
	for _, id := range adminUserIDs {
		admin[id] = true
	}
	r := &Registry{
		mutate:   make(chan mutation, 64),
		store:    store,
		adminSet: admin,
	}
	r.snap.Store(emptySnapshot())

	if store != nil {
		doc, err := store.Load()
		if err != nil {
			return nil, errors.Wrap(err, "load registry document")
		}
		r.snap.Store(documentToSnapshot(doc))
	}

	go r.writer()
	return r, nil
}

// Close stops the writer goroutine. Safe to call once.
func (r *Registry) Close() { close(r.mutate) }

func (r *Registry) current() *snapshot { return r.snap.Load() }

// Lookup resolves nameOrAlias for userID per the fixed precedence of spec
// §4.3: id, then displayName, then user alias, then global alias, then a
// case-folded fallback over all four. First hit wins; ties within a rank
// are resolved by most-recently-added (scanned newest-first).
func (r *Registry) Lookup(nameOrAlias, userID string) (*Personality, bool) {
	s := r.current()

	for _, p := range s.personalities {
		if p.ID == nameOrAlias {
			return p, true
		}
	}
	for i := len(s.personalities) - 1; i >= 0; i-- {
		if s.personalities[i].DisplayName == nameOrAlias {
			return s.personalities[i], true
		}
	}
	if byUser, ok := s.userAliases[userID]; ok {
		if id, ok := byUser[fold(nameOrAlias)]; ok {
			if p, ok := r.findByID(s, id); ok {
				return p, true
			}
		}
	}
	if id, ok := s.globalAliases[fold(nameOrAlias)]; ok {
		if p, ok := r.findByID(s, id); ok {
			return p, true
		}
	}
	folded := fold(nameOrAlias)
	for i := len(s.personalities) - 1; i >= 0; i-- {
		p := s.personalities[i]
		if fold(p.ID) == folded || fold(p.DisplayName) == folded {
			return p, true
		}
	}
	return nil, false
}

// HasDisplayName implements identity.PersonalityNamer: a defensive fallback
// signal for own-webhook classification (spec §4.1 signal d).
func (r *Registry) HasDisplayName(name string) bool {
	s := r.current()
	for _, p := range s.personalities {
		if p.DisplayName == name {
			return true
		}
	}
	return false
}

func (r *Registry) findByID(s *snapshot, id string) (*Personality, bool) {
	for _, p := range s.personalities {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Get returns the personality with the given id, if live.
func (r *Registry) Get(id string) (*Personality, bool) {
	s := r.current()
	return r.findByID(s, id)
}

// List returns a snapshot copy of all live personalities, insertion order.
func (r *Registry) List() []Personality {
	s := r.current()
	out := make([]Personality, len(s.personalities))
	for i, p := range s.personalities {
		out[i] = *p
	}
	return out
}

// Add registers a new personality owned by byUserID, deriving an auto-alias
// from its display name (spec §3). Rejects if ID already exists. A blank ID
// is assigned a fresh uuid.
func (r *Registry) Add(p Personality, byUserID string) (*Personality, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.OwnerUserID = byUserID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	result := make(chan mutationResult, 1)
	r.mutate <- mutation{kind: mutAdd, personality: &p, result: result}
	res := <-result
	if res.err != nil {
		return nil, res.err
	}
	return res.personality, nil
}

// AddUserAlias creates an alias visible only to userID, rejecting a
// collision with a global alias pointing elsewhere (spec §4.3).
func (r *Registry) AddUserAlias(userID, alias, personalityID string) error {
	result := make(chan mutationResult, 1)
	r.mutate <- mutation{kind: mutAddUserAlias, userID: userID, alias: alias, personalityID: personalityID, result: result}
	res := <-result
	return res.err
}

// Remove hard-deletes a personality and purges every alias pointing to it.
// Authorized when byUserID owns it or is a platform admin.
func (r *Registry) Remove(personalityID, byUserID string) error {
	result := make(chan mutationResult, 1)
	r.mutate <- mutation{kind: mutRemove, personalityID: personalityID, userID: byUserID, result: result}
	res := <-result
	return res.err
}

func (r *Registry) isAuthorized(owner, byUserID string) bool {
	return owner == byUserID || r.adminSet[byUserID]
}
