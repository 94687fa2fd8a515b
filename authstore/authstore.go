// Package authstore implements TokenStore (spec §4.4): per-user credential
// persistence, with the security-critical rule enforced entirely by its
// callers — getToken only ever accepts a real user id, never a webhook's
// author id.
package authstore

import (
	"context"
	"time"

	"github.com/tomasmach/personabridge/errkind"
)

// Record is one user's stored credential. Never logged.
type Record struct {
	Token          string    `json:"token"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`
}

func (r Record) expired(now time.Time) bool {
	return !r.TokenExpiresAt.IsZero() && !now.Before(r.TokenExpiresAt)
}

// Refresher exchanges a refresh token for a new access token. Modeled on
// golang.org/x/oauth2's TokenSource shape; the OAuth provider front-end
// itself is out of scope (spec §1).
type Refresher interface {
	RefreshToken(ctx context.Context, userID, refreshToken string) (token string, expiresAt time.Time, err error)
}

// Store persists AuthRecords (spec §6 document `auth.json`). All mutations
// are serialized through a single actor goroutine (see Store.actor).
type Store struct {
	cmd chan command
}

// FileStore persists the user→Record map.
type FileStore interface {
	Save(map[string]Record) error
	Load() (map[string]Record, error)
}

// New builds a Store backed by persist and refresher. refresher may be nil
// if Refresh is never called.
func New(persist FileStore, refresher Refresher, now func() time.Time) (*Store, error) {
	if now == nil {
		now = time.Now
	}
	records := make(map[string]Record)
	if persist != nil {
		loaded, err := persist.Load()
		if err != nil {
			return nil, err
		}
		records = loaded
	}
	s := &Store{cmd: make(chan command, 64)}
	go s.actor(records, persist, refresher, now)
	return s, nil
}

// Close stops the actor goroutine.
func (s *Store) Close() { close(s.cmd) }

// GetToken returns the stored access token for realUserID. Callers must
// never pass a webhook's author id — only IdentityTracker's resolved real
// user id (spec §4.4 authentication-isolation rule).
func (s *Store) GetToken(realUserID string) (string, error) {
	reply := make(chan commandResult, 1)
	s.cmd <- command{kind: cmdGet, userID: realUserID, reply: reply}
	res := <-reply
	return res.token, res.err
}

// SetToken stores or replaces a user's credential.
func (s *Store) SetToken(userID string, rec Record) error {
	reply := make(chan commandResult, 1)
	s.cmd <- command{kind: cmdSet, userID: userID, record: rec, reply: reply}
	return (<-reply).err
}

// RevokeToken deletes a user's credential.
func (s *Store) RevokeToken(userID string) error {
	reply := make(chan commandResult, 1)
	s.cmd <- command{kind: cmdRevoke, userID: userID, reply: reply}
	return (<-reply).err
}

// Refresh exchanges the user's refresh token for a new access token via the
// injected Refresher and persists the result.
func (s *Store) Refresh(ctx context.Context, userID string) (string, error) {
	reply := make(chan commandResult, 1)
	s.cmd <- command{kind: cmdRefresh, userID: userID, ctx: ctx, reply: reply}
	res := <-reply
	return res.token, res.err
}

type commandKind int

const (
	cmdGet commandKind = iota
	cmdSet
	cmdRevoke
	cmdRefresh
)

type command struct {
	kind   commandKind
	userID string
	record Record
	ctx    context.Context
	reply  chan commandResult
}

type commandResult struct {
	token string
	err   error
}

func (s *Store) actor(records map[string]Record, persist FileStore, refresher Refresher, now func() time.Time) {
	save := func() {
		if persist != nil {
			_ = persist.Save(records)
		}
	}

	for c := range s.cmd {
		switch c.kind {
		case cmdGet:
			rec, ok := records[c.userID]
			if !ok || rec.expired(now()) {
				c.reply <- commandResult{err: errkind.New(errkind.NotAuthenticated, nil, "no valid token for user")}
				continue
			}
			c.reply <- commandResult{token: rec.Token}

		case cmdSet:
			records[c.userID] = c.record
			save()
			c.reply <- commandResult{}

		case cmdRevoke:
			delete(records, c.userID)
			save()
			c.reply <- commandResult{}

		case cmdRefresh:
			rec, ok := records[c.userID]
			if !ok || rec.RefreshToken == "" {
				c.reply <- commandResult{err: errkind.New(errkind.NotAuthenticated, nil, "no refresh token on file")}
				continue
			}
			if refresher == nil {
				c.reply <- commandResult{err: errkind.New(errkind.Internal, nil, "no refresher configured")}
				continue
			}
			token, expiresAt, err := refresher.RefreshToken(c.ctx, c.userID, rec.RefreshToken)
			if err != nil {
				c.reply <- commandResult{err: errkind.New(errkind.NotAuthenticated, err, "refresh failed")}
				continue
			}
			rec.Token = token
			rec.TokenExpiresAt = expiresAt
			records[c.userID] = rec
			save()
			c.reply <- commandResult{token: token}
		}
	}
}
