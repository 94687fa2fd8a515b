package authstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomasmach/personabridge/errkind"
)

type fakeRefresher struct {
	token     string
	expiresAt time.Time
	err       error
}

func (f fakeRefresher) RefreshToken(ctx context.Context, userID, refreshToken string) (string, time.Time, error) {
	return f.token, f.expiresAt, f.err
}

func newTestStore(t *testing.T, refresher Refresher, now func() time.Time) *Store {
	t.Helper()
	s, err := New(nil, refresher, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestGetTokenMissingIsNotAuthenticated(t *testing.T) {
	s := newTestStore(t, nil, nil)

	_, err := s.GetToken("u1")
	if !errkind.Is(err, errkind.NotAuthenticated) {
		t.Fatalf("err = %v, want NotAuthenticated", err)
	}
}

func TestSetThenGetTokenRoundTrips(t *testing.T) {
	s := newTestStore(t, nil, nil)

	if err := s.SetToken("u1", Record{Token: "tok1"}); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	got, err := s.GetToken("u1")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got != "tok1" {
		t.Errorf("GetToken = %q, want tok1", got)
	}
}

func TestGetTokenExpiredIsNotAuthenticated(t *testing.T) {
	fixedNow := time.Unix(1000, 0)
	s := newTestStore(t, nil, func() time.Time { return fixedNow })

	if err := s.SetToken("u1", Record{Token: "tok1", TokenExpiresAt: fixedNow.Add(-time.Second)}); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	_, err := s.GetToken("u1")
	if !errkind.Is(err, errkind.NotAuthenticated) {
		t.Fatalf("err = %v, want NotAuthenticated for expired token", err)
	}
}

func TestRevokeTokenRemovesCredential(t *testing.T) {
	s := newTestStore(t, nil, nil)

	if err := s.SetToken("u1", Record{Token: "tok1"}); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := s.RevokeToken("u1"); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := s.GetToken("u1"); !errkind.Is(err, errkind.NotAuthenticated) {
		t.Fatalf("GetToken after revoke = %v, want NotAuthenticated", err)
	}
}

func TestCrossUserTokensAreIsolated(t *testing.T) {
	s := newTestStore(t, nil, nil)

	if err := s.SetToken("u1", Record{Token: "T1"}); err != nil {
		t.Fatalf("SetToken u1: %v", err)
	}
	if err := s.SetToken("u2", Record{Token: "T2"}); err != nil {
		t.Fatalf("SetToken u2: %v", err)
	}

	got, err := s.GetToken("u2")
	if err != nil {
		t.Fatalf("GetToken u2: %v", err)
	}
	if got != "T2" {
		t.Errorf("GetToken(u2) = %q, want T2 (u1's token must never leak to u2's lookup)", got)
	}
}

func TestRefreshExchangesAndPersistsNewToken(t *testing.T) {
	newExpiry := time.Unix(2000, 0)
	s := newTestStore(t, fakeRefresher{token: "new-tok", expiresAt: newExpiry}, nil)

	if err := s.SetToken("u1", Record{Token: "old-tok", RefreshToken: "refresh1"}); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	got, err := s.Refresh(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got != "new-tok" {
		t.Errorf("Refresh returned %q, want new-tok", got)
	}

	got2, err := s.GetToken("u1")
	if err != nil {
		t.Fatalf("GetToken after refresh: %v", err)
	}
	if got2 != "new-tok" {
		t.Errorf("GetToken after refresh = %q, want new-tok", got2)
	}
}

func TestRefreshWithoutRefreshTokenFails(t *testing.T) {
	s := newTestStore(t, fakeRefresher{token: "new-tok"}, nil)

	if err := s.SetToken("u1", Record{Token: "old-tok"}); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if _, err := s.Refresh(context.Background(), "u1"); !errkind.Is(err, errkind.NotAuthenticated) {
		t.Fatalf("Refresh without refresh token err = %v, want NotAuthenticated", err)
	}
}

func TestRefreshPropagatesRefresherError(t *testing.T) {
	s := newTestStore(t, fakeRefresher{err: errors.New("provider unavailable")}, nil)

	if err := s.SetToken("u1", Record{Token: "old-tok", RefreshToken: "refresh1"}); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if _, err := s.Refresh(context.Background(), "u1"); !errkind.Is(err, errkind.NotAuthenticated) {
		t.Fatalf("Refresh with failing refresher err = %v, want NotAuthenticated", err)
	}
}

func TestJSONFileStorePersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	fileStore := NewJSONFileStore(path)

	s, err := New(fileStore, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SetToken("u1", Record{Token: "tok1"}); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	s.Close()

	reloaded, err := New(fileStore, nil, nil)
	if err != nil {
		t.Fatalf("reload New: %v", err)
	}
	defer reloaded.Close()

	got, err := reloaded.GetToken("u1")
	if err != nil {
		t.Fatalf("GetToken after reload: %v", err)
	}
	if got != "tok1" {
		t.Errorf("GetToken after reload = %q, want tok1", got)
	}
}
