package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"
)

// newTestStore opens an in-memory SQLite logstore for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	if _, err := db.ExecContext(context.Background(), migrationSQL); err != nil {
		db.Close()
		t.Fatalf("run migration: %v", err)
	}
	s := &Store{db: db}
	t.Cleanup(func() { db.Close() })
	return s
}

func TestWriteAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.write(ctx, time.Now(), "INFO", "hello world", "p1", "chan1", "corr1", "")

	rows, total, err := s.List(ctx, "p1", "", 10, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected total=1, got %d", total)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Msg != "hello world" {
		t.Errorf("expected msg %q, got %q", "hello world", rows[0].Msg)
	}
	if rows[0].Level != "INFO" {
		t.Errorf("expected level %q, got %q", "INFO", rows[0].Level)
	}
	if rows[0].PersonalityID != "p1" {
		t.Errorf("expected personality_id %q, got %q", "p1", rows[0].PersonalityID)
	}
	if rows[0].ChannelID != "chan1" {
		t.Errorf("expected channel_id %q, got %q", "chan1", rows[0].ChannelID)
	}
	if rows[0].CorrelationID != "corr1" {
		t.Errorf("expected correlation_id %q, got %q", "corr1", rows[0].CorrelationID)
	}
}

func TestListFiltersByPersonalityID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.write(ctx, time.Now(), "INFO", "msg for p1", "p1", "", "", "")
	s.write(ctx, time.Now(), "INFO", "msg for p2", "p2", "", "", "")

	rowsP1, total1, err := s.List(ctx, "p1", "", 10, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total1 != 1 {
		t.Errorf("expected 1 row for p1, got %d", total1)
	}
	for _, r := range rowsP1 {
		if r.PersonalityID != "p1" {
			t.Errorf("got row with unexpected personality_id %q", r.PersonalityID)
		}
	}

	rowsP2, total2, err := s.List(ctx, "p2", "", 10, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total2 != 1 {
		t.Errorf("expected 1 row for p2, got %d", total2)
	}
	for _, r := range rowsP2 {
		if r.PersonalityID != "p2" {
			t.Errorf("got row with unexpected personality_id %q", r.PersonalityID)
		}
	}
}

func TestListFiltersByLevel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.write(ctx, time.Now(), "DEBUG", "debug msg", "p1", "", "", "")
	s.write(ctx, time.Now(), "INFO", "info msg", "p1", "", "", "")
	s.write(ctx, time.Now(), "WARN", "warn msg", "p1", "", "", "")
	s.write(ctx, time.Now(), "ERROR", "error msg", "p1", "", "", "")

	// "warn" level should return WARN and ERROR only
	rows, total, err := s.List(ctx, "p1", "warn", 10, 0)
	if err != nil {
		t.Fatalf("List(level=warn) error: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 rows for level>=warn, got %d", total)
	}
	for _, r := range rows {
		if r.Level != "WARN" && r.Level != "ERROR" {
			t.Errorf("unexpected level %q in warn-filtered results", r.Level)
		}
	}

	// "error" level should return ERROR only
	rows, total, err = s.List(ctx, "p1", "error", 10, 0)
	if err != nil {
		t.Fatalf("List(level=error) error: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 row for level>=error, got %d", total)
	}
	if len(rows) > 0 && rows[0].Level != "ERROR" {
		t.Errorf("expected ERROR level, got %q", rows[0].Level)
	}

	// "debug" level should return all 4
	rows, total, err = s.List(ctx, "p1", "debug", 10, 0)
	if err != nil {
		t.Fatalf("List(level=debug) error: %v", err)
	}
	if total != 4 {
		t.Errorf("expected 4 rows for level>=debug, got %d", total)
	}
	_ = rows
}

func TestListDefaultLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		s.write(ctx, time.Now(), "INFO", fmt.Sprintf("msg %d", i), "p1", "", "", "")
	}

	// limit=0 should default to 100
	rows, total, err := s.List(ctx, "p1", "", 0, 0)
	if err != nil {
		t.Fatalf("List(limit=0) error: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total=5, got %d", total)
	}
	if len(rows) != 5 {
		t.Errorf("expected 5 rows, got %d", len(rows))
	}
}

func TestPruneKeepsOtherPersonalities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Insert 10001 rows for p1 (exceeds the 10000 row limit)
	const overLimit = 10001
	for i := range overLimit {
		s.write(ctx, time.Now(), "INFO", fmt.Sprintf("p1 msg %d", i), "p1", "", "", "")
	}

	// Insert 5 rows for p2
	const p2Count = 5
	for i := range p2Count {
		s.write(ctx, time.Now(), "INFO", fmt.Sprintf("p2 msg %d", i), "p2", "", "", "")
	}

	// Explicitly prune
	s.prune(ctx)

	// p1 should now have at most 10000 rows
	_, totalP1, err := s.List(ctx, "p1", "", 1, 0)
	if err != nil {
		t.Fatalf("List(p1) error: %v", err)
	}
	if totalP1 > 10000 {
		t.Errorf("expected p1 rows <= 10000 after prune, got %d", totalP1)
	}

	// p2 should still have all 5 rows
	_, totalP2, err := s.List(ctx, "p2", "", 1, 0)
	if err != nil {
		t.Fatalf("List(p2) error: %v", err)
	}
	if totalP2 != p2Count {
		t.Errorf("expected p2 rows=%d after prune, got %d", p2Count, totalP2)
	}
}
