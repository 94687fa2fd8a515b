// Package history is a bounded, best-effort audit log of dispatched turns
// (spec §5 enrichment): which personality replied to which user in which
// channel, and what was said. It is explicitly not event sourcing — state
// is never reconstructed from it, and old rows are pruned the way
// logstore.Store.prune bounds its own table, rather than retained forever.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const migrationSQL = `
CREATE TABLE IF NOT EXISTS turns (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    ts             DATETIME NOT NULL,
    channel_id     TEXT NOT NULL,
    user_id        TEXT NOT NULL,
    personality_id TEXT NOT NULL,
    request_text   TEXT NOT NULL,
    reply_text     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_channel ON turns(channel_id);
CREATE INDEX IF NOT EXISTS idx_turns_personality ON turns(personality_id);
`

// maxRowsPerPersonality bounds the audit log so it never grows unbounded;
// a personality with heavy traffic keeps only its most recent turns.
const maxRowsPerPersonality = 5000

// Turn is one recorded dispatch.
type Turn struct {
	ID            int64
	Timestamp     time.Time
	ChannelID     string
	UserID        string
	PersonalityID string
	RequestText   string
	ReplyText     string
}

// Store persists Turns in SQLite, pruned the way logstore bounds its own
// row count.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history db dir: %w", err)
	}
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history db migration: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Record persists one dispatched turn. Errors are for the caller to log;
// Record never blocks dispatch-critical work and is called after the
// Dispatcher has already replied.
func (s *Store) Record(ctx context.Context, t Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (ts, channel_id, user_id, personality_id, request_text, reply_text)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.Timestamp, t.ChannelID, t.UserID, t.PersonalityID, t.RequestText, t.ReplyText,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	if rand.IntN(200) == 0 {
		s.prune(context.Background(), t.PersonalityID)
	}
	return nil
}

// prune keeps at most maxRowsPerPersonality rows for personalityID,
// deleting the oldest excess.
func (s *Store) prune(ctx context.Context, personalityID string) {
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE personality_id = ? AND id NOT IN
		 (SELECT id FROM turns WHERE personality_id = ? ORDER BY id DESC LIMIT ?)`,
		personalityID, personalityID, maxRowsPerPersonality,
	)
}

// Recent returns the most recent limit turns for a (channel, personality)
// pair, newest first, for the admin status surface.
func (s *Store) Recent(ctx context.Context, channelID, personalityID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, channel_id, user_id, personality_id, request_text, reply_text
		 FROM turns WHERE channel_id = ? AND personality_id = ?
		 ORDER BY id DESC LIMIT ?`,
		channelID, personalityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.ChannelID, &t.UserID, &t.PersonalityID, &t.RequestText, &t.ReplyText); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountByPersonality returns the number of recorded turns per personality,
// for the admin status surface.
func (s *Store) CountByPersonality(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT personality_id, COUNT(*) FROM turns GROUP BY personality_id`)
	if err != nil {
		return nil, fmt.Errorf("count turns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}
