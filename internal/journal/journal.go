// Package journal persists ledger entries to SQLite so a session's stat
// history outlives the process.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samdwyer/storyband/internal/ledger"
)

const timeFormat = time.RFC3339Nano

// ErrEmptySession indicates a blank session id.
var ErrEmptySession = errors.New("session id is required")

// Store is an append-only journal of ledger entries keyed by session.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path and migrates it.
// Use ":memory:" for a throwaway journal.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records one ledger entry for sessionID.
func (s *Store) Append(ctx context.Context, sessionID string, e ledger.Entry) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("append entry: %w", ErrEmptySession)
	}

	vectors := make([]string, 0, 4)
	for _, v := range []ledger.StatVector{e.Player, e.Antagonist, e.PlayerDelta, e.AntagonistDelta} {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("append entry: encode vector: %w", err)
		}
		vectors = append(vectors, string(raw))
	}
	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO ledger_entries
		(session_id, sequence, initialization, player, antagonist, player_delta, antagonist_delta,
		 narrative, player_rationale, antagonist_rationale, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, int64(e.Sequence), e.Initialization,
		vectors[0], vectors[1], vectors[2], vectors[3],
		e.Narrative, e.PlayerRationale, e.AntagonistRationale,
		at.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("append entry: insert: %w", err)
	}
	return nil
}

// Entries returns every entry recorded for sessionID, oldest first.
func (s *Store) Entries(ctx context.Context, sessionID string) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sequence, initialization, player, antagonist,
		player_delta, antagonist_delta, narrative, player_rationale, antagonist_rationale, recorded_at
		FROM ledger_entries WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list entries: query: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e                     ledger.Entry
			seq                   int64
			player, antagonist    string
			playerDelta, antDelta string
			recordedAt            string
		)
		if err := rows.Scan(&seq, &e.Initialization, &player, &antagonist, &playerDelta, &antDelta,
			&e.Narrative, &e.PlayerRationale, &e.AntagonistRationale, &recordedAt); err != nil {
			return nil, fmt.Errorf("list entries: scan: %w", err)
		}
		e.Sequence = uint64(seq)
		for _, col := range []struct {
			raw string
			dst *ledger.StatVector
		}{
			{player, &e.Player},
			{antagonist, &e.Antagonist},
			{playerDelta, &e.PlayerDelta},
			{antDelta, &e.AntagonistDelta},
		} {
			if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
				return nil, fmt.Errorf("list entries: decode vector: %w", err)
			}
		}
		if e.Timestamp, err = time.Parse(timeFormat, recordedAt); err != nil {
			return nil, fmt.Errorf("list entries: parse time: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries: rows: %w", err)
	}
	return out, nil
}

// Sessions returns every session id with at least one entry, most recently
// active first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM ledger_entries
		GROUP BY session_id ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list sessions: scan: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: rows: %w", err)
	}
	return out, nil
}

// Recorder adapts the store to a ledger observer. Write failures are logged;
// the game never stops for the journal.
func (s *Store) Recorder(ctx context.Context, logger *slog.Logger) func(sessionID string, e ledger.Entry) {
	logger = logger.With("component", "journal")
	return func(sessionID string, e ledger.Entry) {
		if err := s.Append(ctx, sessionID, e); err != nil {
			logger.ErrorContext(ctx, "journal write failed", "session_id", sessionID, "sequence", e.Sequence, "error", err)
		}
	}
}
