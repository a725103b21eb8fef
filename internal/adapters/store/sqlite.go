package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Board/internal/domain"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS presence_rows (
	room       TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	entries    TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
	PRIMARY KEY (room, user_id)
);
CREATE TABLE IF NOT EXISTS room_locks (
	room TEXT PRIMARY KEY
);
`

// SQLite keeps rows as JSON text, one record per (room, user).
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	// one writer; sqlite serializes anyway and :memory: is per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	log.Info().Str("module", "store").Str("dsn", dsn).Msg("sqlite store ready")
	return &SQLite{db: db}, nil
}

func (s *SQLite) Rows(ctx context.Context, room domain.WhiteboardID) (domain.PresenceRows, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id, entries FROM presence_rows WHERE room = ?", string(room))
	if err != nil {
		return nil, fmt.Errorf("failed to query rows for %s: %w", room, err)
	}
	defer rows.Close()

	out := make(domain.PresenceRows)
	for rows.Next() {
		var user, raw string
		if err := rows.Scan(&user, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var entries []domain.PresenceEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			log.Warn().Str("module", "store").Str("whiteboard_id", string(room)).Str("user_id", user).Err(err).Msg("skipping corrupt row")
			continue
		}
		out[domain.UserID(user)] = entries
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for %s: %w", room, err)
	}
	return out, nil
}

func (s *SQLite) PutRow(ctx context.Context, room domain.WhiteboardID, user domain.UserID, entries []domain.PresenceEntry) error {
	if len(entries) == 0 {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM presence_rows WHERE room = ? AND user_id = ?", string(room), string(user)); err != nil {
			return fmt.Errorf("failed to delete row %s/%s: %w", room, user, err)
		}
		return nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	query := `INSERT INTO presence_rows (room, user_id, entries) VALUES (?, ?, ?)
		ON CONFLICT(room, user_id) DO UPDATE SET entries = excluded.entries, updated_at = strftime('%s','now')`
	if _, err := s.db.ExecContext(ctx, query, string(room), string(user), string(raw)); err != nil {
		return fmt.Errorf("failed to upsert row %s/%s: %w", room, user, err)
	}
	return nil
}

func (s *SQLite) Locked(ctx context.Context, room domain.WhiteboardID) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM room_locks WHERE room = ?", string(room)).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query lock for %s: %w", room, err)
	}
	return n > 0, nil
}

func (s *SQLite) SetLocked(ctx context.Context, room domain.WhiteboardID, locked bool) error {
	query := "DELETE FROM room_locks WHERE room = ?"
	if locked {
		query = "INSERT OR IGNORE INTO room_locks (room) VALUES (?)"
	}
	if _, err := s.db.ExecContext(ctx, query, string(room)); err != nil {
		return fmt.Errorf("failed to set lock for %s: %w", room, err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
