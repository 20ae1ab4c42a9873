package contextstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLite implements domain.ContextStore on a local SQLite database.
// Entries are keyed by (channel, user_id) and ordered by a monotonic
// rowid, so appends are strictly chronological even when wall clocks tie.
type SQLite struct {
	db         *sql.DB
	maxEntries int // per (channel, user); 0 = unbounded
	logger     *slog.Logger
}

// NewSQLite opens (creating if needed) the store at dbPath. maxEntries
// bounds the retained history per user; the dispatch pipeline itself never
// evicts, so retention lives here.
func NewSQLite(dbPath string, maxEntries int, logger *slog.Logger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLite{db: db, maxEntries: maxEntries, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS context_entries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		channel    TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		role       TEXT NOT NULL,
		text       TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_context_user ON context_entries(channel, user_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Append(ctx context.Context, ch domain.Channel, userID string, role domain.Role, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO context_entries (channel, user_id, role, text) VALUES (?, ?, ?, ?)`,
		string(ch), userID, string(role), text,
	)
	if err != nil {
		return fmt.Errorf("append context entry: %w", err)
	}

	if s.maxEntries > 0 {
		s.trim(ctx, ch, userID)
	}
	return nil
}

// trim drops the oldest entries beyond maxEntries. Best effort: a failed
// trim never fails the append that triggered it.
func (s *SQLite) trim(ctx context.Context, ch domain.Channel, userID string) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM context_entries
		 WHERE channel = ? AND user_id = ? AND id NOT IN (
			SELECT id FROM context_entries
			WHERE channel = ? AND user_id = ?
			ORDER BY id DESC LIMIT ?
		 )`,
		string(ch), userID, string(ch), userID, s.maxEntries,
	)
	if err != nil {
		s.logger.Warn("context trim failed", "channel", ch, "user", userID, "err", err)
	}
}

func (s *SQLite) Read(ctx context.Context, ch domain.Channel, userID string) ([]domain.ContextEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text FROM context_entries
		 WHERE channel = ? AND user_id = ?
		 ORDER BY id ASC`,
		string(ch), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	defer rows.Close()

	var entries []domain.ContextEntry
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return nil, err
		}
		entries = append(entries, domain.ContextEntry{Role: domain.Role(role), Text: text})
	}
	return entries, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
