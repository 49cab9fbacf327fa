package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
)

// SQLiteStore keeps one row per chat in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (and creates) the database at dbPath.
// If dbPath is empty, defaults to "./bot_data/rosters.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./bot_data/rosters.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS rosters (
		chat_id TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`)
	return err
}

// Load fetches the record for chatID.
func (s *SQLiteStore) Load(ctx context.Context, chatID roster.ChatID) (roster.Roster, bool, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM rosters WHERE chat_id = ?`, string(chatID)).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return roster.Roster{}, false, nil
		}
		return roster.Roster{}, false, fmt.Errorf("query roster %s: %w", chatID, err)
	}
	r, err := roster.Decode([]byte(record), chatID, s.now())
	if err != nil {
		return roster.Roster{}, false, fmt.Errorf("decode roster %s: %w", chatID, err)
	}
	return r, true, nil
}

// Save upserts the record for chatID.
func (s *SQLiteStore) Save(ctx context.Context, chatID roster.ChatID, r roster.Roster) error {
	data, err := roster.Encode(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rosters (chat_id, record, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at
	`, string(chatID), string(data), s.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert roster %s: %w", chatID, err)
	}
	return nil
}

// ChatIDs lists stored chats in lexical order.
func (s *SQLiteStore) ChatIDs(ctx context.Context) ([]roster.ChatID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM rosters ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list rosters: %w", err)
	}
	defer rows.Close()

	var ids []roster.ChatID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, roster.ChatID(id))
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
