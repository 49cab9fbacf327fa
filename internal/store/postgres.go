package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
)

// PostgresStore keeps one JSONB row per chat.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects to dsn and makes sure the table exists.
// "postgresql+asyncpg://" DSNs are accepted and normalized.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &PostgresStore{pool: pool, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", err)
	}
	return s, nil
}

func normalizeDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgresql+asyncpg://") {
		return "postgresql://" + strings.TrimPrefix(dsn, "postgresql+asyncpg://")
	}
	return dsn
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS rosters (
		chat_id TEXT PRIMARY KEY,
		record JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

// Load fetches the record for chatID.
func (s *PostgresStore) Load(ctx context.Context, chatID roster.ChatID) (roster.Roster, bool, error) {
	var record string
	err := s.pool.QueryRow(ctx, `SELECT record::text FROM rosters WHERE chat_id = $1`, string(chatID)).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
func (s *PostgresStore) Save(ctx context.Context, chatID roster.ChatID, r roster.Roster) error {
	data, err := roster.Encode(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rosters (chat_id, record, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (chat_id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()
	`, string(chatID), string(data))
	if err != nil {
		return fmt.Errorf("upsert roster %s: %w", chatID, err)
	}
	return nil
}

// ChatIDs lists stored chats in lexical order.
func (s *PostgresStore) ChatIDs(ctx context.Context) ([]roster.ChatID, error) {
	rows, err := s.pool.Query(ctx, `SELECT chat_id FROM rosters ORDER BY chat_id`)
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

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
