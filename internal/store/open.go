package store

import (
	"context"
	"fmt"

	"github.com/iAnanich/tgbot-member-presence/internal/config"
	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
)

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (roster.Store, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.DataDir)
	case config.BackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL)
	case config.BackendMemory:
		return roster.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown roster store %q", cfg.Backend)
	}
}

// Copy writes every record listed by src into dst and returns how many
// chats were copied.
func Copy(ctx context.Context, src roster.Store, dst roster.Store) (int, error) {
	lister, ok := src.(roster.Lister)
	if !ok {
		return 0, fmt.Errorf("source store %T cannot list its records", src)
	}
	ids, err := lister.ChatIDs(ctx)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, id := range ids {
		r, found, err := src.Load(ctx, id)
		if err != nil {
			return copied, fmt.Errorf("load %s: %w", id, err)
		}
		if !found {
			continue
		}
		if err := dst.Save(ctx, id, r); err != nil {
			return copied, fmt.Errorf("save %s: %w", id, err)
		}
		copied++
	}
	return copied, nil
}
