package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
)

const redisKeyPrefix = "roster:"

// RedisStore keeps one string key per chat, without expiry.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore connects to redisURL and pings it.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RedisStore{client: client, now: time.Now}, nil
}

func redisKey(chatID roster.ChatID) string {
	return redisKeyPrefix + string(chatID)
}

// Load fetches the record for chatID.
func (s *RedisStore) Load(ctx context.Context, chatID roster.ChatID) (roster.Roster, bool, error) {
	data, err := s.client.Get(ctx, redisKey(chatID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return roster.Roster{}, false, nil
		}
		return roster.Roster{}, false, fmt.Errorf("get roster %s: %w", chatID, err)
	}
	r, err := roster.Decode(data, chatID, s.now())
	if err != nil {
		return roster.Roster{}, false, fmt.Errorf("decode roster %s: %w", chatID, err)
	}
	return r, true, nil
}

// Save overwrites the key for chatID.
func (s *RedisStore) Save(ctx context.Context, chatID roster.ChatID, r roster.Roster) error {
	data, err := roster.Encode(r)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey(chatID), data, 0).Err(); err != nil {
		return fmt.Errorf("set roster %s: %w", chatID, err)
	}
	return nil
}

// ChatIDs scans for roster keys.
func (s *RedisStore) ChatIDs(ctx context.Context) ([]roster.ChatID, error) {
	var ids []roster.ChatID
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, roster.ChatID(strings.TrimPrefix(iter.Val(), redisKeyPrefix)))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan rosters: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
