package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
)

const (
	filePrefix = "chat-data_"
	fileSuffix = ".json"
)

// FileStore keeps one JSON file per chat in a directory. Writes go through
// a temporary file and a rename so a crash never leaves a truncated record.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "bot_data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create roster directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file holding chatID's record.
func (s *FileStore) Path(chatID roster.ChatID) string {
	return filepath.Join(s.dir, filePrefix+url.PathEscape(string(chatID))+fileSuffix)
}

// Load reads and decodes the record for chatID.
func (s *FileStore) Load(ctx context.Context, chatID roster.ChatID) (roster.Roster, bool, error) {
	if err := ctx.Err(); err != nil {
		return roster.Roster{}, false, err
	}
	raw, err := os.ReadFile(s.Path(chatID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return roster.Roster{}, false, nil
		}
		return roster.Roster{}, false, fmt.Errorf("read roster %s: %w", chatID, err)
	}
	r, err := roster.Decode(raw, chatID, s.now())
	if err != nil {
		return roster.Roster{}, false, fmt.Errorf("decode roster %s: %w", chatID, err)
	}
	return r, true, nil
}

// Save replaces the record for chatID.
func (s *FileStore) Save(ctx context.Context, chatID roster.ChatID, r roster.Roster) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := roster.Encode(r)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+filePrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("create temp roster file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write roster %s: %w", chatID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync roster %s: %w", chatID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close roster %s: %w", chatID, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod roster %s: %w", chatID, err)
	}
	if err := os.Rename(tmpName, s.Path(chatID)); err != nil {
		return fmt.Errorf("replace roster %s: %w", chatID, err)
	}
	return nil
}

// ChatIDs lists every chat with a record file.
func (s *FileStore) ChatIDs(ctx context.Context) ([]roster.ChatID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list roster directory: %w", err)
	}
	ids := make([]roster.ChatID, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		escaped := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		id, err := url.PathUnescape(escaped)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("skipping roster file with undecodable name")
			continue
		}
		ids = append(ids, roster.ChatID(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, ctx.Err()
}

// Close is a no-op for files.
func (s *FileStore) Close() error { return nil }
