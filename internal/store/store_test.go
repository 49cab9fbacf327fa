package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iAnanich/tgbot-member-presence/internal/config"
	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
)

func int64Ptr(v int64) *int64 { return &v }

func sampleRoster(chatID roster.ChatID) roster.Roster {
	r := roster.New(chatID, time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC))
	r.TrackingEnabled = true
	r.Title = "Book club"
	r.Add("alice_01", roster.Member{ExternalID: int64Ptr(101)})
	r.Add("bob_99", roster.Member{})
	return r
}

// exerciseStore checks the contract every backend must honour.
func exerciseStore(t *testing.T, s roster.Store) {
	t.Helper()
	ctx := context.Background()
	chatID := roster.ChatIDFromInt(-100777)

	if _, found, err := s.Load(ctx, chatID); err != nil || found {
		t.Fatalf("expected not found before save: found=%v err=%v", found, err)
	}

	want := sampleRoster(chatID)
	for i := 0; i < 2; i++ {
		if err := s.Save(ctx, chatID, want); err != nil {
			t.Fatalf("Save #%d err: %v", i, err)
		}
	}

	got, found, err := s.Load(ctx, chatID)
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if got.ChatID != want.ChatID || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("identity fields differ: got %+v", got)
	}
	if got.TrackingEnabled != want.TrackingEnabled || got.Title != want.Title {
		t.Fatalf("flags differ: got %+v", got)
	}
	if len(got.Members) != len(want.Members) {
		t.Fatalf("members differ: got %v", got.Usernames())
	}
	if id := got.Members["alice_01"].ExternalID; id == nil || *id != 101 {
		t.Fatalf("alice_01 id lost: %v", id)
	}

	got.Remove("bob_99")
	if err := s.Save(ctx, chatID, got); err != nil {
		t.Fatalf("overwrite err: %v", err)
	}
	again, _, err := s.Load(ctx, chatID)
	if err != nil {
		t.Fatalf("reload err: %v", err)
	}
	if again.Has("bob_99") {
		t.Fatal("overwrite should replace the whole record")
	}

	if lister, ok := s.(roster.Lister); ok {
		ids, err := lister.ChatIDs(ctx)
		if err != nil {
			t.Fatalf("ChatIDs err: %v", err)
		}
		if len(ids) != 1 || ids[0] != chatID {
			t.Fatalf("unexpected ids %v", ids)
		}
	}
}

func TestFileStoreContract(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}
	exerciseStore(t, s)
}

func TestFileStoreFileNameMatchesLegacyLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}
	if got := s.Path("-100123"); got != filepath.Join(dir, "chat-data_-100123.json") {
		t.Fatalf("unexpected path %s", got)
	}
	if got := s.Path("../escape"); filepath.Dir(got) != dir {
		t.Fatalf("chat id must not escape the data dir: %s", got)
	}
}

func TestFileStoreReadsLegacyRecord(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"began_at": "2021-05-01T10:00:00.000001", "members_by_username": {"carol_x": {"id": 5}}}`
	if err := os.WriteFile(filepath.Join(dir, "chat-data_42.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}

	got, found, err := s.Load(context.Background(), "42")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if got.ChatID != "42" || got.TrackingEnabled || !got.Has("carol_x") {
		t.Fatalf("unexpected roster %+v", got)
	}
}

func TestFileStoreCorruptRecordIsError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chat-data_7.json"), []byte(`{"members_by`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}
	if _, _, err := s.Load(context.Background(), "7"); !errors.Is(err, roster.ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestFileStoreChatIDsLogsUndecodableNames(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = previous }()

	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}
	if err := s.Save(context.Background(), "007", sampleRoster("007")); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "chat-data_%zz.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	ids, err := s.ChatIDs(context.Background())
	if err != nil {
		t.Fatalf("ChatIDs err: %v", err)
	}
	if !reflect.DeepEqual(ids, []roster.ChatID{"007"}) {
		t.Fatalf("unexpected ids %v", ids)
	}
	if !strings.Contains(buf.String(), "chat-data_%zz.json") {
		t.Fatalf("skipped file not logged: %q", buf.String())
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}
	if err := s.Save(context.Background(), "1", sampleRoster("1")); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir err: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "chat-data_1.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected directory contents %v", names)
	}
}

func TestSQLiteStoreContract(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "rosters.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore err: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("ROSTER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ROSTER_TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore err: %v", err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(context.Background(), `TRUNCATE rosters`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	exerciseStore(t, s)
}

func TestRedisStoreContract(t *testing.T) {
	url := os.Getenv("ROSTER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ROSTER_TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(context.Background(), url)
	if err != nil {
		t.Fatalf("NewRedisStore err: %v", err)
	}
	defer s.Close()
	if err := s.client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	exerciseStore(t, s)
}

func TestNormalizeDSN(t *testing.T) {
	got := normalizeDSN(" postgresql+asyncpg://u:p@db:5432/roster ")
	if got != "postgresql://u:p@db:5432/roster" {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestOpenMemoryAndFile(t *testing.T) {
	ctx := context.Background()
	mem, err := Open(ctx, config.StoreConfig{Backend: config.BackendMemory})
	if err != nil {
		t.Fatalf("Open memory err: %v", err)
	}
	if _, ok := mem.(*roster.MemoryStore); !ok {
		t.Fatalf("expected MemoryStore, got %T", mem)
	}

	file, err := Open(ctx, config.StoreConfig{Backend: config.BackendFile, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open file err: %v", err)
	}
	if _, ok := file.(*FileStore); !ok {
		t.Fatalf("expected FileStore, got %T", file)
	}

	if _, err := Open(ctx, config.StoreConfig{Backend: "tape"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestCopyMovesEveryRecord(t *testing.T) {
	ctx := context.Background()
	src, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}
	for _, id := range []roster.ChatID{"1", "2", "room-x"} {
		if err := src.Save(ctx, id, sampleRoster(id)); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	dst := roster.NewMemoryStore()
	n, err := Copy(ctx, src, dst)
	if err != nil {
		t.Fatalf("Copy err: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 copied, got %d", n)
	}
	got, found, err := dst.Load(ctx, "room-x")
	if err != nil || !found {
		t.Fatalf("Load copied: found=%v err=%v", found, err)
	}
	if got.ChatID != "room-x" || !got.Has("alice_01") {
		t.Fatalf("unexpected copy %+v", got)
	}
}
