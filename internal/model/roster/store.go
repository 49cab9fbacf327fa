package roster

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists whole roster records, one per chat. Implementations do
// not lock across Load and Save; callers serialize writers per chat.
type Store interface {
	// Load returns false when nothing was ever saved for chatID.
	Load(ctx context.Context, chatID ChatID) (Roster, bool, error)
	// Save overwrites the record for chatID in full.
	Save(ctx context.Context, chatID ChatID, r Roster) error
	Close() error
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	ChatIDs(ctx context.Context) ([]ChatID, error)
}

// MemoryStore keeps encoded records in process. It goes through the same
// codec as the durable stores so round-trips behave identically.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[ChatID][]byte
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[ChatID][]byte),
		now:     time.Now,
	}
}

// Load decodes the stored record for chatID.
func (s *MemoryStore) Load(ctx context.Context, chatID ChatID) (Roster, bool, error) {
	if err := ctx.Err(); err != nil {
		return Roster{}, false, err
	}
	s.mu.RLock()
	data, ok := s.records[chatID]
	s.mu.RUnlock()
	if !ok {
		return Roster{}, false, nil
	}
	r, err := Decode(data, chatID, s.now())
	if err != nil {
		return Roster{}, false, err
	}
	return r, true, nil
}

// Save encodes r and replaces the stored record.
func (s *MemoryStore) Save(ctx context.Context, chatID ChatID, r Roster) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[chatID] = data
	s.mu.Unlock()
	return nil
}

// Raw stores an already encoded record, e.g. a legacy fixture.
func (s *MemoryStore) Raw(chatID ChatID, data []byte) {
	s.mu.Lock()
	s.records[chatID] = append([]byte(nil), data...)
	s.mu.Unlock()
}

// ChatIDs lists stored chats in lexical order.
func (s *MemoryStore) ChatIDs(_ context.Context) ([]ChatID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]ChatID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
