package roster

import (
	"sync"

	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
)

// chatLocker hands out one mutex per chat. Entries are reference counted
// and dropped once nobody holds or waits for them, so idle chats cost
// nothing.
type chatLocker struct {
	mu    sync.Mutex
	locks map[roster.ChatID]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocker() *chatLocker {
	return &chatLocker{locks: make(map[roster.ChatID]*chatLock)}
}

// Lock blocks until chatID is free and returns the matching unlock.
func (l *chatLocker) Lock(chatID roster.ChatID) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.locks[chatID]
	if !ok {
		entry = &chatLock{}
		l.locks[chatID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, chatID)
			}
			l.mu.Unlock()
		})
	}
}

func (l *chatLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
