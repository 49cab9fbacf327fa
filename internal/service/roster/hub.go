package roster

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iAnanich/tgbot-member-presence/internal/metrics"
	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
)

const defaultSubscriberBuffer = 16

// Event describes a persisted change to one chat's roster.
type Event struct {
	ID              string        `json:"id"`
	ChatID          roster.ChatID `json:"chatId"`
	Op              Op            `json:"op"`
	Added           []string      `json:"added,omitempty"`
	Removed         []string      `json:"removed,omitempty"`
	TrackingEnabled bool          `json:"trackingEnabled"`
	At              time.Time     `json:"at"`
}

func newEvent(op Op, before, after roster.Roster, at time.Time) Event {
	e := Event{
		ID:              uuid.NewString(),
		ChatID:          after.ChatID,
		Op:              op,
		TrackingEnabled: after.TrackingEnabled,
		At:              at.UTC(),
	}
	for name := range after.Members {
		if !before.Has(name) {
			e.Added = append(e.Added, name)
		}
	}
	for name := range before.Members {
		if !after.Has(name) {
			e.Removed = append(e.Removed, name)
		}
	}
	sort.Strings(e.Added)
	sort.Strings(e.Removed)
	return e
}

type subscription struct {
	ch chan Event
}

// Hub fans roster events out to per-chat subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[roster.ChatID]map[*subscription]struct{}
	buffer  int
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:    make(map[roster.ChatID]map[*subscription]struct{}),
		buffer:  buffer,
		metrics: m,
		logger:  logger,
	}
}

// Subscribe registers interest in chatID. The returned cancel closes the
// channel and must be called exactly once the caller is done.
func (h *Hub) Subscribe(chatID roster.ChatID) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[chatID]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[chatID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.AddSubscribers(1)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[chatID], sub)
			if len(h.subs[chatID]) == 0 {
				delete(h.subs, chatID)
			}
			close(sub.ch)
			h.mu.Unlock()
			h.metrics.AddSubscribers(-1)
		})
	}
}

// Publish delivers e to the chat's current subscribers.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[e.ChatID] {
		select {
		case sub.ch <- e:
		default:
			h.logger.Warn().
				Str("chat_id", e.ChatID.String()).
				Str("event_id", e.ID).
				Msg("roster event dropped for slow subscriber")
		}
	}
}

// Subscribers returns the number of open subscriptions for chatID.
func (h *Hub) Subscribers(chatID roster.ChatID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[chatID])
}
