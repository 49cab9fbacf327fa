package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iAnanich/tgbot-member-presence/internal/metrics"
	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
)

var (
	ErrNotInitialized = errors.New("roster not initialized")
	ErrPersistence    = errors.New("roster persistence failure")
	ErrInvalidChatID  = errors.New("chat id is required")
	ErrNoUsername     = errors.New("caller has no username")
)

// PersistenceError wraps a store failure. It matches both ErrPersistence
// and the underlying error with errors.Is.
type PersistenceError struct {
	Op     Op
	ChatID roster.ChatID
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ChatID, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// Op names a roster operation.
type Op string

const (
	OpInitialize        Op = "initialize"
	OpCheckPresence     Op = "check_presence"
	OpCheckIn           Op = "check_in"
	OpForgetSelf        Op = "forget_self"
	OpForgetOthers      Op = "forget_others"
	OpRememberMany      Op = "remember_many"
	OpList              Op = "list"
	OpSetTracking       Op = "set_tracking"
	OpMembershipChanged Op = "membership_changed"
)

// Policy decides what happens when a command reaches a chat with no roster.
type Policy string

const (
	// PolicyExplicit requires Initialize before any other command.
	PolicyExplicit Policy = "explicit"
	// PolicyImplicit creates a default roster on first access.
	PolicyImplicit Policy = "implicit"
)

// ParsePolicy converts a configuration value.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicyExplicit, "":
		return PolicyExplicit, nil
	case PolicyImplicit:
		return PolicyImplicit, nil
	default:
		return "", fmt.Errorf("unknown initialization policy %q", value)
	}
}

// DefaultMentionBatchSize keeps one reply well below the platform's
// per-message mention limit.
const DefaultMentionBatchSize = 20

// Options configures a Service.
type Options struct {
	Policy           Policy
	MentionBatchSize int
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
	Events           *Hub
	Now              func() time.Time
}

// Service applies roster operations. Every operation runs one
// load-mutate-save cycle while holding the chat's lock.
type Service struct {
	store     roster.Store
	policy    Policy
	batchSize int
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	events    *Hub
	now       func() time.Time
	locks     *chatLocker
}

// NewService wires a Service around store.
func NewService(store roster.Store, opts Options) *Service {
	if opts.Policy == "" {
		opts.Policy = PolicyExplicit
	}
	if opts.MentionBatchSize <= 0 {
		opts.MentionBatchSize = DefaultMentionBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:     store,
		policy:    opts.Policy,
		batchSize: opts.MentionBatchSize,
		logger:    opts.Logger.With().Str("component", "roster").Logger(),
		metrics:   opts.Metrics,
		events:    opts.Events,
		now:       opts.Now,
		locks:     newChatLocker(),
	}
}

// Policy reports the configured initialization policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// Get returns the stored roster without touching it.
func (s *Service) Get(ctx context.Context, chatID roster.ChatID) (roster.Roster, error) {
	if chatID == "" {
		return roster.Roster{}, ErrInvalidChatID
	}
	r, found, err := s.load(ctx, "get", chatID)
	if err != nil {
		return roster.Roster{}, err
	}
	if !found {
		return roster.Roster{}, ErrNotInitialized
	}
	return r, nil
}

// mutation edits r in place and reports whether anything changed.
type mutation func(r *roster.Roster) bool

// apply runs op against chatID. With create set a missing roster is
// materialized, otherwise ErrNotInitialized is returned. The roster is
// saved only when it was created or changed; on a failed save the
// in-memory edit is discarded with it.
func (s *Service) apply(ctx context.Context, op Op, chatID roster.ChatID, create bool, mutate mutation) error {
	if chatID == "" {
		s.observe(op, chatID, ErrInvalidChatID)
		return ErrInvalidChatID
	}

	event, err := s.transact(ctx, op, chatID, create, mutate)
	s.observe(op, chatID, err)
	if err != nil {
		return err
	}
	if event != nil {
		s.events.Publish(*event)
	}
	return nil
}

func (s *Service) transact(ctx context.Context, op Op, chatID roster.ChatID, create bool, mutate mutation) (*Event, error) {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	current, found, err := s.load(ctx, op, chatID)
	if err != nil {
		return nil, err
	}

	created := false
	if !found {
		if !create {
			return nil, ErrNotInitialized
		}
		current = roster.New(chatID, s.now())
		created = true
	}

	before := current.Clone()
	changed := mutate(&current)
	if !changed && !created {
		return nil, nil
	}

	if err := s.save(ctx, op, chatID, current); err != nil {
		return nil, err
	}

	event := newEvent(op, before, current, s.now())
	return &event, nil
}

func (s *Service) load(ctx context.Context, op Op, chatID roster.ChatID) (roster.Roster, bool, error) {
	start := time.Now()
	r, found, err := s.store.Load(ctx, chatID)
	s.metrics.ObserveStore("load", time.Since(start))
	if err != nil {
		s.metrics.ObservePersistenceFailure(string(op))
		return roster.Roster{}, false, &PersistenceError{Op: op, ChatID: chatID, Err: err}
	}
	if found && r.Members == nil {
		r.Members = make(map[string]roster.Member)
	}
	return r, found, nil
}

func (s *Service) save(ctx context.Context, op Op, chatID roster.ChatID, r roster.Roster) error {
	start := time.Now()
	err := s.store.Save(ctx, chatID, r)
	s.metrics.ObserveStore("save", time.Since(start))
	if err != nil {
		s.metrics.ObservePersistenceFailure(string(op))
		return &PersistenceError{Op: op, ChatID: chatID, Err: err}
	}
	return nil
}

func (s *Service) observe(op Op, chatID roster.ChatID, err error) {
	outcome := "ok"
	switch {
	case err == nil:
		s.logger.Debug().Str("op", string(op)).Str("chat_id", chatID.String()).Msg("roster operation applied")
	case errors.Is(err, ErrNotInitialized):
		outcome = "not_initialized"
		s.logger.Debug().Str("op", string(op)).Str("chat_id", chatID.String()).Msg("roster not initialized")
	case errors.Is(err, ErrPersistence):
		outcome = "persistence_failure"
		s.logger.Error().Err(err).Str("op", string(op)).Str("chat_id", chatID.String()).Msg("roster persistence failed")
	default:
		outcome = "rejected"
		s.logger.Info().Err(err).Str("op", string(op)).Str("chat_id", chatID.String()).Msg("roster operation rejected")
	}
	s.metrics.ObserveOperation(string(op), outcome)
}

// createOnDemand reports whether commands other than Initialize may
// materialize a roster.
func (s *Service) createOnDemand() bool {
	return s.policy == PolicyImplicit
}
