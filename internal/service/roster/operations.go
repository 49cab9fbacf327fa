package roster

import (
	"context"
	"errors"
	"strings"

	"github.com/iAnanich/tgbot-member-presence/internal/analysis/mention"
	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
)

// InitializeResult reports what Initialize remembered.
type InitializeResult struct {
	Added []string `json:"added"`
}

// PresenceResult lists mentioned usernames the roster does not know, in
// mention order, and the same names split into reply-sized batches.
type PresenceResult struct {
	Missing []string   `json:"missing"`
	Batches [][]string `json:"batches"`
}

// ForgetResult splits the mentioned usernames by what happened to them.
type ForgetResult struct {
	Removed       []string `json:"removed"`
	NotFound      []string `json:"notFound"`
	SelfMentioned []string `json:"selfMentioned"`
}

func normalizeIdentity(id roster.Identity) roster.Identity {
	id.Username = strings.TrimPrefix(strings.TrimSpace(id.Username), mention.Marker)
	return id
}

// Initialize creates the chat's roster if needed and turns tracking on.
// The caller and every mentioned username are remembered; title, when
// given, replaces the stored one.
func (s *Service) Initialize(ctx context.Context, chatID roster.ChatID, caller roster.Identity, mentioned []string, title string) (InitializeResult, error) {
	caller = normalizeIdentity(caller)
	names := mention.Normalize(mentioned)
	result := InitializeResult{Added: []string{}}

	err := s.apply(ctx, OpInitialize, chatID, true, func(r *roster.Roster) bool {
		changed := false
		if !r.TrackingEnabled {
			r.TrackingEnabled = true
			changed = true
		}
		if title != "" && r.Title != title {
			r.Title = title
			changed = true
		}
		if caller.Username != "" {
			isNew := !r.Has(caller.Username)
			if r.Upsert(caller) {
				changed = true
			}
			if isNew {
				result.Added = append(result.Added, caller.Username)
			}
		}
		for _, name := range names {
			if r.Add(name, roster.Member{}) {
				result.Added = append(result.Added, name)
				changed = true
			}
		}
		return changed
	})
	if err != nil {
		return InitializeResult{}, err
	}
	return result, nil
}

// CheckPresence remembers the caller and reports which mentioned
// usernames are missing from the roster.
func (s *Service) CheckPresence(ctx context.Context, chatID roster.ChatID, caller roster.Identity, mentioned []string) (PresenceResult, error) {
	caller = normalizeIdentity(caller)
	names := mention.Normalize(mentioned)
	result := PresenceResult{Missing: []string{}, Batches: [][]string{}}

	err := s.apply(ctx, OpCheckPresence, chatID, s.createOnDemand(), func(r *roster.Roster) bool {
		changed := r.Upsert(caller)
		for _, name := range names {
			if !r.Has(name) {
				result.Missing = append(result.Missing, name)
			}
		}
		return changed
	})
	if err != nil {
		return PresenceResult{}, err
	}
	if batches := mention.Batches(result.Missing, s.batchSize); batches != nil {
		result.Batches = batches
	}
	return result, nil
}

// CheckIn remembers the caller and reports whether it was new.
func (s *Service) CheckIn(ctx context.Context, chatID roster.ChatID, caller roster.Identity) (bool, error) {
	caller = normalizeIdentity(caller)
	if caller.Username == "" {
		return false, ErrNoUsername
	}

	added := false
	err := s.apply(ctx, OpCheckIn, chatID, s.createOnDemand(), func(r *roster.Roster) bool {
		added = !r.Has(caller.Username)
		return r.Upsert(caller)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// ForgetSelf removes the caller and reports whether it was known.
func (s *Service) ForgetSelf(ctx context.Context, chatID roster.ChatID, caller roster.Identity) (bool, error) {
	caller = normalizeIdentity(caller)
	if caller.Username == "" {
		return false, ErrNoUsername
	}

	removed := false
	err := s.apply(ctx, OpForgetSelf, chatID, s.createOnDemand(), func(r *roster.Roster) bool {
		removed = r.Remove(caller.Username)
		return removed
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// ForgetOthers removes the mentioned usernames. The caller is never
// removed this way; a self-mention is reported in SelfMentioned instead.
func (s *Service) ForgetOthers(ctx context.Context, chatID roster.ChatID, caller roster.Identity, mentioned []string) (ForgetResult, error) {
	caller = normalizeIdentity(caller)
	names := mention.Normalize(mentioned)
	result := ForgetResult{Removed: []string{}, NotFound: []string{}, SelfMentioned: []string{}}

	err := s.apply(ctx, OpForgetOthers, chatID, s.createOnDemand(), func(r *roster.Roster) bool {
		changed := r.Upsert(caller)
		for _, name := range names {
			switch {
			case caller.Username != "" && name == caller.Username:
				result.SelfMentioned = append(result.SelfMentioned, name)
			case r.Remove(name):
				result.Removed = append(result.Removed, name)
				changed = true
			default:
				result.NotFound = append(result.NotFound, name)
			}
		}
		return changed
	})
	if err != nil {
		return ForgetResult{}, err
	}
	return result, nil
}

// RememberMany remembers the caller and every mentioned username that is
// not known yet, returning the usernames actually added.
func (s *Service) RememberMany(ctx context.Context, chatID roster.ChatID, caller roster.Identity, mentioned []string) ([]string, error) {
	caller = normalizeIdentity(caller)
	names := mention.Normalize(mentioned)
	added := []string{}

	err := s.apply(ctx, OpRememberMany, chatID, s.createOnDemand(), func(r *roster.Roster) bool {
		changed := r.Upsert(caller)
		for _, name := range names {
			if r.Add(name, roster.Member{}) {
				added = append(added, name)
				changed = true
			}
		}
		return changed
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// List remembers the caller and returns every known username in lexical
// order.
func (s *Service) List(ctx context.Context, chatID roster.ChatID, caller roster.Identity) ([]string, error) {
	caller = normalizeIdentity(caller)
	var names []string

	err := s.apply(ctx, OpList, chatID, s.createOnDemand(), func(r *roster.Roster) bool {
		changed := r.Upsert(caller)
		names = r.Usernames()
		return changed
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// SetTracking remembers the caller and switches join/leave tracking. It
// reports whether the flag actually changed.
func (s *Service) SetTracking(ctx context.Context, chatID roster.ChatID, caller roster.Identity, enabled bool) (bool, error) {
	caller = normalizeIdentity(caller)
	toggled := false

	err := s.apply(ctx, OpSetTracking, chatID, s.createOnDemand(), func(r *roster.Roster) bool {
		changed := r.Upsert(caller)
		if r.TrackingEnabled != enabled {
			r.TrackingEnabled = enabled
			toggled = true
			changed = true
		}
		return changed
	})
	if err != nil {
		return false, err
	}
	return toggled, nil
}

// OnMembershipChanged applies a join/leave notification. Nothing happens
// when the chat has no roster or tracking is off. The leaving identity is
// best-effort: it may be nil or unknown to the roster.
func (s *Service) OnMembershipChanged(ctx context.Context, chatID roster.ChatID, joined []roster.Identity, left *roster.Identity) error {
	err := s.apply(ctx, OpMembershipChanged, chatID, false, func(r *roster.Roster) bool {
		if !r.TrackingEnabled {
			return false
		}
		changed := false
		for _, id := range joined {
			if r.Upsert(normalizeIdentity(id)) {
				changed = true
			}
		}
		if left != nil {
			if name := normalizeIdentity(*left).Username; name != "" && r.Remove(name) {
				changed = true
			}
		}
		return changed
	})
	if errors.Is(err, ErrNotInitialized) {
		return nil
	}
	return err
}
