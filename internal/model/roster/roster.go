package roster

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ChatID identifies a chat on the messaging platform. Platforms hand out
// either integers or strings, so the value is kept opaque.
type ChatID string

// ChatIDFromInt converts a numeric platform chat id.
func ChatIDFromInt(id int64) ChatID {
	return ChatID(strconv.FormatInt(id, 10))
}

func (c ChatID) String() string { return string(c) }

// MarshalJSON writes canonical integer ids as JSON numbers so records stay
// compatible with the ones the bot wrote before ids were treated as opaque.
// Anything that would not read back identically ("007", "+5", "-0") is
// written as a string.
func (c ChatID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(c), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(c) {
		return []byte(string(c)), nil
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON accepts both numbers and strings.
func (c *ChatID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ChatID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = ChatID(n.String())
	return nil
}

// Member is what the roster knows about a single username.
type Member struct {
	// ExternalID is nil when the member was remembered by mention only.
	ExternalID *int64 `json:"id,omitempty"`
}

// Identity describes a platform account taking part in an event.
type Identity struct {
	Username   string `json:"username"`
	ExternalID *int64 `json:"id,omitempty"`
}

// Member returns the roster entry for the identity.
func (i Identity) Member() Member {
	if i.ExternalID == nil {
		return Member{}
	}
	id := *i.ExternalID
	return Member{ExternalID: &id}
}

// Roster is the per-chat record of members known to be present.
type Roster struct {
	ChatID          ChatID            `json:"chatId"`
	CreatedAt       time.Time         `json:"createdAt"`
	TrackingEnabled bool              `json:"trackingEnabled"`
	Title           string            `json:"title,omitempty"`
	Members         map[string]Member `json:"members"`
}

// New materializes an empty roster with tracking disabled.
func New(chatID ChatID, now time.Time) Roster {
	return Roster{
		ChatID:    chatID,
		CreatedAt: now.UTC(),
		Members:   make(map[string]Member),
	}
}

// Has reports whether username is known.
func (r *Roster) Has(username string) bool {
	_, ok := r.Members[username]
	return ok
}

// Add remembers username unless it is already known. It reports whether
// the roster changed.
func (r *Roster) Add(username string, m Member) bool {
	if username == "" || r.Has(username) {
		return false
	}
	if r.Members == nil {
		r.Members = make(map[string]Member)
	}
	r.Members[username] = m
	return true
}

// Upsert remembers the identity, filling in a missing external id on an
// existing entry. It reports whether the roster changed.
func (r *Roster) Upsert(id Identity) bool {
	if id.Username == "" {
		return false
	}
	existing, ok := r.Members[id.Username]
	if !ok {
		return r.Add(id.Username, id.Member())
	}
	if id.ExternalID == nil {
		return false
	}
	if existing.ExternalID != nil && *existing.ExternalID == *id.ExternalID {
		return false
	}
	r.Members[id.Username] = id.Member()
	return true
}

// Remove forgets username and reports whether it was known.
func (r *Roster) Remove(username string) bool {
	if !r.Has(username) {
		return false
	}
	delete(r.Members, username)
	return true
}

// Usernames returns every known username in lexical order.
func (r *Roster) Usernames() []string {
	names := make([]string, 0, len(r.Members))
	for name := range r.Members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (r Roster) Clone() Roster {
	out := r
	out.Members = make(map[string]Member, len(r.Members))
	for name, m := range r.Members {
		if m.ExternalID != nil {
			id := *m.ExternalID
			m.ExternalID = &id
		}
		out.Members[name] = m
	}
	return out
}
