package roster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is written into every record this package encodes.
//
// Older records carry no version and are recognised by shape:
//
//	0  members_by_username only (first bot release)
//	1  adds began_at
//	2  adds enabled, title and tgid
//	3  adds schema_version
const SchemaVersion = 3

var (
	ErrCorruptRecord      = errors.New("corrupt roster record")
	ErrUnsupportedVersion = errors.New("unsupported roster schema version")
)

// legacyTimeLayouts covers timestamps written by Python's isoformat(),
// which omits the zone offset. They were always UTC.
var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

type storedMember struct {
	ID *int64 `json:"id,omitempty"`
}

type storedRecord struct {
	SchemaVersion int                     `json:"schema_version"`
	BeganAt       string                  `json:"began_at"`
	Members       map[string]storedMember `json:"members_by_username"`
	Enabled       bool                    `json:"enabled"`
	Title         string                  `json:"title,omitempty"`
	TGID          ChatID                  `json:"tgid"`
}

// rawRecord keeps every field optional so the shape can be inspected
// before defaults are applied.
type rawRecord struct {
	SchemaVersion *int            `json:"schema_version"`
	BeganAt       *string         `json:"began_at"`
	Members       json.RawMessage `json:"members_by_username"`
	Enabled       *bool           `json:"enabled"`
	Title         *string         `json:"title"`
	TGID          *ChatID         `json:"tgid"`
}

// Encode serializes the whole roster in the current schema.
func Encode(r Roster) ([]byte, error) {
	rec := storedRecord{
		SchemaVersion: SchemaVersion,
		BeganAt:       r.CreatedAt.UTC().Format(time.RFC3339Nano),
		Members:       make(map[string]storedMember, len(r.Members)),
		Enabled:       r.TrackingEnabled,
		Title:         r.Title,
		TGID:          r.ChatID,
	}
	for name, m := range r.Members {
		rec.Members[name] = storedMember{ID: m.ExternalID}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode roster %s: %w", r.ChatID, err)
	}
	return data, nil
}

// Decode parses a stored record of any known schema version. chatID is the
// key the record was stored under and fills in records that predate tgid;
// now stands in for a missing began_at.
func Decode(data []byte, chatID ChatID, now time.Time) (Roster, error) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return Roster{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return raw.migrate(chatID, now)
}

// version infers the schema revision of a record.
func (raw *rawRecord) version() int {
	switch {
	case raw.SchemaVersion != nil:
		return *raw.SchemaVersion
	case raw.Enabled != nil || raw.Title != nil || raw.TGID != nil:
		return 2
	case raw.BeganAt != nil:
		return 1
	default:
		return 0
	}
}

func (raw *rawRecord) migrate(chatID ChatID, now time.Time) (Roster, error) {
	version := raw.version()
	if version < 0 || version > SchemaVersion {
		return Roster{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	members, err := decodeMembers(raw.Members)
	if err != nil {
		return Roster{}, err
	}

	r := Roster{ChatID: chatID, Members: members}

	if raw.BeganAt != nil {
		createdAt, err := parseTimestamp(*raw.BeganAt)
		if err != nil {
			return Roster{}, err
		}
		r.CreatedAt = createdAt
	} else {
		r.CreatedAt = now.UTC()
	}
	if raw.Enabled != nil {
		r.TrackingEnabled = *raw.Enabled
	}
	if raw.Title != nil {
		r.Title = *raw.Title
	}
	if raw.TGID != nil && *raw.TGID != "" {
		r.ChatID = *raw.TGID
	}
	return r, nil
}

func decodeMembers(data json.RawMessage) (map[string]Member, error) {
	members := make(map[string]Member)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return members, nil
	}

	// The first release initialised the field as a list by mistake.
	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: members_by_username: %v", ErrCorruptRecord, err)
		}
		if len(list) > 0 {
			return nil, fmt.Errorf("%w: members_by_username is a non-empty list", ErrCorruptRecord)
		}
		return members, nil
	}

	var stored map[string]storedMember
	if err := json.Unmarshal(trimmed, &stored); err != nil {
		return nil, fmt.Errorf("%w: members_by_username: %v", ErrCorruptRecord, err)
	}
	for name, m := range stored {
		name = strings.TrimPrefix(name, "@")
		if name == "" {
			continue
		}
		members[name] = Member{ExternalID: m.ID}
	}
	return members, nil
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid began_at %q", ErrCorruptRecord, value)
}
