// Package progress holds the completion state of a single course or project.
//
// A Map records which units (lessons or project steps) have been completed.
// Presence of a unit id in the map means the unit is complete; the value is
// the instant it was completed. There is no "incomplete" value.
package progress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Map maps a unit id to its completion instant.
type Map map[string]time.Time

// Entry is one serialized row of a Map.
type Entry struct {
	UnitID      string    `json:"unit_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// New returns an empty progress map.
func New() Map {
	return make(Map)
}

// Toggle flips the completion state of unitID.
//
// If the unit is complete it is removed and newlyCompleted is false. Otherwise
// it is recorded as completed at now and newlyCompleted is true. The input map
// is never modified; a fresh map is returned. Unit ids are not validated here.
func Toggle(m Map, unitID string, now time.Time) (Map, bool) {
	next := m.Clone()
	if _, done := next[unitID]; done {
		delete(next, unitID)
		return next, false
	}
	next[unitID] = now
	return next, true
}

// Clone returns a copy of m. A nil map clones to an empty, non-nil map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Completed reports whether unitID is complete.
func (m Map) Completed(unitID string) bool {
	_, ok := m[unitID]
	return ok
}

// Count returns the number of completed units.
func (m Map) Count() int {
	return len(m)
}

// Equal reports whether both maps hold the same units with the same instants.
func (m Map) Equal(other Map) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !ov.Equal(v) {
			return false
		}
	}
	return true
}

// Serialize returns the entries of m ordered by completion instant, then unit id.
func Serialize(m Map) []Entry {
	entries := make([]Entry, 0, len(m))
	for id, at := range m {
		entries = append(entries, Entry{UnitID: id, CompletedAt: at})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CompletedAt.Equal(entries[j].CompletedAt) {
			return entries[i].CompletedAt.Before(entries[j].CompletedAt)
		}
		return entries[i].UnitID < entries[j].UnitID
	})
	return entries
}

// Deserialize rebuilds a Map from entries. Later duplicates win.
func Deserialize(entries []Entry) Map {
	m := make(Map, len(entries))
	for _, e := range entries {
		if e.UnitID == "" {
			continue
		}
		m[e.UnitID] = e.CompletedAt
	}
	return m
}

// MarshalJSON encodes the map as an object of unit id to RFC 3339 instant.
func (m Map) MarshalJSON() ([]byte, error) {
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		out[k] = v.UTC()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an object whose values are either instants or
// booleans. Project documents written by older clients store `true` for a
// completed step; those decode as completed at the zero instant. `false`
// and `null` mean not completed and are dropped.
func (m *Map) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = New()
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode progress map: %w", err)
	}

	out := make(Map, len(raw))
	for id, value := range raw {
		v := bytes.TrimSpace(value)
		switch {
		case bytes.Equal(v, []byte("true")):
			out[id] = time.Time{}
		case bytes.Equal(v, []byte("false")), bytes.Equal(v, []byte("null")):
			continue
		default:
			var at time.Time
			if err := json.Unmarshal(v, &at); err != nil {
				return fmt.Errorf("decode progress entry %q: %w", id, err)
			}
			out[id] = at
		}
	}
	*m = out
	return nil
}
