package crdt

import (
	"encoding/json"
	"time"
)

// Stamp orders writes to a map key: wall clock first, replica id as the
// deterministic tiebreak for simultaneous writes.
type Stamp struct {
	Wall    int64  `json:"w"`
	Replica string `json:"r"`
}

func (s Stamp) after(o Stamp) bool {
	if s.Wall != o.Wall {
		return s.Wall > o.Wall
	}
	return s.Replica > o.Replica
}

// MapEntry is one replicated write. A null Value clears the key.
type MapEntry struct {
	Key   string          `json:"k"`
	Value json.RawMessage `json:"v,omitempty"`
	Stamp Stamp           `json:"st"`
}

// Map is a last-writer-wins keyed map. Every key is written by protocol
// logic (single logical writer per transition), so per-key LWW with the
// stamp tiebreak is sufficient for convergence.
//
// Not safe for concurrent use; the session serializes access.
type Map struct {
	replica  string
	now      func() time.Time
	lastWall int64
	entries  map[string]MapEntry
}

func NewMap(replica string, now func() time.Time) *Map {
	if now == nil {
		now = time.Now
	}
	return &Map{
		replica: replica,
		now:     now,
		entries: make(map[string]MapEntry),
	}
}

// Set writes a value under key and returns the entry for broadcast.
func (m *Map) Set(key string, v any) (MapEntry, error) {
	var raw json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return MapEntry{}, err
		}
		raw = b
	}
	e := MapEntry{Key: key, Value: raw, Stamp: m.stamp()}
	m.entries[key] = e
	return e, nil
}

// Clear removes the key (a tombstone write, so the removal replicates).
func (m *Map) Clear(key string) MapEntry {
	e, _ := m.Set(key, nil)
	return e
}

// Apply merges a remote write. Losing and duplicate writes are dropped.
// Reports whether the entry won the key.
func (m *Map) Apply(e MapEntry) bool {
	if cur, ok := m.entries[e.Key]; ok && !e.Stamp.after(cur.Stamp) {
		return false
	}
	m.entries[e.Key] = e
	if e.Stamp.Wall > m.lastWall {
		m.lastWall = e.Stamp.Wall
	}
	return true
}

// Has reports whether key holds a non-null value.
func (m *Map) Has(key string) bool {
	e, ok := m.entries[key]
	return ok && e.Value != nil
}

// Get unmarshals the key's value into out; false if absent or cleared.
func (m *Map) Get(key string, out any) bool {
	e, ok := m.entries[key]
	if !ok || e.Value == nil {
		return false
	}
	return json.Unmarshal(e.Value, out) == nil
}

// GetString is a convenience for string-valued keys.
func (m *Map) GetString(key string) string {
	var s string
	m.Get(key, &s)
	return s
}

// Entries returns a copy of the current winning writes, for re-broadcast.
func (m *Map) Entries() []MapEntry {
	out := make([]MapEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// stamp mints a monotonically increasing stamp even when the wall clock
// stalls or runs behind a remote writer's.
func (m *Map) stamp() Stamp {
	wall := m.now().UnixMilli()
	if wall <= m.lastWall {
		wall = m.lastWall + 1
	}
	m.lastWall = wall
	return Stamp{Wall: wall, Replica: m.replica}
}
