package crdt

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// EntryID tags a log entry with the replica that appended it and that
// replica's append sequence number.
type EntryID struct {
	Replica string `json:"r"`
	Seq     int    `json:"s"`
}

// LogEntry carries one appended value. Clock is a Lamport stamp: the merge
// order (Clock, Replica, Seq) respects causality and is identical on every
// replica.
type LogEntry[T any] struct {
	ID    EntryID `json:"id"`
	Clock int64   `json:"clk"`
	Value T       `json:"v"`
}

// Log is an append-only replicated sequence. Entries are never mutated or
// removed; replaying a delivered entry is a no-op.
//
// Not safe for concurrent use; the session serializes access.
type Log[T any] struct {
	replica string
	seq     int
	clock   int64
	seen    mapset.Set[EntryID]
	entries []LogEntry[T]
}

func NewLog[T any](replica string) *Log[T] {
	return &Log[T]{
		replica: replica,
		seen:    mapset.NewThreadUnsafeSet[EntryID](),
	}
}

// Append adds a local entry and returns it for broadcast.
func (l *Log[T]) Append(v T) LogEntry[T] {
	l.seq++
	l.clock++
	e := LogEntry[T]{
		ID:    EntryID{Replica: l.replica, Seq: l.seq},
		Clock: l.clock,
		Value: v,
	}
	l.insert(e)
	return e
}

// Apply merges a remote entry; duplicates are dropped. Reports whether the
// entry was new.
func (l *Log[T]) Apply(e LogEntry[T]) bool {
	if l.seen.Contains(e.ID) {
		return false
	}
	if e.Clock > l.clock {
		l.clock = e.Clock
	}
	l.insert(e)
	return true
}

func (l *Log[T]) insert(e LogEntry[T]) {
	l.seen.Add(e.ID)
	at := sort.Search(len(l.entries), func(i int) bool { return entryLess(e, l.entries[i]) })
	l.entries = append(l.entries, LogEntry[T]{})
	copy(l.entries[at+1:], l.entries[at:])
	l.entries[at] = e
}

func entryLess[T any](a, b LogEntry[T]) bool {
	if a.Clock != b.Clock {
		return a.Clock < b.Clock
	}
	if a.ID.Replica != b.ID.Replica {
		return a.ID.Replica < b.ID.Replica
	}
	return a.ID.Seq < b.ID.Seq
}

func (l *Log[T]) Len() int {
	return len(l.entries)
}

// Snapshot returns the merged values in log order.
func (l *Log[T]) Snapshot() []T {
	out := make([]T, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Value
	}
	return out
}

// Entries returns a copy of the merged entries, for re-broadcast to a peer
// that joined late.
func (l *Log[T]) Entries() []LogEntry[T] {
	out := make([]LogEntry[T], len(l.entries))
	copy(out, l.entries)
	return out
}
