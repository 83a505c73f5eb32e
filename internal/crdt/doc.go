package crdt

import (
	"time"

	"peerprep-collab/internal/domain"
)

// EpochOps groups text ops by code epoch. An epoch is one Text instance; the
// session state's codeRef key names the epoch that currently renders, so a
// losing sibling creation never interleaves with the winner's characters.
type EpochOps struct {
	Epoch string   `json:"e"`
	Ops   []TextOp `json:"ops"`
}

// Update is the unit the peer transport carries. One update may bundle
// several mutations (a language switch ships the state write, the clear and
// the template insert together).
type Update struct {
	Code   []EpochOps                          `json:"code,omitempty"`
	Chat   []LogEntry[domain.ChatRecord]       `json:"chat,omitempty"`
	Subs   []LogEntry[domain.SubmissionRecord] `json:"subs,omitempty"`
	States []MapEntry                          `json:"states,omitempty"`
}

func (u Update) Empty() bool {
	return len(u.Code) == 0 && len(u.Chat) == 0 && len(u.Subs) == 0 && len(u.States) == 0
}

// Merge folds o's mutations into u.
func (u *Update) Merge(o Update) {
	u.Code = append(u.Code, o.Code...)
	u.Chat = append(u.Chat, o.Chat...)
	u.Subs = append(u.Subs, o.Subs...)
	u.States = append(u.States, o.States...)
}

// Event describes what one applied update changed, for the protocol
// observers. Keys lists session-state keys whose winning write changed.
type Event struct {
	Local       bool
	Keys        []string
	CodeChanged bool
	Chat        []domain.ChatRecord
	Subs        []domain.SubmissionRecord
}

func (e Event) KeyChanged(key string) bool {
	for _, k := range e.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Doc is one replica of the shared session document: the code text (per
// epoch), the chat and submission append logs, and the keyed session state.
//
// Not safe for concurrent use; the session serializes access.
type Doc struct {
	replica string
	texts   map[string]*Text

	Chat   *Log[domain.ChatRecord]
	Subs   *Log[domain.SubmissionRecord]
	States *Map
}

func NewDoc(replica string, now func() time.Time) *Doc {
	return &Doc{
		replica: replica,
		texts:   make(map[string]*Text),
		Chat:    NewLog[domain.ChatRecord](replica),
		Subs:    NewLog[domain.SubmissionRecord](replica),
		States:  NewMap(replica, now),
	}
}

func (d *Doc) Replica() string { return d.replica }

// Text returns the text replica for an epoch, creating it on first touch so
// buffered remote ops have somewhere to land.
func (d *Doc) Text(epoch string) *Text {
	t, ok := d.texts[epoch]
	if !ok {
		t = NewText(d.replica)
		d.texts[epoch] = t
	}
	return t
}

// Epoch is the code epoch currently named by codeRef, "" before creation.
func (d *Doc) Epoch() string {
	return d.States.GetString(domain.StateKeyCodeRef)
}

// Code renders the current epoch's text.
func (d *Doc) Code() string {
	epoch := d.Epoch()
	if epoch == "" {
		return ""
	}
	return d.Text(epoch).String()
}

// Apply merges an update into the replica and reports what changed.
// States land first so a creation batch (codeRef plus template inserts)
// renders atomically; logs land last.
func (d *Doc) Apply(u Update, local bool) Event {
	ev := Event{Local: local}

	for _, e := range u.States {
		if d.States.Apply(e) {
			ev.Keys = append(ev.Keys, e.Key)
			if e.Key == domain.StateKeyCodeRef {
				ev.CodeChanged = true
			}
		}
	}

	epoch := d.Epoch()
	for _, eo := range u.Code {
		t := d.Text(eo.Epoch)
		for _, op := range eo.Ops {
			if t.Apply(op) && eo.Epoch == epoch {
				ev.CodeChanged = true
			}
		}
	}

	for _, e := range u.Chat {
		if d.Chat.Apply(e) {
			ev.Chat = append(ev.Chat, e.Value)
		}
	}
	for _, e := range u.Subs {
		if d.Subs.Apply(e) {
			ev.Subs = append(ev.Subs, e.Value)
		}
	}
	return ev
}

// Snapshot packs the replica's full known state into one update, used to
// bring a peer that joined late up to date.
func (d *Doc) Snapshot() Update {
	var u Update
	for epoch, t := range d.texts {
		if ops := t.AllOps(); len(ops) > 0 {
			u.Code = append(u.Code, EpochOps{Epoch: epoch, Ops: ops})
		}
	}
	u.Chat = d.Chat.Entries()
	u.Subs = d.Subs.Entries()
	u.States = d.States.Entries()
	return u
}
