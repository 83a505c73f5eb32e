package crdt

import (
	"testing"
	"time"

	"peerprep-collab/internal/domain"
)

func seedDoc(t *testing.T, replica string, ms int64) *Doc {
	t.Helper()
	return NewDoc(replica, fixedClock(ms))
}

func creationBatch(t *testing.T, d *Doc, epoch string, lang domain.Language) Update {
	t.Helper()
	ref, err := d.States.Set(domain.StateKeyCodeRef, epoch)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	langEntry, err := d.States.Set(domain.StateKeyActiveLanguage, lang)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ops := d.Text(epoch).InsertString(0, domain.Template(lang))
	return Update{
		States: []MapEntry{ref, langEntry},
		Code:   []EpochOps{{Epoch: epoch, Ops: ops}},
	}
}

func TestDoc_CreationBatchRendersAtomically(t *testing.T) {
	a := seedDoc(t, "a", 100)
	b := seedDoc(t, "b", 100)

	u := creationBatch(t, a, "epoch-1", domain.LangGo)
	ev := b.Apply(u, false)

	if !ev.CodeChanged {
		t.Fatal("expected code change event")
	}
	if !ev.KeyChanged(domain.StateKeyCodeRef) {
		t.Fatal("expected codeRef key change")
	}
	if b.Epoch() != "epoch-1" {
		t.Fatalf("expected epoch %q, got %q", "epoch-1", b.Epoch())
	}
	if b.Code() != domain.Template(domain.LangGo) {
		t.Fatalf("expected template, got %q", b.Code())
	}
}

func TestDoc_LosingEpochNeverRenders(t *testing.T) {
	a := seedDoc(t, "a", 100)
	b := seedDoc(t, "b", 100)
	c := seedDoc(t, "c", 100)

	ua := creationBatch(t, a, "epoch-a", domain.LangGo)
	ub := creationBatch(t, b, "epoch-b", domain.LangPython)

	// Same wall time: replica id "b" outranks "a", so epoch-b wins on
	// every replica regardless of delivery order.
	c.Apply(ua, false)
	c.Apply(ub, false)
	a.Apply(ub, false)
	b.Apply(ua, false)

	for name, d := range map[string]*Doc{"a": a, "b": b, "c": c} {
		if d.Epoch() != "epoch-b" {
			t.Fatalf("replica %s adopted epoch %q", name, d.Epoch())
		}
		if d.Code() != domain.Template(domain.LangPython) {
			t.Fatalf("replica %s renders losing epoch: %q", name, d.Code())
		}
	}
}

func TestDoc_SnapshotBringsFreshReplicaUpToDate(t *testing.T) {
	a := seedDoc(t, "a", 100)
	a.Apply(creationBatch(t, a, "epoch-1", domain.LangJava), true)

	a.Chat.Append(domain.ChatRecord{Author: "alice", Message: "hi"})
	a.Subs.Append(domain.SubmissionRecord{AuthorID: "u1", Time: time.UnixMilli(5), Result: domain.ResultAccepted})
	a.Text("epoch-1").InsertString(0, "// note\n")

	b := seedDoc(t, "b", 100)
	b.Apply(a.Snapshot(), false)

	if a.Code() != b.Code() {
		t.Fatalf("code diverged: %q vs %q", a.Code(), b.Code())
	}
	if got := b.Chat.Len(); got != 1 {
		t.Fatalf("expected 1 chat entry, got %d", got)
	}
	if got := b.Subs.Len(); got != 1 {
		t.Fatalf("expected 1 submission entry, got %d", got)
	}
	if b.States.GetString(domain.StateKeyActiveLanguage) != string(domain.LangJava) {
		t.Fatalf("language not carried: %q", b.States.GetString(domain.StateKeyActiveLanguage))
	}
}

func TestDoc_ApplyReportsNewLogValues(t *testing.T) {
	a := seedDoc(t, "a", 100)
	b := seedDoc(t, "b", 100)

	entry := a.Chat.Append(domain.ChatRecord{Author: "alice", Message: "ping"})
	u := Update{Chat: []LogEntry[domain.ChatRecord]{entry}}

	ev := b.Apply(u, false)
	if len(ev.Chat) != 1 || ev.Chat[0].Message != "ping" {
		t.Fatalf("expected chat value in event, got %+v", ev.Chat)
	}

	// Redelivery reports nothing.
	ev = b.Apply(u, false)
	if len(ev.Chat) != 0 {
		t.Fatalf("duplicate delivery reported values: %+v", ev.Chat)
	}
}
