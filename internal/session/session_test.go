package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"peerprep-collab/internal/domain"
	"peerprep-collab/internal/transport"
)

type effectRecorder struct {
	mu      sync.Mutex
	effects []Effect
}

func (r *effectRecorder) notify(e Effect) {
	r.mu.Lock()
	r.effects = append(r.effects, e)
	r.mu.Unlock()
}

func (r *effectRecorder) count(kind EffectKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.effects {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *effectRecorder) has(kind EffectKind) bool {
	return r.count(kind) > 0
}

func (r *effectRecorder) last(kind EffectKind) (Effect, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.effects) - 1; i >= 0; i-- {
		if r.effects[i].Kind == kind {
			return r.effects[i], true
		}
	}
	return Effect{}, false
}

type evalOutcome struct {
	result domain.SubmissionResult
	err    error
}

// fakeEvaluator hands back preloaded outcomes; an empty queue blocks the
// call so tests can pin when an evaluation resolves.
type fakeEvaluator struct {
	mu       sync.Mutex
	calls    []domain.SubmissionRecord
	outcomes chan evalOutcome
}

func newFakeEvaluator(buffer int) *fakeEvaluator {
	return &fakeEvaluator{outcomes: make(chan evalOutcome, buffer)}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, rec domain.SubmissionRecord) (domain.SubmissionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rec)
	f.mu.Unlock()

	select {
	case out := <-f.outcomes:
		return out.result, out.err
	case <-ctx.Done():
		return domain.ResultUnknown, ctx.Err()
	}
}

func (f *fakeEvaluator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeHistory struct {
	records []domain.SubmissionRecord
}

func (f *fakeHistory) FetchSubmissionHistory(ctx context.Context, problemID string) ([]domain.SubmissionRecord, error) {
	return f.records, nil
}

type failingDialer struct{}

func (failingDialer) Join(ctx context.Context, roomToken string, self domain.Identity) (transport.Conn, error) {
	return nil, errors.New("relay unreachable")
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func matchInfo(initiator bool, partnerID string) *domain.Match {
	return &domain.Match{
		RoomToken:   "room-1",
		IsInitiator: initiator,
		Partner:     domain.Identity{UserID: partnerID, DisplayName: partnerID},
	}
}

func startSession(t *testing.T, room *transport.MemoryRoom, userID string, m *domain.Match, mut ...func(*Options)) (*Session, *effectRecorder) {
	t.Helper()
	rec := &effectRecorder{}
	opts := Options{
		Self:      domain.Identity{UserID: userID, DisplayName: userID},
		Match:     m,
		ProblemID: "two-sum",
		Dialer:    room,
		Notify:    rec.notify,
		Rand:      rand.New(rand.NewSource(1)),
	}
	for _, fn := range mut {
		fn(&opts)
	}
	s, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, rec
}

func TestSession_SoloStartsImmediately(t *testing.T) {
	room := transport.NewMemoryRoom()
	s, rec := startSession(t, room, "alice", nil)

	if !s.Ready() {
		t.Fatal("solo session should be steady immediately")
	}
	if s.Language() == "" {
		t.Fatal("expected a starting language")
	}
	if got := s.Code(); got != domain.Template(s.Language()) {
		t.Fatalf("expected starting template, got %q", got)
	}
	if !rec.has(EffectSessionReady) {
		t.Fatal("expected session ready effect")
	}
	if s.Room() == "" {
		t.Fatal("expected a derived room token")
	}
}

func TestSession_MatchedPairInitializes(t *testing.T) {
	cases := map[string]bool{
		"initiator first":     true,
		"non-initiator first": false,
	}
	for name, initiatorFirst := range cases {
		t.Run(name, func(t *testing.T) {
			room := transport.NewMemoryRoom()

			var a, b *Session
			if initiatorFirst {
				a, _ = startSession(t, room, "alice", matchInfo(true, "bob"))
				b, _ = startSession(t, room, "bob", matchInfo(false, "alice"))
			} else {
				b, _ = startSession(t, room, "bob", matchInfo(false, "alice"))
				a, _ = startSession(t, room, "alice", matchInfo(true, "bob"))
			}

			waitUntil(t, "both sessions steady", func() bool {
				return a.Ready() && b.Ready()
			})
			waitUntil(t, "buffers converged", func() bool {
				return a.Code() != "" && a.Code() == b.Code()
			})
			if a.Language() != b.Language() {
				t.Fatalf("languages diverged: %q vs %q", a.Language(), b.Language())
			}
			if a.Code() != domain.Template(a.Language()) {
				t.Fatalf("expected starting template, got %q", a.Code())
			}
		})
	}
}

func TestSession_SingleInitializerUnderPinnedRaceOrderings(t *testing.T) {
	room := transport.NewMemoryRoom()
	room.Hold()

	a, ra := startSession(t, room, "alice", matchInfo(true, "bob"))
	b, rb := startSession(t, room, "bob", matchInfo(false, "alice"))

	// Dispatch the held probe exchange one delivery at a time.
	for room.ReleaseOne() {
	}
	room.Release()

	waitUntil(t, "both sessions steady", func() bool {
		return a.Ready() && b.Ready()
	})
	waitUntil(t, "buffers converged", func() bool {
		return a.Code() != "" && a.Code() == b.Code()
	})

	if ra.has(EffectIdentityCollision) || rb.has(EffectIdentityCollision) {
		t.Fatal("exactly one initializer expected, got a collision")
	}
	if ra.count(EffectSessionReady) != 1 || rb.count(EffectSessionReady) != 1 {
		t.Fatal("session ready should fire exactly once per participant")
	}
}

func TestSession_TwoInitiatorsReportIdentityCollision(t *testing.T) {
	room := transport.NewMemoryRoom()

	a1, r1 := startSession(t, room, "alice", matchInfo(true, "bob"))
	a2, r2 := startSession(t, room, "alice", matchInfo(true, "bob"))

	waitUntil(t, "both locations steady", func() bool {
		return a1.Ready() && a2.Ready()
	})
	waitUntil(t, "locations converged on one document", func() bool {
		return a1.Code() != "" && a1.Code() == a2.Code()
	})

	collisions := r1.count(EffectIdentityCollision) + r2.count(EffectIdentityCollision)
	if collisions != 1 {
		t.Fatalf("expected exactly one identity collision warning, got %d", collisions)
	}
}

func TestSession_SoloSecondLocationConverges(t *testing.T) {
	room := transport.NewMemoryRoom()

	tab1, r1 := startSession(t, room, "alice", nil)
	tab1.InsertCode(0, "// opened here first\n")
	tab1.SendToChat("talking to myself")

	// Same account opens the same problem from a second location; both
	// seed immediately and the codeRef tie-break picks one document.
	tab2, r2 := startSession(t, room, "alice", nil)

	waitUntil(t, "both locations steady", func() bool {
		return tab1.Ready() && tab2.Ready()
	})
	waitUntil(t, "code converged", func() bool {
		return tab1.Code() != "" && tab1.Code() == tab2.Code()
	})
	waitUntil(t, "chat log carried to the second location", func() bool {
		return len(tab1.Chat()) == 1 && len(tab2.Chat()) == 1
	})

	collisions := r1.count(EffectIdentityCollision) + r2.count(EffectIdentityCollision)
	if collisions != 1 {
		t.Fatalf("expected exactly one identity collision warning, got %d", collisions)
	}
}

func TestSession_LateJoinerReceivesFullState(t *testing.T) {
	room := transport.NewMemoryRoom()
	a, _ := startSession(t, room, "alice", nil)

	a.InsertCode(0, "// worked alone first\n")
	a.SendToChat("starting without you")

	b, _ := startSession(t, room, "bob", &domain.Match{
		RoomToken:   a.Room(),
		IsInitiator: false,
		Partner:     domain.Identity{UserID: "alice", DisplayName: "alice"},
	})

	waitUntil(t, "late joiner steady", b.Ready)
	waitUntil(t, "late joiner caught up", func() bool {
		return b.Code() == a.Code() && len(b.Chat()) == 1
	})
	if b.Language() != a.Language() {
		t.Fatalf("languages diverged: %q vs %q", a.Language(), b.Language())
	}
}

func TestSession_LanguageChangeReplacesBuffer(t *testing.T) {
	room := transport.NewMemoryRoom()
	a, _ := startSession(t, room, "alice", matchInfo(true, "bob"))
	b, rb := startSession(t, room, "bob", matchInfo(false, "alice"))

	waitUntil(t, "both sessions steady", func() bool {
		return a.Ready() && b.Ready()
	})

	target := domain.LangGo
	if a.Language() == target {
		target = domain.LangPython
	}
	a.InsertCode(0, "scratch work\n")
	a.ChangeLanguage(target)

	waitUntil(t, "language replicated", func() bool {
		return b.Language() == target && b.Code() == domain.Template(target)
	})
	if a.Code() != domain.Template(target) {
		t.Fatalf("switcher kept stale buffer: %q", a.Code())
	}
	if ev, ok := rb.last(EffectLanguageChanged); !ok || ev.Language != target || ev.Local {
		t.Fatalf("expected remote language change effect, got %+v", ev)
	}

	// Switching to the already-active language is a no-op.
	before := a.Code()
	a.ChangeLanguage(target)
	if a.Code() != before {
		t.Fatal("re-selecting the active language should not touch the buffer")
	}
}

func TestSession_ConcurrentEditsConverge(t *testing.T) {
	room := transport.NewMemoryRoom()
	a, _ := startSession(t, room, "alice", matchInfo(true, "bob"))
	b, _ := startSession(t, room, "bob", matchInfo(false, "alice"))

	waitUntil(t, "both sessions steady", func() bool {
		return a.Ready() && b.Ready()
	})

	room.Hold()
	a.InsertCode(0, "AAA")
	b.InsertCode(0, "BBB")
	room.Release()

	waitUntil(t, "buffers converged", func() bool {
		return a.Code() == b.Code()
	})
}

func TestSession_ChatSurvivesDuplicateDelivery(t *testing.T) {
	room := transport.NewMemoryRoom()
	a, ra := startSession(t, room, "alice", matchInfo(true, "bob"))
	b, _ := startSession(t, room, "bob", matchInfo(false, "alice"))

	waitUntil(t, "both sessions steady", func() bool {
		return a.Ready() && b.Ready()
	})

	room.Duplicate(true)
	a.SendToChat("hello")
	b.SendToChat("hey")

	waitUntil(t, "chat replicated", func() bool {
		return len(a.Chat()) == 2 && len(b.Chat()) == 2
	})
	if got := ra.count(EffectChatMessage); got != 2 {
		t.Fatalf("expected 2 chat effects, got %d", got)
	}
}

func TestSession_SubmissionLifecycle(t *testing.T) {
	room := transport.NewMemoryRoom()
	evA := newFakeEvaluator(1)
	evA.outcomes <- evalOutcome{result: domain.ResultAccepted}
	evB := newFakeEvaluator(1)

	a, _ := startSession(t, room, "alice", matchInfo(true, "bob"), func(o *Options) { o.Evaluator = evA })
	b, rb := startSession(t, room, "bob", matchInfo(false, "alice"), func(o *Options) { o.Evaluator = evB })

	waitUntil(t, "both sessions steady", func() bool {
		return a.Ready() && b.Ready()
	})

	if !b.Submit() {
		t.Fatal("submit should be accepted")
	}

	waitUntil(t, "submission resolved on both replicas", func() bool {
		return len(a.Submissions()) == 1 && len(b.Submissions()) == 1
	})
	waitUntil(t, "pending slot cleared", func() bool {
		return a.Pending() == nil && b.Pending() == nil
	})

	got := b.Submissions()[0]
	if got.AuthorID != "bob" || got.Result != domain.ResultAccepted {
		t.Fatalf("unexpected resolved record: %+v", got)
	}
	if got.ProblemID != "two-sum" {
		t.Fatalf("record lost its problem id: %+v", got)
	}
	if evA.callCount() != 1 {
		t.Fatalf("initiator should evaluate exactly once, got %d", evA.callCount())
	}
	if evB.callCount() != 0 {
		t.Fatalf("non-initiator must never evaluate, got %d calls", evB.callCount())
	}
	if !rb.has(EffectSubmissionResolved) {
		t.Fatal("author should observe the resolution")
	}

	// The slot is free again; a follow-up attempt is accepted.
	evA.outcomes <- evalOutcome{result: domain.ResultWrongAnswer}
	if !b.Submit() {
		t.Fatal("resubmit should be accepted after resolution")
	}
	waitUntil(t, "second submission resolved", func() bool {
		return len(b.Submissions()) == 2
	})
}

func TestSession_SimultaneousSubmissionRace(t *testing.T) {
	room := transport.NewMemoryRoom()
	evA := newFakeEvaluator(2)

	a, ra := startSession(t, room, "alice", matchInfo(true, "bob"), func(o *Options) { o.Evaluator = evA })
	b, rb := startSession(t, room, "bob", matchInfo(false, "alice"))

	waitUntil(t, "both sessions steady", func() bool {
		return a.Ready() && b.Ready()
	})

	room.Hold()
	if !a.Submit() {
		t.Fatal("alice's submit should be accepted locally")
	}
	time.Sleep(5 * time.Millisecond) // bob's write gets the later stamp
	if !b.Submit() {
		t.Fatal("bob's submit should be accepted locally")
	}
	room.Release()

	waitUntil(t, "losing side informed", func() bool {
		return ra.has(EffectPartnerAlreadySubmitted)
	})

	// Unblock the evaluations; the superseded attempt's outcome is dropped.
	evA.outcomes <- evalOutcome{result: domain.ResultAccepted}
	evA.outcomes <- evalOutcome{result: domain.ResultAccepted}

	waitUntil(t, "exactly one record resolved on both replicas", func() bool {
		return len(a.Submissions()) == 1 && len(b.Submissions()) == 1
	})
	got := a.Submissions()[0]
	if got.AuthorID != "bob" {
		t.Fatalf("the later write should own the slot, got %+v", got)
	}
	if rb.has(EffectPartnerAlreadySubmitted) {
		t.Fatal("winner should not be told it lost")
	}
}

func TestSession_EvaluationFailureResolvesUnknown(t *testing.T) {
	room := transport.NewMemoryRoom()
	evA := newFakeEvaluator(2)
	evA.outcomes <- evalOutcome{err: errors.New("judge down")}

	a, ra := startSession(t, room, "alice", matchInfo(true, "bob"), func(o *Options) { o.Evaluator = evA })
	b, _ := startSession(t, room, "bob", matchInfo(false, "alice"))

	waitUntil(t, "both sessions steady", func() bool {
		return a.Ready() && b.Ready()
	})

	if !a.Submit() {
		t.Fatal("submit should be accepted")
	}
	waitUntil(t, "failure resolved on both replicas", func() bool {
		return len(a.Submissions()) == 1 && len(b.Submissions()) == 1
	})

	if got := a.Submissions()[0].Result; got != domain.ResultUnknown {
		t.Fatalf("expected unknown result, got %q", got)
	}
	if !ra.has(EffectEvaluationFailed) {
		t.Fatal("expected evaluation failure effect")
	}

	// A failed evaluation frees the slot for another attempt.
	evA.outcomes <- evalOutcome{result: domain.ResultAccepted}
	if !a.Submit() {
		t.Fatal("resubmit should be accepted after failure")
	}
	waitUntil(t, "retry resolved", func() bool {
		recs := a.Submissions()
		return len(recs) == 2 && recs[1].Result == domain.ResultAccepted
	})
}

func TestSession_StuckPendingClearedByWatchdog(t *testing.T) {
	room := transport.NewMemoryRoom()
	short := func(o *Options) { o.PendingTimeout = 50 * time.Millisecond }

	a, ra := startSession(t, room, "alice", matchInfo(true, "bob"), short)
	b, rb := startSession(t, room, "bob", matchInfo(false, "alice"), short)

	waitUntil(t, "both sessions steady", func() bool {
		return a.Ready() && b.Ready()
	})

	// No evaluator anywhere: the submission has nobody to resolve it.
	if !a.Submit() {
		t.Fatal("submit should be accepted")
	}
	waitUntil(t, "pending visible to partner", func() bool {
		return b.Pending() != nil
	})

	waitUntil(t, "watchdog cleared the slot", func() bool {
		return a.Pending() == nil && b.Pending() == nil
	})
	if !ra.has(EffectSubmissionTimedOut) && !rb.has(EffectSubmissionTimedOut) {
		t.Fatal("expected a timeout notification")
	}
	if len(a.Submissions()) != 0 || len(b.Submissions()) != 0 {
		t.Fatal("a timed out submission must not be recorded")
	}

	// The cleared slot accepts a new attempt.
	if !a.Submit() {
		t.Fatal("resubmit should be accepted after the watchdog cleared")
	}
}

func TestSession_SubmitGuards(t *testing.T) {
	room := transport.NewMemoryRoom()
	s, _ := startSession(t, room, "alice", nil)

	if !s.Submit() {
		t.Fatal("first submit should be accepted")
	}
	if s.Submit() {
		t.Fatal("submit with a pending slot must be rejected")
	}

	waiting, _ := startSession(t, transport.NewMemoryRoom(), "bob", matchInfo(false, "alice"), func(o *Options) {
		o.InitTimeout = time.Minute
	})
	if waiting.Submit() {
		t.Fatal("submit before initialization must be rejected")
	}
}

func TestSession_HistorySplicesWithLiveLog(t *testing.T) {
	past := []domain.SubmissionRecord{
		{AuthorID: "alice", ProblemID: "two-sum", Result: domain.ResultWrongAnswer, Time: time.UnixMilli(100)},
		{AuthorID: "alice", ProblemID: "two-sum", Result: domain.ResultTimeLimit, Time: time.UnixMilli(200)},
	}
	ev := newFakeEvaluator(1)
	ev.outcomes <- evalOutcome{result: domain.ResultAccepted}

	room := transport.NewMemoryRoom()
	s, rec := startSession(t, room, "alice", nil, func(o *Options) {
		o.History = &fakeHistory{records: past}
		o.Evaluator = ev
	})

	waitUntil(t, "history loaded", func() bool { return rec.has(EffectHistoryLoaded) })

	if !s.Submit() {
		t.Fatal("submit should be accepted")
	}
	waitUntil(t, "live record appended", func() bool {
		return len(s.Submissions()) == 3
	})

	recs := s.Submissions()
	if recs[0].Result != domain.ResultWrongAnswer || recs[1].Result != domain.ResultTimeLimit {
		t.Fatalf("history must precede live records: %+v", recs)
	}
	if recs[2].Result != domain.ResultAccepted {
		t.Fatalf("unexpected live record: %+v", recs[2])
	}
}

func TestSession_InitializationDeadlockWatchdog(t *testing.T) {
	room := transport.NewMemoryRoom()
	s, rec := startSession(t, room, "bob", matchInfo(false, "alice"), func(o *Options) {
		o.InitTimeout = 40 * time.Millisecond
	})

	waitUntil(t, "watchdog fired", func() bool { return rec.has(EffectSessionFailed) })

	ev, _ := rec.last(EffectSessionFailed)
	if !errors.Is(ev.Err, ErrInitializationDeadlock) {
		t.Fatalf("expected initialization deadlock, got %v", ev.Err)
	}
	if s.Ready() {
		t.Fatal("a deadlocked session must not turn steady")
	}
}

func TestSession_TransportFailureIsFatal(t *testing.T) {
	_, err := New(context.Background(), Options{
		Self:   domain.Identity{UserID: "alice", DisplayName: "alice"},
		Dialer: failingDialer{},
	})
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected transport unavailable, got %v", err)
	}
}

func TestSession_RejectsIncompleteIdentity(t *testing.T) {
	_, err := New(context.Background(), Options{
		Self:   domain.Identity{UserID: "alice"},
		Dialer: transport.NewMemoryRoom(),
	})
	if !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected identity error, got %v", err)
	}
}

func TestSession_ColorAssignedFromPalette(t *testing.T) {
	s, err := New(context.Background(), Options{
		Self:   domain.Identity{UserID: "carol", DisplayName: "carol"},
		Dialer: transport.NewMemoryRoom(),
		Rand:   rand.New(rand.NewSource(7)),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer s.Close()

	found := false
	for _, c := range domain.ParticipantColors {
		if c == s.opts.Self.ColorTag {
			found = true
		}
	}
	if !found {
		t.Fatalf("color %q not from the palette", s.opts.Self.ColorTag)
	}
}
