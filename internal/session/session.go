// Package session implements the peer-to-peer session synchronization
// protocol: a replicated document shared by two participants, the
// initialization handshake that decides who seeds it, the language/template
// coordinator, the submission lifecycle and the chat/history projection.
// There is no central arbiter; both clients run this same logic and
// converge through the document's merge rules.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"peerprep-collab/internal/crdt"
	"peerprep-collab/internal/domain"
	"peerprep-collab/internal/transport"
	"peerprep-collab/pkg/hash"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Evaluator is the external evaluation collaborator. It may fail or time
// out; the session handles both.
type Evaluator interface {
	Evaluate(ctx context.Context, rec domain.SubmissionRecord) (domain.SubmissionResult, error)
}

// HistoryStore is the external persistence collaborator, read once at
// session start.
type HistoryStore interface {
	FetchSubmissionHistory(ctx context.Context, problemID string) ([]domain.SubmissionRecord, error)
}

// Options configures a session. Self and Dialer are required.
type Options struct {
	Self      domain.Identity `validate:"required"`
	Match     *domain.Match   // nil for a solo session
	ProblemID string

	Dialer    transport.Dialer `validate:"required"`
	Evaluator Evaluator
	History   HistoryStore

	// Notify receives notification intents. Called from the session's
	// event handling, never concurrently with itself for one session.
	Notify func(Effect)

	// Rand drives every randomized choice (color, starting language,
	// probe nonce) so tests can pin outcomes.
	Rand *rand.Rand

	InitTimeout    time.Duration
	PendingTimeout time.Duration
	EvalTimeout    time.Duration
}

type fsmState int

const (
	stateUninitialized fsmState = iota
	stateInitializing
	stateSteady
	stateClosed
)

var validate = validator.New()

// Session is one participant's replica of a collaborative session.
type Session struct {
	opts    Options
	replica string
	room    string
	doc     *crdt.Doc
	conn    transport.Conn

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        fsmState
	lang         domain.Language
	pending      *domain.SubmissionRecord
	past         []domain.SubmissionRecord
	initTimer    *time.Timer
	pendingTimer *time.Timer
}

// New validates the inputs, joins the room and runs the initialization
// protocol. The returned session is live; Close tears it down.
func New(ctx context.Context, opts Options) (*Session, error) {
	if err := validate.Struct(opts.Self); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityRequired, err)
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if opts.Match != nil {
		if err := validate.Struct(opts.Match); err != nil {
			return nil, fmt.Errorf("invalid match info: %w", err)
		}
	}
	if opts.Notify == nil {
		opts.Notify = func(Effect) {}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 15 * time.Second
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = 30 * time.Second
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = 60 * time.Second
	}
	if opts.Self.ColorTag == "" {
		opts.Self.ColorTag = domain.ParticipantColors[opts.Rand.Intn(len(domain.ParticipantColors))]
	}

	room := roomToken(opts)
	replica := uuid.NewString()

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:    opts,
		replica: replica,
		room:    room,
		doc:     crdt.NewDoc(replica, time.Now),
		ctx:     sctx,
		cancel:  cancel,
		state:   stateUninitialized,
	}

	conn, err := opts.Dialer.Join(ctx, room, opts.Self)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	s.conn = conn

	conn.OnPresence(s.handlePresence)
	s.start()
	conn.OnUpdate(s.handleUpdate)

	if opts.History != nil && opts.ProblemID != "" {
		go s.fetchHistory()
	}
	return s, nil
}

// roomToken derives the room identity: the matched pair's assigned token,
// or a stable digest for an ad-hoc solo session.
func roomToken(opts Options) string {
	if opts.Match != nil {
		return opts.Match.RoomToken
	}
	return hash.RoomDigest(opts.Self.UserID, opts.Self.DisplayName, opts.ProblemID)
}

// Close detaches all observers and tears down the transport. In-flight
// evaluation dispatches become irrelevant; their late responses are
// dropped.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosed
	s.stopTimersLocked()
	s.mu.Unlock()

	s.cancel()
	return s.conn.Close()
}

func (s *Session) stopTimersLocked() {
	if s.initTimer != nil {
		s.initTimer.Stop()
		s.initTimer = nil
	}
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
}

// Replica returns this replica's id.
func (s *Session) Replica() string { return s.replica }

// Room returns the room token the session joined.
func (s *Session) Room() string { return s.room }

// initiatorOrSolo reports whether this client holds the initiator role.
// Solo sessions always do.
func (s *Session) initiatorOrSolo() bool {
	return s.opts.Match == nil || s.opts.Match.IsInitiator
}

// Code renders the current shared buffer.
func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Code()
}

// Language returns the locally cached active language.
func (s *Session) Language() domain.Language {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// Pending returns the submission currently staged for evaluation, if any.
func (s *Session) Pending() *domain.SubmissionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	rec := *s.pending
	return &rec
}

// Ready reports whether steady-state observation has begun.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateSteady
}

// broadcast ships an update to the peer. Must not be called while holding
// s.mu: transports may deliver synchronously and re-enter a handler.
func (s *Session) broadcast(u crdt.Update) {
	if u.Empty() {
		return
	}
	payload, err := json.Marshal(u)
	if err != nil {
		log.Printf("[Session] failed to encode update: %v", err)
		return
	}
	if err := s.conn.Broadcast(payload); err != nil {
		log.Printf("[Session] broadcast failed: %v", err)
	}
}

func (s *Session) emit(effects []Effect) {
	for _, e := range effects {
		s.opts.Notify(e)
	}
}

// handleUpdate is the transport's delivery callback: merge, then let the
// coordinator for the current state react.
func (s *Session) handleUpdate(payload []byte) {
	var u crdt.Update
	if err := json.Unmarshal(payload, &u); err != nil {
		log.Printf("[Session] dropping malformed update: %v", err)
		return
	}

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	ev := s.doc.Apply(u, false)

	var out crdt.Update
	var effects []Effect
	switch s.state {
	case stateInitializing:
		out, effects = s.handleInitEventLocked(ev)
	case stateSteady:
		out, effects = s.handleSteadyEventLocked(ev)
	}
	s.mu.Unlock()

	s.broadcast(out)
	s.emit(effects)
}

func (s *Session) handlePresence(ev transport.PresenceEvent) {
	s.mu.Lock()
	closed := s.state == stateClosed
	s.mu.Unlock()
	if closed {
		return
	}
	peer := ev.Peer
	switch ev.Kind {
	case transport.PresenceJoin:
		// Anything broadcast before the peer connected is gone; re-ship the
		// full known state so the newcomer observes at least one remote
		// event and the handshake cannot stall. The whole snapshot goes, not
		// just the state entries: a second location adopting our codeRef
		// needs that epoch's text ops and the logs too, and snapshot
		// application is idempotent.
		s.mu.Lock()
		snap := s.doc.Snapshot()
		s.mu.Unlock()
		s.broadcast(snap)
		s.opts.Notify(Effect{Kind: EffectPeerJoined, Peer: &peer})
	case transport.PresenceLeave:
		s.opts.Notify(Effect{Kind: EffectPeerLeft, Peer: &peer})
	}
}

// handleSteadyEventLocked reacts to one merged remote update in steady
// state. Returns any follow-up update to broadcast plus notification
// intents; both are handled by the caller outside the lock.
func (s *Session) handleSteadyEventLocked(ev crdt.Event) (crdt.Update, []Effect) {
	var out crdt.Update
	var effects []Effect

	// A peer's probe means it just joined and needs our state.
	if ev.KeyChanged(domain.StateKeySyncMarker) && s.initiatorOrSolo() {
		out.Merge(s.doc.Snapshot())
	}

	if ev.KeyChanged(domain.StateKeyCodeRef) {
		effects = append(effects, s.adoptForeignDocumentLocked()...)
	}

	effects = append(effects, s.observeLanguageLocked()...)
	effects = append(effects, s.observePendingLocked(ev)...)

	for i := range ev.Chat {
		rec := ev.Chat[i]
		effects = append(effects, Effect{Kind: EffectChatMessage, Chat: &rec})
	}
	for i := range ev.Subs {
		rec := ev.Subs[i]
		effects = append(effects, Effect{Kind: EffectSubmissionResolved, Submission: &rec})
	}
	return out, effects
}

func (s *Session) fetchHistory() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	recs, err := s.opts.History.FetchSubmissionHistory(ctx, s.opts.ProblemID)
	if err != nil {
		log.Printf("[Session] failed to fetch submission history: %v", err)
		return
	}

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.past = recs
	s.mu.Unlock()
	s.opts.Notify(Effect{Kind: EffectHistoryLoaded})
}
