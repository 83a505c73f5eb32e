package session

import (
	"fmt"
	"time"

	"peerprep-collab/internal/crdt"
	"peerprep-collab/internal/domain"

	"github.com/google/uuid"
)

// start runs the session initialization protocol.
//
// Solo sessions seed the document immediately. Matched sessions emit a
// synchronization probe and defer every decision to the first remote
// state-change notification: CRDT merges do not reliably signal "document
// just became non-empty" to a replica that joined after creation, so the
// probe forces every connected replica to produce at least one
// notification, and the probe of a late joiner tells the seeder to resend
// its state.
func (s *Session) start() {
	s.mu.Lock()
	if s.opts.Match == nil {
		out := s.createDocumentLocked()
		s.state = stateSteady
		s.mu.Unlock()
		s.broadcast(out)
		s.emit([]Effect{{Kind: EffectSessionReady, Local: true}})
		return
	}

	s.state = stateInitializing
	out := s.probeLocked()
	s.initTimer = time.AfterFunc(s.opts.InitTimeout, s.initWatchdog)
	s.mu.Unlock()
	s.broadcast(out)
}

func (s *Session) probeLocked() crdt.Update {
	nonce := fmt.Sprintf("%s:%d", s.replica, s.opts.Rand.Uint32())
	entry, _ := s.doc.States.Set(domain.StateKeySyncMarker, nonce)
	return crdt.Update{States: []crdt.MapEntry{entry}}
}

// handleInitEventLocked is the single-shot initialization observer. It only
// ever sees remote events (local writes are handled by their initiating
// call) and detaches permanently once the session turns steady.
func (s *Session) handleInitEventLocked(ev crdt.Event) (crdt.Update, []Effect) {
	var out crdt.Update
	var effects []Effect

	if s.initiatorOrSolo() {
		if s.doc.States.Has(domain.StateKeyCodeRef) {
			// A document already exists although we hold the initiator
			// role: this account is connected from a second location.
			// Last writer wins for codeRef; adopt rather than fight.
			s.adoptLocked()
			effects = append(effects, Effect{Kind: EffectIdentityCollision})
		} else {
			out = s.createDocumentLocked()
		}
	} else {
		if !s.doc.States.Has(domain.StateKeyCodeRef) {
			// The initiator has not seeded the document yet; hold the
			// probe active and wait for a future notification.
			return out, effects
		}
		s.adoptLocked()
	}

	if s.initTimer != nil {
		s.initTimer.Stop()
		s.initTimer = nil
	}
	s.state = stateSteady
	effects = append(effects, Effect{Kind: EffectSessionReady})
	return out, effects
}

// createDocumentLocked seeds the shared document: a fresh code epoch, a
// randomly chosen starting language and its template, all in one batch so
// no replica observes the document half-created.
func (s *Session) createDocumentLocked() crdt.Update {
	epoch := uuid.NewString()
	refEntry, _ := s.doc.States.Set(domain.StateKeyCodeRef, epoch)

	lang := domain.Languages[s.opts.Rand.Intn(len(domain.Languages))]
	langEntry, _ := s.doc.States.Set(domain.StateKeyActiveLanguage, lang)
	s.lang = lang

	ops := s.doc.Text(epoch).InsertString(0, domain.Template(lang))

	return crdt.Update{
		States: []crdt.MapEntry{refEntry, langEntry},
		Code:   []crdt.EpochOps{{Epoch: epoch, Ops: ops}},
	}
}

// adoptLocked takes over an existing document: cache its language and pick
// up a pending submission if one is staged.
func (s *Session) adoptLocked() {
	if lang := domain.Language(s.doc.States.GetString(domain.StateKeyActiveLanguage)); lang != "" {
		s.lang = lang
	}
	var rec domain.SubmissionRecord
	if s.doc.States.Get(domain.StateKeyPendingSub, &rec) {
		s.pending = &rec
		s.resetPendingWatchdogLocked(rec)
	}
}

// adoptForeignDocumentLocked handles a codeRef replacement observed in
// steady state: the same account (for the initiator) or the partner (for
// the non-initiator) re-created the document from another location.
func (s *Session) adoptForeignDocumentLocked() []Effect {
	kind := EffectForeignDocument
	if s.initiatorOrSolo() {
		kind = EffectIdentityCollision
	}
	return []Effect{{Kind: kind}}
}

// initWatchdog reports a deadlocked initialization. Must not occur by
// construction; if it does the session is dead.
func (s *Session) initWatchdog() {
	s.mu.Lock()
	if s.state != stateInitializing {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.opts.Notify(Effect{Kind: EffectSessionFailed, Err: ErrInitializationDeadlock})
	s.Close()
}
