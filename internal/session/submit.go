package session

import (
	"context"
	"time"

	"peerprep-collab/internal/crdt"
	"peerprep-collab/internal/domain"
)

// Submit stages the current buffer for evaluation. Allowed only when no
// submission is pending, a language is selected and the document has been
// initialized; otherwise it is a silent no-op and returns false.
func (s *Session) Submit() bool {
	s.mu.Lock()
	if s.state != stateSteady || s.pending != nil || s.lang == "" || s.doc.Epoch() == "" {
		s.mu.Unlock()
		return false
	}

	rec := domain.SubmissionRecord{
		Time:      time.Now(),
		AuthorID:  s.opts.Self.UserID,
		Language:  s.lang,
		Code:      s.doc.Code(),
		ProblemID: s.opts.ProblemID,
		Result:    domain.ResultUnknown,
	}
	entry, err := s.doc.States.Set(domain.StateKeyPendingSub, rec)
	if err != nil {
		s.mu.Unlock()
		return false
	}
	cp := rec
	s.pending = &cp
	s.resetPendingWatchdogLocked(rec)
	dispatch := s.shouldDispatchLocked(rec, true)
	s.mu.Unlock()

	s.broadcast(crdt.Update{States: []crdt.MapEntry{entry}})
	s.emit([]Effect{{Kind: EffectSubmissionStarted, Local: true, Submission: &cp}})
	if dispatch {
		go s.dispatch(rec)
	}
	return true
}

// shouldDispatchLocked decides whether this replica calls the evaluation
// collaborator for rec. Dispatch authority belongs to the initiator (solo
// counts), so both replicas reacting to the same merge never evaluate
// twice; an authorized replica still skips its own record echoed from
// another location, because that location is already dispatching it.
func (s *Session) shouldDispatchLocked(rec domain.SubmissionRecord, local bool) bool {
	if s.opts.Evaluator == nil {
		return false
	}
	if rec.AuthorID == s.opts.Self.UserID && !local {
		return false
	}
	return s.initiatorOrSolo()
}

// observePendingLocked reacts to a remote change of the pending slot.
func (s *Session) observePendingLocked(ev crdt.Event) []Effect {
	if !ev.KeyChanged(domain.StateKeyPendingSub) {
		return nil
	}

	var effects []Effect
	var rec domain.SubmissionRecord
	if s.doc.States.Get(domain.StateKeyPendingSub, &rec) {
		prev := s.pending
		cp := rec
		s.pending = &cp
		s.resetPendingWatchdogLocked(rec)

		effects = append(effects, Effect{
			Kind:       EffectSubmissionStarted,
			Local:      rec.AuthorID == s.opts.Self.UserID,
			Submission: &cp,
		})
		if prev != nil && prev.AuthorID == s.opts.Self.UserID && rec.AuthorID != s.opts.Self.UserID {
			// Simultaneous submission race: the partner's write won the
			// slot, our own outstanding attempt is abandoned.
			effects = append(effects, Effect{Kind: EffectPartnerAlreadySubmitted, Submission: &cp})
		}
		if s.shouldDispatchLocked(rec, false) {
			go s.dispatch(rec)
		}
		return effects
	}

	// Pending transitioned to absent: the submission resolved (its record
	// arrives through the submission log) or a watchdog cleared it.
	if s.pending != nil {
		cleared := *s.pending
		s.pending = nil
		s.stopPendingWatchdogLocked()
		if len(ev.Subs) == 0 {
			effects = append(effects, Effect{Kind: EffectSubmissionTimedOut, Submission: &cleared})
		}
	}
	return effects
}

// dispatch hands the pending submission to the evaluation collaborator and
// writes the outcome back: clear the pending slot and append the resolved
// record in one batch. Failures resolve as ResultUnknown rather than
// leaving the slot stuck. Late responses — the session closed or the slot
// was superseded meanwhile — are dropped.
func (s *Session) dispatch(rec domain.SubmissionRecord) {
	result := domain.ResultUnknown
	var evalErr error

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.EvalTimeout)
	res, err := s.opts.Evaluator.Evaluate(ctx, rec)
	cancel()
	if err != nil {
		evalErr = err
	} else {
		result = res
	}

	s.mu.Lock()
	if s.state != stateSteady {
		s.mu.Unlock()
		return
	}
	var cur domain.SubmissionRecord
	if !s.doc.States.Get(domain.StateKeyPendingSub, &cur) || !cur.Same(rec) {
		s.mu.Unlock()
		return
	}

	rec.Result = result
	clearEntry := s.doc.States.Clear(domain.StateKeyPendingSub)
	logEntry := s.doc.Subs.Append(rec)
	s.pending = nil
	s.stopPendingWatchdogLocked()
	s.mu.Unlock()

	s.broadcast(crdt.Update{
		States: []crdt.MapEntry{clearEntry},
		Subs:   []crdt.LogEntry[domain.SubmissionRecord]{logEntry},
	})

	var effects []Effect
	if evalErr != nil {
		effects = append(effects, Effect{Kind: EffectEvaluationFailed, Err: evalErr})
	}
	effects = append(effects, Effect{Kind: EffectSubmissionResolved, Submission: &rec})
	s.emit(effects)
}

// resetPendingWatchdogLocked arms the local stuck-submission watchdog:
// either participant clears a pending submission that outlives the
// timeout. Clearing is idempotent under the map's merge, and only an
// evaluation outcome appends to the log, so a double clear never
// double-records.
func (s *Session) resetPendingWatchdogLocked(rec domain.SubmissionRecord) {
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
	}
	s.pendingTimer = time.AfterFunc(s.opts.PendingTimeout, func() { s.clearStuckPending(rec) })
}

func (s *Session) stopPendingWatchdogLocked() {
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
}

func (s *Session) clearStuckPending(rec domain.SubmissionRecord) {
	s.mu.Lock()
	if s.state != stateSteady {
		s.mu.Unlock()
		return
	}
	var cur domain.SubmissionRecord
	if !s.doc.States.Get(domain.StateKeyPendingSub, &cur) || !cur.Same(rec) {
		s.mu.Unlock()
		return
	}
	entry := s.doc.States.Clear(domain.StateKeyPendingSub)
	s.pending = nil
	s.pendingTimer = nil
	s.mu.Unlock()

	s.broadcast(crdt.Update{States: []crdt.MapEntry{entry}})
	s.emit([]Effect{{Kind: EffectSubmissionTimedOut, Submission: &rec}})
}
