package session

import "peerprep-collab/internal/domain"

// EffectKind names a notification intent. Protocol steps never render UI;
// they emit effects and the host application decides how to surface them.
type EffectKind string

const (
	// EffectSessionReady fires once when initialization completes and
	// steady-state observation begins.
	EffectSessionReady EffectKind = "session_ready"

	// EffectIdentityCollision warns that this account's document was
	// created or replaced from a second location. Security-relevant; the
	// session continues on the foreign copy.
	EffectIdentityCollision EffectKind = "identity_collision"

	// EffectForeignDocument tells the non-initiator its partner re-created
	// the document from another location.
	EffectForeignDocument EffectKind = "foreign_document"

	EffectLanguageChanged EffectKind = "language_changed"

	// EffectSubmissionStarted fires when a submission enters the pending
	// slot, locally or from the partner.
	EffectSubmissionStarted EffectKind = "submission_started"

	// EffectPartnerAlreadySubmitted is the losing side of a simultaneous
	// submission race. Informational, not a failure.
	EffectPartnerAlreadySubmitted EffectKind = "partner_already_submitted"

	// EffectSubmissionResolved carries a record appended to the submission
	// log (including failure markers).
	EffectSubmissionResolved EffectKind = "submission_resolved"

	// EffectSubmissionTimedOut fires when a stuck pending submission was
	// cleared by the local watchdog.
	EffectSubmissionTimedOut EffectKind = "submission_timed_out"

	EffectEvaluationFailed EffectKind = "evaluation_failed"

	EffectChatMessage   EffectKind = "chat_message"
	EffectHistoryLoaded EffectKind = "history_loaded"

	EffectPeerJoined EffectKind = "peer_joined"
	EffectPeerLeft   EffectKind = "peer_left"

	// EffectSessionFailed is fatal: the initialization watchdog fired or
	// the transport went away. Err is always set.
	EffectSessionFailed EffectKind = "session_failed"
)

// Effect is one notification intent. Only the fields relevant to the kind
// are set.
type Effect struct {
	Kind       EffectKind
	Local      bool
	Language   domain.Language
	Submission *domain.SubmissionRecord
	Chat       *domain.ChatRecord
	Peer       *domain.Identity
	Err        error
}
