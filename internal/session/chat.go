package session

import (
	"peerprep-collab/internal/crdt"
	"peerprep-collab/internal/domain"
)

// SendToChat appends a chat message. Never blocks; appends cannot conflict.
func (s *Session) SendToChat(msg string) {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	rec := domain.ChatRecord{Author: s.opts.Self.DisplayName, Message: msg}
	entry := s.doc.Chat.Append(rec)
	s.mu.Unlock()

	s.broadcast(crdt.Update{Chat: []crdt.LogEntry[domain.ChatRecord]{entry}})
	s.emit([]Effect{{Kind: EffectChatMessage, Local: true, Chat: &rec}})
}

// Chat returns the merged chat log.
func (s *Session) Chat() []domain.ChatRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Chat.Snapshot()
}

// Submissions splices the history fetched once at session start with the
// live replicated submission log, so persisted and in-session attempts read
// as one ordered view without re-querying the backend.
func (s *Session) Submissions() []domain.SubmissionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.doc.Subs.Snapshot()
	out := make([]domain.SubmissionRecord, 0, len(s.past)+len(live))
	out = append(out, s.past...)
	out = append(out, live...)
	return out
}
