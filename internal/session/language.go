package session

import (
	"peerprep-collab/internal/crdt"
	"peerprep-collab/internal/domain"
)

// ChangeLanguage switches the active language and resets the buffer to the
// new language's template. The state write, the clear and the template
// insert ship as one batch, so observers never adopt a half-switched
// document. No-op if l is already active or the session is not steady.
func (s *Session) ChangeLanguage(l domain.Language) {
	s.mu.Lock()
	if s.state != stateSteady || l == s.lang {
		s.mu.Unlock()
		return
	}
	epoch := s.doc.Epoch()
	if epoch == "" {
		s.mu.Unlock()
		return
	}

	entry, _ := s.doc.States.Set(domain.StateKeyActiveLanguage, l)
	s.lang = l

	t := s.doc.Text(epoch)
	ops := t.DeleteAll()
	ops = append(ops, t.InsertString(0, domain.Template(l))...)

	out := crdt.Update{
		States: []crdt.MapEntry{entry},
		Code:   []crdt.EpochOps{{Epoch: epoch, Ops: ops}},
	}
	s.mu.Unlock()

	s.broadcast(out)
	s.emit([]Effect{{Kind: EffectLanguageChanged, Local: true, Language: l}})
}

// observeLanguageLocked updates the cached language after a remote change.
// The replica that initiated the change already replaced the code; doing it
// here too would insert the template twice.
func (s *Session) observeLanguageLocked() []Effect {
	lang := domain.Language(s.doc.States.GetString(domain.StateKeyActiveLanguage))
	if lang == "" || lang == s.lang {
		return nil
	}
	s.lang = lang
	return []Effect{{Kind: EffectLanguageChanged, Language: lang}}
}

// InsertCode applies a local positional insert to the shared buffer.
func (s *Session) InsertCode(index int, text string) {
	s.mu.Lock()
	epoch := s.doc.Epoch()
	if s.state != stateSteady || epoch == "" {
		s.mu.Unlock()
		return
	}
	ops := s.doc.Text(epoch).InsertString(index, text)
	s.mu.Unlock()
	s.broadcast(crdt.Update{Code: []crdt.EpochOps{{Epoch: epoch, Ops: ops}}})
}

// DeleteCode applies a local positional delete to the shared buffer.
func (s *Session) DeleteCode(index, n int) {
	s.mu.Lock()
	epoch := s.doc.Epoch()
	if s.state != stateSteady || epoch == "" {
		s.mu.Unlock()
		return
	}
	ops := s.doc.Text(epoch).DeleteRange(index, n)
	s.mu.Unlock()
	s.broadcast(crdt.Update{Code: []crdt.EpochOps{{Epoch: epoch, Ops: ops}}})
}

// ReplaceCode clears the buffer and inserts s as one batch.
func (s *Session) ReplaceCode(text string) {
	s.mu.Lock()
	epoch := s.doc.Epoch()
	if s.state != stateSteady || epoch == "" {
		s.mu.Unlock()
		return
	}
	t := s.doc.Text(epoch)
	ops := t.DeleteAll()
	ops = append(ops, t.InsertString(0, text)...)
	s.mu.Unlock()
	s.broadcast(crdt.Update{Code: []crdt.EpochOps{{Epoch: epoch, Ops: ops}}})
}

// ClearCode empties the shared buffer.
func (s *Session) ClearCode() {
	s.mu.Lock()
	epoch := s.doc.Epoch()
	if s.state != stateSteady || epoch == "" {
		s.mu.Unlock()
		return
	}
	ops := s.doc.Text(epoch).DeleteAll()
	s.mu.Unlock()
	s.broadcast(crdt.Update{Code: []crdt.EpochOps{{Epoch: epoch, Ops: ops}}})
}
