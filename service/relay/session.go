package relay

import (
	"sync"

	"PRelay/service/presence"
	"PRelay/tools/errs"
)

// Session is one live connection. Its user id is set by the first join and never changes.
type Session struct {
	handle presence.Handle

	mu     sync.Mutex
	userID string
}

func NewSession(h presence.Handle) *Session {
	return &Session{handle: h}
}

func (s *Session) Handle() presence.Handle { return s.handle }

func (s *Session) ID() string { return s.handle.ID() }

// UserID returns the bound identity, if join has happened.
func (s *Session) UserID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.userID != ""
}

func (s *Session) bind(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != "" {
		return errs.ErrAlreadyBound.WrapMsg("join", "bound", s.userID, "requested", userID)
	}
	s.userID = userID
	return nil
}
