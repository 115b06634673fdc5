package bot

import (
	"context"
	"errors"
	"sync"
)

// State is the position of one user in the review workflow.
type State int

const (
	Idle State = iota
	AwaitingConfirmation
	EditingText
	AwaitingBackground
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case EditingText:
		return "editing_text"
	case AwaitingBackground:
		return "awaiting_background"
	default:
		return "unknown"
	}
}

// ErrWrongState is returned by session updates whose source state does not match.
var ErrWrongState = errors.New("action not valid in the current state")

// Session is the per-user workflow record. Text is only set while the
// state is AwaitingConfirmation or EditingText.
type Session struct {
	State State
	Text  string
}

type sessionEntry struct {
	session Session
	busy    bool
	// cancel aborts the in-flight upload; set only while busy
	cancel context.CancelFunc
}

// SessionStore keeps sessions in memory for the life of the process.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*sessionEntry
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]*sessionEntry)}
}

// Get returns a copy of the user's session. Unknown users are Idle.
func (s *SessionStore) Get(userID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[userID]; ok {
		return e.session
	}
	return Session{}
}

// Update applies fn to a copy of the session and commits the copy only when
// fn returns nil, so state and text always change together.
func (s *SessionStore) Update(userID int64, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.sessions[userID]
	var next Session
	if e != nil {
		next = e.session
	}
	if err := fn(&next); err != nil {
		return err
	}
	if next.State != AwaitingConfirmation && next.State != EditingText {
		next.Text = ""
	}

	if e == nil {
		e = &sessionEntry{}
		s.sessions[userID] = e
	}
	e.session = next
	s.prune(userID, e)
	return nil
}

// Clear returns the session to Idle, drops its text and cancels an upload in
// flight. The busy flag stays set until the upload calls EndUpload.
func (s *SessionStore) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[userID]; ok {
		e.session = Session{}
		if e.cancel != nil {
			e.cancel()
		}
		s.prune(userID, e)
	}
}

// BeginUpload marks an extraction as in flight and returns a context that is
// cancelled when the session is cleared. It fails when the session is not
// Idle or another extraction for the user has not finished.
func (s *SessionStore) BeginUpload(ctx context.Context, userID int64) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.sessions[userID]
	if e == nil {
		e = &sessionEntry{}
		s.sessions[userID] = e
	} else if e.busy || e.session.State != Idle {
		return ctx, false
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	e.busy = true
	e.cancel = cancel
	return uploadCtx, true
}

// EndUpload releases the flag set by BeginUpload.
func (s *SessionStore) EndUpload(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[userID]; ok {
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		e.busy = false
		s.prune(userID, e)
	}
}

// Busy reports whether an extraction is in flight for the user.
func (s *SessionStore) Busy(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[userID]
	return ok && e.busy
}

// Len returns the number of tracked users.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// prune must be called with mu held.
func (s *SessionStore) prune(userID int64, e *sessionEntry) {
	if !e.busy && e.session.State == Idle {
		delete(s.sessions, userID)
	}
}

// BackgroundStore holds one user supplied background image per user. Entries
// are independent of sessions and never expire.
type BackgroundStore struct {
	mu     sync.RWMutex
	images map[int64][]byte
}

func NewBackgroundStore() *BackgroundStore {
	return &BackgroundStore{images: make(map[int64][]byte)}
}

func (b *BackgroundStore) Get(userID int64) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.images[userID]
}

func (b *BackgroundStore) Set(userID int64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.images[userID] = data
}

// Delete removes the user's background and reports whether one was stored.
func (b *BackgroundStore) Delete(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.images[userID]
	delete(b.images, userID)
	return ok
}
