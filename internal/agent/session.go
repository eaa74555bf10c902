package agent

import (
	"regexp"
	"sync"

	"github.com/slotline/bookings-agent/internal/proposer"
)

// State is the per-session verification state. Progression is monotonic
// under normal flow; otp_sent may be re-entered when a new email supersedes
// a verified one.
type State string

const (
	StateIdle            State = "idle"
	StateCollectingEmail State = "collecting_email"
	StateOTPSent         State = "otp_sent"
	StateVerified        State = "verified"
)

// PendingSlot is a free interval found by an availability search, cached for
// the next booking confirmation. At most one is valid at a time.
type PendingSlot struct {
	StartISO string
	EndISO   string
}

// Session holds one conversation's state. A turn locks the session for its
// whole duration, so state updates commit before the next turn starts;
// independent sessions proceed concurrently.
type Session struct {
	ID string

	mu            sync.Mutex
	State         State
	Email         string
	Verified      bool
	History       []proposer.Message
	PendingSlot   *PendingSlot
	PendingIntent string // last booking request deferred behind verification
}

func (s *Session) lock()   { s.mu.Lock() }
func (s *Session) unlock() { s.mu.Unlock() }

// SessionStore keeps sessions by id. In-memory only; sessions do not survive
// a restart.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Get returns the session for id, creating it on first use.
func (st *SessionStore) Get(id string) *Session {
	st.mu.RLock()
	sess, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return sess
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[id]; ok {
		return sess
	}
	sess = &Session{ID: id, State: StateIdle}
	st.sessions[id] = sess
	return sess
}

var emailRE = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// extractEmail pulls the first email-shaped token out of free text.
func extractEmail(text string) string {
	return emailRE.FindString(text)
}
