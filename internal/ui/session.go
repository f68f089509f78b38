package ui

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CookieName holds the session id.
const CookieName = "crash_session"

// Message is one chat line.
type Message struct {
	Sender string `json:"sender"`
	Text   string `json:"message"`
}

// Session is one browser's state. Fields are guarded by mu; handlers hold
// it for the whole user action.
type Session struct {
	ID string

	mu       sync.Mutex
	row      int
	summary  string
	history  []Message
	lastSeen time.Time
}

type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Lookup returns the session named by the request cookie, if any.
func (s *SessionStore) Lookup(r *http.Request) (*Session, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[c.Value]
	if ok {
		sess.lastSeen = time.Now()
	}
	return sess, ok
}

// Create starts a new session at row 0.
func (s *SessionStore) Create() *Session {
	sess := &Session{ID: uuid.New().String(), lastSeen: time.Now()}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the request's session, creating one and setting the cookie
// when the request has none.
func (s *SessionStore) Get(w http.ResponseWriter, r *http.Request) *Session {
	if sess, ok := s.Lookup(r); ok {
		return sess
	}
	sess := s.Create()
	http.SetCookie(w, sess.Cookie())
	return sess
}

// Cookie is the cookie that names sess.
func (sess *Session) Cookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// Sweep drops sessions idle for longer than maxIdle and reports how many.
func (s *SessionStore) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
