// Package session owns the subprocess session lifecycle: one CLI
// conversation per chat thread, with heartbeat and timeout supervision,
// compact support, and persistence for warm restarts.
package session

import (
	"sync"
	"time"
)

// Session kinds, persisted in the store's kind column.
const (
	KindChat       = "chat"
	KindAlert      = "alert"
	KindDelayAlert = "delay-alert"
)

// State is a session's position in the turn lifecycle.
type State int

const (
	StateIdle State = iota
	StateProcessing
	StateCompacting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateCompacting:
		return "compacting"
	default:
		return "unknown"
	}
}

// Session is one tracked conversation. Identity fields are immutable
// after creation; everything else is guarded by mu.
type Session struct {
	ConversationID string
	ChannelID      string
	Kind           string
	CreatedAt      time.Time

	mu          sync.Mutex
	state       State
	resumeToken string
	lastMarker  string
	proc        Proc
}

// Info is a read-only snapshot for listing and the web surface.
type Info struct {
	ConversationID string `json:"conversation_id"`
	ChannelID      string `json:"channel_id"`
	Kind           string `json:"kind"`
	ResumeToken    string `json:"resume_token,omitempty"`
	Processing     bool   `json:"processing"`
	Alive          bool   `json:"alive"`
}

// Info returns a consistent snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ConversationID: s.ConversationID,
		ChannelID:      s.ChannelID,
		Kind:           s.Kind,
		ResumeToken:    s.resumeToken,
		Processing:     s.state != StateIdle,
		Alive:          s.proc != nil && s.proc.Alive(),
	}
}

// beginTurn moves Idle → Processing. Returns false when a turn or
// compact is already in flight; the caller must not spawn anything.
func (s *Session) beginTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return false
	}
	s.state = StateProcessing
	return true
}

// beginCompact moves Idle → Compacting and hands back the resume token.
// busy is true when another operation holds the session; an empty token
// with busy=false means there is nothing to compact and no state change
// was made.
func (s *Session) beginCompact() (token string, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return "", true
	}
	if s.resumeToken == "" {
		return "", false
	}
	s.state = StateCompacting
	return s.resumeToken, false
}

// endTurn finalizes the in-flight operation: stores the new resume token
// when one was returned (an empty token leaves the prior one untouched),
// releases the process reference, and returns the session to Idle.
func (s *Session) endTurn(newToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newToken != "" {
		s.resumeToken = newToken
	}
	s.proc = nil
	s.state = StateIdle
}

func (s *Session) setProc(p Proc) {
	s.mu.Lock()
	s.proc = p
	s.mu.Unlock()
}

// kill terminates the live subprocess, if any. Safe on idle sessions.
func (s *Session) kill() error {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Kill()
}

func (s *Session) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeToken
}

func (s *Session) marker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMarker
}

func (s *Session) setMarker(m string) {
	s.mu.Lock()
	s.lastMarker = m
	s.mu.Unlock()
}

// Registry is the owned in-memory table of active sessions, keyed by
// conversation id. All map access is serialized through its mutex;
// per-session field access goes through the session's own lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Insert adds s unless a session with the same id already exists.
// Returns false on a duplicate, leaving the existing entry in place.
func (r *Registry) Insert(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ConversationID]; ok {
		return false
	}
	r.sessions[s.ConversationID] = s
	return true
}

// Remove deletes and returns the session for id, or nil if absent.
func (r *Registry) Remove(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	delete(r.sessions, id)
	return s
}

// List returns all tracked sessions in unspecified order.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
