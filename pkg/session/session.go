// Package session keeps short-lived conversation state in memory.
// Sessions expire after a TTL of inactivity and histories are bounded
// by a sliding window of recent messages.
package session

import (
	"sync"
	"time"
)

// Message roles stored in session history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCallRecord captures one tool execution attached to an assistant
// turn, for audit and for rebuilding context on later turns.
type ToolCallRecord struct {
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	EntityID string         `json:"entity_id,omitempty"`
}

// Message is one stored conversation turn.
type Message struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type sessionState struct {
	// turnMu serializes whole turns against this session. dataMu only
	// guards the fields below and is never held across a turn.
	turnMu sync.Mutex

	dataMu     sync.Mutex
	messages   []Message
	lastAccess time.Time
}

// Store holds sessions keyed by id. Each session carries its own lock
// so concurrent turns against the same session serialize while turns
// against distinct sessions proceed in parallel.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	ttl        time.Duration
	windowSize int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewStore(ttl time.Duration, windowSize int) *Store {
	return &Store{
		sessions:   make(map[string]*sessionState),
		ttl:        ttl,
		windowSize: windowSize,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// StartJanitor launches the background sweep that drops sessions idle
// past the TTL.
func (s *Store) StartJanitor(sweepInterval time.Duration) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(time.Now())
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the janitor.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, state := range s.sessions {
		// A held turn lock means a turn is in flight; never evict
		// under it, however long the turn runs.
		if !state.turnMu.TryLock() {
			continue
		}

		state.dataMu.Lock()
		expired := now.Sub(state.lastAccess) > s.ttl
		state.dataMu.Unlock()
		state.turnMu.Unlock()

		if expired {
			delete(s.sessions, id)
		}
	}
}

// get returns the session state, creating it if needed.
func (s *Store) get(sessionID string) *sessionState {
	s.mu.RLock()
	state, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok = s.sessions[sessionID]; ok {
		return state
	}
	state = &sessionState{lastAccess: time.Now()}
	s.sessions[sessionID] = state
	return state
}

// Acquire locks the session for one turn and returns the unlock
// function. Callers must release it when the turn completes. Both
// ends of the turn refresh the idle clock, so a long turn cannot age
// the session toward eviction while it runs.
func (s *Store) Acquire(sessionID string) func() {
	state := s.get(sessionID)
	state.turnMu.Lock()

	state.dataMu.Lock()
	state.lastAccess = time.Now()
	state.dataMu.Unlock()

	return func() {
		state.dataMu.Lock()
		state.lastAccess = time.Now()
		state.dataMu.Unlock()
		state.turnMu.Unlock()
	}
}

// History returns a copy of the session's messages, oldest first.
func (s *Store) History(sessionID string) []Message {
	state := s.get(sessionID)
	state.dataMu.Lock()
	defer state.dataMu.Unlock()

	state.lastAccess = time.Now()
	out := make([]Message, len(state.messages))
	copy(out, state.messages)
	return out
}

// Append adds messages to the session and truncates the history to the
// configured window, dropping oldest first.
func (s *Store) Append(sessionID string, msgs ...Message) {
	state := s.get(sessionID)
	state.dataMu.Lock()
	defer state.dataMu.Unlock()

	state.lastAccess = time.Now()
	state.messages = append(state.messages, msgs...)
	if s.windowSize > 0 && len(state.messages) > s.windowSize {
		overflow := len(state.messages) - s.windowSize
		state.messages = append([]Message(nil), state.messages[overflow:]...)
	}
}

// Delete removes a session.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
