package orchestrator

import (
	"sync"

	"mcpilot/pkg/planner"
)

// Session holds one thread's conversation state. Created on the first
// message for a thread id and kept for the process lifetime. The mutex
// enforces a single active turn per thread; independent sessions run
// concurrently.
type Session struct {
	id string

	mu      sync.Mutex
	history []planner.Message
	cycles  int
}

func newSession(id string) *Session {
	return &Session{id: id}
}

// ID returns the thread id.
func (s *Session) ID() string {
	return s.id
}

// append adds a message to history. Caller holds s.mu.
func (s *Session) append(msg planner.Message) {
	s.history = append(s.history, msg)
}

// bounded returns a copy of history trimmed to at most max entries,
// dropping the oldest ones first. The cut lands on a user-message
// boundary: a tool result whose assistant tool-call message was trimmed
// away would be rejected by the planner backends. Unbounded in-memory
// growth is a choice, not an accident: max comes from configuration.
func (s *Session) bounded(max int) []planner.Message {
	history := s.history
	if max > 0 && len(history) > max {
		start := len(history) - max
		boundary := start
		for boundary < len(history) && history[boundary].Role != planner.RoleUser {
			boundary++
		}
		if boundary < len(history) {
			start = boundary
		} else {
			// No user message in the window; at least drop the orphaned
			// tool results at the front.
			for start < len(history) && history[start].Role == planner.RoleTool {
				start++
			}
		}
		history = history[start:]
	}

	out := make([]planner.Message, len(history))
	copy(out, history)
	return out
}

// History returns a copy of the full history. For tests and
// introspection; turns use bounded.
func (s *Session) History() []planner.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]planner.Message, len(s.history))
	copy(out, s.history)
	return out
}
