package sandbox

import (
	"sync/atomic"

	"github.com/dontdude/javabox/internal/domain"
)

// Sandbox identifies one isolation-runtime instance.
type Sandbox struct {
	RuntimeID string
	Flavor    domain.Flavor

	// requestID is set by the pool when the sandbox is handed out.
	requestID string
	tainted   atomic.Bool
}

// RequestID returns the request the sandbox is serving, or "" while idle.
func (s *Sandbox) RequestID() string {
	return s.requestID
}

// Taint marks the sandbox as unfit for reuse. Release of a tainted sandbox destroys it.
func (s *Sandbox) Taint() {
	s.tainted.Store(true)
}

// Tainted reports whether the sandbox may hold a still-running process or a broken state.
func (s *Sandbox) Tainted() bool {
	return s.tainted.Load()
}
