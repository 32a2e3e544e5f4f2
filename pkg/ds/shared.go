package ds

import (
	"sync"
	"time"

	"dslink/pkg/protocol"
)

// SharedState guards a State shared between the foreground handle and one
// connection worker. The lock is held only for a single read or update.
type SharedState struct {
	mu        sync.Mutex
	state     State
	telemetry protocol.Telemetry
	seen      bool
	clock     func() time.Time
}

func NewSharedState(s State, clock func() time.Time) *SharedState {
	if clock == nil {
		clock = time.Now
	}
	return &SharedState{state: s, clock: clock}
}

func (s *SharedState) ControlPacket() []byte {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ControlPacket(now)
}

func (s *SharedState) ApplyTelemetry(t protocol.Telemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ApplyTelemetry(t)
	s.telemetry = t
	s.seen = true
}

func (s *SharedState) ApplyMessage(m protocol.RioMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ApplyMessage(m)
}

func (s *SharedState) Tags() []protocol.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Tags()
}

// Update runs fn with the lock held. fn must not block.
func (s *SharedState) Update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.state)
}

// Snapshot returns a deep copy of the current state.
func (s *SharedState) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// LastTelemetry returns the most recently applied robot status packet.
func (s *SharedState) LastTelemetry() (protocol.Telemetry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry, s.seen
}
