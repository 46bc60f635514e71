package dispatch

import (
	"sort"
	"sync"
)

// Phase is the lifecycle stage of a connection
type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseStarted
	PhaseTuned
	PhaseOpen
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseStarted:
		return "started"
	case PhaseTuned:
		return "tuned"
	case PhaseOpen:
		return "open"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionState tracks the connection phase and which channels are
// opened, suspended by flow control, or closed. A channel number is never
// opened and closed at the same time. One value belongs to one connection
// and is shared by all of its dispatchers.
type ConnectionState struct {
	mu        sync.Mutex
	phase     Phase
	opened    map[uint16]struct{}
	suspended map[uint16]struct{}
	closed    map[uint16]struct{}
}

// NewConnectionState creates the state of a disconnected connection
func NewConnectionState() *ConnectionState {
	return &ConnectionState{
		opened:    make(map[uint16]struct{}),
		suspended: make(map[uint16]struct{}),
		closed:    make(map[uint16]struct{}),
	}
}

func (s *ConnectionState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *ConnectionState) SetPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// BeginClosing moves a connection that is not closed yet to PhaseClosing.
// It reports false when the connection is already closed.
func (s *ConnectionState) BeginClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseClosed {
		return false
	}
	s.phase = PhaseClosing
	return true
}

// MarkOpened moves ch into the opened set
func (s *ConnectionState) MarkOpened(ch uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.closed, ch)
	delete(s.suspended, ch)
	s.opened[ch] = struct{}{}
}

// MarkClosed moves ch into the closed set
func (s *ConnectionState) MarkClosed(ch uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.opened, ch)
	delete(s.suspended, ch)
	s.closed[ch] = struct{}{}
}

// Suspend records that the server stopped the flow of content on ch
func (s *ConnectionState) Suspend(ch uint16) {
	s.mu.Lock()
	s.suspended[ch] = struct{}{}
	s.mu.Unlock()
}

// Resume records that the server restarted the flow of content on ch
func (s *ConnectionState) Resume(ch uint16) {
	s.mu.Lock()
	delete(s.suspended, ch)
	s.mu.Unlock()
}

func (s *ConnectionState) IsOpen(ch uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.opened[ch]
	return ok
}

func (s *ConnectionState) IsSuspended(ch uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suspended[ch]
	return ok
}

func (s *ConnectionState) IsClosed(ch uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.closed[ch]
	return ok
}

// Opened lists the open channels in ascending order
func (s *ConnectionState) Opened() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uint16, 0, len(s.opened))
	for ch := range s.opened {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CloseAll marks every open channel closed, used when the connection ends
func (s *ConnectionState) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.opened {
		s.closed[ch] = struct{}{}
	}
	s.opened = make(map[uint16]struct{})
	s.suspended = make(map[uint16]struct{})
}
