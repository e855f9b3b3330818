// Package engine implements the session state machine that owns one
// reader's TCP connection: connect/reconnect, frame reassembly and
// dispatch, command pump from FME workers, reply matching, and the
// STS status API.
package engine

import (
	"sync"
	"time"
)

// State holds the mutable session flags and timers the main loop and
// the STS getstatus api-method both read and write, generalizing
// cloucon.py's free-standing SessionState object plus its timers_dict.
type State struct {
	mu sync.Mutex

	connected         bool
	shutdownRequested bool

	processUpSince    time.Time
	connectedSince    *time.Time
	disconnectedSince *time.Time
	readerLastActTime time.Time
}

// NewState creates a State stamped with the current time as process
// start.
func NewState() *State {
	return &State{processUpSince: time.Now()}
}

// MarkConnected records a successful connection at now.
func (s *State) MarkConnected(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.connectedSince = &now
	s.disconnectedSince = nil
	s.readerLastActTime = now
}

// MarkDisconnected records a lost or closed connection at now.
func (s *State) MarkDisconnected(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.disconnectedSince = &now
	s.connectedSince = nil
}

// TouchActivity records now as the last time a byte was received.
func (s *State) TouchActivity(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readerLastActTime = now
}

// RequestShutdown sets the shutdown-requested flag; the main loop
// checks it at the end of each iteration.
func (s *State) RequestShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownRequested = true
}

// IsConnected reports the current connection flag.
func (s *State) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ShutdownRequested reports whether shutdown has been requested.
func (s *State) ShutdownRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownRequested
}

// SinceLastActivity returns now minus the last-activity timestamp. If
// no activity has ever been recorded, it returns now minus process
// start, so a freshly-connected session isn't immediately treated as
// dead.
func (s *State) SinceLastActivity(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readerLastActTime.IsZero() {
		return now.Sub(s.processUpSince)
	}
	return now.Sub(s.readerLastActTime)
}

// Snapshot is an immutable copy of State for the getstatus api-method
// and for tests, taken without holding State's lock afterward.
type Snapshot struct {
	Connected         bool
	ShutdownRequested bool
	ProcessUpSince    time.Time
	ConnectedSince    *time.Time
	DisconnectedSince *time.Time
	ReaderLastActTime time.Time
}

// Snapshot takes a consistent point-in-time copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Connected:         s.connected,
		ShutdownRequested: s.shutdownRequested,
		ProcessUpSince:    s.processUpSince,
		ConnectedSince:    s.connectedSince,
		DisconnectedSince: s.disconnectedSince,
		ReaderLastActTime: s.readerLastActTime,
	}
}
