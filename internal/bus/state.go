package bus

import (
	"sync"
	"time"
)

// ConnectionSnapshot is a point-in-time copy of the broker connection status.
type ConnectionSnapshot struct {
	IsConnected        bool       `json:"isConnected"`
	LastConnectedAt    *time.Time `json:"lastConnectedAt"`
	LastDisconnectedAt *time.Time `json:"lastDisconnectedAt"`
}

// ConnectionState tracks connection transitions for health reporting.
type ConnectionState struct {
	mu        sync.RWMutex
	snapshot  ConnectionSnapshot
	listeners []func(ConnectionSnapshot)
}

func NewConnectionState() *ConnectionState {
	return &ConnectionState{}
}

// OnChange registers fn to run after every transition. Register listeners
// before the connection manager starts.
func (s *ConnectionState) OnChange(fn func(ConnectionSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *ConnectionState) MarkConnected(at time.Time) {
	s.set(true, at)
}

func (s *ConnectionState) MarkDisconnected(at time.Time) {
	s.set(false, at)
}

func (s *ConnectionState) set(connected bool, at time.Time) {
	at = at.UTC()

	s.mu.Lock()
	changed := s.snapshot.IsConnected != connected
	s.snapshot.IsConnected = connected
	if connected {
		s.snapshot.LastConnectedAt = &at
	} else {
		s.snapshot.LastDisconnectedAt = &at
	}
	snap := s.snapshot
	listeners := append([]func(ConnectionSnapshot){}, s.listeners...)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(snap)
	}
}

func (s *ConnectionState) Snapshot() ConnectionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}
