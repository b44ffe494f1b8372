// File: multiserver/slots.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multiserver

import (
	"sync"

	"github.com/momentics/xshm"
	"github.com/momentics/xshm/auto"
)

// SlotState is a slot's position in its Free -> Reserved -> Occupied ->
// Draining -> Free lifecycle.
type SlotState int

const (
	SlotFree SlotState = iota
	SlotReserved
	SlotOccupied
	SlotDraining
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotReserved:
		return "reserved"
	case SlotOccupied:
		return "occupied"
	case SlotDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// SlotInfo is the read-only snapshot Slots() returns.
type SlotInfo struct {
	Index int
	State SlotState
}

// slot is one entry of the fixed-size slot table. Its own Server runs
// for the lifetime of the multi-server, across many client generations;
// only State and worker churn per occupancy.
type slot struct {
	mu     sync.Mutex
	state  SlotState
	server *xshm.Server
	worker *auto.Worker
}

func (s *slot) info(idx int) SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotInfo{Index: idx, State: s.state}
}

func (s *slot) setState(state SlotState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// tryReserve transitions Free -> Reserved and reports success, used by
// the lobby's assignment scan so two candidates can never race onto the
// same slot.
func (s *slot) tryReserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SlotFree {
		return false
	}
	s.state = SlotReserved
	return true
}

func (s *slot) setWorker(w *auto.Worker) {
	s.mu.Lock()
	s.worker = w
	s.mu.Unlock()
}
