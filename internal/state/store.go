package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/virtadm/virtui/internal/hypervisor"
)

// VMInfo is one guest as the UI sees it.
type VMInfo struct {
	Key   string
	ID    int
	UUID  string
	State hypervisor.DomainState
	Stats hypervisor.DomainStats
}

// ConnInfo is one registered endpoint and its guest list.
type ConnInfo struct {
	URI         string
	State       hypervisor.State
	Autoconnect bool
	Probe       bool
	Host        hypervisor.HostInfo
	HostKnown   bool
	VMs         []VMInfo
}

// Snapshot represents the latest engine data available to the UI.
type Snapshot struct {
	Conns       []ConnInfo
	Windows     int
	Degraded    bool // poll queue at capacity, ticks being dropped
	LastError   error
	LastUpdated time.Time
}

// ActiveConns counts endpoints currently connected.
func (s Snapshot) ActiveConns() int {
	n := 0
	for _, c := range s.Conns {
		if c.State == hypervisor.StateActive {
			n++
		}
	}
	return n
}

// Store coordinates concurrent updates to the snapshot. The engine's
// foreground loop is the single writer; the UI reads on its own schedule.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// Update replaces the stored snapshot with the engine's current view.
func (s *Store) Update(conns []ConnInfo, windows int, degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Conns = cloneConns(conns)
	s.snapshot.Windows = windows
	s.snapshot.Degraded = degraded
	s.snapshot.LastUpdated = time.Now()
}

// RecordError keeps the connection data but notes the most recent poll
// or connect failure for display.
func (s *Store) RecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.LastError = err
	s.snapshot.LastUpdated = time.Now()
}

// ClearError drops the recorded failure once the user dismisses it.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastError = nil
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.Conns = cloneConns(s.snapshot.Conns)
	if s.snapshot.LastError != nil {
		snap.LastError = fmt.Errorf("%w", s.snapshot.LastError)
	}
	return snap
}

func cloneConns(conns []ConnInfo) []ConnInfo {
	if len(conns) == 0 {
		return nil
	}
	dup := make([]ConnInfo, len(conns))
	copy(dup, conns)
	for i := range dup {
		if len(conns[i].VMs) == 0 {
			continue
		}
		dup[i].VMs = make([]VMInfo, len(conns[i].VMs))
		copy(dup[i].VMs, conns[i].VMs)
	}
	return dup
}
