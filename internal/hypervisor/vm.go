package hypervisor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DomainState is the run state of a guest as reported by the driver.
type DomainState string

const (
	DomainRunning DomainState = "running"
	DomainPaused  DomainState = "paused"
	DomainShutoff DomainState = "shutoff"
	DomainCrashed DomainState = "crashed"
	DomainBlocked DomainState = "blocked"
	DomainNoState DomainState = "unknown"
)

// DomainStats is a single polling sample for a guest.
type DomainStats struct {
	CPUPercent float64
	MemoryKB   uint64
	SampledAt  time.Time
}

// DomainRecord is the driver's view of one guest, returned by Domains.
type DomainRecord struct {
	ID    int // hypervisor-assigned id; -1 when not running
	Name  string
	UUID  uuid.UUID
	State DomainState
}

// VM is the engine-side record for a guest on one connection. The name is
// the stable key used by per-connection window maps; renames are handled
// by the owning Connection, which moves the record under the new key.
type VM struct {
	mu    sync.Mutex
	id    int
	name  string
	uuid  uuid.UUID
	state DomainState
	stats DomainStats
}

func newVM(rec DomainRecord) *VM {
	return &VM{id: rec.ID, name: rec.Name, uuid: rec.UUID, state: rec.State}
}

// ID returns the hypervisor-assigned numeric id, -1 for inactive guests.
func (v *VM) ID() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.id
}

// Name returns the guest name, which doubles as the connection key.
func (v *VM) Name() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.name
}

// UUID returns the guest's stable identity.
func (v *VM) UUID() uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.uuid
}

// RunState returns the last polled run state.
func (v *VM) RunState() DomainState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Stats returns the most recent polling sample.
func (v *VM) Stats() DomainStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

func (v *VM) update(rec DomainRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.id = rec.ID
	v.name = rec.Name
	v.state = rec.State
}

func (v *VM) setStats(s DomainStats) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stats = s
}
