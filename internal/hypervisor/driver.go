package hypervisor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HostInfo describes the hypervisor host, shown in the summary window.
type HostInfo struct {
	Hostname string
	CPUs     int
	MemoryKB uint64
}

// Driver is the minimal control-plane surface the engine needs from a
// hypervisor binding. Implementations must be safe for use from the poll
// worker while Connect/Close run elsewhere.
type Driver interface {
	Connect(ctx context.Context) error
	Close() error
	HostInfo(ctx context.Context) (HostInfo, error)
	Domains(ctx context.Context) ([]DomainRecord, error)
	DomainStats(ctx context.Context, name string) (DomainStats, error)
}

// DriverFactory builds a driver for a parsed URI.
type DriverFactory func(u *URI) Driver

var (
	driversMu sync.RWMutex
	drivers   = map[string]DriverFactory{}
)

// RegisterDriver installs a factory for a URI driver scheme. Later
// registrations replace earlier ones.
func RegisterDriver(scheme string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[scheme] = factory
}

func newDriver(u *URI) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[u.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no driver registered for scheme %q", u.Driver)
	}
	return factory(u), nil
}

const connectTimeout = 20 * time.Second
