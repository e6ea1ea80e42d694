package hypervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

func init() {
	RegisterDriver("test", func(u *URI) Driver { return NewTestDriver(u) })
}

// TestDriver is a deterministic in-memory hypervisor reachable via
// test:///default, in the spirit of libvirt's mock driver. It backs unit
// tests and gives the application something to connect to without a real
// control plane.
type TestDriver struct {
	uri *URI

	mu        sync.Mutex
	connected bool
	domains   []DomainRecord
	cpuPhase  int
}

// NewTestDriver builds the mock driver with one predefined running guest.
func NewTestDriver(u *URI) *TestDriver {
	return &TestDriver{
		uri: u,
		domains: []DomainRecord{
			{ID: 1, Name: "test", UUID: uuid.MustParse("6695eb01-f6a4-8304-79aa-97f2502e193f"), State: DomainRunning},
		},
	}
}

// Connect succeeds only for the default instance path.
func (d *TestDriver) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.uri != nil && d.uri.Path != "/default" {
		return fmt.Errorf("unknown test instance %q", d.uri.Path)
	}
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	return nil
}

func (d *TestDriver) Close() error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

func (d *TestDriver) HostInfo(ctx context.Context) (HostInfo, error) {
	if err := d.check(ctx); err != nil {
		return HostInfo{}, err
	}
	return HostInfo{Hostname: "test-host", CPUs: 2, MemoryKB: 2 * 1024 * 1024}, nil
}

func (d *TestDriver) Domains(ctx context.Context) ([]DomainRecord, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DomainRecord, len(d.domains))
	copy(out, d.domains)
	return out, nil
}

func (d *TestDriver) DomainStats(ctx context.Context, name string) (DomainStats, error) {
	if err := d.check(ctx); err != nil {
		return DomainStats{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rec := range d.domains {
		if rec.Name != name {
			continue
		}
		d.cpuPhase = (d.cpuPhase + 7) % 100
		return DomainStats{
			CPUPercent: float64(d.cpuPhase),
			MemoryKB:   512 * 1024,
			SampledAt:  time.Now(),
		}, nil
	}
	return DomainStats{}, fmt.Errorf("no domain named %q", name)
}

// AddDomain registers a new guest record.
func (d *TestDriver) AddDomain(rec DomainRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.domains = append(d.domains, rec)
}

// RemoveDomain drops the guest with the given name, if present.
func (d *TestDriver) RemoveDomain(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, rec := range d.domains {
		if rec.Name == name {
			d.domains = append(d.domains[:i], d.domains[i+1:]...)
			return
		}
	}
}

// RenameDomain changes a guest's name while keeping its UUID, so a
// following poll observes a rename rather than a remove/add pair.
func (d *TestDriver) RenameDomain(oldName, newName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, rec := range d.domains {
		if rec.Name == oldName {
			d.domains[i].Name = newName
			return
		}
	}
}

// SetDomainState overrides a guest's run state.
func (d *TestDriver) SetDomainState(name string, state DomainState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, rec := range d.domains {
		if rec.Name == name {
			d.domains[i].State = state
			return
		}
	}
}

func (d *TestDriver) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("test driver is not connected")
	}
	return nil
}
