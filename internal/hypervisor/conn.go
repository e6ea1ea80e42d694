package hypervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the liveness of a connection endpoint.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "disconnected"
	}
}

// PollParams select what a single poll refreshes.
type PollParams struct {
	StatsUpdate bool
	PollVMs     bool
}

// ConnectError carries the user-facing message and full diagnostic detail
// for a failed connection attempt.
type ConnectError struct {
	Msg     string
	Details string
}

// Rename is the payload of a vm-renamed event.
type Rename struct {
	OldKey string
	NewKey string
}

// Connection is a single hypervisor endpoint and its guest set. Open runs
// asynchronously; TickFromEngine is only ever invoked by the poll worker.
// Event handlers may fire from either path, so engine subscribers hop to
// the foreground loop themselves.
type Connection struct {
	uri *URI
	log *zap.Logger

	mu          sync.Mutex
	state       State
	autoconnect bool
	driver      Driver
	host        HostInfo
	hostKnown   bool
	vms         map[string]*VM

	stateChanged handlers[struct{}]
	vmAdded      handlers[string]
	vmRemoved    handlers[string]
	vmRenamed    handlers[Rename]
	connectErr   handlers[ConnectError]
	priorityTick handlers[PollParams]
}

// NewConnection builds a registered but unopened endpoint.
func NewConnection(uri *URI, log *zap.Logger) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connection{
		uri: uri,
		log: log.With(zap.String("uri", uri.Raw)),
		vms: make(map[string]*VM),
	}
}

// URI returns the raw connection URI, the registry key.
func (c *Connection) URI() string { return c.uri.Raw }

// ParsedURI exposes the split URI for transport classification.
func (c *Connection) ParsedURI() *URI { return c.uri }

func (c *Connection) IsActive() bool       { return c.currentState() == StateActive }
func (c *Connection) IsConnecting() bool   { return c.currentState() == StateConnecting }
func (c *Connection) IsDisconnected() bool { return c.currentState() == StateDisconnected }

// State returns the endpoint's current liveness.
func (c *Connection) State() State { return c.currentState() }

func (c *Connection) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Autoconnect reports whether this endpoint opens automatically at startup.
func (c *Connection) Autoconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoconnect
}

// SetAutoconnect flags the endpoint for serialized startup opening.
func (c *Connection) SetAutoconnect(v bool) {
	c.mu.Lock()
	c.autoconnect = v
	c.mu.Unlock()
}

// Event subscriptions. Each returns an unsubscribe func.

func (c *Connection) OnStateChanged(fn func()) func() {
	return c.stateChanged.add(func(struct{}) { fn() })
}
func (c *Connection) OnVMAdded(fn func(key string)) func()   { return c.vmAdded.add(fn) }
func (c *Connection) OnVMRemoved(fn func(key string)) func() { return c.vmRemoved.add(fn) }
func (c *Connection) OnVMRenamed(fn func(r Rename)) func()   { return c.vmRenamed.add(fn) }
func (c *Connection) OnConnectError(fn func(e ConnectError)) func() {
	return c.connectErr.add(fn)
}
func (c *Connection) OnPriorityTick(fn func(p PollParams)) func() {
	return c.priorityTick.add(fn)
}

// RequestPriorityTick asks the engine for one fast out-of-band poll.
func (c *Connection) RequestPriorityTick(p PollParams) {
	c.priorityTick.fire(p)
}

// Open starts an asynchronous connection attempt. It is a no-op unless
// the endpoint is currently disconnected.
func (c *Connection) Open(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.stateChanged.fire(struct{}{})

	go c.open(ctx)
}

func (c *Connection) open(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	fail := func(err error) {
		c.log.Warn("connection open failed", zap.Error(err))
		c.mu.Lock()
		c.state = StateDisconnected
		c.driver = nil
		c.mu.Unlock()
		c.connectErr.fire(ConnectError{
			Msg:     fmt.Sprintf("Unable to connect to %s.", c.uri.Raw),
			Details: fmt.Sprintf("Connection URI is: %s\n\n%v", c.uri.Raw, err),
		})
		c.stateChanged.fire(struct{}{})
	}

	if c.uri.Transport == TransportSSH {
		if err := sshPreflight(ctx, c.uri); err != nil {
			fail(fmt.Errorf("ssh transport check: %w", err))
			return
		}
	}

	drv, err := newDriver(c.uri)
	if err != nil {
		fail(err)
		return
	}
	if err := drv.Connect(ctx); err != nil {
		fail(fmt.Errorf("open %s: %w", c.uri.Raw, err))
		return
	}

	c.mu.Lock()
	c.driver = drv
	c.state = StateActive
	c.mu.Unlock()

	// Populate the guest list before announcing the active state, so
	// anything reacting to it (a startup command targeting a guest, the
	// manager view) sees a complete picture.
	if err := c.TickFromEngine(ctx, PollParams{StatsUpdate: true, PollVMs: true}); err != nil {
		c.log.Warn("initial poll failed", zap.Error(err))
	}

	c.log.Info("connection active")
	c.stateChanged.fire(struct{}{})

	// Get onto the regular poll schedule without waiting out the timer.
	c.priorityTick.fire(PollParams{StatsUpdate: true, PollVMs: true})
}

// Close drops the driver connection and forgets the guest set.
func (c *Connection) Close() {
	c.mu.Lock()
	drv := c.driver
	wasDisconnected := c.state == StateDisconnected
	c.driver = nil
	c.state = StateDisconnected
	c.vms = make(map[string]*VM)
	c.hostKnown = false
	c.mu.Unlock()

	if drv != nil {
		if err := drv.Close(); err != nil {
			c.log.Warn("driver close failed", zap.Error(err))
		}
	}
	if !wasDisconnected {
		c.stateChanged.fire(struct{}{})
	}
}

// TickFromEngine performs the actual poll for one work item. It runs on
// the poll worker and may block on driver I/O. Inactive endpoints are
// skipped without error.
func (c *Connection) TickFromEngine(ctx context.Context, p PollParams) error {
	c.mu.Lock()
	drv := c.driver
	state := c.state
	c.mu.Unlock()
	if state != StateActive || drv == nil {
		return nil
	}

	if p.PollVMs {
		records, err := drv.Domains(ctx)
		if err != nil {
			return fmt.Errorf("poll domains on %s: %w", c.uri.Raw, err)
		}
		c.reconcile(records)
	}

	if p.StatsUpdate {
		if err := c.refreshStats(ctx, drv); err != nil {
			return err
		}
	}
	return nil
}

// HostInfo returns the cached host description, valid once a stats poll
// has completed on an active connection.
func (c *Connection) HostInfo() (HostInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host, c.hostKnown
}

// ListVMs returns the known guests sorted by name.
func (c *Connection) ListVMs() []*VM {
	c.mu.Lock()
	out := make([]*VM, 0, len(c.vms))
	for _, vm := range c.vms {
		out = append(out, vm)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// GetVM looks up a guest by its stable key.
func (c *Connection) GetVM(key string) (*VM, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vm, ok := c.vms[key]
	return vm, ok
}

func (c *Connection) refreshStats(ctx context.Context, drv Driver) error {
	c.mu.Lock()
	known := c.hostKnown
	vms := make([]*VM, 0, len(c.vms))
	for _, vm := range c.vms {
		vms = append(vms, vm)
	}
	c.mu.Unlock()

	if !known {
		info, err := drv.HostInfo(ctx)
		if err != nil {
			return fmt.Errorf("host info on %s: %w", c.uri.Raw, err)
		}
		c.mu.Lock()
		c.host = info
		c.hostKnown = true
		c.mu.Unlock()
	}

	for _, vm := range vms {
		if vm.RunState() != DomainRunning {
			continue
		}
		stats, err := drv.DomainStats(ctx, vm.Name())
		if err != nil {
			return fmt.Errorf("stats for %q on %s: %w", vm.Name(), c.uri.Raw, err)
		}
		vm.setStats(stats)
	}
	return nil
}

// reconcile diffs the polled domain list against the known guest set and
// emits added/removed/renamed events. Renames are recognized by UUID so
// window maps can move entries instead of destroying them.
func (c *Connection) reconcile(records []DomainRecord) {
	var added, removed []string
	var renamed []Rename

	c.mu.Lock()
	byUUID := make(map[uuid.UUID]*VM, len(c.vms))
	for _, vm := range c.vms {
		byUUID[vm.UUID()] = vm
	}
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		seen[rec.Name] = true
		if vm, ok := c.vms[rec.Name]; ok {
			vm.update(rec)
			continue
		}
		if vm, ok := byUUID[rec.UUID]; ok {
			// Same guest under a new name.
			oldKey := vm.Name()
			delete(c.vms, oldKey)
			vm.update(rec)
			c.vms[rec.Name] = vm
			renamed = append(renamed, Rename{OldKey: oldKey, NewKey: rec.Name})
			continue
		}
		c.vms[rec.Name] = newVM(rec)
		added = append(added, rec.Name)
	}
	for key := range c.vms {
		if !seen[key] {
			delete(c.vms, key)
			removed = append(removed, key)
		}
	}
	c.mu.Unlock()

	for _, r := range renamed {
		c.log.Debug("vm renamed", zap.String("old", r.OldKey), zap.String("new", r.NewKey))
		c.vmRenamed.fire(r)
	}
	for _, key := range added {
		c.vmAdded.fire(key)
	}
	for _, key := range removed {
		c.vmRemoved.fire(key)
	}
}
