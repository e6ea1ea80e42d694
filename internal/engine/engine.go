package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/virtadm/virtui/internal/config"
	"github.com/virtadm/virtui/internal/hypervisor"
	"github.com/virtadm/virtui/internal/state"
)

const defaultPollInterval = 3 * time.Second

// connState is the per-endpoint UI bookkeeping owned by the foreground
// loop: which windows this connection has open, keyed by stable guest
// name for details windows.
type connState struct {
	conn          *hypervisor.Connection
	probe         bool
	windowHost    Window
	windowClone   Window
	windowDetails map[string]DetailsWindow
	unsubs        []func()
}

// Options wires the engine's collaborators together.
type Options struct {
	Log           *zap.Logger
	Config        *config.Store
	Store         *state.Store
	Windows       WindowFactory
	Errors        ErrorSurface
	Presence      Presence
	QueueCapacity int
	OnExit        func()
}

// Engine owns the connection registry, the tick scheduler, the window
// counter, and the command dispatcher. All of its mutable state is
// confined to the goroutine running Run; everything else talks to it
// through Async or the exported entry points, which post there. The tick
// queue is the single structure shared with the poll worker.
type Engine struct {
	log        *zap.Logger
	cfg        *config.Store
	store      *state.Store
	windowsFac WindowFactory
	errs       ErrorSurface
	presence   Presence
	onExit     func()

	queue      *tickQueue
	idle       chan func()
	quit       chan struct{}
	workerDone chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
	workerCtx  context.Context

	// Owned by the Run goroutine.
	conns         map[string]*connState
	windowManager ManagerWindow
	windowConnect Window
	windowCreate  Window
	windowMigrate Window
	createURI     string
	timer         *time.Timer
	period        time.Duration
	windows       int
	exited        bool
}

// New builds an engine. Run must be called before any entry point has an
// effect.
func New(opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	e := &Engine{
		log:        log,
		cfg:        opts.Config,
		store:      opts.Store,
		windowsFac: opts.Windows,
		errs:       opts.Errors,
		presence:   opts.Presence,
		onExit:     opts.OnExit,
		queue:      newTickQueue(opts.QueueCapacity, log),
		idle:       make(chan func(), 1024),
		quit:       make(chan struct{}),
		workerDone: make(chan struct{}),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		conns:      make(map[string]*connState),
	}
	e.workerCtx = baseCtx
	e.period = defaultPollInterval
	if e.cfg != nil {
		e.period = e.cfg.PollInterval()
	}
	return e
}

// Run is the foreground loop. It drains deferred tasks, fires the tick
// timer, and exits once the application shuts down or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	go e.runWorker()

	var offCfg func()
	if e.cfg != nil {
		offCfg = e.cfg.OnChange(func() {
			e.Async(e.configChanged)
		})
	}

	e.timer = time.NewTimer(e.period)
	e.tick()

	ctxDone := ctx.Done()
	for {
		select {
		case fn := <-e.idle:
			fn()
		case <-e.timer.C:
			e.tick()
			e.timer.Reset(e.period)
		case <-ctxDone:
			ctxDone = nil
			e.exitApp()
		case <-e.quit:
			if offCfg != nil {
				offCfg()
			}
			e.finish()
			return
		}
	}
}

// Async submits fn to the foreground loop. Submission order is preserved
// per caller; calls after shutdown are dropped.
func (e *Engine) Async(fn func()) {
	select {
	case <-e.quit:
	case e.idle <- fn:
	}
}

// Start seeds the engine: registers stored endpoints, dispatches the
// startup command (or shows the manager), and kicks off serialized
// autostart. With nothing stored and no command URI, a default local
// endpoint is probed shortly after startup.
func (e *Engine) Start(cmd *Command, skipAutostart bool) {
	e.Async(func() {
		if e.cfg != nil {
			for _, c := range e.cfg.Connections() {
				if _, err := e.addConn(c.URI, false); err != nil {
					e.log.Warn("skipping stored connection", zap.String("uri", c.URI), zap.Error(err))
				}
			}
			if len(e.conns) == 0 {
				e.log.Debug("no stored connection URIs found")
			}
		}

		if cmd != nil {
			e.handleCommand(*cmd)
		} else {
			e.showManager()
		}

		if !skipAutostart {
			e.autostartConns()
		}

		if len(e.conns) == 0 && (cmd == nil || cmd.URI == "") {
			time.AfterFunc(time.Second, func() {
				e.Async(e.addDefaultConn)
			})
		}
	})
}

// ExitApp requests application shutdown from any goroutine.
func (e *Engine) ExitApp() {
	e.Async(e.exitApp)
}

// Done is closed once the engine has fully shut down.
func (e *Engine) Done() <-chan struct{} {
	return e.workerDone
}

//
// Tick scheduling
//

// tick enqueues one low-priority full poll per known endpoint. Endpoints
// are walked in URI order so queue order is deterministic within a tick.
func (e *Engine) tick() {
	for _, uri := range e.sortedURIs() {
		e.queue.Enqueue(PriorityLow, e.conns[uri].conn, hypervisor.PollParams{
			StatsUpdate: true,
			PollVMs:     true,
		})
	}
}

// SchedulePriorityTick enqueues one high-priority poll, bypassing the
// timer. Safe from any goroutine.
func (e *Engine) SchedulePriorityTick(target Pollable, params hypervisor.PollParams) {
	e.queue.Enqueue(PriorityHigh, target, params)
}

func (e *Engine) configChanged() {
	if e.cfg == nil {
		return
	}
	if period := e.cfg.PollInterval(); period != e.period {
		e.log.Debug("rescheduling tick timer", zap.Duration("period", period))
		e.period = period
		if !e.timer.Stop() {
			select {
			case <-e.timer.C:
			default:
			}
		}
		e.timer.Reset(e.period)
	}
	// Turning background presence off with no windows open would strand
	// the process, so surface the manager again.
	if e.windows == 0 && (e.presence == nil || !e.presence.Visible()) {
		e.showManager()
	}
}

//
// Registry & lifecycle
//

func (e *Engine) sortedURIs() []string {
	uris := make([]string, 0, len(e.conns))
	for uri := range e.conns {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// addConn registers an endpoint, wiring its events into the engine. It
// is idempotent: an already-registered URI returns the existing state.
func (e *Engine) addConn(uri string, probe bool) (*connState, error) {
	if cs, ok := e.conns[uri]; ok {
		return cs, nil
	}
	parsed, err := hypervisor.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	conn := hypervisor.NewConnection(parsed, e.log)
	cs := &connState{
		conn:          conn,
		probe:         probe,
		windowDetails: make(map[string]DetailsWindow),
	}
	cs.unsubs = append(cs.unsubs,
		conn.OnStateChanged(func() {
			e.Async(func() { e.connStateChanged(cs) })
		}),
		conn.OnVMAdded(func(string) {
			e.Async(e.publish)
		}),
		conn.OnVMRemoved(func(key string) {
			e.Async(func() { e.vmRemoved(cs, key) })
		}),
		conn.OnVMRenamed(func(r hypervisor.Rename) {
			e.Async(func() { e.vmRenamed(cs, r) })
		}),
		conn.OnConnectError(func(ce hypervisor.ConnectError) {
			e.Async(func() { e.connectError(cs, ce) })
		}),
		conn.OnPriorityTick(func(p hypervisor.PollParams) {
			e.SchedulePriorityTick(conn, p)
		}),
	)
	e.conns[uri] = cs
	if !probe && e.cfg != nil {
		// An already-stored endpoint keeps its persisted autoconnect
		// flag; persisting the fresh connection's default here would
		// wipe it.
		if stored, ok := e.cfg.Connection(uri); ok {
			conn.SetAutoconnect(stored.Autoconnect)
		} else {
			e.cfg.RememberConnection(uri, conn.Autoconnect())
		}
	}
	e.publish()
	return cs, nil
}

// removeConn tears down the endpoint's UI state before dropping it from
// the registry and persistent storage.
func (e *Engine) removeConn(uri string) {
	cs, ok := e.conns[uri]
	if !ok {
		return
	}
	e.cleanupConnState(cs)
	for _, off := range cs.unsubs {
		off()
	}
	cs.conn.Close()
	delete(e.conns, uri)
	if e.cfg != nil {
		e.cfg.ForgetConnection(uri)
	}
	e.publish()
}

func (e *Engine) cleanupConnState(cs *connState) {
	if cs.windowHost != nil {
		cs.windowHost.Cleanup()
		cs.windowHost = nil
	}
	if cs.windowClone != nil {
		cs.windowClone.Cleanup()
		cs.windowClone = nil
	}
	for key, win := range cs.windowDetails {
		win.Cleanup()
		delete(cs.windowDetails, key)
	}
}

// ConnectOptions modify ConnectToURI.
type ConnectOptions struct {
	Probe          bool
	SetAutoconnect bool
	Autoconnect    bool
}

func (e *Engine) connectToURI(uri string, opts ConnectOptions) {
	cs, err := e.addConn(uri, opts.Probe)
	if err != nil {
		e.showError(fmt.Sprintf("Invalid connection URI: %v", err), "", false)
		return
	}
	if opts.SetAutoconnect {
		cs.conn.SetAutoconnect(opts.Autoconnect)
		if !cs.probe && e.cfg != nil {
			e.cfg.RememberConnection(uri, opts.Autoconnect)
		}
	}
	cs.conn.Open(e.baseCtx)
}

// connStateChanged mirrors the registry to the UI snapshot and tears
// down guest windows once a connection is no longer usable.
func (e *Engine) connStateChanged(cs *connState) {
	conn := cs.conn
	if !conn.IsActive() && !conn.IsConnecting() {
		for key, win := range cs.windowDetails {
			win.Cleanup()
			delete(cs.windowDetails, key)
		}
		if e.windowCreate != nil && e.createURI == conn.URI() {
			e.windowCreate.Cleanup()
			e.windowCreate = nil
			e.createURI = ""
		}
	}
	e.publish()
}

func (e *Engine) vmRemoved(cs *connState, key string) {
	if win, ok := cs.windowDetails[key]; ok {
		win.Cleanup()
		delete(cs.windowDetails, key)
	}
	e.publish()
}

// vmRenamed moves the details window under the guest's new key.
func (e *Engine) vmRenamed(cs *connState, r hypervisor.Rename) {
	if win, ok := cs.windowDetails[r.OldKey]; ok {
		delete(cs.windowDetails, r.OldKey)
		cs.windowDetails[r.NewKey] = win
	}
	e.publish()
}

//
// Autostart
//

// autostartConns opens flagged endpoints one at a time, waiting for each
// to settle out of connecting before starting the next, so credential
// prompts never stack up.
func (e *Engine) autostartConns() {
	var uris []string
	for _, uri := range e.sortedURIs() {
		if e.conns[uri].conn.Autoconnect() {
			uris = append(uris, uri)
		}
	}
	if len(uris) == 0 {
		return
	}
	e.log.Debug("autostarting connections", zap.Strings("uris", uris))

	go func() {
		for _, uri := range uris {
			settled := make(chan struct{})
			offCh := make(chan func(), 1)
			e.Async(func() {
				cs, ok := e.conns[uri]
				if !ok {
					offCh <- func() {}
					close(settled)
					return
				}
				conn := cs.conn
				var closed bool
				off := conn.OnStateChanged(func() {
					if conn.IsConnecting() {
						return
					}
					e.Async(func() {
						if !closed {
							closed = true
							close(settled)
						}
					})
				})
				offCh <- off
				if conn.IsActive() {
					if !closed {
						closed = true
						close(settled)
					}
					return
				}
				conn.Open(e.baseCtx)
			})
			off := <-offCh
			select {
			case <-settled:
			case <-e.quit:
				off()
				return
			}
			off()
		}
	}()
}

// addDefaultConn probes a default local endpoint when the user has
// nothing configured at all.
func (e *Engine) addDefaultConn() {
	if len(e.conns) > 0 {
		return
	}
	uri := "test:///default"
	e.log.Debug("probing default connection", zap.String("uri", uri))
	e.connectToURI(uri, ConnectOptions{SetAutoconnect: true, Autoconnect: true})
}

//
// Errors
//

func (e *Engine) showError(msg, details string, modal bool) {
	e.log.Error(msg, zap.String("details", details))
	if e.store != nil {
		e.store.RecordError(errors.New(msg))
	}
	if e.errs != nil {
		e.errs.ShowError(msg, details, modal)
	}
}

// handleTickError surfaces a failed poll. With zero windows open only
// the background-presence indicator is running, so a dialog would appear
// out of nowhere; log instead.
func (e *Engine) handleTickError(msg, details string) {
	if e.windows <= 0 {
		e.log.Debug("poll error with no windows open", zap.String("msg", msg), zap.String("details", details))
		if e.store != nil {
			e.store.RecordError(errors.New(msg))
		}
		return
	}
	e.showError(msg, details, false)
}

// connectError classifies a failed connection attempt by transport to
// pick a hint, then routes it through the probe-retain prompt or a plain
// error dialog.
func (e *Engine) connectError(cs *connState, ce hypervisor.ConnectError) {
	uri := cs.conn.ParsedURI()
	hint := connectHint(uri, ce.Details)

	msg := ce.Msg
	if hint != "" {
		msg += "\n\n" + hint
	}
	details := ce.Details

	if cs.probe {
		msg += "\n\nWould you still like to remember this connection?"
		if e.errs == nil {
			return
		}
		e.errs.AskRetain(msg, details, func(retain bool) {
			e.Async(func() { e.probeAnswered(cs, retain) })
		})
		return
	}

	if e.canExit() {
		e.showError(msg, details, true)
		e.exitIfNoWindows()
		return
	}
	e.showError(msg, details, false)
}

func (e *Engine) probeAnswered(cs *connState, retain bool) {
	if retain {
		cs.probe = false
		if e.cfg != nil {
			e.cfg.RememberConnection(cs.conn.URI(), cs.conn.Autoconnect())
		}
		return
	}
	e.showConnectDialog()
	e.removeConn(cs.conn.URI())
}

func connectHint(u *hypervisor.URI, details string) string {
	if u.IsRemote() {
		if u.Transport == hypervisor.TransportSSH &&
			(strings.Contains(details, "ssh") || strings.Contains(details, "dial")) {
			return "Verify that ssh access to the remote host works and that a " +
				"virtualization daemon is running there."
		}
		return "Verify that the virtualization daemon is running on the remote host."
	}
	if u.IsXen() {
		return "Verify that:\n" +
			" - A Xen host kernel was booted\n" +
			" - The Xen service has been started"
	}
	if strings.Contains(details, "no driver registered") {
		return "Verify that the virtualization packages for this hypervisor are installed."
	}
	return "Verify that the virtualization daemon is running."
}

//
// Window counter & shutdown
//

// IncrementWindowCounter records one opened top-level window.
func (e *Engine) IncrementWindowCounter() {
	e.Async(func() {
		e.windows++
		e.log.Debug("window counter incremented", zap.Int("windows", e.windows))
		e.publish()
	})
}

// DecrementWindowCounter records one closed window and schedules the
// deferred zero-windows exit check.
func (e *Engine) DecrementWindowCounter() {
	e.Async(func() {
		e.windows--
		e.log.Debug("window counter decremented", zap.Int("windows", e.windows))
		e.publish()
		e.exitIfNoWindows()
	})
}

// exitIfNoWindows posts the exit check to the next idle slot rather than
// running it inline: the closing window is usually still unwinding when
// the counter hits zero.
func (e *Engine) exitIfNoWindows() {
	e.Async(func() {
		if e.canExit() {
			e.log.Debug("no windows remain, requesting app exit")
			e.exitApp()
		}
	})
}

func (e *Engine) canExit() bool {
	return e.windows <= 0 && (e.presence == nil || !e.presence.Visible())
}

// exitApp tears the application down exactly once: timer stopped, all
// endpoint UI state and endpoints released, presence indicator dropped,
// then the run loop is signalled.
func (e *Engine) exitApp() {
	if e.exited {
		return
	}
	e.exited = true
	e.log.Debug("exiting app")

	if e.timer != nil {
		e.timer.Stop()
	}
	if e.windowManager != nil {
		e.windowManager.Cleanup()
		e.windowManager = nil
	}
	if e.windowConnect != nil {
		e.windowConnect.Cleanup()
		e.windowConnect = nil
	}
	if e.windowCreate != nil {
		e.windowCreate.Cleanup()
		e.windowCreate = nil
	}
	if e.windowMigrate != nil {
		e.windowMigrate.Cleanup()
		e.windowMigrate = nil
	}
	for _, uri := range e.sortedURIs() {
		cs := e.conns[uri]
		e.cleanupConnState(cs)
		for _, off := range cs.unsubs {
			off()
		}
		cs.conn.Close()
		delete(e.conns, uri)
	}
	if e.presence != nil {
		e.presence.Cleanup()
	}
	close(e.quit)
}

// finish runs after the loop stops: the worker drains out and the exit
// callback fires.
func (e *Engine) finish() {
	e.queue.Close()
	e.baseCancel()
	<-e.workerDone
	if e.onExit != nil {
		e.onExit()
	}
}

//
// Snapshot publishing
//

func (e *Engine) publish() {
	if e.store == nil {
		return
	}
	conns := make([]state.ConnInfo, 0, len(e.conns))
	for _, uri := range e.sortedURIs() {
		cs := e.conns[uri]
		conn := cs.conn
		info := state.ConnInfo{
			URI:         uri,
			State:       conn.State(),
			Autoconnect: conn.Autoconnect(),
			Probe:       cs.probe,
		}
		info.Host, info.HostKnown = conn.HostInfo()
		for _, vm := range conn.ListVMs() {
			info.VMs = append(info.VMs, state.VMInfo{
				Key:   vm.Name(),
				ID:    vm.ID(),
				UUID:  vm.UUID().String(),
				State: vm.RunState(),
				Stats: vm.Stats(),
			})
		}
		conns = append(conns, info)
	}
	e.store.Update(conns, e.windows, e.queue.Slow())
}
