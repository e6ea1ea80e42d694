package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtadm/virtui/internal/hypervisor"
	"github.com/virtadm/virtui/internal/state"
)

//
// Fakes
//

type fakeWindow struct {
	mu       sync.Mutex
	shows    int
	cleanups int
	visible  bool
}

func (w *fakeWindow) Show() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shows++
	w.visible = true
	return nil
}

func (w *fakeWindow) Cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleanups++
	w.visible = false
}

func (w *fakeWindow) IsVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

func (w *fakeWindow) showCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shows
}

func (w *fakeWindow) cleanupCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cleanups
}

type fakeManager struct {
	fakeWindow
	selected []string
}

func (m *fakeManager) SelectConnection(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = append(m.selected, uri)
}

type fakeDetails struct {
	fakeWindow
	pages []DetailsPage
}

func (d *fakeDetails) ActivatePage(page DetailsPage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages = append(d.pages, page)
}

func (d *fakeDetails) activatedPages() []DetailsPage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DetailsPage(nil), d.pages...)
}

// fakeFactory records every window it built.
type fakeFactory struct {
	mu      sync.Mutex
	manager *fakeManager
	hosts   []*fakeWindow
	details []*fakeDetails
	creates []*fakeWindow

	connectCompleted func(uri string, autoconnect bool)
	connectCancelled func()
}

func (f *fakeFactory) Manager() ManagerWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manager = &fakeManager{}
	return f.manager
}

func (f *fakeFactory) HostSummary(conn *hypervisor.Connection) Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWindow{}
	f.hosts = append(f.hosts, w)
	return w
}

func (f *fakeFactory) Details(conn *hypervisor.Connection, vm *hypervisor.VM) DetailsWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fakeDetails{}
	f.details = append(f.details, d)
	return d
}

func (f *fakeFactory) Clone(conn *hypervisor.Connection, vm *hypervisor.VM) Window {
	return &fakeWindow{}
}

func (f *fakeFactory) Migrate(conn *hypervisor.Connection, vm *hypervisor.VM) Window {
	return &fakeWindow{}
}

func (f *fakeFactory) Create(conn *hypervisor.Connection) Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWindow{}
	f.creates = append(f.creates, w)
	return w
}

func (f *fakeFactory) ConnectDialog(completed func(uri string, autoconnect bool), cancelled func()) Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCompleted = completed
	f.connectCancelled = cancelled
	return &fakeWindow{}
}

func (f *fakeFactory) latestDetails() *fakeDetails {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.details) == 0 {
		return nil
	}
	return f.details[len(f.details)-1]
}

type fakeErrors struct {
	mu        sync.Mutex
	shown     []string
	modals    []bool
	retainMsg string
	answer    func(bool)
}

func (f *fakeErrors) ShowError(msg, details string, modal bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, msg)
	f.modals = append(f.modals, modal)
}

func (f *fakeErrors) AskRetain(msg, details string, answer func(retain bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retainMsg = msg
	f.answer = answer
}

func (f *fakeErrors) shownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shown)
}

func (f *fakeErrors) retainAnswer() func(bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answer
}

type fakePresence struct {
	mu       sync.Mutex
	visible  bool
	cleanups int
}

func (p *fakePresence) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

func (p *fakePresence) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanups++
}

func (p *fakePresence) setVisible(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = v
}

//
// Harness
//

type testEnv struct {
	engine *Engine
	fac    *fakeFactory
	errs   *fakeErrors
	store  *state.Store
	exited chan struct{}
}

func newTestEngine(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		fac:    &fakeFactory{},
		errs:   &fakeErrors{},
		store:  &state.Store{},
		exited: make(chan struct{}),
	}
	o := Options{
		Store:   env.store,
		Windows: env.fac,
		Errors:  env.errs,
		OnExit:  func() { close(env.exited) },
	}
	for _, opt := range opts {
		opt(&o)
	}
	env.engine = New(o)
	go env.engine.Run(context.Background())
	t.Cleanup(func() {
		env.engine.ExitApp()
		select {
		case <-env.exited:
		case <-time.After(5 * time.Second):
			t.Error("engine did not shut down")
		}
	})
	return env
}

// flush waits until the foreground loop has drained every task queued
// before the call.
func (env *testEnv) flush(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	env.engine.Async(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("foreground loop did not drain")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

//
// Window counter & exit lifecycle
//

func TestEngine_ExitsWhenLastWindowCloses(t *testing.T) {
	env := newTestEngine(t)

	env.engine.IncrementWindowCounter()
	env.engine.IncrementWindowCounter()
	env.flush(t)
	assert.Equal(t, 2, env.store.Snapshot().Windows)

	env.engine.DecrementWindowCounter()
	env.flush(t)
	select {
	case <-env.exited:
		t.Fatal("engine exited with a window still open")
	default:
	}

	env.engine.DecrementWindowCounter()
	select {
	case <-env.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not exit after last window closed")
	}
}

func TestEngine_PresenceKeepsProcessAlive(t *testing.T) {
	presence := &fakePresence{visible: true}
	env := newTestEngine(t, func(o *Options) { o.Presence = presence })

	env.engine.IncrementWindowCounter()
	env.engine.DecrementWindowCounter()
	env.flush(t)
	env.flush(t) // deferred exit check runs one hop later
	select {
	case <-env.exited:
		t.Fatal("engine exited despite visible presence indicator")
	default:
	}

	// Presence gone: the next zero-windows check exits.
	presence.setVisible(false)
	env.engine.IncrementWindowCounter()
	env.engine.DecrementWindowCounter()
	select {
	case <-env.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not exit once presence went away")
	}
}

//
// Connection registry
//

func TestEngine_ConnectActivatesAndPublishes(t *testing.T) {
	env := newTestEngine(t)
	env.engine.IncrementWindowCounter()

	env.engine.Connect("test:///default", ConnectOptions{})

	waitFor(t, "connection to activate", func() bool {
		snap := env.store.Snapshot()
		return len(snap.Conns) == 1 && snap.Conns[0].State == hypervisor.StateActive
	})
	// The activation priority tick polls guests without waiting for the
	// timer.
	waitFor(t, "guest list to appear", func() bool {
		snap := env.store.Snapshot()
		return len(snap.Conns) == 1 && len(snap.Conns[0].VMs) == 1 && snap.Conns[0].VMs[0].Key == "test"
	})
}

func TestEngine_ConnectIsIdempotent(t *testing.T) {
	env := newTestEngine(t)
	env.engine.IncrementWindowCounter()

	env.engine.Connect("test:///default", ConnectOptions{})
	env.engine.Connect("test:///default", ConnectOptions{})
	env.flush(t)

	snap := env.store.Snapshot()
	require.Len(t, snap.Conns, 1)
}

func TestEngine_RemoveConnectionTearsDownWindows(t *testing.T) {
	env := newTestEngine(t)
	env.engine.IncrementWindowCounter()

	env.engine.Connect("test:///default", ConnectOptions{})
	waitFor(t, "guest list", func() bool {
		snap := env.store.Snapshot()
		return len(snap.Conns) == 1 && len(snap.Conns[0].VMs) == 1
	})

	env.engine.ShowHostSummary("test:///default")
	env.engine.ShowDomainDetails("test:///default", "test")
	env.flush(t)
	require.NotNil(t, env.fac.latestDetails())
	require.Equal(t, 1, env.fac.latestDetails().showCount())

	env.engine.RemoveConnection("test:///default")
	env.flush(t)

	snap := env.store.Snapshot()
	assert.Empty(t, snap.Conns)
	assert.Equal(t, 1, env.fac.latestDetails().cleanupCount())
	assert.Equal(t, 1, env.fac.hosts[0].cleanupCount())
}

func TestEngine_DetailsWindowReusedPerGuest(t *testing.T) {
	env := newTestEngine(t)
	env.engine.IncrementWindowCounter()

	env.engine.Connect("test:///default", ConnectOptions{})
	waitFor(t, "guest list", func() bool {
		snap := env.store.Snapshot()
		return len(snap.Conns) == 1 && len(snap.Conns[0].VMs) == 1
	})

	env.engine.ShowDomainDetails("test:///default", "test")
	env.engine.ShowDomainDetails("test:///default", "test")
	env.flush(t)

	env.fac.mu.Lock()
	built := len(env.fac.details)
	env.fac.mu.Unlock()
	assert.Equal(t, 1, built, "details window should be cached per guest")
	assert.Equal(t, 2, env.fac.latestDetails().showCount())
}

//
// Errors
//

func TestEngine_ConnectFailureShowsError(t *testing.T) {
	env := newTestEngine(t)
	env.engine.IncrementWindowCounter()

	env.engine.Connect("test:///nope", ConnectOptions{})

	waitFor(t, "connect error surface", func() bool { return env.errs.shownCount() > 0 })
	env.errs.mu.Lock()
	msg := env.errs.shown[0]
	env.errs.mu.Unlock()
	assert.Contains(t, msg, "Unable to connect to test:///nope.")
}

func TestEngine_ProbeFailurePromptsRetain(t *testing.T) {
	env := newTestEngine(t)
	env.engine.IncrementWindowCounter()

	env.engine.Connect("test:///nope", ConnectOptions{Probe: true})

	waitFor(t, "retain prompt", func() bool { return env.errs.retainAnswer() != nil })
	env.errs.mu.Lock()
	msg := env.errs.retainMsg
	env.errs.mu.Unlock()
	assert.Contains(t, msg, "remember this connection")

	// Declining forgets the endpoint and reopens the connect dialog.
	env.errs.retainAnswer()(false)
	waitFor(t, "connection removal", func() bool {
		return len(env.store.Snapshot().Conns) == 0
	})
	env.fac.mu.Lock()
	dialogBuilt := env.fac.connectCompleted != nil
	env.fac.mu.Unlock()
	assert.True(t, dialogBuilt, "connect dialog should reopen after decline")
}

func TestEngine_ProbeRetainKeepsConnection(t *testing.T) {
	env := newTestEngine(t)
	env.engine.IncrementWindowCounter()

	env.engine.Connect("test:///nope", ConnectOptions{Probe: true})
	waitFor(t, "retain prompt", func() bool { return env.errs.retainAnswer() != nil })

	env.errs.retainAnswer()(true)
	env.flush(t)

	snap := env.store.Snapshot()
	require.Len(t, snap.Conns, 1)
	assert.False(t, snap.Conns[0].Probe, "retained probe should become a real connection")
}

func TestEngine_TickErrorSuppressedWithoutWindows(t *testing.T) {
	env := newTestEngine(t)

	bad := &fakePollable{uri: "test:///bad", err: context.DeadlineExceeded}
	env.engine.SchedulePriorityTick(bad, hypervisor.PollParams{PollVMs: true})

	waitFor(t, "tick error to be recorded", func() bool {
		return env.store.Snapshot().LastError != nil
	})
	assert.Zero(t, env.errs.shownCount(), "no dialog should appear with zero windows")

	env.engine.IncrementWindowCounter()
	env.flush(t)
	env.engine.SchedulePriorityTick(bad, hypervisor.PollParams{PollVMs: true})
	waitFor(t, "tick error dialog", func() bool { return env.errs.shownCount() > 0 })
}
