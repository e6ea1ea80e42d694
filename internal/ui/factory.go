package ui

import (
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/virtadm/virtui/internal/config"
	"github.com/virtadm/virtui/internal/engine"
	"github.com/virtadm/virtui/internal/hypervisor"
)

// Factory is the bridge between the engine's window model and the
// bubbletea program. The engine calls it from the foreground loop; the
// factory answers with lightweight adapters that post messages into the
// tea loop. It also serves as the engine's error surface and its
// background-presence probe.
type Factory struct {
	cfg *config.Store

	mu      sync.Mutex
	eng     *engine.Engine
	prog    *tea.Program
	pending []tea.Msg
}

// NewFactory builds an unattached factory. Bind and Attach must both be
// called before the first window opens.
func NewFactory(cfg *config.Store) *Factory {
	return &Factory{cfg: cfg}
}

// Bind points the factory at the engine whose window counter it feeds.
func (f *Factory) Bind(eng *engine.Engine) {
	f.mu.Lock()
	f.eng = eng
	f.mu.Unlock()
}

// Attach connects the running tea program and flushes messages queued
// before the program existed.
func (f *Factory) Attach(p *tea.Program) {
	f.mu.Lock()
	f.prog = p
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, msg := range pending {
		p.Send(msg)
	}
}

func (f *Factory) send(msg tea.Msg) {
	f.mu.Lock()
	p := f.prog
	if p == nil {
		f.pending = append(f.pending, msg)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	p.Send(msg)
}

func (f *Factory) incrementCounter() {
	f.mu.Lock()
	eng := f.eng
	f.mu.Unlock()
	if eng != nil {
		eng.IncrementWindowCounter()
	}
}

func (f *Factory) decrementCounter() {
	f.mu.Lock()
	eng := f.eng
	f.mu.Unlock()
	if eng != nil {
		eng.DecrementWindowCounter()
	}
}

//
// engine.WindowFactory
//

func (f *Factory) newWindow(id viewID) *windowAdapter {
	return &windowAdapter{f: f, id: id}
}

func (f *Factory) Manager() engine.ManagerWindow {
	return &managerAdapter{windowAdapter: f.newWindow(viewID{kind: viewManager})}
}

func (f *Factory) HostSummary(conn *hypervisor.Connection) engine.Window {
	return f.newWindow(viewID{kind: viewHost, uri: conn.URI()})
}

func (f *Factory) Details(conn *hypervisor.Connection, vm *hypervisor.VM) engine.DetailsWindow {
	return &detailsAdapter{windowAdapter: f.newWindow(viewID{kind: viewDetails, uri: conn.URI(), guest: vm.Name()})}
}

func (f *Factory) Clone(conn *hypervisor.Connection, vm *hypervisor.VM) engine.Window {
	return f.newWindow(viewID{kind: viewClone, uri: conn.URI(), guest: vm.Name()})
}

func (f *Factory) Migrate(conn *hypervisor.Connection, vm *hypervisor.VM) engine.Window {
	return f.newWindow(viewID{kind: viewMigrate, uri: conn.URI(), guest: vm.Name()})
}

func (f *Factory) Create(conn *hypervisor.Connection) engine.Window {
	return f.newWindow(viewID{kind: viewCreate, uri: conn.URI()})
}

func (f *Factory) ConnectDialog(completed func(uri string, autoconnect bool), cancelled func()) engine.Window {
	w := f.newWindow(viewID{kind: viewConnect})
	w.completed = completed
	w.cancelled = cancelled
	return w
}

//
// engine.ErrorSurface
//

func (f *Factory) ShowError(msg, details string, modal bool) {
	f.send(errorMsg{msg: msg, details: details, modal: modal})
}

func (f *Factory) AskRetain(msg, details string, answer func(retain bool)) {
	f.send(retainMsg{msg: msg, details: details, answer: answer})
}

//
// engine.Presence
//

// Visible reports whether the app should stay resident with no windows
// open, driven by the background-presence config flag.
func (f *Factory) Visible() bool {
	if f.cfg == nil {
		return false
	}
	return f.cfg.BackgroundPresence()
}

// Cleanup tells the tea loop the application is going away.
func (f *Factory) Cleanup() {
	f.send(quitMsg{})
}

//
// Window adapters
//

// windowAdapter is one engine-visible window. Visibility doubles as the
// window-counter contribution: the transition hidden->shown increments,
// shown->hidden decrements, no matter which side caused it.
type windowAdapter struct {
	f       *Factory
	id      viewID
	visible atomic.Bool

	// connect dialog only
	completed func(uri string, autoconnect bool)
	cancelled func()
}

func (w *windowAdapter) Show() error {
	if w.visible.CompareAndSwap(false, true) {
		w.f.incrementCounter()
	}
	w.f.send(openViewMsg{id: w.id, win: w})
	return nil
}

func (w *windowAdapter) Cleanup() {
	if w.visible.CompareAndSwap(true, false) {
		w.f.decrementCounter()
	}
	w.f.send(closeViewMsg{id: w.id})
}

func (w *windowAdapter) IsVisible() bool {
	return w.visible.Load()
}

// userClosed records a dismissal initiated from the UI side. The engine
// keeps its cached handle; a later Show revives the same window.
func (w *windowAdapter) userClosed() {
	if w.visible.CompareAndSwap(true, false) {
		w.f.decrementCounter()
	}
}

type managerAdapter struct {
	*windowAdapter
}

func (m *managerAdapter) SelectConnection(uri string) {
	m.f.send(selectConnMsg{uri: uri})
}

type detailsAdapter struct {
	*windowAdapter
}

func (d *detailsAdapter) ActivatePage(page engine.DetailsPage) {
	d.f.send(activatePageMsg{id: d.id, page: page})
}
