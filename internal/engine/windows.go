package engine

import (
	"fmt"

	"github.com/virtadm/virtui/internal/hypervisor"
)

// Window is the contract every top-level window satisfies. Windows report
// their open/close lifecycle to the engine's window counter through the
// factory that built them.
type Window interface {
	Show() error
	Cleanup()
	IsVisible() bool
}

// ManagerWindow is the default top-level window listing all connections.
type ManagerWindow interface {
	Window
	SelectConnection(uri string)
}

// DetailsPage selects which page a details window opens on.
type DetailsPage int

const (
	PageDefault DetailsPage = iota
	PagePerformance
	PageConfig
	PageConsole
)

// DetailsWindow is a per-guest window with switchable pages.
type DetailsWindow interface {
	Window
	ActivatePage(page DetailsPage)
}

// WindowFactory builds windows on demand. The engine creates each window
// lazily on first request and caches it (per connection or per guest
// where appropriate).
type WindowFactory interface {
	Manager() ManagerWindow
	HostSummary(conn *hypervisor.Connection) Window
	Details(conn *hypervisor.Connection, vm *hypervisor.VM) DetailsWindow
	Clone(conn *hypervisor.Connection, vm *hypervisor.VM) Window
	Migrate(conn *hypervisor.Connection, vm *hypervisor.VM) Window
	Create(conn *hypervisor.Connection) Window
	ConnectDialog(completed func(uri string, autoconnect bool), cancelled func()) Window
}

// ErrorSurface is where the engine reports user-facing failures. Modal
// errors demand acknowledgement; AskRetain answers asynchronously via
// the callback (the engine re-enters itself with Async).
type ErrorSurface interface {
	ShowError(msg, details string, modal bool)
	AskRetain(msg, details string, answer func(retain bool))
}

// Presence is the background-presence indicator (the systray analog).
// While it is visible the application keeps running with zero windows.
type Presence interface {
	Visible() bool
	Cleanup()
}

func (e *Engine) manager() ManagerWindow {
	if e.windowManager != nil {
		return e.windowManager
	}
	if e.windowsFac == nil {
		return nil
	}
	e.windowManager = e.windowsFac.Manager()
	return e.windowManager
}

func (e *Engine) showManager() {
	m := e.manager()
	if m == nil {
		return
	}
	if err := m.Show(); err != nil {
		e.showError(fmt.Sprintf("Error launching manager: %v", err), "", false)
	}
}

func (e *Engine) showHostSummary(cs *connState) {
	if cs.windowHost == nil {
		if e.windowsFac == nil {
			return
		}
		cs.windowHost = e.windowsFac.HostSummary(cs.conn)
	}
	if err := cs.windowHost.Show(); err != nil {
		e.showError(fmt.Sprintf("Error launching host summary: %v", err), "", false)
	}
}

func (e *Engine) showDetails(cs *connState, vm *hypervisor.VM, page DetailsPage, forcePage bool) {
	key := vm.Name()
	win, ok := cs.windowDetails[key]
	if !ok {
		if e.windowsFac == nil {
			return
		}
		win = e.windowsFac.Details(cs.conn, vm)
		cs.windowDetails[key] = win
	}
	if forcePage || !win.IsVisible() {
		win.ActivatePage(page)
	}
	if err := win.Show(); err != nil {
		e.showError(fmt.Sprintf("Error launching details: %v", err), "", false)
	}
}

func (e *Engine) showClone(cs *connState, vm *hypervisor.VM) {
	if e.windowsFac == nil {
		return
	}
	// The clone dialog targets one source guest at a time.
	if cs.windowClone != nil {
		cs.windowClone.Cleanup()
	}
	cs.windowClone = e.windowsFac.Clone(cs.conn, vm)
	if err := cs.windowClone.Show(); err != nil {
		e.showError(fmt.Sprintf("Error setting clone parameters: %v", err), "", false)
	}
}

func (e *Engine) showMigrate(cs *connState, vm *hypervisor.VM) {
	if e.windowsFac == nil {
		return
	}
	if e.windowMigrate != nil {
		e.windowMigrate.Cleanup()
	}
	e.windowMigrate = e.windowsFac.Migrate(cs.conn, vm)
	if err := e.windowMigrate.Show(); err != nil {
		e.showError(fmt.Sprintf("Error launching migrate dialog: %v", err), "", false)
	}
}

func (e *Engine) showCreate(cs *connState) {
	if e.windowsFac == nil {
		return
	}
	if e.windowCreate != nil {
		e.windowCreate.Cleanup()
	}
	e.windowCreate = e.windowsFac.Create(cs.conn)
	e.createURI = cs.conn.URI()
	if err := e.windowCreate.Show(); err != nil {
		e.showError(fmt.Sprintf("Error launching create wizard: %v", err), "", false)
	}
}

func (e *Engine) showConnectDialog() {
	if e.windowConnect == nil {
		if e.windowsFac == nil {
			return
		}
		completed := func(uri string, autoconnect bool) {
			e.Async(func() {
				e.connectToURI(uri, ConnectOptions{
					Probe:          true,
					SetAutoconnect: true,
					Autoconnect:    autoconnect,
				})
			})
		}
		cancelled := func() {
			e.Async(func() {
				if len(e.conns) == 0 {
					e.exitApp()
				}
			})
		}
		e.windowConnect = e.windowsFac.ConnectDialog(completed, cancelled)
	}
	if err := e.windowConnect.Show(); err != nil {
		e.showError(fmt.Sprintf("Error launching connect dialog: %v", err), "", false)
	}
}
