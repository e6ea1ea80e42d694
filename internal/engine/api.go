package engine

import "github.com/virtadm/virtui/internal/hypervisor"

// Entry points the UI layer calls. Each one posts to the foreground loop
// and returns immediately, so any goroutine (the bubbletea update loop
// included) may call them.

// ShowManager raises the connection manager window.
func (e *Engine) ShowManager() {
	e.Async(e.showManager)
}

// ShowConnectWindow raises the add-connection dialog.
func (e *Engine) ShowConnectWindow() {
	e.Async(e.showConnectDialog)
}

// ShowHostSummary raises the host window for a registered endpoint.
func (e *Engine) ShowHostSummary(uri string) {
	e.Async(func() {
		if cs, ok := e.conns[uri]; ok {
			e.showHostSummary(cs)
		}
	})
}

// ShowDomainDetails raises the details window for one guest, keeping
// whatever page it was last on.
func (e *Engine) ShowDomainDetails(uri, key string) {
	e.Async(func() {
		cs, ok := e.conns[uri]
		if !ok {
			return
		}
		if vm, ok := cs.conn.GetVM(key); ok {
			e.showDetails(cs, vm, PageDefault, false)
		}
	})
}

// ShowDomainConsole raises the details window opened on the console page.
func (e *Engine) ShowDomainConsole(uri, key string) {
	e.Async(func() {
		cs, ok := e.conns[uri]
		if !ok {
			return
		}
		if vm, ok := cs.conn.GetVM(key); ok {
			e.showDetails(cs, vm, PageConsole, true)
		}
	})
}

// ShowClone raises the clone dialog for one source guest.
func (e *Engine) ShowClone(uri, key string) {
	e.Async(func() {
		cs, ok := e.conns[uri]
		if !ok {
			return
		}
		if vm, ok := cs.conn.GetVM(key); ok {
			e.showClone(cs, vm)
		}
	})
}

// ShowMigrate raises the migrate dialog for one guest.
func (e *Engine) ShowMigrate(uri, key string) {
	e.Async(func() {
		cs, ok := e.conns[uri]
		if !ok {
			return
		}
		if vm, ok := cs.conn.GetVM(key); ok {
			e.showMigrate(cs, vm)
		}
	})
}

// ShowCreate raises the new-guest wizard on an endpoint.
func (e *Engine) ShowCreate(uri string) {
	e.Async(func() {
		if cs, ok := e.conns[uri]; ok {
			e.showCreate(cs)
		}
	})
}

// Connect opens (or re-opens) a registered endpoint, registering it
// first if needed.
func (e *Engine) Connect(uri string, opts ConnectOptions) {
	e.Async(func() { e.connectToURI(uri, opts) })
}

// Disconnect closes an endpoint but keeps it registered.
func (e *Engine) Disconnect(uri string) {
	e.Async(func() {
		if cs, ok := e.conns[uri]; ok {
			cs.conn.Close()
		}
	})
}

// RemoveConnection closes and forgets an endpoint.
func (e *Engine) RemoveConnection(uri string) {
	e.Async(func() { e.removeConn(uri) })
}

// SetAutoconnect updates the startup flag for an endpoint.
func (e *Engine) SetAutoconnect(uri string, v bool) {
	e.Async(func() {
		cs, ok := e.conns[uri]
		if !ok {
			return
		}
		cs.conn.SetAutoconnect(v)
		if !cs.probe && e.cfg != nil {
			e.cfg.RememberConnection(uri, v)
		}
		e.publish()
	})
}

// RequestRefresh schedules an immediate high-priority poll of one
// endpoint, ahead of any queued timer ticks.
func (e *Engine) RequestRefresh(uri string) {
	e.Async(func() {
		cs, ok := e.conns[uri]
		if !ok {
			return
		}
		e.SchedulePriorityTick(cs.conn, hypervisor.PollParams{StatsUpdate: true, PollVMs: true})
	})
}
