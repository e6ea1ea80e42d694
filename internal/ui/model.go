package ui

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/virtadm/virtui/internal/engine"
	"github.com/virtadm/virtui/internal/eventlog"
	"github.com/virtadm/virtui/internal/hypervisor"
	"github.com/virtadm/virtui/internal/state"
)

const uiRefreshInterval = time.Second

// keyMap defines the key bindings for the manager and window views.
type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Enter      key.Binding
	AddConn    key.Binding
	Host       key.Binding
	Create     key.Binding
	Clone      key.Binding
	Migrate    key.Binding
	Disconnect key.Binding
	Remove     key.Binding
	Autostart  key.Binding
	Refresh    key.Binding
	Logs       key.Binding
	Theme      key.Binding
	Page       key.Binding
	Close      key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Enter:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		AddConn:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "add connection")),
		Host:       key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "host summary")),
		Create:     key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new guest")),
		Clone:      key.NewBinding(key.WithKeys("C"), key.WithHelp("C", "clone")),
		Migrate:    key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "migrate")),
		Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
		Remove:     key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "remove connection")),
		Autostart:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "toggle autoconnect")),
		Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh now")),
		Logs:       key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "logs")),
		Theme:      key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "theme")),
		Page:       key.NewBinding(key.WithKeys("1", "2", "3", "4"), key.WithHelp("1-4", "page")),
		Close:      key.NewBinding(key.WithKeys("esc", "q"), key.WithHelp("esc/q", "close window")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// openView is one entry in the window z-order, topmost last.
type openView struct {
	id  viewID
	win *windowAdapter
}

// row is one selectable line in the manager listing.
type row struct {
	conn state.ConnInfo
	vm   *state.VMInfo // nil for the connection line itself
	isVM bool
}

// Model is the root bubbletea model. It renders whatever windows the
// engine has opened; all state mutation goes back through the engine.
type Model struct {
	eng    *engine.Engine
	store  *state.Store
	logs   *eventlog.Buffer
	keys   keyMap
	theme  Theme
	styles Styles

	width  int
	height int

	snap  state.Snapshot
	stack []openView
	sel   int

	pages map[viewID]engine.DetailsPage

	// connect dialog state
	uriInput    textinput.Model
	autoconnect bool

	// overlays
	errModal  *errorMsg
	retainAsk *retainMsg
	showLogs  bool
}

// ModelOptions wire the model's collaborators.
type ModelOptions struct {
	Engine    *engine.Engine
	Store     *state.Store
	Logs      *eventlog.Buffer
	ThemeName string
}

// NewModel builds the root model.
func NewModel(opts ModelOptions) *Model {
	theme := GetTheme(opts.ThemeName)
	input := textinput.New()
	input.Placeholder = "qemu+ssh://user@host/system"
	input.CharLimit = 256
	return &Model{
		eng:      opts.Engine,
		store:    opts.Store,
		logs:     opts.Logs,
		keys:     defaultKeyMap(),
		theme:    theme,
		styles:   theme.Styles(),
		pages:    make(map[viewID]engine.DetailsPage),
		uriInput: input,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(refreshCmd(), textinput.Blink)
}

func refreshCmd() tea.Cmd {
	return tea.Tick(uiRefreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshTickMsg:
		if m.store != nil {
			m.snap = m.store.Snapshot()
			m.clampSelection()
		}
		return m, refreshCmd()

	case snapshotMsg:
		m.snap = state.Snapshot(msg)
		m.clampSelection()
		return m, nil

	case openViewMsg:
		m.raiseView(msg.id, msg.win)
		if msg.id.kind == viewConnect {
			m.uriInput.SetValue("")
			m.autoconnect = false
			m.uriInput.Focus()
		}
		return m, nil

	case closeViewMsg:
		m.dropView(msg.id)
		return m, nil

	case activatePageMsg:
		m.pages[msg.id] = msg.page
		return m, nil

	case selectConnMsg:
		m.selectConn(msg.uri)
		return m, nil

	case errorMsg:
		m.errModal = &msg
		return m, nil

	case retainMsg:
		m.retainAsk = &msg
		return m, nil

	case quitMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.eng.ExitApp()
		return m, nil
	}

	// Overlays grab all input while present.
	if m.retainAsk != nil {
		switch msg.String() {
		case "y", "Y", "enter":
			ask := m.retainAsk
			m.retainAsk = nil
			ask.answer(true)
		case "n", "N", "esc":
			ask := m.retainAsk
			m.retainAsk = nil
			ask.answer(false)
		}
		return m, nil
	}
	if m.errModal != nil {
		m.errModal = nil
		return m, nil
	}

	if top := m.topView(); top != nil && top.id.kind == viewConnect {
		return m.handleConnectDialogKey(msg, top)
	}

	if key.Matches(msg, m.keys.Close) {
		m.closeTopView()
		return m, nil
	}
	if key.Matches(msg, m.keys.Logs) {
		m.showLogs = !m.showLogs
		return m, nil
	}
	if key.Matches(msg, m.keys.Theme) {
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.styles = m.theme.Styles()
		return m, nil
	}

	if top := m.topView(); top != nil && top.id.kind == viewDetails {
		if key.Matches(msg, m.keys.Page) {
			m.pages[top.id] = pageForKey(msg.String())
			return m, nil
		}
	}

	return m.handleManagerKey(msg)
}

func pageForKey(s string) engine.DetailsPage {
	switch s {
	case "2":
		return engine.PagePerformance
	case "3":
		return engine.PageConfig
	case "4":
		return engine.PageConsole
	default:
		return engine.PageDefault
	}
}

func (m *Model) handleConnectDialogKey(msg tea.KeyMsg, top *openView) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		uri := m.uriInput.Value()
		if uri == "" {
			return m, nil
		}
		completed := top.win.completed
		top.win.userClosed()
		m.dropView(top.id)
		if completed != nil {
			completed(uri, m.autoconnect)
		}
		return m, nil
	case "esc":
		cancelled := top.win.cancelled
		top.win.userClosed()
		m.dropView(top.id)
		if cancelled != nil {
			cancelled()
		}
		return m, nil
	case "tab":
		m.autoconnect = !m.autoconnect
		return m, nil
	}
	var cmd tea.Cmd
	m.uriInput, cmd = m.uriInput.Update(msg)
	return m, cmd
}

func (m *Model) handleManagerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := m.managerRows()
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.sel > 0 {
			m.sel--
		}
	case key.Matches(msg, m.keys.Down):
		if m.sel < len(rows)-1 {
			m.sel++
		}
	case key.Matches(msg, m.keys.Enter):
		if r, ok := m.selectedRow(rows); ok {
			if r.isVM {
				m.eng.ShowDomainDetails(r.conn.URI, r.vm.Key)
			} else if r.conn.State == hypervisor.StateDisconnected {
				m.eng.Connect(r.conn.URI, engine.ConnectOptions{})
			} else {
				m.eng.ShowHostSummary(r.conn.URI)
			}
		}
	case key.Matches(msg, m.keys.AddConn):
		m.eng.ShowConnectWindow()
	case key.Matches(msg, m.keys.Host):
		if r, ok := m.selectedRow(rows); ok {
			m.eng.ShowHostSummary(r.conn.URI)
		}
	case key.Matches(msg, m.keys.Create):
		if r, ok := m.selectedRow(rows); ok {
			m.eng.ShowCreate(r.conn.URI)
		}
	case key.Matches(msg, m.keys.Clone):
		if r, ok := m.selectedRow(rows); ok && r.isVM {
			m.eng.ShowClone(r.conn.URI, r.vm.Key)
		}
	case key.Matches(msg, m.keys.Migrate):
		if r, ok := m.selectedRow(rows); ok && r.isVM {
			m.eng.ShowMigrate(r.conn.URI, r.vm.Key)
		}
	case key.Matches(msg, m.keys.Disconnect):
		if r, ok := m.selectedRow(rows); ok && !r.isVM {
			m.eng.Disconnect(r.conn.URI)
		}
	case key.Matches(msg, m.keys.Remove):
		if r, ok := m.selectedRow(rows); ok && !r.isVM {
			m.eng.RemoveConnection(r.conn.URI)
		}
	case key.Matches(msg, m.keys.Autostart):
		if r, ok := m.selectedRow(rows); ok && !r.isVM {
			m.eng.SetAutoconnect(r.conn.URI, !r.conn.Autoconnect)
		}
	case key.Matches(msg, m.keys.Refresh):
		if r, ok := m.selectedRow(rows); ok {
			m.eng.RequestRefresh(r.conn.URI)
		}
	}
	return m, nil
}

//
// View stack bookkeeping
//

func (m *Model) topView() *openView {
	if len(m.stack) == 0 {
		return nil
	}
	return &m.stack[len(m.stack)-1]
}

func (m *Model) raiseView(id viewID, win *windowAdapter) {
	for i, v := range m.stack {
		if v.id == id {
			m.stack = append(append(m.stack[:i], m.stack[i+1:]...), openView{id: id, win: win})
			return
		}
	}
	m.stack = append(m.stack, openView{id: id, win: win})
}

func (m *Model) dropView(id viewID) {
	for i, v := range m.stack {
		if v.id == id {
			m.stack = append(m.stack[:i], m.stack[i+1:]...)
			return
		}
	}
}

// closeTopView dismisses the topmost window from the UI side and tells
// its adapter so the engine's window counter stays truthful.
func (m *Model) closeTopView() {
	top := m.topView()
	if top == nil {
		return
	}
	if top.win != nil {
		top.win.userClosed()
	}
	m.stack = m.stack[:len(m.stack)-1]
}

func (m *Model) selectConn(uri string) {
	for i, r := range m.managerRows() {
		if !r.isVM && r.conn.URI == uri {
			m.sel = i
			return
		}
	}
}

//
// Manager rows
//

func (m *Model) managerRows() []row {
	var rows []row
	for _, c := range m.snap.Conns {
		rows = append(rows, row{conn: c})
		for i := range c.VMs {
			rows = append(rows, row{conn: c, vm: &c.VMs[i], isVM: true})
		}
	}
	return rows
}

func (m *Model) selectedRow(rows []row) (row, bool) {
	if m.sel < 0 || m.sel >= len(rows) {
		return row{}, false
	}
	return rows[m.sel], true
}

func (m *Model) clampSelection() {
	if n := len(m.managerRows()); m.sel >= n {
		m.sel = n - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}
