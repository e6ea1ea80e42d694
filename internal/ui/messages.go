package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/virtadm/virtui/internal/engine"
	"github.com/virtadm/virtui/internal/state"
)

// viewKind names the window surfaces the engine can open.
type viewKind int

const (
	viewManager viewKind = iota
	viewHost
	viewDetails
	viewClone
	viewMigrate
	viewCreate
	viewConnect
)

// viewID identifies one window instance. uri and guest narrow the scope
// for per-connection and per-guest windows.
type viewID struct {
	kind  viewKind
	uri   string
	guest string
}

// Messages posted into the bubbletea loop. The engine runs on its own
// goroutine, so everything it wants drawn arrives as one of these.

type snapshotMsg state.Snapshot

type refreshTickMsg struct{}

type openViewMsg struct {
	id  viewID
	win *windowAdapter
}

type closeViewMsg struct {
	id viewID
}

type selectConnMsg struct {
	uri string
}

type activatePageMsg struct {
	id   viewID
	page engine.DetailsPage
}

type errorMsg struct {
	msg     string
	details string
	modal   bool
}

type retainMsg struct {
	msg     string
	details string
	answer  func(retain bool)
}

type quitMsg struct{}

var _ tea.Msg = snapshotMsg{}
