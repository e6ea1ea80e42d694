package engine

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/virtadm/virtui/internal/hypervisor"
)

// WindowKind names the windows a startup command can open.
type WindowKind string

const (
	WindowManager     WindowKind = "manager"
	WindowCreator     WindowKind = "creator"
	WindowEditor      WindowKind = "editor"
	WindowPerformance WindowKind = "performance"
	WindowConsole     WindowKind = "console"
	WindowSummary     WindowKind = "summary"
)

// ParseWindowKind validates a --show argument.
func ParseWindowKind(s string) (WindowKind, error) {
	switch WindowKind(s) {
	case WindowManager, WindowCreator, WindowEditor, WindowPerformance,
		WindowConsole, WindowSummary:
		return WindowKind(s), nil
	case "":
		return WindowManager, nil
	}
	return "", fmt.Errorf("unknown window %q", s)
}

// Command is a startup request: connect to URI and open Window, aimed at
// Domain for the guest-scoped kinds.
type Command struct {
	URI    string
	Window WindowKind
	Domain string
}

// SubmitCommand dispatches a command from any goroutine.
func (e *Engine) SubmitCommand(cmd Command) {
	e.Async(func() { e.handleCommand(cmd) })
}

// handleCommand opens the requested window. When the target connection
// is not active yet the launch is deferred until it settles; the
// state-change subscription removes itself either way.
func (e *Engine) handleCommand(cmd Command) {
	if cmd.Window == "" {
		cmd.Window = WindowManager
	}
	if cmd.URI == "" {
		e.showManager()
		return
	}

	cs, err := e.addConn(cmd.URI, false)
	if err != nil {
		e.showError(fmt.Sprintf("Invalid connection URI: %v", err), "", false)
		e.showManager()
		return
	}

	conn := cs.conn
	if conn.IsActive() {
		e.launchCommandWindow(cs, cmd)
		return
	}

	e.log.Debug("deferring command until connection settles",
		zap.String("uri", cmd.URI), zap.String("window", string(cmd.Window)))
	sub := &commandSub{}
	sub.off = conn.OnStateChanged(func() {
		e.Async(func() { e.commandConnChanged(cs, cmd, sub) })
	})
	conn.Open(e.baseCtx)
}

// commandSub carries the unsubscribe func for a deferred command. The
// handler never tears itself down inline; it always runs on the
// foreground loop after sub.off has been assigned.
type commandSub struct {
	off  func()
	done bool
}

func (e *Engine) commandConnChanged(cs *connState, cmd Command, sub *commandSub) {
	if sub.done {
		return
	}
	conn := cs.conn
	if conn.IsConnecting() {
		return
	}
	sub.done = true
	sub.off()

	if !conn.IsActive() {
		e.showError(fmt.Sprintf("Could not connect to %s to run command.", cmd.URI), "", false)
		e.exitIfNoWindows()
		return
	}
	e.launchCommandWindow(cs, cmd)
}

// launchCommandWindow opens the window a command named. The deferred
// exit check runs regardless so a failed launch with nothing else open
// still lets the process leave.
func (e *Engine) launchCommandWindow(cs *connState, cmd Command) {
	defer e.exitIfNoWindows()

	switch cmd.Window {
	case WindowManager:
		e.showManager()
		if m := e.manager(); m != nil {
			m.SelectConnection(cs.conn.URI())
		}
		return
	case WindowCreator:
		e.showCreate(cs)
		return
	case WindowSummary:
		e.showHostSummary(cs)
		return
	}

	vm, err := e.findVMByCommandString(cs, cmd.Domain)
	if err != nil {
		e.showError(fmt.Sprintf("Cannot open window %s: %v", cmd.Window, err), "", false)
		return
	}
	switch cmd.Window {
	case WindowEditor:
		e.showDetails(cs, vm, PageConfig, true)
	case WindowPerformance:
		e.showDetails(cs, vm, PagePerformance, true)
	case WindowConsole:
		e.showDetails(cs, vm, PageConsole, true)
	default:
		e.showError(fmt.Sprintf("Unknown window %q requested.", cmd.Window), "", false)
	}
}

// findVMByCommandString resolves a guest reference the way an operator
// would write one: numeric ID first, then name, then UUID.
func (e *Engine) findVMByCommandString(cs *connState, ref string) (*hypervisor.VM, error) {
	if ref == "" {
		return nil, fmt.Errorf("no guest specified")
	}
	if id, err := strconv.Atoi(ref); err == nil {
		for _, vm := range cs.conn.ListVMs() {
			if vm.ID() == id {
				return vm, nil
			}
		}
	}
	if vm, ok := cs.conn.GetVM(ref); ok {
		return vm, nil
	}
	for _, vm := range cs.conn.ListVMs() {
		if vm.UUID().String() == ref {
			return vm, nil
		}
	}
	return nil, fmt.Errorf("%s does not have VM %q", cs.conn.URI(), ref)
}
