package ui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/virtadm/virtui/internal/engine"
	"github.com/virtadm/virtui/internal/hypervisor"
	"github.com/virtadm/virtui/internal/state"
)

func (m *Model) View() string {
	var b strings.Builder

	top := m.topView()
	switch {
	case top == nil:
		b.WriteString(m.styles.MutedText.Render("No windows open."))
		b.WriteString("\n")
	case top.id.kind == viewConnect:
		b.WriteString(m.renderConnectDialog())
	case top.id.kind == viewHost:
		b.WriteString(m.renderHostSummary(top.id.uri))
	case top.id.kind == viewDetails:
		b.WriteString(m.renderDetails(top.id))
	case top.id.kind == viewClone:
		b.WriteString(m.renderGuestAction(top.id, "Clone"))
	case top.id.kind == viewMigrate:
		b.WriteString(m.renderGuestAction(top.id, "Migrate"))
	case top.id.kind == viewCreate:
		b.WriteString(m.renderCreate(top.id.uri))
	default:
		b.WriteString(m.renderManager())
	}

	if m.showLogs {
		b.WriteString("\n")
		b.WriteString(m.renderLogs())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	if m.retainAsk != nil {
		return m.overlay(b.String(), m.renderRetainPrompt())
	}
	if m.errModal != nil {
		return m.overlay(b.String(), m.renderErrorModal())
	}
	return b.String()
}

// overlay draws the modal under the main content. Terminal cells don't
// stack, so the "overlay" is appended rather than composited.
func (m *Model) overlay(base, modal string) string {
	return base + "\n" + modal
}

func (m *Model) renderManager() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Virtual Machine Manager"))
	if m.snap.Degraded {
		b.WriteString("  ")
		b.WriteString(m.styles.WarningText.Render("polling degraded"))
	}
	b.WriteString("\n\n")

	rows := m.managerRows()
	if len(rows) == 0 {
		b.WriteString(m.styles.MutedText.Render("  No connections. Press c to add one."))
		b.WriteString("\n")
		return b.String()
	}

	for i, r := range rows {
		line := m.renderRow(r)
		if i == m.sel {
			line = m.styles.Selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderRow(r row) string {
	if !r.isVM {
		badge := m.styles.StateStyle(r.conn.State.String()).Render(r.conn.State.String())
		marker := " "
		if r.conn.Autoconnect {
			marker = m.styles.AccentText.Render("●")
		}
		label := r.conn.URI
		if r.conn.HostKnown {
			label = fmt.Sprintf("%s (%s)", r.conn.URI, r.conn.Host.Hostname)
		}
		return fmt.Sprintf("%s %s %s", marker, badge, m.styles.Text.Render(label))
	}

	badge := m.styles.StateStyle(string(r.vm.State)).Render(string(r.vm.State))
	stats := ""
	if r.vm.State == hypervisor.DomainRunning {
		stats = m.styles.MutedText.Render(fmt.Sprintf("  cpu %.0f%%  mem %s",
			r.vm.Stats.CPUPercent, formatKB(r.vm.Stats.MemoryKB)))
	}
	return fmt.Sprintf("     %s %s%s", badge, m.styles.Text.Render(r.vm.Key), stats)
}

func (m *Model) renderConnectDialog() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Add Connection"))
	b.WriteString("\n\n")
	b.WriteString(m.styles.Text.Render("Hypervisor URI:"))
	b.WriteString("\n")
	b.WriteString(m.uriInput.View())
	b.WriteString("\n\n")
	check := "[ ]"
	if m.autoconnect {
		check = "[x]"
	}
	b.WriteString(m.styles.Text.Render(check + " Autoconnect at startup (tab to toggle)"))
	b.WriteString("\n\n")
	b.WriteString(m.styles.FaintText.Render("enter: connect   esc: cancel"))
	b.WriteString("\n")
	return m.styles.Panel.Render(b.String())
}

func (m *Model) renderHostSummary(uri string) string {
	conn, ok := m.findConn(uri)
	if !ok {
		return m.styles.MutedText.Render("Connection is gone.")
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Host Summary"))
	b.WriteString("\n\n")
	b.WriteString(m.styles.Text.Render("URI:      " + conn.URI))
	b.WriteString("\n")
	b.WriteString(m.styles.Text.Render("State:    " + conn.State.String()))
	b.WriteString("\n")
	if conn.HostKnown {
		b.WriteString(m.styles.Text.Render("Hostname: " + conn.Host.Hostname))
		b.WriteString("\n")
		b.WriteString(m.styles.Text.Render(fmt.Sprintf("CPUs:     %d", conn.Host.CPUs)))
		b.WriteString("\n")
		b.WriteString(m.styles.Text.Render("Memory:   " + formatKB(conn.Host.MemoryKB)))
		b.WriteString("\n")
	} else {
		b.WriteString(m.styles.MutedText.Render("Host details pending first poll."))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.AccentText.Render(fmt.Sprintf("Guests (%d)", len(conn.VMs))))
	b.WriteString("\n")
	for _, vm := range conn.VMs {
		badge := m.styles.StateStyle(string(vm.State)).Render(string(vm.State))
		b.WriteString(fmt.Sprintf("  %s %s\n", badge, m.styles.Text.Render(vm.Key)))
	}
	return b.String()
}

func (m *Model) renderDetails(id viewID) string {
	vm, conn, ok := m.findVM(id.uri, id.guest)
	if !ok {
		return m.styles.MutedText.Render("Guest is gone.")
	}
	page := m.pages[id]

	var b strings.Builder
	b.WriteString(m.styles.Title.Render(vm.Key + " on " + conn.URI))
	b.WriteString("\n")
	b.WriteString(m.renderPageTabs(page))
	b.WriteString("\n\n")

	switch page {
	case engine.PagePerformance:
		b.WriteString(m.styles.Text.Render(fmt.Sprintf("CPU usage:  %5.1f%%", vm.Stats.CPUPercent)))
		b.WriteString("\n")
		b.WriteString(m.renderBar(vm.Stats.CPUPercent))
		b.WriteString("\n")
		b.WriteString(m.styles.Text.Render("Memory:     " + formatKB(vm.Stats.MemoryKB)))
		b.WriteString("\n")
		if !vm.Stats.SampledAt.IsZero() {
			b.WriteString(m.styles.FaintText.Render("sampled " + vm.Stats.SampledAt.Format("15:04:05")))
			b.WriteString("\n")
		}
	case engine.PageConfig:
		b.WriteString(m.styles.Text.Render("Name:  " + vm.Key))
		b.WriteString("\n")
		b.WriteString(m.styles.Text.Render(fmt.Sprintf("ID:    %d", vm.ID)))
		b.WriteString("\n")
		b.WriteString(m.styles.Text.Render("UUID:  " + vm.UUID))
		b.WriteString("\n")
	case engine.PageConsole:
		if vm.State == hypervisor.DomainRunning {
			b.WriteString(m.styles.MutedText.Render("Graphical console is not available over this connection."))
		} else {
			b.WriteString(m.styles.MutedText.Render("Guest is not running."))
		}
		b.WriteString("\n")
	default:
		badge := m.styles.StateStyle(string(vm.State)).Render(string(vm.State))
		b.WriteString(m.styles.Text.Render("State:   ") + badge)
		b.WriteString("\n")
		b.WriteString(m.styles.Text.Render(fmt.Sprintf("ID:      %d", vm.ID)))
		b.WriteString("\n")
		b.WriteString(m.styles.Text.Render("UUID:    " + vm.UUID))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderPageTabs(active engine.DetailsPage) string {
	names := []struct {
		page engine.DetailsPage
		name string
	}{
		{engine.PageDefault, "1:Overview"},
		{engine.PagePerformance, "2:Performance"},
		{engine.PageConfig, "3:Config"},
		{engine.PageConsole, "4:Console"},
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if n.page == active {
			parts = append(parts, m.styles.AccentText.Render(n.name))
		} else {
			parts = append(parts, m.styles.MutedText.Render(n.name))
		}
	}
	return strings.Join(parts, "  ")
}

func (m *Model) renderBar(percent float64) string {
	const width = 30
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return m.styles.AccentText.Render(bar)
}

func (m *Model) renderGuestAction(id viewID, verb string) string {
	vm, conn, ok := m.findVM(id.uri, id.guest)
	if !ok {
		return m.styles.MutedText.Render("Guest is gone.")
	}
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(verb + " " + vm.Key))
	b.WriteString("\n\n")
	b.WriteString(m.styles.Text.Render("Source:      " + vm.Key))
	b.WriteString("\n")
	b.WriteString(m.styles.Text.Render("Connection:  " + conn.URI))
	b.WriteString("\n\n")
	b.WriteString(m.styles.MutedText.Render(verb + " is not supported by this connection's driver."))
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderCreate(uri string) string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("New Virtual Machine"))
	b.WriteString("\n\n")
	b.WriteString(m.styles.Text.Render("Connection: " + uri))
	b.WriteString("\n\n")
	b.WriteString(m.styles.MutedText.Render("Guest creation is not supported by this connection's driver."))
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderLogs() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Event Log"))
	b.WriteString("\n")
	if m.logs == nil {
		b.WriteString(m.styles.MutedText.Render("  event capture disabled"))
		b.WriteString("\n")
		return b.String()
	}
	entries := m.logs.Entries()
	max := 12
	if len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	for _, e := range entries {
		// Seeded history lines carry no timestamp of their own.
		if e.Time.IsZero() {
			b.WriteString(m.styles.FaintText.Render(e.Message))
			b.WriteString("\n")
			continue
		}
		level := m.styles.MutedText
		switch e.Level.String() {
		case "warn":
			level = m.styles.WarningText
		case "error":
			level = m.styles.DangerText
		}
		b.WriteString(m.styles.FaintText.Render(e.Time.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(level.Render(e.Level.String()))
		b.WriteString(" ")
		b.WriteString(m.styles.Text.Render(e.Message))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderFooter() string {
	top := m.topView()
	var hints string
	switch {
	case top != nil && top.id.kind == viewConnect:
		hints = "enter connect · tab autoconnect · esc cancel"
	case top != nil && top.id.kind == viewDetails:
		hints = "1-4 pages · l logs · esc close · ctrl+c quit"
	default:
		hints = "enter open · c add conn · h host · a autostart · x remove · l logs · esc close · ctrl+c quit"
	}
	status := fmt.Sprintf("%d window(s)", m.snap.Windows)
	if err := m.snap.LastError; err != nil {
		status += "  " + m.styles.DangerText.Render("last error: "+truncate(err.Error(), 48))
	}
	return m.styles.Footer.Render(hints) + "\n" + m.styles.Footer.Render(status)
}

func (m *Model) renderErrorModal() string {
	var b strings.Builder
	b.WriteString(m.styles.DangerText.Render("Error"))
	b.WriteString("\n\n")
	b.WriteString(m.styles.Text.Render(m.errModal.msg))
	if m.errModal.details != "" {
		b.WriteString("\n\n")
		b.WriteString(m.styles.MutedText.Render(truncate(m.errModal.details, 500)))
	}
	b.WriteString("\n\n")
	b.WriteString(m.styles.FaintText.Render("press any key to dismiss"))
	return m.styles.Modal.Render(b.String())
}

func (m *Model) renderRetainPrompt() string {
	var b strings.Builder
	b.WriteString(m.styles.WarningText.Render("Connection Failed"))
	b.WriteString("\n\n")
	b.WriteString(m.styles.Text.Render(m.retainAsk.msg))
	b.WriteString("\n\n")
	b.WriteString(m.styles.FaintText.Render("y: remember   n: forget"))
	return m.styles.Modal.Render(b.String())
}

//
// Lookup helpers
//

func (m *Model) findConn(uri string) (state.ConnInfo, bool) {
	for _, c := range m.snap.Conns {
		if c.URI == uri {
			return c, true
		}
	}
	return state.ConnInfo{}, false
}

func (m *Model) findVM(uri, key string) (state.VMInfo, state.ConnInfo, bool) {
	conn, ok := m.findConn(uri)
	if !ok {
		return state.VMInfo{}, state.ConnInfo{}, false
	}
	for _, vm := range conn.VMs {
		if vm.Key == key {
			return vm, conn, true
		}
	}
	return state.VMInfo{}, conn, false
}

func formatKB(kb uint64) string {
	switch {
	case kb >= 1024*1024:
		return fmt.Sprintf("%.1f GiB", float64(kb)/(1024*1024))
	case kb >= 1024:
		return fmt.Sprintf("%.1f MiB", float64(kb)/1024)
	default:
		return fmt.Sprintf("%d KiB", kb)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
