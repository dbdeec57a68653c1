package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/renderer"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Width(12).
			Align(lipgloss.Right).
			PaddingRight(2)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// stateColor maps lifecycle states to the status dot color.
func stateColor(s renderer.State) lipgloss.Color {
	switch s {
	case renderer.Running:
		return lipgloss.Color("42")
	case renderer.Paused:
		return lipgloss.Color("214")
	case renderer.Crashed, renderer.Failed:
		return lipgloss.Color("196")
	default:
		return lipgloss.Color("241")
	}
}

// View implements tea.Model.
func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	statusBar := renderStatusBar(m.connected, m.status, m.width)
	helpBar := renderHelpBar(m.statusText, m.form != nil, m.width)

	contentHeight := m.height - lipgloss.Height(statusBar) - lipgloss.Height(helpBar)
	if contentHeight < 1 {
		contentHeight = 1
	}

	if !m.connected {
		style := lipgloss.NewStyle().
			Width(m.width).
			Height(contentHeight).
			Foreground(lipgloss.Color("241")).
			Align(lipgloss.Center, lipgloss.Center)
		msg := "daemon not running"
		if m.lastErr != "" {
			msg += "\n\n" + m.lastErr
		}
		return lipgloss.JoinVertical(lipgloss.Left, statusBar, style.Render(msg), helpBar)
	}

	sidebar := lipgloss.NewStyle().
		Width(m.sidebarWidth()).
		Height(contentHeight).
		Render(m.list.View())

	sep := lipgloss.NewStyle().
		Foreground(lipgloss.Color("238")).
		Render(strings.Repeat("│\n", contentHeight-1) + "│")

	var detail string
	if m.form != nil {
		header := lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Render("Set wallpaper on "+string(m.input.display)) +
			dimStyle.Render("  (esc to cancel)")
		detail = header + "\n\n" + m.form.View()
	} else {
		detail = m.renderDetail()
	}
	detail = lipgloss.NewStyle().
		Width(m.width - m.sidebarWidth() - 2).
		Height(contentHeight).
		Padding(0, 2).
		Render(detail)

	columns := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, sep, detail)
	return lipgloss.JoinVertical(lipgloss.Left, statusBar, columns, helpBar)
}

func (m model) renderDetail() string {
	item, ok := m.selected()
	if !ok {
		return dimStyle.Render("No displays")
	}

	row := func(label, value string) string {
		return labelStyle.Render(label) + valueStyle.Render(value)
	}

	d := item.display
	lines := []string{
		row("Display", string(d.ID)),
		row("Output", d.Name),
		row("Geometry", fmt.Sprintf("%dx%d+%d+%d", d.Bounds.Width, d.Bounds.Height, d.Bounds.X, d.Bounds.Y)),
		row("Connected", fmt.Sprint(d.Connected)),
		"",
	}

	inst := item.instance
	if inst == nil {
		lines = append(lines, dimStyle.Render("  No wallpaper. Press 's' to set one."))
		return strings.Join(lines, "\n")
	}

	dot := lipgloss.NewStyle().Foreground(stateColor(inst.State)).Render("●")
	pid := "-"
	if inst.PID > 0 {
		pid = fmt.Sprint(inst.PID)
	}
	lines = append(lines,
		row("Instance", string(inst.ID)),
		row("Type", string(inst.Type)),
		row("Source", inst.Source),
		row("Layout", string(inst.Layout)),
		labelStyle.Render("State")+dot+" "+valueStyle.Render(inst.State.String()),
		row("Desired", inst.Desired.String()),
		row("Attached", fmt.Sprint(inst.Attached)),
		row("PID", pid),
		row("Restarts", fmt.Sprint(inst.Restarts)),
		row("Hold", fmt.Sprint(inst.Override.Pause)),
		row("Mouse input", fmt.Sprint(inst.Override.MouseInput)),
	)
	if inst.LastError != "" {
		lines = append(lines, "", errStyle.Render("  "+inst.LastError))
	}
	return strings.Join(lines, "\n")
}

// activeTriggers names the pause reasons currently in force.
func activeTriggers(status *ipc.StatusData) []string {
	if status == nil {
		return nil
	}
	t := status.Triggers
	var out []string
	if t.PauseAll {
		out = append(out, "paused")
	}
	if t.Fullscreen {
		out = append(out, "fullscreen")
	}
	if t.SessionLocked {
		out = append(out, "locked")
	}
	if t.RemoteSession {
		out = append(out, "remote")
	}
	if t.PowerSaver {
		out = append(out, "power-saver")
	}
	if t.OnBattery {
		out = append(out, "battery")
	}
	return out
}

// renderStatusBar renders the daemon connection status bar.
func renderStatusBar(connected bool, status *ipc.StatusData, width int) string {
	var text string
	if connected && status != nil {
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
		parts := []string{
			dot + " daemon connected",
			fmt.Sprintf("pid:%d", status.PID),
			fmt.Sprintf("wallpapers:%d", status.Wallpapers),
		}
		if triggers := activeTriggers(status); len(triggers) > 0 {
			parts = append(parts, "triggers:"+strings.Join(triggers, ","))
		}
		text = strings.Join(parts, "  ")
	} else {
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("●")
		text = dot + " daemon not running"
	}

	return lipgloss.NewStyle().
		Width(width).
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("250")).
		Padding(0, 1).
		Render(text)
}

// renderHelpBar renders the bottom keybinding bar, or the last action result.
func renderHelpBar(statusText string, editing bool, width int) string {
	help := "j/k: select  s: set  x: remove  h: hold  i: mouse input  p: pause all  r: reload  q: quit"
	if editing {
		help = "enter: next/submit  esc: cancel  ctrl-c: quit"
	}
	style := lipgloss.NewStyle().
		Width(width).
		Foreground(lipgloss.Color("241")).
		Padding(0, 1)
	if statusText != "" {
		return style.Foreground(lipgloss.Color("42")).Render(statusText)
	}
	return style.Render(help)
}
