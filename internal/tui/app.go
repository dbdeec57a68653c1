package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/policy"
)

const (
	refreshInterval = time.Second
	statusLifetime  = 3 * time.Second
)

// displayItem implements list.Item for the display sidebar.
type displayItem struct {
	display  display.Display
	instance *orchestrator.Instance
}

func (i displayItem) Title() string {
	prefix := "  "
	if i.display.Primary {
		prefix = "* "
	}
	if !i.display.Connected {
		return prefix + string(i.display.ID) + " (disconnected)"
	}
	return prefix + string(i.display.ID)
}

func (i displayItem) Description() string {
	if i.instance == nil {
		return "no wallpaper"
	}
	return fmt.Sprintf("%s %s", i.instance.Type, i.instance.State)
}

func (i displayItem) FilterValue() string { return string(i.display.ID) }

// snapshotMsg carries a fresh view of the daemon.
type snapshotMsg struct {
	status    *ipc.StatusData
	displays  []display.Display
	instances []orchestrator.Instance
	err       error
}

type tickMsg struct{}

// statusMsg is sent after an action completes.
type statusMsg struct {
	text string
}

// clearStatusMsg clears the status message after a delay.
type clearStatusMsg struct{}

// model is the root bubbletea model for the dashboard.
type model struct {
	client Client
	list   list.Model

	connected bool
	status    *ipc.StatusData
	lastErr   string

	statusText string

	// Set-wallpaper form
	form  *huh.Form
	input *wallpaperInput

	width  int
	height int
}

func newModel(client Client) model {
	delegate := list.NewDefaultDelegate()
	delegate.SetSpacing(0)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Displays"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	return model{client: client, list: l}
}

func (m model) refresh() tea.Msg {
	status, err := m.client.GetStatus()
	if err != nil {
		return snapshotMsg{err: err}
	}
	displays, err := m.client.ListDisplays()
	if err != nil {
		return snapshotMsg{err: err}
	}
	instances, err := m.client.ListWallpapers()
	if err != nil {
		return snapshotMsg{err: err}
	}
	return snapshotMsg{status: status, displays: displays, instances: instances}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func clearStatusLater() tea.Cmd {
	return tea.Tick(statusLifetime, func(time.Time) tea.Msg { return clearStatusMsg{} })
}

// buildItems pairs every display with its instance. Instances on displays
// the registry no longer reports still get a row.
func buildItems(displays []display.Display, instances []orchestrator.Instance) []list.Item {
	byDisplay := make(map[display.ID]orchestrator.Instance, len(instances))
	for _, inst := range instances {
		byDisplay[inst.DisplayID] = inst
	}

	items := make([]list.Item, 0, len(displays))
	seen := make(map[display.ID]bool, len(displays))
	for _, d := range displays {
		item := displayItem{display: d}
		if inst, ok := byDisplay[d.ID]; ok {
			item.instance = &inst
		}
		seen[d.ID] = true
		items = append(items, item)
	}
	var orphans []orchestrator.Instance
	for _, inst := range instances {
		if !seen[inst.DisplayID] {
			orphans = append(orphans, inst)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].DisplayID < orphans[j].DisplayID })
	for i := range orphans {
		items = append(items, displayItem{
			display:  display.Display{ID: orphans[i].DisplayID, Name: string(orphans[i].DisplayID)},
			instance: &orphans[i],
		})
	}
	return items
}

func (m model) selected() (displayItem, bool) {
	item, ok := m.list.SelectedItem().(displayItem)
	return item, ok
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return tea.Batch(m.refresh, tick())
}

// Update implements tea.Model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(m.sidebarWidth(), m.contentHeight())
		return m, nil

	case snapshotMsg:
		if msg.err != nil {
			m.connected = false
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.connected = true
		m.lastErr = ""
		m.status = msg.status
		cmd := m.list.SetItems(buildItems(msg.displays, msg.instances))
		return m, cmd

	case tickMsg:
		return m, tea.Batch(m.refresh, tick())

	case statusMsg:
		m.statusText = msg.text
		return m, tea.Batch(m.refresh, clearStatusLater())

	case clearStatusMsg:
		m.statusText = ""
		return m, nil
	}

	if m.form != nil {
		return m.updateForm(msg)
	}

	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "p":
			return m, m.togglePauseAll()
		case "h":
			return m, m.toggleOverride(func(ov *policy.Override) { ov.Pause = !ov.Pause })
		case "i":
			return m, m.toggleOverride(func(ov *policy.Override) { ov.MouseInput = !ov.MouseInput })
		case "x":
			return m, m.removeSelected()
		case "r":
			return m, m.action("config reloaded", m.client.Reload)
		case "s", "enter":
			return m.startForm()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// action runs fn and reports the outcome in the status line.
func (m model) action(done string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return statusMsg{text: "error: " + err.Error()}
		}
		return statusMsg{text: done}
	}
}

func (m model) togglePauseAll() tea.Cmd {
	if m.status != nil && m.status.Triggers.PauseAll {
		return m.action("resumed", m.client.ResumeAll)
	}
	return m.action("paused", m.client.PauseAll)
}

func (m model) toggleOverride(change func(*policy.Override)) tea.Cmd {
	item, ok := m.selected()
	if !ok || item.instance == nil {
		return nil
	}
	ov := item.instance.Override
	change(&ov)
	id := item.display.ID
	return m.action(fmt.Sprintf("%s: hold=%v mouse_input=%v", id, ov.Pause, ov.MouseInput), func() error {
		return m.client.SetOverride(ipc.SetOverridePayload{DisplayID: id, Pause: ov.Pause, MouseInput: ov.MouseInput})
	})
}

func (m model) removeSelected() tea.Cmd {
	item, ok := m.selected()
	if !ok || item.instance == nil {
		return nil
	}
	id := item.display.ID
	return m.action("removed wallpaper from "+string(id), func() error {
		return m.client.RemoveWallpaper(id)
	})
}

// contentHeight returns the height available between the status and help bars.
func (m model) contentHeight() int {
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

func (m model) sidebarWidth() int {
	// Sidebar takes ~35% of width, min 24, max 44
	sw := m.width * 35 / 100
	if sw < 24 {
		sw = 24
	}
	if sw > 44 {
		sw = 44
	}
	return sw
}
