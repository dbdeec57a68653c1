package tui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/renderer"
)

// wallpaperInput holds the form-bound values of the set-wallpaper form.
type wallpaperInput struct {
	display    display.ID
	typ        string
	source     string
	layout     string
	mouseInput bool
}

func (in wallpaperInput) payload() (ipc.SetWallpaperPayload, error) {
	layout, err := renderer.ParseLayout(in.layout)
	if err != nil {
		return ipc.SetWallpaperPayload{}, err
	}
	p := ipc.SetWallpaperPayload{
		DisplayID:  in.display,
		Type:       renderer.Type(in.typ),
		Source:     strings.TrimSpace(in.source),
		Layout:     layout,
		MouseInput: in.mouseInput,
	}
	if p.Source == "" && p.Type != renderer.Native {
		return ipc.SetWallpaperPayload{}, fmt.Errorf("%s wallpapers need a source", p.Type)
	}
	return p, nil
}

func (m model) startForm() (tea.Model, tea.Cmd) {
	item, ok := m.selected()
	if !ok {
		return m, nil
	}

	// The form writes through these pointers; the model is copied on every Update.
	m.input = &wallpaperInput{display: item.display.ID, typ: config.TypeVideo, layout: string(renderer.LayoutFill)}
	if inst := item.instance; inst != nil {
		m.input.typ = string(inst.Type)
		m.input.source = inst.Source
		m.input.layout = string(inst.Layout)
		m.input.mouseInput = inst.Override.MouseInput
	}

	layouts := []string{
		string(renderer.LayoutFill),
		string(renderer.LayoutFit),
		string(renderer.LayoutStretch),
		string(renderer.LayoutTile),
		string(renderer.LayoutCenter),
	}

	w := m.width - m.sidebarWidth() - 6
	if w < 40 {
		w = 40
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("type").
				Title("Type").
				Options(huh.NewOptions(config.WallpaperTypes...)...).
				Value(&m.input.typ),
			huh.NewInput().
				Key("source").
				Title("Source").
				Description("File path or URL; empty for native").
				Value(&m.input.source),
			huh.NewSelect[string]().
				Key("layout").
				Title("Layout").
				Options(huh.NewOptions(layouts...)...).
				Value(&m.input.layout),
			huh.NewConfirm().
				Key("mouse_input").
				Title("Mouse input").
				Description("Keep running while a fullscreen app has focus").
				Value(&m.input.mouseInput),
		),
	).WithWidth(w).WithShowHelp(true).WithShowErrors(true)

	return m, m.form.Init()
}

func (m model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.form = nil
			return m, nil
		}
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.form = nil
		return m, m.submit(*m.input)
	case huh.StateAborted:
		m.form = nil
		return m, nil
	}
	return m, cmd
}

func (m model) submit(in wallpaperInput) tea.Cmd {
	p, err := in.payload()
	if err != nil {
		return func() tea.Msg { return statusMsg{text: "error: " + err.Error()} }
	}
	return func() tea.Msg {
		id, err := m.client.SetWallpaper(p)
		if err != nil {
			var remote *ipc.RemoteError
			if errors.As(err, &remote) {
				return statusMsg{text: fmt.Sprintf("error: %s (%s)", remote.Message, remote.Code)}
			}
			return statusMsg{text: "error: " + err.Error()}
		}
		return statusMsg{text: fmt.Sprintf("%s: launching %s", p.DisplayID, id)}
	}
}
