package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/1broseidon/deskpaper/internal/config"
	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
)

// useJSON reports whether output should be JSON: --json wins, otherwise JSON
// is used when stdout is not a terminal.
func (c *cli) useJSON(w io.Writer) bool {
	if c.jsonSet {
		return c.jsonOut
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return !term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeStatus(w io.Writer, status *ipc.StatusData) {
	fmt.Fprintf(w, "daemon_running: %v\n", status.DaemonRunning)
	fmt.Fprintf(w, "pid:            %d\n", status.PID)
	fmt.Fprintf(w, "uptime_seconds: %d\n", status.UptimeSeconds)
	fmt.Fprintf(w, "displays:       %d\n", status.Displays)
	fmt.Fprintf(w, "wallpapers:     %d\n", status.Wallpapers)

	t := status.Triggers
	var active []string
	if t.PauseAll {
		active = append(active, "pause_all")
	}
	if t.Fullscreen {
		if t.FullscreenDisplay != "" {
			active = append(active, "fullscreen("+string(t.FullscreenDisplay)+")")
		} else {
			active = append(active, "fullscreen")
		}
	}
	if t.SessionLocked {
		active = append(active, "locked")
	}
	if t.RemoteSession {
		active = append(active, "remote")
	}
	if t.PowerSaver {
		active = append(active, "power_saver")
	}
	if t.OnBattery {
		active = append(active, "on_battery")
	}
	if len(active) == 0 {
		active = append(active, "none")
	}
	fmt.Fprintf(w, "triggers:       %s\n", strings.Join(active, ", "))
}

func writeDisplays(w io.Writer, displays []display.Display) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tGEOMETRY\tPRIMARY\tCONNECTED")
	for _, d := range displays {
		b := d.Bounds
		fmt.Fprintf(tw, "%s\t%s\t%dx%d+%d+%d\t%v\t%v\n", d.ID, d.Name, b.Width, b.Height, b.X, b.Y, d.Primary, d.Connected)
	}
	return tw.Flush()
}

func writeWallpapers(w io.Writer, instances []orchestrator.Instance) error {
	if len(instances) == 0 {
		fmt.Fprintln(w, "no wallpapers")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DISPLAY\tINSTANCE\tTYPE\tSTATE\tDESIRED\tATTACHED\tPID\tRESTARTS\tSOURCE")
	for _, inst := range instances {
		pid := "-"
		if inst.PID > 0 {
			pid = fmt.Sprint(inst.PID)
		}
		state := inst.State.String()
		if inst.Override.Pause {
			state += " (held)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%v\t%s\t%d\t%s\n",
			inst.DisplayID, inst.ID, inst.Type, state, inst.Desired, inst.Attached, pid, inst.Restarts, inst.Source)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, inst := range instances {
		if inst.LastError != "" {
			fmt.Fprintf(w, "%s: %s\n", inst.ID, inst.LastError)
		}
	}
	return nil
}

func writeEvent(w io.Writer, ev orchestrator.Event) {
	line := fmt.Sprintf("%s %-26s", ev.Time.Format("15:04:05.000"), ev.Kind)
	if ev.InstanceID != "" {
		line += " instance=" + string(ev.InstanceID)
	}
	if ev.DisplayID != "" {
		line += " display=" + string(ev.DisplayID)
	}
	switch ev.Kind {
	case orchestrator.InstanceStateChanged, orchestrator.LaunchFailed, orchestrator.CrashRetryExhausted:
		line += " state=" + ev.State.String()
	case orchestrator.DisplayTopologyChanged:
		line += " change=" + ev.Change
		if ev.Bounds != nil {
			line += fmt.Sprintf(" geometry=%dx%d+%d+%d", ev.Bounds.Width, ev.Bounds.Height, ev.Bounds.X, ev.Bounds.Y)
		}
	}
	if ev.Error != "" {
		line += fmt.Sprintf(" error=%q", ev.Error)
	}
	fmt.Fprintln(w, line)
}

func formatSource(src config.Source) string {
	switch src.Kind {
	case config.SourceFile:
		if src.File == "" {
			return "file"
		}
		if src.Line > 0 {
			return fmt.Sprintf("file:%s:%d:%d", src.File, src.Line, src.Column)
		}
		return "file:" + src.File
	case config.SourceDefault:
		if src.Name != "" {
			return "default:" + src.Name
		}
		return "default"
	default:
		return string(src.Kind)
	}
}
