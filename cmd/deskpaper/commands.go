package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/1broseidon/deskpaper/internal/daemon"
	"github.com/1broseidon/deskpaper/internal/display"
	"github.com/1broseidon/deskpaper/internal/ipc"
	"github.com/1broseidon/deskpaper/internal/orchestrator"
	"github.com/1broseidon/deskpaper/internal/renderer"
	"github.com/1broseidon/deskpaper/internal/tui"
)

func (c *cli) daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the wallpaper daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return daemon.Run(ctx, daemon.Options{ConfigPath: c.configPath, SocketPath: c.socketPath})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and active pause triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := c.client().GetStatus()
			if err != nil {
				return fmt.Errorf("daemon is not running: %w", err)
			}
			w := cmd.OutOrStdout()
			if c.useJSON(w) {
				return writeJSON(w, status)
			}
			writeStatus(w, status)
			return nil
		},
	}
}

func (c *cli) displaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "displays",
		Short: "List monitors known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			displays, err := c.client().ListDisplays()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if c.useJSON(w) {
				return writeJSON(w, displays)
			}
			return writeDisplays(w, displays)
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List wallpaper instances",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			instances, err := c.client().ListWallpapers()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if c.useJSON(w) {
				return writeJSON(w, instances)
			}
			return writeWallpapers(w, instances)
		},
	}
}

func (c *cli) setCmd() *cobra.Command {
	var (
		layout     string
		mouseInput bool
	)
	cmd := &cobra.Command{
		Use:   "set <display> <type> [source]",
		Short: "Assign a wallpaper to a display",
		Long: `Assign a wallpaper to a display, replacing the current one.

Types: video, webpage, gif, image, application, native.
The source is a file path or URL; native wallpapers take none.

The command returns once the request is accepted. The renderer launches
in the background; use 'deskpaper list' or 'deskpaper events' to follow it.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := setPayload(args, layout, mouseInput)
			if err != nil {
				return err
			}
			id, err := c.client().SetWallpaper(p)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if c.useJSON(w) {
				return writeJSON(w, ipc.SetWallpaperData{InstanceID: id})
			}
			fmt.Fprintf(w, "%s: %s\n", p.DisplayID, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&layout, "layout", "fill", "Layout mode: fill, fit, stretch, tile, center")
	cmd.Flags().BoolVar(&mouseInput, "mouse-input", false, "Keep running while a fullscreen app has focus")
	return cmd
}

func setPayload(args []string, layout string, mouseInput bool) (ipc.SetWallpaperPayload, error) {
	mode, err := renderer.ParseLayout(layout)
	if err != nil {
		return ipc.SetWallpaperPayload{}, err
	}
	p := ipc.SetWallpaperPayload{
		DisplayID:  display.ID(strings.TrimSpace(args[0])),
		Type:       renderer.Type(strings.ToLower(strings.TrimSpace(args[1]))),
		Layout:     mode,
		MouseInput: mouseInput,
	}
	if len(args) > 2 {
		p.Source = args[2]
	}
	if p.DisplayID == "" {
		return ipc.SetWallpaperPayload{}, errors.New("display is required")
	}
	if p.Source == "" && p.Type != renderer.Native {
		return ipc.SetWallpaperPayload{}, fmt.Errorf("%s wallpapers need a source", p.Type)
	}
	return p, nil
}

func (c *cli) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <display>",
		Short: "Stop and remove the wallpaper on a display",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.client().RemoveWallpaper(display.ID(args[0]))
		},
	}
}

func (c *cli) pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause every wallpaper until resumed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.client().PauseAll()
		},
	}
}

func (c *cli) resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Clear a pause; policy triggers still apply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.client().ResumeAll()
		},
	}
}

func (c *cli) overrideCmd() *cobra.Command {
	var (
		pause      bool
		mouseInput bool
	)
	cmd := &cobra.Command{
		Use:   "override <display>",
		Short: "Set the per-display pause hold and mouse-input flag",
		Long: `Set the overrides of the wallpaper on a display.

Both flags are written every time: omitting one clears it.
  --pause        keep this wallpaper paused regardless of triggers
  --mouse-input  keep it running while a fullscreen app has focus`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.client().SetOverride(ipc.SetOverridePayload{
				DisplayID:  display.ID(args[0]),
				Pause:      pause,
				MouseInput: mouseInput,
			})
		},
	}
	cmd.Flags().BoolVar(&pause, "pause", false, "Hold the wallpaper paused")
	cmd.Flags().BoolVar(&mouseInput, "mouse-input", false, "Exempt from fullscreen pausing")
	return cmd
}

func (c *cli) layoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout <display> <fill|fit|stretch|tile|center>",
		Short: "Change the layout of a running wallpaper",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := renderer.ParseLayout(args[1])
			if err != nil {
				return err
			}
			return c.client().SetLayout(display.ID(args[0]), mode)
		},
	}
}

func (c *cli) reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the daemon configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client().Reload(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config reloaded")
			return nil
		},
	}
}

func (c *cli) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Aliases: []string{"shutdown"},
		Short:   "Stop every wallpaper and exit the daemon",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.client().Shutdown()
		},
	}
}

func (c *cli) eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream orchestrator events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := cmd.OutOrStdout()
			asJSON := c.useJSON(w)
			err := c.client().Events(ctx, func(ev orchestrator.Event) error {
				if asJSON {
					return writeJSON(w, ev)
				}
				writeEvent(w, ev)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func (c *cli) tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive dashboard for displays and wallpapers",
		Long: `Interactive dashboard showing every display and its wallpaper.

Keybindings:
  j/k, up/down  Select display
  s, enter      Set wallpaper on the selected display
  x             Remove its wallpaper
  h             Toggle the pause hold
  i             Toggle mouse input
  p             Pause or resume everything
  r             Reload the daemon config
  q, ctrl-c     Quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(c.client())
		},
	}
}
