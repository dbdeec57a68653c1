package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/1broseidon/deskpaper/internal/ipc"
)

var version = "0.1.0"

// cli carries the global flags shared by every subcommand.
type cli struct {
	socketPath string
	jsonOut    bool
	jsonSet    bool
	configPath string
}

func (c *cli) client() *ipc.Client {
	if c.socketPath != "" {
		return ipc.NewClientWithPath(c.socketPath)
	}
	return ipc.NewClient()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "deskpaper",
		Short:         "deskpaper - animated wallpapers behind the desktop icons",
		Long:          "deskpaper runs videos, web pages and applications as desktop wallpapers, one per monitor, and pauses them when they would be wasted: fullscreen apps, locked or remote sessions, power saving.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.jsonSet = cmd.Flags().Changed("json")
		},
	}
	root.PersistentFlags().StringVar(&c.socketPath, "socket", "", "Control socket path (default: $XDG_RUNTIME_DIR/deskpaper.sock)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "Print JSON (default when stdout is not a terminal)")
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file path (default: ~/.config/deskpaper/config.yaml)")

	root.AddCommand(
		c.daemonCmd(),
		c.statusCmd(),
		c.displaysCmd(),
		c.listCmd(),
		c.setCmd(),
		c.removeCmd(),
		c.pauseCmd(),
		c.resumeCmd(),
		c.overrideCmd(),
		c.layoutCmd(),
		c.reloadCmd(),
		c.stopCmd(),
		c.eventsCmd(),
		c.configCmd(),
		c.mcpCmd(),
		c.tuiCmd(),
	)
	return root
}
