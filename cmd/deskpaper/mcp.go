package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/1broseidon/deskpaper/internal/logging"
	"github.com/1broseidon/deskpaper/internal/mcp"
)

func (c *cli) mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Model Context Protocol integration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		Long: `Start the MCP server on stdio. Designed to be invoked by MCP clients.
Tools are forwarded to the running daemon over its control socket.

Example:
  claude mcp add deskpaper -- deskpaper mcp serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol; Setup logs to stderr and the log file.
			logger := logging.Discard()
			if res, err := c.loadConfig(); err == nil {
				l, closer, err := logging.Setup(res.Config, new(slog.LevelVar))
				if err != nil {
					fmt.Fprintf(os.Stderr, "logging disabled: %v\n", err)
				} else {
					defer closer.Close()
					logger = l
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := mcp.NewServer(c.client(), logging.Component(logger, "mcp")).Run(ctx); err != nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	})
	return cmd
}
