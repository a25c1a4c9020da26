package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/revops-ai/tracecompact/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start tracecompact as an MCP server over stdio",
		Long: "Serves archived traces and prompt snapshots to MCP clients. " +
			"The in-memory prompt cache lives in the serve process, so prompts " +
			"are resolved from the archive.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.New(nil, a, logger, version)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
