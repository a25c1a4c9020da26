package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/revops-ai/tracecompact/pkg/server"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the trace compaction HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.Listen = listen
			}

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := server.New(cfg, rt.pipeline, rt.cache, rt.archive, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting tracecompact",
				zap.String("config", configPath),
				zap.Int("max_entries", cfg.Cache.MaxEntries),
				zap.Bool("archive", cfg.Archive.Enabled))
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
