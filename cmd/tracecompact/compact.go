package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/revops-ai/tracecompact/pkg/models"
)

func newCompactCmd() *cobra.Command {
	var (
		outPath string
		strict  bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "compact [file]",
		Short: "Compact newline-delimited JSON traces from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("strict") {
				cfg.Pipeline.Strict = strict
			}
			if workers > 0 {
				cfg.Pipeline.Workers = workers
			}

			var in io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			var out io.Writer = os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := rt.pipeline.Run(ctx, in, out)
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stderr, formatBatchResult(res, rt.cache.Stats()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write compacted traces to this file instead of stdout")
	cmd.Flags().BoolVar(&strict, "strict", false, "abort on the first record that cannot be compacted")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent workers (overrides config)")
	return cmd
}

func formatBatchResult(res models.BatchResult, stats models.PromptCacheStats) string {
	saved := float64(0)
	if res.RawBytes > 0 {
		saved = float64(res.RawBytes-res.CompactedBytes) / float64(res.RawBytes) * 100
	}
	return fmt.Sprintf("Records:   %s (%s compacted, %s passthrough, %s skipped)\n"+
		"Bytes:     %s -> %s (%.1f%% saved)\n"+
		"Prompts:   %d unique, %s evictions\n",
		humanize.Comma(int64(res.Records)),
		humanize.Comma(int64(res.Compacted)),
		humanize.Comma(int64(res.Passthrough)),
		humanize.Comma(int64(res.Skipped)),
		humanize.IBytes(uint64(res.RawBytes)),
		humanize.IBytes(uint64(res.CompactedBytes)),
		saved,
		stats.Entries,
		humanize.Comma(stats.Evictions))
}
