package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/revops-ai/tracecompact/pkg/models"
)

func newTracesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Query and manage the compacted trace archive",
	}

	cmd.AddCommand(
		newTracesSearchCmd(),
		newTracesShowCmd(),
		newTracesStatsCmd(),
		newTracesCleanupCmd(),
	)
	return cmd
}

func newTracesSearchCmd() *cobra.Command {
	var (
		agent     string
		since     string
		promptRef string
		session   string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search archived traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.TraceQueryOpts{
				Agent:     agent,
				PromptRef: promptRef,
				SessionID: session,
				Limit:     limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := a.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatTraceEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&promptRef, "prompt-ref", "", "filter by prompt reference id")
	cmd.Flags().StringVar(&session, "session", "", "filter by session ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newTracesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show a single archived trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := a.Query(context.Background(), models.TraceQueryOpts{
				TraceID: args[0],
				Limit:   1,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No trace found for that ID.")
				return nil
			}

			e := entries[0]
			fmt.Printf("Trace ID:      %s\n", e.TraceID)
			fmt.Printf("Agent:         %s\n", e.Agent)
			fmt.Printf("Session:       %s\n", e.SessionID)
			fmt.Printf("Prompt Ref:    %s\n", e.PromptRef)
			fmt.Printf("Size:          %s raw / %s compacted\n",
				humanize.IBytes(uint64(e.RawBytes)), humanize.IBytes(uint64(e.CompactedBytes)))
			fmt.Printf("Time:          %s\n", e.CreatedAt.Format(time.RFC3339))

			var pretty bytes.Buffer
			if json.Indent(&pretty, []byte(e.Record), "", "  ") == nil {
				fmt.Printf("\n--- Record ---\n%s\n", pretty.String())
			} else {
				// Truncated records are no longer valid JSON.
				fmt.Printf("\n--- Record ---\n%s\n", e.Record)
			}
			return nil
		},
	}
}

func newTracesStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show archive statistics by agent and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := a.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatTraceStats(stats))
			return nil
		},
	}
}

func newTracesCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete archived traces older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := a.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %s archived traces.\n", humanize.Comma(deleted))
			return nil
		},
	}
}

func formatTraceEntries(entries []models.TraceEntry) string {
	if len(entries) == 0 {
		return "No traces found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-18s %-20s %10s %10s %-20s\n",
		"TRACE ID", "AGENT", "PROMPT REF", "RAW", "COMPACTED", "TIME")
	b.WriteString(strings.Repeat("-", 121) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-18s %-20s %10s %10s %-20s\n",
			e.TraceID, e.Agent, e.PromptRef,
			humanize.IBytes(uint64(e.RawBytes)),
			humanize.IBytes(uint64(e.CompactedBytes)),
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatTraceStats(stats []models.TraceStat) string {
	if len(stats) == 0 {
		return "No trace stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %8s %12s %12s\n", "AGENT", "DAY", "COUNT", "RAW", "COMPACTED")
	b.WriteString(strings.Repeat("-", 68) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-20s %-12s %8d %12s %12s\n",
			s.Agent, s.Day, s.Count,
			humanize.IBytes(uint64(s.RawBytes)),
			humanize.IBytes(uint64(s.CompactedBytes)))
	}
	return b.String()
}
