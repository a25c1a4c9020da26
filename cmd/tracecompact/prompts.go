package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/revops-ai/tracecompact/pkg/archive"
)

func newPromptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Inspect archived prompt snapshots",
	}
	cmd.AddCommand(newPromptsListCmd(), newPromptsShowCmd())
	return cmd
}

func newPromptsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived prompts, most used first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			prompts, err := a.Prompts(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(prompts) == 0 {
				fmt.Println("No prompts archived.")
				return nil
			}
			fmt.Printf("%-20s %10s %10s %-16s %-16s\n", "ID", "LENGTH", "USAGE", "FIRST SEEN", "EVICTED")
			fmt.Println(strings.Repeat("-", 76))
			for _, p := range prompts {
				evicted := "-"
				if p.EvictedAt != nil {
					evicted = humanize.Time(*p.EvictedAt)
				}
				fmt.Printf("%-20s %10s %10s %-16s %-16s\n",
					p.ID,
					humanize.Comma(int64(p.Length)),
					humanize.Comma(p.UsageCount),
					humanize.Time(p.FirstSeenAt),
					evicted)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "max prompts to list")
	return cmd
}

func newPromptsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the full text of an archived prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			p, err := a.Prompt(context.Background(), args[0])
			if errors.Is(err, archive.ErrNotFound) {
				return fmt.Errorf("prompt %s is not archived", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Printf("ID:            %s\n", p.ID)
			fmt.Printf("Content Hash:  %s\n", p.ContentHash)
			fmt.Printf("Length:        %s chars\n", humanize.Comma(int64(p.Length)))
			fmt.Printf("Usage:         %s\n", humanize.Comma(p.UsageCount))
			fmt.Printf("First Seen:    %s\n", p.FirstSeenAt.Format(time.RFC3339))
			if p.EvictedAt != nil {
				fmt.Printf("Evicted:       %s\n", p.EvictedAt.Format(time.RFC3339))
			}
			fmt.Printf("\n--- Text ---\n%s\n", p.Text)
			return nil
		},
	}
}
