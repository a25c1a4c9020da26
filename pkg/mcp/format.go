package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/revops-ai/tracecompact/pkg/models"
)

// formatCacheStats formats prompt cache stats as text.
func formatCacheStats(stats models.PromptCacheStats) string {
	return fmt.Sprintf("Prompt Cache Statistics\n"+
		"  Entries:     %d / %d\n"+
		"  Usage:       %s\n"+
		"  Evictions:   %s\n"+
		"  Stored:      %s chars\n"+
		"  Saved:       %s chars\n"+
		"  Compression: %.1fx\n",
		stats.Entries, stats.MaxEntries,
		humanize.Comma(stats.TotalUsage),
		humanize.Comma(stats.Evictions),
		humanize.Comma(stats.StoredChars),
		humanize.Comma(stats.SavedChars()),
		stats.CompressionRatio())
}

// formatPrompt formats one prompt with its metadata header.
func formatPrompt(ref models.PromptReference, text string, evictedAt *time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID:         %s\n", ref.ID)
	fmt.Fprintf(&b, "Length:     %s chars\n", humanize.Comma(int64(ref.Length)))
	fmt.Fprintf(&b, "Usage:      %s\n", humanize.Comma(ref.UsageCount))
	fmt.Fprintf(&b, "First seen: %s\n", humanize.Time(ref.FirstSeenAt))
	if evictedAt != nil {
		fmt.Fprintf(&b, "Evicted:    %s\n", humanize.Time(*evictedAt))
	}
	fmt.Fprintf(&b, "\n%s\n", text)
	return b.String()
}

// formatReferences formats cached prompts as a text table.
func formatReferences(refs []models.PromptReference) string {
	if len(refs) == 0 {
		return "No prompts cached."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %10s %10s %14s  %-16s\n", "ID", "Length", "Usage", "Saved", "First Seen")
	b.WriteString(strings.Repeat("-", 76) + "\n")
	for _, r := range refs {
		fmt.Fprintf(&b, "%-20s %10s %10s %14s  %-16s\n",
			r.ID,
			humanize.Comma(int64(r.Length)),
			humanize.Comma(r.UsageCount),
			humanize.Comma(r.RawChars()-int64(r.Length)),
			humanize.Time(r.FirstSeenAt))
	}
	return b.String()
}

// formatTraceEntries formats archived traces as a text table.
func formatTraceEntries(entries []models.TraceEntry) string {
	if len(entries) == 0 {
		return "No traces found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-18s %-20s %10s %10s %-20s\n",
		"Trace ID", "Agent", "Prompt Ref", "Raw", "Compacted", "Time")
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

// formatTraceStats formats archive stats as a text table.
func formatTraceStats(stats []models.TraceStat) string {
	if len(stats) == 0 {
		return "No trace stats found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %8s %12s %12s %7s\n", "Agent", "Day", "Count", "Raw", "Compacted", "Saved%")
	b.WriteString(strings.Repeat("-", 76) + "\n")
	for _, s := range stats {
		pct := float64(0)
		if s.RawBytes > 0 {
			pct = float64(s.RawBytes-s.CompactedBytes) / float64(s.RawBytes) * 100
		}
		agent := s.Agent
		if agent == "" {
			agent = "(none)"
		}
		fmt.Fprintf(&b, "%-20s %-12s %8d %12s %12s %6.1f%%\n",
			agent, s.Day, s.Count,
			humanize.IBytes(uint64(s.RawBytes)),
			humanize.IBytes(uint64(s.CompactedBytes)),
			pct)
	}
	return b.String()
}
