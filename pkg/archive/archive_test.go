package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/revops-ai/tracecompact/pkg/models"
)

func tempCfg(t *testing.T) models.ArchiveConfig {
	t.Helper()
	return models.ArchiveConfig{
		Enabled:         true,
		DBPath:          filepath.Join(t.TempDir(), "archive_test.db"),
		RetentionDays:   30,
		MaxRecordSize:   1024,
		SnapshotPrompts: true,
	}
}

func mustNew(t *testing.T, cfg models.ArchiveConfig) *Archive {
	t.Helper()
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func sampleEntry() models.TraceEntry {
	return models.TraceEntry{
		TraceID:        "trace-001",
		Agent:          "DataAgent",
		SessionID:      "sess-1",
		PromptRef:      "prompt_0123456789ab",
		Record:         `{"system_ref":"prompt_0123456789ab","agent":"DataAgent"}`,
		RawBytes:       2100,
		CompactedBytes: 60,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestStoreAndQuery(t *testing.T) {
	a := mustNew(t, tempCfg(t))
	ctx := context.Background()

	if _, err := a.StoreTrace(ctx, sampleEntry()); err != nil {
		t.Fatalf("StoreTrace: %v", err)
	}

	entries, err := a.Query(ctx, models.TraceQueryOpts{Agent: "DataAgent"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].TraceID != "trace-001" {
		t.Errorf("expected trace-001, got %s", entries[0].TraceID)
	}
	if entries[0].RawBytes != 2100 || entries[0].CompactedBytes != 60 {
		t.Errorf("unexpected sizes: %d/%d", entries[0].RawBytes, entries[0].CompactedBytes)
	}
}

func TestQueryFilters(t *testing.T) {
	a := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_, _ = a.StoreTrace(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.TraceID = "trace-002"
	e2.Agent = "WebSearchAgent"
	e2.PromptRef = "prompt_ffffffffffff"
	_, _ = a.StoreTrace(ctx, e2)

	entries, err := a.Query(ctx, models.TraceQueryOpts{PromptRef: "prompt_ffffffffffff"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].TraceID != "trace-002" {
		t.Fatalf("expected trace-002 only, got %+v", entries)
	}

	entries, err = a.Query(ctx, models.TraceQueryOpts{TraceID: "trace-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1, got %d", len(entries))
	}

	entries, err = a.Query(ctx, models.TraceQueryOpts{Since: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no future entries, got %d", len(entries))
	}
}

func TestStoreAssignsTraceID(t *testing.T) {
	a := mustNew(t, tempCfg(t))
	ctx := context.Background()

	entry := sampleEntry()
	entry.TraceID = ""
	id, err := a.StoreTrace(ctx, entry)
	if err != nil {
		t.Fatalf("StoreTrace: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("expected uuid trace id, got %q", id)
	}
}

func TestRecordTruncation(t *testing.T) {
	cfg := tempCfg(t)
	cfg.MaxRecordSize = 16
	a := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.Record = strings.Repeat("x", 100)
	if _, err := a.StoreTrace(ctx, entry); err != nil {
		t.Fatalf("StoreTrace: %v", err)
	}

	entries, err := a.Query(ctx, models.TraceQueryOpts{TraceID: "trace-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries[0].Record) != 16 {
		t.Errorf("expected truncated record len 16, got %d", len(entries[0].Record))
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0 // everything is old
	a := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.CreatedAt = time.Now().UTC().AddDate(0, 0, -1)
	_, _ = a.StoreTrace(ctx, entry)

	deleted, err := a.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestStats(t *testing.T) {
	a := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_, _ = a.StoreTrace(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.TraceID = "trace-002"
	_, _ = a.StoreTrace(ctx, e2)

	stats, err := a.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) == 0 {
		t.Fatal("expected stats")
	}
	if stats[0].Count != 2 {
		t.Errorf("expected count 2, got %d", stats[0].Count)
	}
	if stats[0].RawBytes != 4200 || stats[0].CompactedBytes != 120 {
		t.Errorf("unexpected byte totals: %d/%d", stats[0].RawBytes, stats[0].CompactedBytes)
	}
}

func TestPromptSnapshot(t *testing.T) {
	a := mustNew(t, tempCfg(t))
	ctx := context.Background()

	ref := models.PromptReference{
		ID:          "prompt_0123456789ab",
		ContentHash: strings.Repeat("a", 64),
		Length:      11,
		FirstSeenAt: time.Now().UTC(),
		UsageCount:  1,
	}
	if err := a.SnapshotPrompt(ctx, ref, "hello world"); err != nil {
		t.Fatalf("SnapshotPrompt: %v", err)
	}

	p, err := a.Prompt(ctx, ref.ID)
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if p.Text != "hello world" || p.EvictedAt != nil {
		t.Errorf("unexpected snapshot: %+v", p)
	}

	ref.UsageCount = 9
	if err := a.MarkEvicted(ctx, ref, time.Now()); err != nil {
		t.Fatalf("MarkEvicted: %v", err)
	}
	p, err = a.Prompt(ctx, ref.ID)
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if p.EvictedAt == nil {
		t.Error("expected eviction mark")
	}
	if p.UsageCount != 9 {
		t.Errorf("expected usage 9, got %d", p.UsageCount)
	}

	// Re-interned after eviction.
	ref.UsageCount = 1
	if err := a.SnapshotPrompt(ctx, ref, "hello world"); err != nil {
		t.Fatalf("SnapshotPrompt: %v", err)
	}
	list, err := a.Prompts(ctx, 10)
	if err != nil {
		t.Fatalf("Prompts: %v", err)
	}
	if len(list) != 1 || list[0].EvictedAt != nil {
		t.Errorf("expected one live prompt, got %+v", list)
	}
}

func TestMarkEvictedIgnoresStaleGeneration(t *testing.T) {
	a := mustNew(t, tempCfg(t))
	ctx := context.Background()

	first := models.PromptReference{
		ID:          "prompt_0123456789ab",
		ContentHash: strings.Repeat("b", 64),
		Length:      5,
		FirstSeenAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		UsageCount:  4,
	}
	second := first
	second.FirstSeenAt = first.FirstSeenAt.Add(time.Minute)
	second.UsageCount = 1

	if err := a.SnapshotPrompt(ctx, first, "hello"); err != nil {
		t.Fatalf("SnapshotPrompt: %v", err)
	}
	// Re-interned before the first eviction was reported.
	if err := a.SnapshotPrompt(ctx, second, "hello"); err != nil {
		t.Fatalf("SnapshotPrompt: %v", err)
	}
	if err := a.MarkEvicted(ctx, first, time.Now()); err != nil {
		t.Fatalf("MarkEvicted: %v", err)
	}

	p, err := a.Prompt(ctx, first.ID)
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if p.EvictedAt != nil {
		t.Errorf("stale eviction should not mark the live snapshot, got %v", p.EvictedAt)
	}
	if p.UsageCount != 1 {
		t.Errorf("expected usage 1, got %d", p.UsageCount)
	}
	if !p.FirstSeenAt.Equal(second.FirstSeenAt) {
		t.Errorf("expected first seen %v, got %v", second.FirstSeenAt, p.FirstSeenAt)
	}

	if err := a.MarkEvicted(ctx, second, time.Now()); err != nil {
		t.Fatalf("MarkEvicted: %v", err)
	}
	p, err = a.Prompt(ctx, first.ID)
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if p.EvictedAt == nil {
		t.Error("expected eviction mark for the current generation")
	}
}

func TestPromptNotFound(t *testing.T) {
	a := mustNew(t, tempCfg(t))
	_, err := a.Prompt(context.Background(), "prompt_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNilArchiveSafe(t *testing.T) {
	var a *Archive
	if _, err := a.StoreTrace(context.Background(), sampleEntry()); err != nil {
		t.Errorf("nil archive should be safe: %v", err)
	}
	if err := a.SnapshotPrompt(context.Background(), models.PromptReference{}, "x"); err != nil {
		t.Errorf("nil archive should be safe: %v", err)
	}
}

func TestNewInvalidPath(t *testing.T) {
	cfg := models.ArchiveConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "archive.db"),
	}
	_, err := New(cfg, nil)
	if err == nil {
		t.Error("expected error for invalid path")
	}
}
