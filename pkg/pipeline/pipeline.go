// Package pipeline compacts streams of JSON trace records.
package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/revops-ai/tracecompact/pkg/models"
	"github.com/revops-ai/tracecompact/pkg/promptcache"
	"github.com/revops-ai/tracecompact/pkg/rewriter"
	"github.com/revops-ai/tracecompact/pkg/router"
)

// ErrInvalidJSON is returned when a line is not a JSON object.
var ErrInvalidJSON = errors.New("invalid trace json")

// Sink receives compacted traces and first-seen prompts.
type Sink interface {
	StoreTrace(ctx context.Context, entry models.TraceEntry) (string, error)
	SnapshotPrompt(ctx context.Context, ref models.PromptReference, text string) error
}

// PromptStore is the read side of the prompt cache.
type PromptStore interface {
	Reference(id string) (models.PromptReference, error)
	Resolve(id string) (string, error)
}

// Keys probed, in order, for trace metadata stored alongside each record.
var (
	traceIDKeys = []string{"trace_id", "traceId", "id"}
	agentKeys   = []string{"agent", "agentName", "agent_id"}
	sessionKeys = []string{"session_id", "sessionId"}
)

// Options tunes a Pipeline.
type Options struct {
	Workers     int
	Strict      bool
	MaxLineSize int
	// Snapshot copies first-seen prompts to the sink.
	Snapshot bool
}

// Result is the outcome of compacting one record.
type Result struct {
	TraceID   string
	PromptRef string
	Record    models.TraceRecord
	Raw       []byte
	Compacted []byte

	entry models.TraceEntry
	// prompt is the cache state captured right after interning, so a
	// snapshot survives an eviction that happens before the sink write.
	prompt *capturedPrompt
}

type capturedPrompt struct {
	ref  models.PromptReference
	text string
}

// Pipeline routes each record to its rewriter and forwards the output to a sink.
type Pipeline struct {
	router  *router.Router
	prompts PromptStore
	sink    Sink
	logger  *zap.Logger
	opts    Options

	mu sync.Mutex
	// snapshotted holds the FirstSeenAt of every prompt already copied to
	// the sink. Entries are dropped by Forget when the cache evicts them.
	snapshotted map[string]time.Time
}

// New creates a Pipeline. sink may be nil.
func New(r *router.Router, prompts PromptStore, sink Sink, logger *zap.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = 4 * 1024 * 1024
	}
	return &Pipeline{
		router:      r,
		prompts:     prompts,
		sink:        sink,
		logger:      logger.Named("pipeline"),
		opts:        opts,
		snapshotted: make(map[string]time.Time),
	}
}

// ProcessOne compacts a single JSON-encoded record and stores it in the sink.
func (p *Pipeline) ProcessOne(ctx context.Context, raw []byte) (Result, error) {
	res, err := p.compact(raw)
	if err != nil {
		return Result{}, err
	}
	p.store(ctx, &res)
	return res, nil
}

// compact rewrites raw without touching the sink.
func (p *Pipeline) compact(raw []byte) (Result, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return Result{}, err
	}

	out, id, err := p.router.Process(rec)
	if err != nil {
		return Result{}, err
	}

	compacted := raw
	if id != "" {
		if compacted, err = json.Marshal(out); err != nil {
			return Result{}, fmt.Errorf("encode record: %w", err)
		}
	}

	res := Result{
		TraceID:   firstString(rec, traceIDKeys),
		PromptRef: id,
		Record:    out,
		Raw:       raw,
		Compacted: compacted,
		entry: models.TraceEntry{
			TraceID:        firstString(rec, traceIDKeys),
			Agent:          firstString(rec, agentKeys),
			SessionID:      firstString(rec, sessionKeys),
			PromptRef:      id,
			Record:         string(compacted),
			RawBytes:       len(raw),
			CompactedBytes: len(compacted),
		},
	}
	if id != "" && p.opts.Snapshot && p.sink != nil && p.prompts != nil {
		res.prompt = p.capture(id)
	}
	return res, nil
}

func (p *Pipeline) capture(id string) *capturedPrompt {
	ref, err := p.prompts.Reference(id)
	if err != nil {
		// Evicted between intern and here.
		return nil
	}
	text, err := p.prompts.Resolve(id)
	if err != nil {
		return nil
	}
	return &capturedPrompt{ref: ref, text: text}
}

// store writes the prompt snapshot and the trace entry of res to the sink.
func (p *Pipeline) store(ctx context.Context, res *Result) {
	if p.sink == nil {
		return
	}
	if res.prompt != nil {
		p.snapshot(ctx, res.prompt)
	}
	traceID, err := p.sink.StoreTrace(ctx, res.entry)
	if err != nil {
		// The compacted record is still valid; losing the archive copy is not fatal.
		p.logger.Warn("archive store failed", zap.String("trace_id", res.TraceID), zap.Error(err))
		return
	}
	res.TraceID = traceID
}

func (p *Pipeline) snapshot(ctx context.Context, cp *capturedPrompt) {
	id := cp.ref.ID
	p.mu.Lock()
	seen, ok := p.snapshotted[id]
	if ok && seen.Equal(cp.ref.FirstSeenAt) {
		p.mu.Unlock()
		return
	}
	p.snapshotted[id] = cp.ref.FirstSeenAt
	p.mu.Unlock()

	if err := p.sink.SnapshotPrompt(ctx, cp.ref, cp.text); err != nil {
		p.logger.Warn("prompt snapshot failed", zap.String("prompt_ref", id), zap.Error(err))
		return
	}
	p.logger.Debug("prompt snapshotted", zap.String("prompt_ref", id), zap.Int("length", cp.ref.Length))
}

// Forget drops the snapshot record of an evicted prompt. It is meant to be
// called from the prompt cache's evict hook. A stale eviction, reported
// after the same id was interned again, is ignored.
func (p *Pipeline) Forget(ref models.PromptReference) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seen, ok := p.snapshotted[ref.ID]; ok && seen.Equal(ref.FirstSeenAt) {
		delete(p.snapshotted, ref.ID)
	}
}

type batchLine struct {
	n    int
	line []byte
}

type lineResult struct {
	res Result
	err error
}

// Run reads newline-delimited JSON records from r and writes the compacted
// records to w in input order. Blank lines are written through, so output
// line N always corresponds to input line N. Records that fail to compact
// are written unchanged and counted as skipped, unless the pipeline is
// strict, in which case the first failure aborts the run.
//
// Records are stored in the sink in input order once their batch is
// compacted, so a strict run never archives records after the failing
// line. Those records may still have been interned by the prompt cache.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, w io.Writer) (models.BatchResult, error) {
	var total models.BatchResult

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), p.opts.MaxLineSize)
	bw := bufio.NewWriter(w)

	batchSize := p.opts.Workers * 16
	batch := make([]batchLine, 0, batchSize)
	lineNo := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		results, err := p.processBatch(ctx, batch)
		if err != nil {
			return err
		}
		for i, bl := range batch {
			if len(bl.line) == 0 {
				if err := bw.WriteByte('\n'); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				continue
			}
			lr := &results[i]
			total.Records++
			total.RawBytes += int64(len(bl.line))
			out := bl.line
			switch {
			case lr.err != nil:
				if p.opts.Strict {
					return fmt.Errorf("line %d: %w", bl.n, lr.err)
				}
				total.Skipped++
				p.logger.Warn("record skipped", zap.Int("line", bl.n), zap.Error(lr.err))
			case lr.res.PromptRef != "":
				total.Compacted++
				out = lr.res.Compacted
				p.store(ctx, &lr.res)
			default:
				total.Passthrough++
				p.store(ctx, &lr.res)
			}
			total.CompactedBytes += int64(len(out))
			if _, err := bw.Write(out); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			if err := bw.WriteByte('\n'); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		batch = append(batch, batchLine{n: lineNo, line: append([]byte(nil), line...)})
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("read input: %w", err)
	}
	if err := flush(); err != nil {
		return total, err
	}
	if err := bw.Flush(); err != nil {
		return total, fmt.Errorf("write output: %w", err)
	}

	p.logger.Info("batch compacted",
		zap.Int("records", total.Records),
		zap.Int("compacted", total.Compacted),
		zap.Int("skipped", total.Skipped),
		zap.Int64("raw_bytes", total.RawBytes),
		zap.Int64("compacted_bytes", total.CompactedBytes))
	return total, nil
}

// processBatch compacts lines concurrently. Per-record failures are
// returned in the results; only context cancellation fails the batch.
func (p *Pipeline) processBatch(ctx context.Context, lines []batchLine) ([]lineResult, error) {
	results := make([]lineResult, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, bl := range lines {
		if len(bl.line) == 0 {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.compact(bl.line)
			results[i] = lineResult{res: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// IsRecordError reports whether err is a per-record failure rather than
// an infrastructure failure.
func IsRecordError(err error) bool {
	return errors.Is(err, ErrInvalidJSON) ||
		errors.Is(err, rewriter.ErrMalformedRecord) ||
		errors.Is(err, promptcache.ErrInvalidInput)
}

func decodeRecord(raw []byte) (models.TraceRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec models.TraceRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidJSON)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return rec, nil
}

func firstString(rec models.TraceRecord, keys []string) string {
	for _, k := range keys {
		if s := rec.Str(k); s != "" {
			return s
		}
	}
	return ""
}
