// Package archive persists compacted trace records in SQLite.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/revops-ai/tracecompact/pkg/models"
)

// ErrNotFound is returned when a prompt snapshot does not exist.
var ErrNotFound = errors.New("not found")

// Archive writes and queries compacted traces in a dedicated SQLite database.
type Archive struct {
	db     *sql.DB
	cfg    models.ArchiveConfig
	logger *zap.Logger
	done   chan struct{}
	wg     sync.WaitGroup
}

// New opens the archive database and creates the schema.
func New(cfg models.ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive db: %w", err)
	}

	a := &Archive{
		db:     db,
		cfg:    cfg,
		logger: logger.Named("archive"),
		done:   make(chan struct{}),
	}

	if cfg.RetentionDays > 0 {
		a.wg.Add(1)
		go a.retentionLoop()
	}

	return a, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS traces (
			trace_id        TEXT PRIMARY KEY,
			agent           TEXT NOT NULL DEFAULT '',
			session_id      TEXT NOT NULL DEFAULT '',
			prompt_ref      TEXT NOT NULL DEFAULT '',
			record          TEXT NOT NULL,
			raw_bytes       INTEGER NOT NULL,
			compacted_bytes INTEGER NOT NULL,
			created_at      DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_agent ON traces(agent)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_created ON traces(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_prompt ON traces(prompt_ref)`,
		createPromptsTable,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// StoreTrace inserts a compacted trace. A nil Archive discards the entry.
// Entries without a trace id get a random one; the stored id is returned.
func (a *Archive) StoreTrace(ctx context.Context, entry models.TraceEntry) (string, error) {
	if a == nil || a.db == nil {
		return entry.TraceID, nil
	}
	if entry.TraceID == "" {
		entry.TraceID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	record := entry.Record
	if a.cfg.MaxRecordSize > 0 && len(record) > a.cfg.MaxRecordSize {
		record = record[:a.cfg.MaxRecordSize]
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO traces
		(trace_id, agent, session_id, prompt_ref, record, raw_bytes, compacted_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TraceID, entry.Agent, entry.SessionID, entry.PromptRef,
		record, entry.RawBytes, entry.CompactedBytes, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("store trace: %w", err)
	}
	return entry.TraceID, nil
}

// Query returns archived traces matching the given options, newest first.
func (a *Archive) Query(ctx context.Context, opts models.TraceQueryOpts) ([]models.TraceEntry, error) {
	q := `SELECT trace_id, agent, session_id, prompt_ref, record,
		raw_bytes, compacted_bytes, created_at
		FROM traces WHERE 1=1`
	var args []any

	if opts.TraceID != "" {
		q += " AND trace_id = ?"
		args = append(args, opts.TraceID)
	}
	if opts.Agent != "" {
		q += " AND agent = ?"
		args = append(args, opts.Agent)
	}
	if opts.SessionID != "" {
		q += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.PromptRef != "" {
		q += " AND prompt_ref = ?"
		args = append(args, opts.PromptRef)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var entries []models.TraceEntry
	for rows.Next() {
		var e models.TraceEntry
		if err := rows.Scan(
			&e.TraceID, &e.Agent, &e.SessionID, &e.PromptRef, &e.Record,
			&e.RawBytes, &e.CompactedBytes, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trace row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by agent and day.
func (a *Archive) Stats(ctx context.Context) ([]models.TraceStat, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT agent, date(created_at) AS day, count(*) AS cnt,
		 COALESCE(SUM(raw_bytes), 0), COALESCE(SUM(compacted_bytes), 0)
		 FROM traces GROUP BY agent, day ORDER BY day DESC, agent`)
	if err != nil {
		return nil, fmt.Errorf("trace stats: %w", err)
	}
	defer rows.Close()

	var stats []models.TraceStat
	for rows.Next() {
		var s models.TraceStat
		var day sql.NullString
		if err := rows.Scan(&s.Agent, &day, &s.Count, &s.RawBytes, &s.CompactedBytes); err != nil {
			return nil, fmt.Errorf("scan trace stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes traces older than the configured retention period.
func (a *Archive) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.RetentionDays)
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM traces WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trace cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (a *Archive) Close() error {
	close(a.done)
	a.wg.Wait()
	return a.db.Close()
}

func (a *Archive) retentionLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			n, err := a.Cleanup(context.Background())
			if err != nil {
				a.logger.Warn("retention cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Info("retention cleanup", zap.Int64("deleted", n))
			}
		}
	}
}
