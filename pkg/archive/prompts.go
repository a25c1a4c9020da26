package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/revops-ai/tracecompact/pkg/models"
)

const createPromptsTable = `
CREATE TABLE IF NOT EXISTS prompts (
	id            TEXT PRIMARY KEY,
	content_hash  TEXT NOT NULL,
	length        INTEGER NOT NULL,
	text          TEXT NOT NULL,
	first_seen_at DATETIME NOT NULL,
	usage_count   INTEGER NOT NULL DEFAULT 1,
	evicted_at    DATETIME
);
`

// SnapshotPrompt stores the text of a newly interned prompt so operators
// can still read it after the in-memory cache evicts it. Re-snapshotting
// an id refreshes its usage count and first-seen time and clears any
// eviction mark.
func (a *Archive) SnapshotPrompt(ctx context.Context, ref models.PromptReference, text string) error {
	if a == nil || a.db == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO prompts (id, content_hash, length, text, first_seen_at, usage_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET usage_count = excluded.usage_count,
		   first_seen_at = excluded.first_seen_at, evicted_at = NULL`,
		ref.ID, ref.ContentHash, ref.Length, text, ref.FirstSeenAt.UTC(), ref.UsageCount,
	)
	if err != nil {
		return fmt.Errorf("snapshot prompt: %w", err)
	}
	return nil
}

// MarkEvicted records that the cache dropped ref, keeping its final usage
// count. The mark only applies to the snapshot with the same FirstSeenAt;
// an eviction reported after the id was interned again is ignored.
func (a *Archive) MarkEvicted(ctx context.Context, ref models.PromptReference, at time.Time) error {
	if a == nil || a.db == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx,
		`UPDATE prompts SET evicted_at = ?, usage_count = ? WHERE id = ? AND first_seen_at = ?`,
		at.UTC(), ref.UsageCount, ref.ID, ref.FirstSeenAt.UTC())
	if err != nil {
		return fmt.Errorf("mark prompt evicted: %w", err)
	}
	return nil
}

// Prompt returns the archived snapshot for id.
func (a *Archive) Prompt(ctx context.Context, id string) (models.ArchivedPrompt, error) {
	var p models.ArchivedPrompt
	var evicted sql.NullTime
	err := a.db.QueryRowContext(ctx,
		`SELECT id, content_hash, length, text, first_seen_at, usage_count, evicted_at
		 FROM prompts WHERE id = ?`, id,
	).Scan(&p.ID, &p.ContentHash, &p.Length, &p.Text, &p.FirstSeenAt, &p.UsageCount, &evicted)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ArchivedPrompt{}, fmt.Errorf("prompt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.ArchivedPrompt{}, fmt.Errorf("load prompt: %w", err)
	}
	if evicted.Valid {
		t := evicted.Time
		p.EvictedAt = &t
	}
	return p, nil
}

// Prompts lists archived prompt snapshots without their text, most used first.
func (a *Archive) Prompts(ctx context.Context, limit int) ([]models.ArchivedPrompt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, content_hash, length, first_seen_at, usage_count, evicted_at
		 FROM prompts ORDER BY usage_count DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	var out []models.ArchivedPrompt
	for rows.Next() {
		var p models.ArchivedPrompt
		var evicted sql.NullTime
		if err := rows.Scan(&p.ID, &p.ContentHash, &p.Length, &p.FirstSeenAt, &p.UsageCount, &evicted); err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		if evicted.Valid {
			t := evicted.Time
			p.EvictedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
