package models

import "time"

// TraceEntry is one compacted trace as stored in the archive.
type TraceEntry struct {
	TraceID        string    `json:"trace_id"`
	Agent          string    `json:"agent,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	PromptRef      string    `json:"prompt_ref,omitempty"`
	Record         string    `json:"record"`
	RawBytes       int       `json:"raw_bytes"`
	CompactedBytes int       `json:"compacted_bytes"`
	CreatedAt      time.Time `json:"created_at"`
}

// ArchiveConfig controls the trace archive.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled" toml:"enabled"`
	DBPath          string `yaml:"db_path" toml:"db_path"`
	RetentionDays   int    `yaml:"retention_days" toml:"retention_days"`
	MaxRecordSize   int    `yaml:"max_record_size" toml:"max_record_size"` // bytes
	SnapshotPrompts bool   `yaml:"snapshot_prompts" toml:"snapshot_prompts"`
}

// TraceQueryOpts specifies filters for querying archived traces.
type TraceQueryOpts struct {
	TraceID   string
	Agent     string
	SessionID string
	PromptRef string
	Since     time.Time
	Limit     int
}

// TraceStat holds aggregate archive counts for an agent/day combination.
type TraceStat struct {
	Agent          string
	Day            string
	Count          int
	RawBytes       int64
	CompactedBytes int64
}

// ArchivedPrompt is a prompt snapshot kept in the archive.
type ArchivedPrompt struct {
	PromptReference
	Text      string     `json:"text"`
	EvictedAt *time.Time `json:"evicted_at,omitempty"`
}
