package models

import "time"

// PromptReference describes one interned prompt.
type PromptReference struct {
	ID          string    `json:"id"`
	ContentHash string    `json:"content_hash"`
	Length      int       `json:"length"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	UsageCount  int64     `json:"usage_count"`
}

// RawChars is the number of characters this prompt would have cost
// without deduplication.
func (r PromptReference) RawChars() int64 {
	return int64(r.Length) * r.UsageCount
}

// PromptCacheStats reports prompt cache occupancy and savings.
type PromptCacheStats struct {
	Entries     int   `json:"entries"`
	MaxEntries  int   `json:"max_entries"`
	TotalUsage  int64 `json:"total_usage"`
	StoredChars int64 `json:"stored_chars"`
	RawChars    int64 `json:"raw_chars"`
	Evictions   int64 `json:"evictions"`
}

// CompressionRatio returns RawChars / StoredChars, or 0 when the cache is empty.
func (s PromptCacheStats) CompressionRatio() float64 {
	if s.StoredChars == 0 {
		return 0
	}
	return float64(s.RawChars) / float64(s.StoredChars)
}

// SavedChars is the number of prompt characters not transmitted thanks to
// deduplication.
func (s PromptCacheStats) SavedChars() int64 {
	return s.RawChars - s.StoredChars
}
