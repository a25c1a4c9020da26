// Package promptcache deduplicates large repeated prompts by content.
//
// Each distinct prompt is stored once and addressed by a short id derived
// from its SHA-256 digest. The cache is bounded; when full, the entry with
// the lowest usage count is evicted, oldest first on ties.
package promptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/revops-ai/tracecompact/pkg/models"
)

// IDPrefix tags every id issued by the cache.
const IDPrefix = "prompt_"

// idHexLen is the number of digest hex characters kept in an id.
const idHexLen = 12

type entry struct {
	ref models.PromptReference
	seq uint64
}

// Cache is a bounded content-addressed prompt store. It is safe for
// concurrent use.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	texts      map[string]string
	refs       map[string]*entry
	seq        uint64
	evictions  int64

	now     func() time.Time
	onEvict func(models.PromptReference)
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for FirstSeenAt.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithEvictHook registers fn to be called with the reference of every
// evicted entry. fn runs after the cache lock is released.
func WithEvictHook(fn func(models.PromptReference)) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// New creates a Cache holding at most maxEntries distinct prompts.
func New(maxEntries int, opts ...Option) (*Cache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("%w: max_entries must be positive, got %d", ErrConfiguration, maxEntries)
	}
	c := &Cache{
		maxEntries: maxEntries,
		texts:      make(map[string]string, maxEntries),
		refs:       make(map[string]*entry, maxEntries),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Digest returns the full SHA-256 hex digest of text.
func Digest(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// IDFor returns the id that Intern issues for text.
func IDFor(text string) string {
	return idFromDigest(Digest(text))
}

func idFromDigest(digest string) string {
	return IDPrefix + digest[:idHexLen]
}

// Intern registers text and returns its id. Interning the same text again
// increments its usage count and returns the same id.
//
// Two texts whose digests share the id prefix are treated as the same
// entry; the first text wins.
func (c *Cache) Intern(text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrInvalidInput)
	}
	digest := Digest(text)
	id := idFromDigest(digest)

	c.mu.Lock()
	if e, ok := c.refs[id]; ok {
		e.ref.UsageCount++
		c.mu.Unlock()
		return id, nil
	}

	var evicted *models.PromptReference
	if len(c.refs) >= c.maxEntries {
		evicted = c.evictLocked()
	}

	c.seq++
	c.texts[id] = text
	c.refs[id] = &entry{
		ref: models.PromptReference{
			ID:          id,
			ContentHash: digest,
			Length:      utf8.RuneCountInString(text),
			FirstSeenAt: c.now(),
			UsageCount:  1,
		},
		seq: c.seq,
	}
	hook := c.onEvict
	c.mu.Unlock()

	if evicted != nil && hook != nil {
		hook(*evicted)
	}
	return id, nil
}

// evictLocked removes the entry with the lowest usage count. Ties go to the
// oldest FirstSeenAt, then to the earliest insertion. c.mu must be held.
func (c *Cache) evictLocked() *models.PromptReference {
	var victim *entry
	for _, e := range c.refs {
		if victim == nil || evictsBefore(e, victim) {
			victim = e
		}
	}
	if victim == nil {
		return nil
	}
	delete(c.texts, victim.ref.ID)
	delete(c.refs, victim.ref.ID)
	c.evictions++
	ref := victim.ref
	return &ref
}

func evictsBefore(a, b *entry) bool {
	if a.ref.UsageCount != b.ref.UsageCount {
		return a.ref.UsageCount < b.ref.UsageCount
	}
	if !a.ref.FirstSeenAt.Equal(b.ref.FirstSeenAt) {
		return a.ref.FirstSeenAt.Before(b.ref.FirstSeenAt)
	}
	return a.seq < b.seq
}

// Resolve returns the text stored under id.
func (c *Cache) Resolve(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	text, ok := c.texts[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return text, nil
}

// Reference returns the metadata stored under id.
func (c *Cache) Reference(id string) (models.PromptReference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.refs[id]
	if !ok {
		return models.PromptReference{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.ref, nil
}

// References returns a snapshot of all held references, most used first.
func (c *Cache) References() []models.PromptReference {
	c.mu.Lock()
	out := make([]models.PromptReference, 0, len(c.refs))
	for _, e := range c.refs {
		out = append(out, e.ref)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats returns current occupancy and deduplication savings.
func (c *Cache) Stats() models.PromptCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := models.PromptCacheStats{
		Entries:    len(c.refs),
		MaxEntries: c.maxEntries,
		Evictions:  c.evictions,
	}
	for _, e := range c.refs {
		s.TotalUsage += e.ref.UsageCount
		s.StoredChars += int64(e.ref.Length)
		s.RawChars += e.ref.RawChars()
	}
	return s
}
