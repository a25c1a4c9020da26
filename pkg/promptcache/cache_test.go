package promptcache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revops-ai/tracecompact/pkg/models"
)

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestCache(t *testing.T, max int, opts ...Option) *Cache {
	t.Helper()
	c, err := New(max, append([]Option{WithClock(stepClock())}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNewRejectsNonPositive(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := New(n)
		require.ErrorIs(t, err, ErrConfiguration)
	}
}

func TestInternEmpty(t *testing.T) {
	c := newTestCache(t, 2)
	_, err := c.Intern("")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestInternIsContentDeterministic(t *testing.T) {
	c := newTestCache(t, 4)

	id1, err := c.Intern("You are a data analysis agent.")
	require.NoError(t, err)
	ref1, err := c.Reference(id1)
	require.NoError(t, err)

	id2, err := c.Intern("You are a data analysis agent.")
	require.NoError(t, err)
	ref2, err := c.Reference(id2)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, ref1.UsageCount+1, ref2.UsageCount)
	assert.True(t, strings.HasPrefix(id1, IDPrefix))
	assert.Len(t, id1, len(IDPrefix)+idHexLen)
	assert.Equal(t, IDFor("You are a data analysis agent."), id1)
	assert.Len(t, ref1.ContentHash, 64)
}

func TestDistinctContentDistinctIDs(t *testing.T) {
	c := newTestCache(t, 100)
	seen := make(map[string]string)
	for i := 0; i < 50; i++ {
		text := fmt.Sprintf("prompt number %d", i)
		id, err := c.Intern(text)
		require.NoError(t, err)
		if prev, ok := seen[id]; ok {
			t.Fatalf("id %s issued for %q and %q", id, prev, text)
		}
		seen[id] = text
	}
}

func TestResolveRoundTrip(t *testing.T) {
	c := newTestCache(t, 2)
	text := strings.Repeat("Route every revenue question to the data agent. ", 40)

	id, err := c.Intern(text)
	require.NoError(t, err)
	got, err := c.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestResolveUnknown(t *testing.T) {
	c := newTestCache(t, 2)
	_, err := c.Resolve("prompt_000000000000")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = c.Reference("prompt_000000000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEvictionBound(t *testing.T) {
	c := newTestCache(t, 3)
	for i := 0; i < 20; i++ {
		_, err := c.Intern(fmt.Sprintf("p%d", i))
		require.NoError(t, err)
		assert.LessOrEqual(t, c.Stats().Entries, 3)
	}
	assert.Equal(t, int64(17), c.Stats().Evictions)
}

func TestEvictsLowestUsage(t *testing.T) {
	c := newTestCache(t, 2)

	a, _ := c.Intern("A")
	b, _ := c.Intern("B")
	_, _ = c.Intern("A")
	_, _ = c.Intern("A")

	ca, err := c.Intern("C")
	require.NoError(t, err)

	_, err = c.Resolve(b)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := c.Resolve(a)
	require.NoError(t, err)
	assert.Equal(t, "A", got)
	got, err = c.Resolve(ca)
	require.NoError(t, err)
	assert.Equal(t, "C", got)

	ref, _ := c.Reference(a)
	assert.Equal(t, int64(3), ref.UsageCount)
}

func TestEvictionTieBreaksOnOldest(t *testing.T) {
	c := newTestCache(t, 3)
	first, _ := c.Intern("first")
	second, _ := c.Intern("second")
	third, _ := c.Intern("third")

	_, _ = c.Intern("fourth")
	_, err := c.Resolve(first)
	require.ErrorIs(t, err, ErrNotFound)

	_, _ = c.Intern("fifth")
	_, err = c.Resolve(second)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.Resolve(third)
	require.NoError(t, err)
}

func TestTieBreakWithFrozenClock(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := New(2, WithClock(func() time.Time { return frozen }))
	require.NoError(t, err)

	x, _ := c.Intern("x")
	y, _ := c.Intern("y")
	_, _ = c.Intern("z")

	_, err = c.Resolve(x)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = c.Resolve(y)
	require.NoError(t, err)
}

func TestReinsertAfterEvictionKeepsID(t *testing.T) {
	c := newTestCache(t, 1)
	id1, _ := c.Intern("alpha")
	_, _ = c.Intern("beta")
	id2, err := c.Intern("alpha")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	ref, _ := c.Reference(id2)
	assert.Equal(t, int64(1), ref.UsageCount)
}

func TestConcreteScenario(t *testing.T) {
	c := newTestCache(t, 2)

	id1, _ := c.Intern("PROMPT_A")
	id2, _ := c.Intern("PROMPT_B")
	id3, _ := c.Intern("PROMPT_A")
	assert.Equal(t, id1, id3)
	assert.Equal(t, 2, c.Stats().Entries)

	id4, _ := c.Intern("PROMPT_C")

	_, err := c.Resolve(id2)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = c.Resolve(id1)
	require.NoError(t, err)
	_, err = c.Resolve(id4)
	require.NoError(t, err)
}

func TestStats(t *testing.T) {
	c := newTestCache(t, 4)
	long := strings.Repeat("x", 2000)
	for i := 0; i < 5; i++ {
		_, _ = c.Intern(long)
	}
	_, _ = c.Intern("short")

	s := c.Stats()
	assert.Equal(t, 2, s.Entries)
	assert.Equal(t, 4, s.MaxEntries)
	assert.Equal(t, int64(6), s.TotalUsage)
	assert.Equal(t, int64(2005), s.StoredChars)
	assert.Equal(t, int64(10005), s.RawChars)
	assert.Equal(t, int64(8000), s.SavedChars())
	assert.InDelta(t, 10005.0/2005.0, s.CompressionRatio(), 1e-9)
}

func TestLengthCountsCharacters(t *testing.T) {
	c := newTestCache(t, 1)
	id, _ := c.Intern("héllo")
	ref, _ := c.Reference(id)
	assert.Equal(t, 5, ref.Length)
}

func TestEvictHook(t *testing.T) {
	var evicted []models.PromptReference
	c := newTestCache(t, 1, WithEvictHook(func(r models.PromptReference) {
		evicted = append(evicted, r)
	}))

	a, _ := c.Intern("a")
	_, _ = c.Intern("b")

	require.Len(t, evicted, 1)
	assert.Equal(t, a, evicted[0].ID)
}

func TestReferencesOrder(t *testing.T) {
	c := newTestCache(t, 3)
	_, _ = c.Intern("one")
	two, _ := c.Intern("two")
	_, _ = c.Intern("two")

	refs := c.References()
	require.Len(t, refs, 2)
	assert.Equal(t, two, refs[0].ID)
}

func TestConcurrentIntern(t *testing.T) {
	c := newTestCache(t, 8)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				text := fmt.Sprintf("prompt-%d", (g+i)%12)
				id, err := c.Intern(text)
				if err != nil {
					t.Error(err)
					return
				}
				if got, err := c.Resolve(id); err == nil && got != text {
					t.Errorf("resolve %s: got %q want %q", id, got, text)
				}
			}
		}(g)
	}
	wg.Wait()

	s := c.Stats()
	assert.LessOrEqual(t, s.Entries, 8)
	for _, ref := range c.References() {
		_, err := c.Resolve(ref.ID)
		assert.NoError(t, err)
	}
}
