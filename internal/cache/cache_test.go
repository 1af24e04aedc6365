package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ist-insights-go/internal/aggregator"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func report(course string) aggregator.ClassReport {
	return aggregator.ClassReport{CourseID: course}
}

func TestKey(t *testing.T) {
	events := []aggregator.IstEventForReport{aggregator.NewReportEvent("1", "c1", "2025-01-14T10:00:00Z", "a")}

	k1, err := Key("c1", events, 10, 0.02)
	require.NoError(t, err)
	k2, err := Key("c1", events, 10, 0.02)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, "c1:")

	other, err := Key("c1", events, 5, 0.02)
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)

	other, err = Key("c1", events, 10, 0.05)
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)

	changed := []aggregator.IstEventForReport{aggregator.NewReportEvent("1", "c1", "2025-01-14T10:00:00Z", "b")}
	other, err = Key("c1", changed, 10, 0.02)
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)

	missing, err := Key("c1", []aggregator.IstEventForReport{{ID: "1", CourseID: "c1"}}, 10, 0.02)
	require.NoError(t, err)
	null, err := Key("c1", []aggregator.IstEventForReport{{ID: "1", CourseID: "c1", HasSkills: true}}, 10, 0.02)
	require.NoError(t, err)
	assert.NotEqual(t, missing, null)
}

func TestReportCache_TTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)}
	c := New(time.Minute, 10, WithClock(clock.now))

	c.Put("k", report("c1"))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "c1", got.CourseID)

	clock.t = clock.t.Add(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestReportCache_EvictsOldest(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)}
	c := New(time.Hour, 2, WithClock(clock.now))

	c.Put("a", report("a"))
	clock.t = clock.t.Add(time.Second)
	c.Put("b", report("b"))
	clock.t = clock.t.Add(time.Second)
	c.Put("c", report("c"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	// overwriting an existing key does not evict
	c.Put("c", report("c2"))
	assert.Equal(t, 2, c.Len())
}

func TestReportCache_Disabled(t *testing.T) {
	for _, c := range []*ReportCache{nil, New(0, 10), New(time.Minute, 0)} {
		c.Put("k", report("c1"))
		_, ok := c.Get("k")
		assert.False(t, ok)
		assert.Zero(t, c.Len())
	}
}

func TestReportCache_Concurrent(t *testing.T) {
	c := New(time.Minute, 8)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			c.Put(key, report(key))
			c.Get(key)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 8)
}
