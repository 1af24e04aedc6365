// Package cache memoises computed class reports for identical inputs.
package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"ist-insights-go/internal/aggregator"
)

type entry struct {
	report  aggregator.ClassReport
	added   time.Time
	expires time.Time
}

// ReportCache is an in-memory, TTL and size bounded report cache. A zero TTL
// or size disables it. Safe for concurrent use.
type ReportCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]entry
	now        func() time.Time
}

type Option func(*ReportCache)

func WithClock(now func() time.Time) Option {
	return func(c *ReportCache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(ttl time.Duration, maxEntries int, opts ...Option) *ReportCache {
	c := &ReportCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]entry),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key identifies a report by course, the exact input events and the options.
func Key(courseID string, events []aggregator.IstEventForReport, maxSkills int, gapThreshold float64) (string, error) {
	d := xxhash.New()
	_, _ = d.WriteString(courseID)
	_, _ = d.WriteString("\x00")
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return "", fmt.Errorf("hash report input: %w", err)
		}
		_, _ = d.Write(raw)
		// missing and null skills marshal the same way
		_, _ = d.WriteString(strconv.FormatBool(ev.HasSkills))
		_, _ = d.WriteString("\x00")
	}
	_, _ = d.WriteString(strconv.Itoa(maxSkills))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatFloat(gapThreshold, 'g', -1, 64))
	return courseID + ":" + strconv.FormatUint(d.Sum64(), 16), nil
}

func (c *ReportCache) enabled() bool {
	return c != nil && c.ttl > 0 && c.maxEntries > 0
}

func (c *ReportCache) Get(key string) (aggregator.ClassReport, bool) {
	if !c.enabled() {
		return aggregator.ClassReport{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return aggregator.ClassReport{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return aggregator.ClassReport{}, false
	}
	return e.report, true
}

func (c *ReportCache) Put(key string, report aggregator.ClassReport) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evict(now)
	}
	c.entries[key] = entry{report: report, added: now, expires: now.Add(c.ttl)}
}

// evict drops expired entries, and the oldest one if that frees nothing.
func (c *ReportCache) evict(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if oldestKey == "" || e.added.Before(oldest) {
			oldestKey, oldest = k, e.added
		}
	}
	delete(c.entries, oldestKey)
}

func (c *ReportCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
