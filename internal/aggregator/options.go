package aggregator

import (
	"math"
	"time"
)

const (
	DefaultMaxSkills    = 10
	DefaultGapThreshold = 0.02

	// trendListLimit bounds the rising and declining skill lists.
	trendListLimit = 5
)

// Option configures a report computation.
type Option func(*options)

type options struct {
	maxSkills    int
	gapThreshold float64
	now          func() time.Time
}

func newOptions(opts ...Option) options {
	o := options{
		maxSkills:    DefaultMaxSkills,
		gapThreshold: DefaultGapThreshold,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithMaxSkills bounds the topSkills list. Negative values are treated as 0.
func WithMaxSkills(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxSkills = n
	}
}

// WithGapThreshold sets the share below which a skill is reported as a gap.
// Non-finite values are ignored so the report stays JSON-encodable.
func WithGapThreshold(f float64) Option {
	return func(o *options) {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return
		}
		o.gapThreshold = f
	}
}

// WithClock overrides the source of generatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
