package pthm

import (
	"github.com/prefixmap/pthm/internal/log"
	"github.com/prefixmap/pthm/metrics"
)

// Option configures a Map at construction time, following the functional
// options idiom used throughout the pack (e.g. config.Option in
// rskv-p-mini/config/option.go).
type Option func(*config) error

type config struct {
	minConcurrency int
	splitFactor    float64
	mergeFactor    float64
	leafCapacity   int
	mergeMode      MergeThresholdMode

	log     *log.Logger
	metrics *metrics.Recorder
}

func defaultConfig() config {
	return config{
		minConcurrency: 1,
		splitFactor:    1.0,
		mergeFactor:    0.25,
		leafCapacity:   128,
		mergeMode:      MergeThresholdCorrected,
	}
}

// WithLogger attaches a logger a Map uses to trace split/merge activity.
// Defaults to a no-op logger.
func WithLogger(l *log.Logger) Option {
	return func(c *config) error {
		c.log = l
		return nil
	}
}

// WithMetrics attaches a metrics.Recorder a Map increments on Get/Put/
// Remove/split/merge.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *config) error {
		c.metrics = r
		return nil
	}
}

// WithMinConcurrency sets the minimum number of write operations PTHM
// keeps pre-split leaves for. Must be positive.
func WithMinConcurrency(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return invalidArgf("minConcurrency must be positive, got %d", n)
		}
		c.minConcurrency = n
		return nil
	}
}

// WithSplitFactor sets the fraction of leaf capacity that triggers a
// split. Must be positive.
func WithSplitFactor(f float64) Option {
	return func(c *config) error {
		if f <= 0 {
			return invalidArgf("splitFactor must be positive, got %v", f)
		}
		c.splitFactor = f
		return nil
	}
}

// WithMergeFactor sets the fraction of leaf capacity below which a leaf
// requests a merge. Must be non-negative and strictly less than the
// split factor.
func WithMergeFactor(f float64) Option {
	return func(c *config) error {
		if f < 0 {
			return invalidArgf("mergeFactor must be non-negative, got %v", f)
		}
		c.mergeFactor = f
		return nil
	}
}

// WithLeafCapacity sets the fixed bucket-table size of a leaf. Must be a
// positive power of two, since bucket indexing relies on hash & (len-1).
func WithLeafCapacity(n int) Option {
	return func(c *config) error {
		if n <= 0 || n&(n-1) != 0 {
			return invalidArgf("leafCapacity must be a positive power of two, got %d", n)
		}
		c.leafCapacity = n
		return nil
	}
}

// WithMergeThresholdMode selects how mergeThreshold is derived; see
// MergeThresholdMode.
func WithMergeThresholdMode(mode MergeThresholdMode) Option {
	return func(c *config) error {
		c.mergeMode = mode
		return nil
	}
}

func buildConfig(opts []Option) (config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return config{}, err
		}
	}
	if c.mergeFactor >= c.splitFactor {
		return config{}, invalidArgf("mergeFactor (%v) must be less than splitFactor (%v)", c.mergeFactor, c.splitFactor)
	}
	return c, nil
}
