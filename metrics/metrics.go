// Package metrics exposes Prometheus counters for the structural events
// PTHM's concurrency model cares about: splits, merges, and the
// conflict/retry rate the Data Manager sees under contention.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is a small facade over the counters PTHM and store increment.
// A nil *Recorder is valid and a no-op, so callers that don't care about
// metrics (most tests) don't need to wire a registry.
type Recorder struct {
	gets        prometheus.Counter
	puts        prometheus.Counter
	removes     prometheus.Counter
	splits      prometheus.Counter
	merges      prometheus.Counter
	abortRetries prometheus.Counter
}

// NewRecorder registers PTHM's counters with reg and returns a Recorder.
// Pass prometheus.NewRegistry() in tests to avoid polluting the default
// registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pthm", Name: "gets_total", Help: "Number of Get calls.",
		}),
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pthm", Name: "puts_total", Help: "Number of Put calls.",
		}),
		removes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pthm", Name: "removes_total", Help: "Number of Remove calls.",
		}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pthm", Name: "splits_total", Help: "Number of leaf splits.",
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pthm", Name: "merges_total", Help: "Number of leaf-pair merges.",
		}),
		abortRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pthm", Name: "tx_retries_total", Help: "Number of transaction retries after an aborted commit.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.gets, r.puts, r.removes, r.splits, r.merges, r.abortRetries)
	}
	return r
}

func (r *Recorder) Get()         { r.inc(func() prometheus.Counter { return r.gets }) }
func (r *Recorder) Put()         { r.inc(func() prometheus.Counter { return r.puts }) }
func (r *Recorder) Remove()      { r.inc(func() prometheus.Counter { return r.removes }) }
func (r *Recorder) Split()       { r.inc(func() prometheus.Counter { return r.splits }) }
func (r *Recorder) Merge()       { r.inc(func() prometheus.Counter { return r.merges }) }
func (r *Recorder) AbortRetry()  { r.inc(func() prometheus.Counter { return r.abortRetries }) }

// inc resolves the counter only after checking r, so a nil *Recorder
// never dereferences its fields.
func (r *Recorder) inc(counter func() prometheus.Counter) {
	if r == nil {
		return
	}
	if c := counter(); c != nil {
		c.Inc()
	}
}
