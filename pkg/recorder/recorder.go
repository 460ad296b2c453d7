// Package recorder accumulates per-request outcomes from concurrently
// running virtual users. It is the single shared mutable structure of a run,
// so every mutation goes through one mutex with narrow critical sections.
package recorder

import (
	"sync"
	"time"

	"github.com/phoenix-ops/loadrelay/pkg/activity"
	"github.com/phoenix-ops/loadrelay/pkg/metrics"
)

// Outcome labels a completed activity execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Sample is one completed activity execution. Samples are append-only and
// never mutated after creation.
type Sample struct {
	Kind      activity.Kind `json:"kind"`
	LatencyMs float64       `json:"latency_ms"`
	Outcome   Outcome       `json:"outcome"`
	ErrorKind string        `json:"error_kind,omitempty"`
}

// Counts is the cheap live view used for progress reporting.
type Counts struct {
	Total     int64
	Successes int64
	Errors    int64
}

// Snapshot is a frozen copy of the recorder state. Taking one does not
// disturb concurrent appends; a snapshot taken mid-run is merely stale.
type Snapshot struct {
	Samples        []Sample
	Successes      int64
	Errors         int64
	ErrorHistogram map[string]int64
	ByActivity     map[activity.Kind]int64
}

// Total returns the number of recorded samples.
func (s Snapshot) Total() int64 {
	return s.Successes + s.Errors
}

// Recorder is safe for concurrent use by any number of virtual users.
type Recorder struct {
	mu        sync.Mutex
	samples   []Sample
	successes int64
	errors    int64
	histogram map[string]int64
	byKind    map[activity.Kind]int64
}

func New() *Recorder {
	return &Recorder{
		histogram: make(map[string]int64),
		byKind:    make(map[activity.Kind]int64),
	}
}

// RecordSuccess appends a successful execution sample.
func (r *Recorder) RecordSuccess(kind activity.Kind, latency time.Duration) {
	ms := float64(latency) / float64(time.Millisecond)

	r.mu.Lock()
	r.samples = append(r.samples, Sample{Kind: kind, LatencyMs: ms, Outcome: OutcomeSuccess})
	r.successes++
	r.byKind[kind]++
	r.mu.Unlock()

	metrics.RequestsTotal.WithLabelValues(string(kind), string(OutcomeSuccess)).Inc()
	metrics.RequestDuration.WithLabelValues(string(kind)).Observe(latency.Seconds())
}

// RecordError appends a failed execution sample tagged with its error kind.
func (r *Recorder) RecordError(kind activity.Kind, latency time.Duration, errorKind string) {
	ms := float64(latency) / float64(time.Millisecond)

	r.mu.Lock()
	r.samples = append(r.samples, Sample{Kind: kind, LatencyMs: ms, Outcome: OutcomeError, ErrorKind: errorKind})
	r.errors++
	r.histogram[errorKind]++
	r.byKind[kind]++
	r.mu.Unlock()

	metrics.RequestsTotal.WithLabelValues(string(kind), string(OutcomeError)).Inc()
	metrics.RequestDuration.WithLabelValues(string(kind)).Observe(latency.Seconds())
}

// Counts returns live totals without copying the sample store.
func (r *Recorder) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Counts{
		Total:     r.successes + r.errors,
		Successes: r.successes,
		Errors:    r.errors,
	}
}

// Snapshot deep-copies the recorder state. The returned value shares nothing
// with the live recorder, so readers can hold it indefinitely.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Samples:        make([]Sample, len(r.samples)),
		Successes:      r.successes,
		Errors:         r.errors,
		ErrorHistogram: make(map[string]int64, len(r.histogram)),
		ByActivity:     make(map[activity.Kind]int64, len(r.byKind)),
	}
	copy(snap.Samples, r.samples)
	for k, v := range r.histogram {
		snap.ErrorHistogram[k] = v
	}
	for k, v := range r.byKind {
		snap.ByActivity[k] = v
	}
	return snap
}
