// Package report turns a frozen recorder snapshot into the run's final
// artifact. Everything here is pure computation over copies; building a
// report never touches live run state.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/phoenix-ops/loadrelay/pkg/activity"
	"github.com/phoenix-ops/loadrelay/pkg/recorder"
	"github.com/phoenix-ops/loadrelay/pkg/relay"
	"github.com/phoenix-ops/loadrelay/pkg/scenario"
)

// ScenarioSummary is the report's view of the run configuration.
type ScenarioSummary struct {
	Name            string `json:"name"`
	VirtualUsers    int    `json:"virtual_users"`
	DurationSeconds int    `json:"duration_seconds"`
	RampUpSeconds   int    `json:"ramp_up_seconds"`
	Seed            int64  `json:"seed,omitempty"`
}

// LatencyStats holds the percentile breakdown in milliseconds.
type LatencyStats struct {
	Avg float64 `json:"avg_ms"`
	P50 float64 `json:"p50_ms"`
	P95 float64 `json:"p95_ms"`
	P99 float64 `json:"p99_ms"`
	Min float64 `json:"min_ms"`
	Max float64 `json:"max_ms"`
}

// RunReport is the persisted outcome of one load run.
type RunReport struct {
	RunID            string                   `json:"run_id"`
	GeneratedAt      time.Time                `json:"generated_at"`
	Scenario         ScenarioSummary          `json:"scenario"`
	ElapsedSeconds   float64                  `json:"elapsed_seconds"`
	TotalRequests    int64                    `json:"total_requests"`
	SuccessCount     int64                    `json:"success_count"`
	ErrorCount       int64                    `json:"error_count"`
	ErrorRatePercent float64                  `json:"error_rate_percent"`
	ErrorHistogram   map[string]int64         `json:"error_histogram"`
	ByActivity       map[activity.Kind]int64  `json:"requests_by_activity"`
	ThroughputPerSec float64                  `json:"throughput_per_second"`
	Latency          LatencyStats             `json:"latency"`
	Alerts           relay.Stats              `json:"alerts"`
}

// Percentile returns the value at index ceil(p/100*N)-1 of the sorted
// samples, clamped to the valid range. An empty input yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Build computes the final report from a snapshot. elapsed is the observed
// wall-clock span of the run.
func Build(runID string, scn scenario.Scenario, snap recorder.Snapshot, elapsed time.Duration, alerts relay.Stats) RunReport {
	latencies := make([]float64, 0, len(snap.Samples))
	var sum float64
	for _, s := range snap.Samples {
		latencies = append(latencies, s.LatencyMs)
		sum += s.LatencyMs
	}
	sort.Float64s(latencies)

	var stats LatencyStats
	if n := len(latencies); n > 0 {
		stats = LatencyStats{
			Avg: sum / float64(n),
			P50: Percentile(latencies, 50),
			P95: Percentile(latencies, 95),
			P99: Percentile(latencies, 99),
			Min: latencies[0],
			Max: latencies[n-1],
		}
	}

	total := snap.Total()
	var errorRate float64
	if total > 0 {
		errorRate = float64(snap.Errors) / float64(total) * 100
	}

	var throughput float64
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(snap.Successes) / secs
	}

	return RunReport{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Scenario: ScenarioSummary{
			Name:            scn.Name,
			VirtualUsers:    scn.VirtualUsers,
			DurationSeconds: int(scn.Duration / time.Second),
			RampUpSeconds:   int(scn.RampUp / time.Second),
			Seed:            scn.Seed,
		},
		ElapsedSeconds:   elapsed.Seconds(),
		TotalRequests:    total,
		SuccessCount:     snap.Successes,
		ErrorCount:       snap.Errors,
		ErrorRatePercent: errorRate,
		ErrorHistogram:   snap.ErrorHistogram,
		ByActivity:       snap.ByActivity,
		ThroughputPerSec: throughput,
		Latency:          stats,
		Alerts:           alerts,
	}
}
