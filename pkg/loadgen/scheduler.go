// Package loadgen drives a load run: it ramps virtual users into a weighted
// activity loop against the target API, records every outcome, and relays
// synthetic incidents to the alerting pipeline.
package loadgen

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phoenix-ops/loadrelay/pkg/activity"
	"github.com/phoenix-ops/loadrelay/pkg/alert"
	"github.com/phoenix-ops/loadrelay/pkg/metrics"
	"github.com/phoenix-ops/loadrelay/pkg/recorder"
	"github.com/phoenix-ops/loadrelay/pkg/relay"
	"github.com/phoenix-ops/loadrelay/pkg/report"
	"github.com/phoenix-ops/loadrelay/pkg/scenario"
	"github.com/phoenix-ops/loadrelay/pkg/target"
)

// Executor abstracts the target client so the scheduler can be exercised
// against fakes.
type Executor interface {
	Execute(ctx context.Context, kind activity.Kind) error
	Timeout() time.Duration
}

// Enqueuer is the slice of the relay queue the scheduler needs.
type Enqueuer interface {
	Enqueue(c alert.Candidate) bool
	Stats() relay.Stats
	Depth() int
}

// Config wires the scheduler's collaborators. Catalog defaults to
// activity.DefaultCatalog; Source tags alert candidates with their origin.
type Config struct {
	Catalog  []activity.Definition
	Target   Executor
	Queue    Enqueuer
	Recorder *recorder.Recorder
	Logger   *zap.Logger
	Source   string
}

// Scheduler owns one run's lifecycle: staggered start, the per-user loops,
// and the graceful join before the report is built.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	started time.Time
	window  time.Duration
	active  int
}

// New validates the wiring and returns a scheduler ready to run.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Target == nil {
		return nil, fmt.Errorf("loadgen: target executor is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("loadgen: relay queue is required")
	}
	if cfg.Recorder == nil {
		cfg.Recorder = recorder.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = activity.DefaultCatalog()
	}
	if cfg.Source == "" {
		cfg.Source = "loadrelay"
	}
	return &Scheduler{cfg: cfg}, nil
}

// Progress is the live view consumed by dashboards.
type Progress struct {
	Elapsed    time.Duration
	Window     time.Duration
	Active     int
	Counts     recorder.Counts
	Alerts     relay.Stats
	QueueDepth int
}

// Progress reports the run's live counters. Safe to call at any time.
func (s *Scheduler) Progress() Progress {
	s.mu.Lock()
	started, window, active := s.started, s.window, s.active
	s.mu.Unlock()

	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
		if elapsed > window {
			elapsed = window
		}
	}
	return Progress{
		Elapsed:    elapsed,
		Window:     window,
		Active:     active,
		Counts:     s.cfg.Recorder.Counts(),
		Alerts:     s.cfg.Queue.Stats(),
		QueueDepth: s.cfg.Queue.Depth(),
	}
}

// Run executes the scenario and blocks until every virtual user has
// finished. Only scenario validation fails the run; a fully unreachable
// target still produces a complete (all-error) report.
func (s *Scheduler) Run(ctx context.Context, scn scenario.Scenario) (report.RunReport, error) {
	if err := scn.Validate(); err != nil {
		return report.RunReport{}, err
	}

	seed := scn.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	selector, err := activity.NewSelector(s.cfg.Catalog, rand.New(rand.NewSource(seed)))
	if err != nil {
		return report.RunReport{}, fmt.Errorf("%w: %v", scenario.ErrInvalidScenario, err)
	}

	runID := uuid.NewString()
	stagger := scn.Stagger()
	window := scn.Window()

	s.cfg.Logger.Info("starting load run",
		zap.String("run_id", runID),
		zap.String("scenario", scn.Name),
		zap.Int("virtual_users", scn.VirtualUsers),
		zap.Duration("duration", scn.Duration),
		zap.Duration("ramp_up", scn.RampUp),
		zap.Int64("seed", seed))

	start := time.Now()
	s.mu.Lock()
	s.started = start
	s.window = window
	s.mu.Unlock()

	// The run deadline covers ramp-up plus the load window. External
	// cancellation flows through the same context; user loops observe it
	// between iterations, never mid-call.
	runCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < scn.VirtualUsers; i++ {
		wg.Add(1)
		userSeed := seed + int64(i) + 1
		delay := time.Duration(i) * stagger

		go func(id int, delay time.Duration, userSeed int64) {
			defer wg.Done()
			s.runUser(runCtx, id, delay, userSeed, selector, scn)
		}(i, delay, userSeed)
	}

	wg.Wait()
	elapsed := time.Since(start)

	snap := s.cfg.Recorder.Snapshot()
	rep := report.Build(runID, scn, snap, elapsed, s.cfg.Queue.Stats())

	s.cfg.Logger.Info("load run finished",
		zap.String("run_id", runID),
		zap.Int64("requests", rep.TotalRequests),
		zap.Int64("errors", rep.ErrorCount),
		zap.Float64("throughput", rep.ThroughputPerSec),
		zap.Duration("elapsed", elapsed))

	return rep, nil
}

// runUser is one virtual user's activity loop.
func (s *Scheduler) runUser(ctx context.Context, id int, delay time.Duration, seed int64, selector *activity.Selector, scn scenario.Scenario) {
	// Ramp-up stagger. A cancelled run never starts the loop.
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	s.mu.Lock()
	s.active++
	s.mu.Unlock()
	metrics.ActiveUsers.Inc()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		metrics.ActiveUsers.Dec()
	}()

	rng := rand.New(rand.NewSource(seed))
	thinkMin, thinkMax := scn.ThinkTimeBounds()

	for ctx.Err() == nil {
		kind := selector.Select()
		s.executeActivity(kind, rng)

		if ctx.Err() != nil {
			return
		}

		think := thinkMin
		if spread := thinkMax - thinkMin; spread > 0 {
			think += time.Duration(rng.Int63n(int64(spread)))
		}
		if think > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(think):
			}
		}
	}
}

// executeActivity performs one HTTP call and records its outcome. The call
// context is detached from the run deadline so an in-flight call completes
// up to its own timeout even when the run window closes.
func (s *Scheduler) executeActivity(kind activity.Kind, rng *rand.Rand) {
	callCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Target.Timeout())
	defer cancel()

	started := time.Now()
	err := s.cfg.Target.Execute(callCtx, kind)
	latency := time.Since(started)

	if err != nil {
		errKind := target.ClassifyError(err)
		s.cfg.Recorder.RecordError(kind, latency, errKind)
		s.cfg.Logger.Debug("activity failed",
			zap.String("activity", string(kind)),
			zap.String("error_kind", errKind),
			zap.Duration("latency", latency))
	} else {
		s.cfg.Recorder.RecordSuccess(kind, latency)
	}

	if kind.IsIncident() {
		s.emitIncidentAlerts(kind, rng)
	}
}

// emitIncidentAlerts synthesizes an anomalous metrics sample for the
// incident kind, classifies it, and hands every candidate to the relay.
// Enqueue never blocks; a full queue is the relay's problem, not the user
// loop's.
func (s *Scheduler) emitIncidentAlerts(kind activity.Kind, rng *rand.Rand) {
	sample := incidentSample(kind, rng)
	for _, c := range alert.Classify(s.cfg.Source, sample) {
		s.cfg.Queue.Enqueue(c)
	}
}

// incidentSample produces metric values beyond the classifier thresholds
// for the given incident kind.
func incidentSample(kind activity.Kind, rng *rand.Rand) alert.MetricsSample {
	switch kind {
	case activity.KindCPUSpike:
		return alert.MetricsSample{CPUPercentage: 81 + rng.Float64()*19}
	case activity.KindMemoryLeak:
		return alert.MetricsSample{MemoryPercentage: 86 + rng.Float64()*14}
	case activity.KindErrorBurst:
		return alert.MetricsSample{ErrorRatePercent: 6 + rng.Float64()*24}
	case activity.KindDBTimeout:
		return alert.MetricsSample{
			DBConnectionErrors: 1 + rng.Intn(5),
			AvgResponseTimeMs:  2500 + rng.Float64()*4000,
		}
	}
	return alert.MetricsSample{}
}
