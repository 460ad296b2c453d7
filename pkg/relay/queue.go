// Package relay owns the asynchronous path between alert candidates produced
// during a load run and the external alert-ingestion endpoint. The queue is
// deliberately bounded and lossy: a full buffer drops new candidates with a
// logged warning rather than ever blocking a virtual user's loop.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/phoenix-ops/loadrelay/pkg/alert"
	"github.com/phoenix-ops/loadrelay/pkg/metrics"
)

const (
	DefaultCapacity       = 100
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = 500 * time.Millisecond
	DefaultAttemptTimeout = 5 * time.Second
)

// Config tunes the relay queue. Zero values take the defaults above;
// MaxRetries < 0 disables retries entirely.
type Config struct {
	Capacity       int
	MaxRetries     int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
	Backoff        BackoffStrategy
}

// Stats is a point-in-time view of queue accounting.
type Stats struct {
	Enqueued        int64 `json:"enqueued"`
	Delivered       int64 `json:"delivered"`
	DroppedCapacity int64 `json:"dropped_capacity"`
	DroppedRetries  int64 `json:"dropped_retries"`
	LostOnShutdown  int64 `json:"lost_on_shutdown"`
}

// Queue buffers alert candidates and drains them to a Deliverer on a single
// background goroutine.
type Queue struct {
	ch         chan alert.Candidate
	deliverer  Deliverer
	logger     *zap.Logger
	backoff    BackoffStrategy
	maxRetries int
	timeout    time.Duration

	mu     sync.RWMutex
	closed bool

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	enqueued       atomic.Int64
	delivered      atomic.Int64
	droppedFull    atomic.Int64
	droppedRetries atomic.Int64
	lost           atomic.Int64
}

// NewQueue builds a stopped queue; call Start to begin draining.
func NewQueue(cfg Config, d Deliverer, logger *zap.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Backoff == nil {
		cfg.Backoff = LinearBackoff{Base: cfg.BaseDelay}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		ch:         make(chan alert.Candidate, cfg.Capacity),
		deliverer:  d,
		logger:     logger,
		backoff:    cfg.Backoff,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.AttemptTimeout,
		runCtx:     ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start launches the drain loop. It must be called exactly once.
func (q *Queue) Start() {
	go q.drain()
}

// Enqueue hands a candidate to the relay without ever blocking the caller.
// It reports false when the buffer is full or the queue is shut down; the
// candidate is then dropped with a logged warning.
func (q *Queue) Enqueue(c alert.Candidate) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.droppedFull.Add(1)
		metrics.AlertsDropped.WithLabelValues("queue_closed").Inc()
		q.logger.Warn("alert dropped, relay queue closed",
			zap.String("title", c.Title),
			zap.String("severity", string(c.Severity)))
		return false
	}

	select {
	case q.ch <- c:
		q.enqueued.Add(1)
		metrics.AlertsEnqueued.Inc()
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return true
	default:
		q.droppedFull.Add(1)
		metrics.AlertsDropped.WithLabelValues("queue_full").Inc()
		q.logger.Warn("alert dropped, relay queue full",
			zap.String("title", c.Title),
			zap.String("severity", string(c.Severity)),
			zap.Int("capacity", cap(q.ch)))
		return false
	}
}

// Stop closes intake and waits for the queue to drain. When ctx expires
// first, remaining deliveries are abandoned: each pending candidate is
// counted and logged as lost, never discarded silently.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
	case <-ctx.Done():
		q.cancel()
		<-q.done
		if lost := q.lost.Load(); lost > 0 {
			q.logger.Error("relay shut down before draining; queued alerts were lost",
				zap.Int64("lost", lost))
		}
	}
}

// Stats returns current queue accounting.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:        q.enqueued.Load(),
		Delivered:       q.delivered.Load(),
		DroppedCapacity: q.droppedFull.Load(),
		DroppedRetries:  q.droppedRetries.Load(),
		LostOnShutdown:  q.lost.Load(),
	}
}

// Depth returns the number of candidates waiting in the buffer.
func (q *Queue) Depth() int {
	return len(q.ch)
}

func (q *Queue) drain() {
	defer close(q.done)

	for c := range q.ch {
		metrics.QueueDepth.Set(float64(len(q.ch)))
		q.deliver(c)
	}
	metrics.QueueDepth.Set(0)
}

// deliver runs the initial attempt plus up to maxRetries retries with
// backoff, then drops the candidate with a single logged delivery failure.
func (q *Queue) deliver(c alert.Candidate) {
	if q.runCtx.Err() != nil {
		q.lost.Add(1)
		metrics.AlertsDropped.WithLabelValues("shutdown").Inc()
		q.logger.Warn("alert lost on shutdown", zap.String("title", c.Title))
		return
	}

	var lastErr error
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-q.runCtx.Done():
				q.lost.Add(1)
				metrics.AlertsDropped.WithLabelValues("shutdown").Inc()
				q.logger.Warn("alert lost on shutdown mid-retry",
					zap.String("title", c.Title),
					zap.Int("attempts", attempt))
				return
			case <-time.After(q.backoff.Next(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(q.runCtx, q.timeout)
		incidentID, err := q.deliverer.Deliver(attemptCtx, c)
		cancel()

		if err == nil {
			q.delivered.Add(1)
			metrics.AlertsDelivered.Inc()
			q.logger.Info("alert delivered",
				zap.String("title", c.Title),
				zap.String("severity", string(c.Severity)),
				zap.String("incident_id", incidentID),
				zap.Int("attempt", attempt+1))
			return
		}
		lastErr = err
	}

	q.droppedRetries.Add(1)
	metrics.AlertsDropped.WithLabelValues("retries_exhausted").Inc()
	q.logger.Error("alert delivery failed, retries exhausted",
		zap.String("title", c.Title),
		zap.String("severity", string(c.Severity)),
		zap.Int("attempts", q.maxRetries+1),
		zap.Error(lastErr))
}
