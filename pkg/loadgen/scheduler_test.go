package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phoenix-ops/loadrelay/pkg/activity"
	"github.com/phoenix-ops/loadrelay/pkg/relay"
	"github.com/phoenix-ops/loadrelay/pkg/scenario"
	"github.com/phoenix-ops/loadrelay/pkg/target"
)

func newAlertSink(t *testing.T) *httptest.Server {
	t.Helper()
	var n atomic.Int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success": true, "incident_id": "inc-%d"}`, n.Add(1))
	}))
}

func fastScenario(users int, duration time.Duration) scenario.Scenario {
	return scenario.Scenario{
		Name:         "test",
		VirtualUsers: users,
		Duration:     duration,
		RampUp:       0,
		ThinkTimeMin: 5 * time.Millisecond,
		ThinkTimeMax: 15 * time.Millisecond,
		Seed:         1,
	}
}

func newScheduler(t *testing.T, targetURL, alertURL string) (*Scheduler, *relay.Queue) {
	t.Helper()
	q := relay.NewQueue(relay.Config{
		Capacity:       50,
		MaxRetries:     1,
		BaseDelay:      time.Millisecond,
		AttemptTimeout: time.Second,
	}, relay.NewHTTPDeliverer(alertURL, time.Second), zap.NewNop())
	q.Start()

	s, err := New(Config{
		Target: target.NewClient(targetURL, time.Second),
		Queue:  q,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return s, q
}

func TestRunRejectsInvalidScenario(t *testing.T) {
	sink := newAlertSink(t)
	defer sink.Close()
	s, q := newScheduler(t, "http://127.0.0.1:1", sink.URL)
	defer stopQueue(t, q)

	_, err := s.Run(context.Background(), scenario.Scenario{VirtualUsers: 0, Duration: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, scenario.ErrInvalidScenario))

	_, err = s.Run(context.Background(), scenario.Scenario{VirtualUsers: 3, Duration: 0})
	assert.True(t, errors.Is(err, scenario.ErrInvalidScenario))
}

func stopQueue(t *testing.T, q *relay.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Stop(ctx)
}

func TestRunAgainstHealthyTarget(t *testing.T) {
	targetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer targetSrv.Close()
	sink := newAlertSink(t)
	defer sink.Close()

	s, q := newScheduler(t, targetSrv.URL, sink.URL)
	rep, err := s.Run(context.Background(), fastScenario(5, 2*time.Second))
	stopQueue(t, q)
	require.NoError(t, err)

	assert.Positive(t, rep.TotalRequests)
	assert.Equal(t, rep.TotalRequests, rep.SuccessCount, "healthy target produces no errors")
	assert.Zero(t, rep.ErrorCount)
	assert.Empty(t, rep.ErrorHistogram)

	// Server sleeps 10ms per request; p50 sits near that plus local jitter.
	assert.GreaterOrEqual(t, rep.Latency.P50, 5.0)
	assert.Less(t, rep.Latency.P50, 200.0)

	expected := float64(rep.SuccessCount) / rep.ElapsedSeconds
	assert.InDelta(t, expected, rep.ThroughputPerSec, 0.01)
}

func TestRunAgainstFailingTarget(t *testing.T) {
	targetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer targetSrv.Close()
	sink := newAlertSink(t)
	defer sink.Close()

	s, q := newScheduler(t, targetSrv.URL, sink.URL)
	rep, err := s.Run(context.Background(), fastScenario(5, 1*time.Second))
	stopQueue(t, q)
	require.NoError(t, err, "a failing target never fails the run")

	assert.Positive(t, rep.TotalRequests)
	assert.Equal(t, rep.TotalRequests, rep.ErrorCount)
	assert.Zero(t, rep.SuccessCount)
	assert.Equal(t, rep.ErrorCount, rep.ErrorHistogram["http_500"], "all errors keyed by observed status")
	assert.Len(t, rep.ErrorHistogram, 1)
	assert.InDelta(t, 100.0, rep.ErrorRatePercent, 0.001)
}

func TestRunAgainstUnreachableTarget(t *testing.T) {
	sink := newAlertSink(t)
	defer sink.Close()

	s, q := newScheduler(t, "http://127.0.0.1:1", sink.URL)
	rep, err := s.Run(context.Background(), fastScenario(3, 1*time.Second))
	stopQueue(t, q)
	require.NoError(t, err, "unreachable target must not crash or hang the run")

	assert.Positive(t, rep.TotalRequests)
	assert.Equal(t, rep.TotalRequests, rep.ErrorCount)
	assert.Positive(t, rep.ErrorHistogram["connection"])
}

func TestRunRelaysIncidentAlerts(t *testing.T) {
	targetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer targetSrv.Close()
	sink := newAlertSink(t)
	defer sink.Close()

	// Catalog of only incident kinds so every iteration emits alerts.
	q := relay.NewQueue(relay.Config{
		Capacity:       200,
		MaxRetries:     1,
		BaseDelay:      time.Millisecond,
		AttemptTimeout: time.Second,
	}, relay.NewHTTPDeliverer(sink.URL, time.Second), zap.NewNop())
	q.Start()

	s, err := New(Config{
		Catalog: []activity.Definition{
			{Kind: activity.KindCPUSpike, Weight: 1},
			{Kind: activity.KindDBTimeout, Weight: 1},
		},
		Target: target.NewClient(targetSrv.URL, time.Second),
		Queue:  q,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), fastScenario(3, 1*time.Second))
	stopQueue(t, q)
	require.NoError(t, err)

	assert.Positive(t, rep.Alerts.Enqueued, "incident activities must enqueue alerts")

	// The queue may still be draining when the report is built; the final
	// accounting balances once Stop returns.
	final := q.Stats()
	assert.Positive(t, final.Delivered)
	assert.Equal(t, final.Enqueued,
		final.Delivered+final.DroppedRetries+final.LostOnShutdown,
		"every enqueued candidate is accounted for after drain")
}

func TestRunHonorsCancellation(t *testing.T) {
	targetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer targetSrv.Close()
	sink := newAlertSink(t)
	defer sink.Close()

	s, q := newScheduler(t, targetSrv.URL, sink.URL)
	defer stopQueue(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	scn := fastScenario(5, 30*time.Second)
	rep, err := s.Run(ctx, scn)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must end the run early")
	assert.Positive(t, rep.TotalRequests)
}

func TestRunStaggersRampUp(t *testing.T) {
	targetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer targetSrv.Close()
	sink := newAlertSink(t)
	defer sink.Close()

	s, q := newScheduler(t, targetSrv.URL, sink.URL)
	scn := fastScenario(4, 1*time.Second)
	scn.RampUp = 1 * time.Second

	rep, err := s.Run(context.Background(), scn)
	stopQueue(t, q)
	require.NoError(t, err)
	assert.Positive(t, rep.TotalRequests)
	assert.GreaterOrEqual(t, rep.ElapsedSeconds, 1.0, "window includes the ramp")
}

func TestSchedulerProgress(t *testing.T) {
	sink := newAlertSink(t)
	defer sink.Close()
	targetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer targetSrv.Close()

	s, q := newScheduler(t, targetSrv.URL, sink.URL)
	defer stopQueue(t, q)

	p := s.Progress()
	assert.Zero(t, p.Elapsed, "no progress before the run starts")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Run(context.Background(), fastScenario(2, 1*time.Second))
		assert.NoError(t, err)
	}()

	time.Sleep(300 * time.Millisecond)
	p = s.Progress()
	assert.Positive(t, p.Elapsed)
	assert.Positive(t, p.Counts.Total)

	<-done
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Target: target.NewClient("http://x", time.Second)})
	assert.Error(t, err)
}
