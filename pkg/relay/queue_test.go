package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phoenix-ops/loadrelay/pkg/alert"
)

// stubDeliverer counts attempts and fails until the configured attempt.
type stubDeliverer struct {
	mu           sync.Mutex
	attempts     int
	succeedOn    int // 0 means never succeed
	blockUntil   chan struct{}
	perCandidate map[string]int
}

func newStubDeliverer(succeedOn int) *stubDeliverer {
	return &stubDeliverer{succeedOn: succeedOn, perCandidate: make(map[string]int)}
}

func (d *stubDeliverer) Deliver(ctx context.Context, c alert.Candidate) (string, error) {
	if d.blockUntil != nil {
		select {
		case <-d.blockUntil:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	d.mu.Lock()
	d.attempts++
	d.perCandidate[c.Title]++
	n := d.attempts
	d.mu.Unlock()

	if d.succeedOn > 0 && n >= d.succeedOn {
		return fmt.Sprintf("incident-%d", n), nil
	}
	return "", errors.New("intake unavailable")
}

func (d *stubDeliverer) totalAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func candidate(title string) alert.Candidate {
	return alert.Candidate{
		Title:     title,
		Severity:  alert.SeverityHigh,
		Source:    "test",
		Metrics:   map[string]float64{"cpu_percentage": 92},
		CreatedAt: time.Now().UTC(),
	}
}

func testQueue(d Deliverer, cfg Config) *Queue {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = time.Second
	}
	return NewQueue(cfg, d, zap.NewNop())
}

func TestDeliverySuccessFirstAttempt(t *testing.T) {
	d := newStubDeliverer(1)
	q := testQueue(d, Config{Capacity: 10})
	q.Start()

	assert.True(t, q.Enqueue(candidate("cpu")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Stop(ctx)

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Enqueued)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.Equal(t, int64(0), stats.DroppedRetries)
	assert.Equal(t, 1, d.totalAttempts())
}

func TestRetryThenSuccess(t *testing.T) {
	d := newStubDeliverer(3)
	q := testQueue(d, Config{Capacity: 10, MaxRetries: 3})
	q.Start()

	q.Enqueue(candidate("memory"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Stop(ctx)

	assert.Equal(t, int64(1), q.Stats().Delivered)
	assert.Equal(t, 3, d.totalAttempts())
}

// A candidate that never succeeds is attempted exactly maxRetries+1 times,
// then dropped once.
func TestRetryExhaustionDropsExactlyOnce(t *testing.T) {
	d := newStubDeliverer(0)
	q := testQueue(d, Config{Capacity: 10, MaxRetries: 2})
	q.Start()

	q.Enqueue(candidate("doomed"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Stop(ctx)

	stats := q.Stats()
	assert.Equal(t, 3, d.totalAttempts(), "initial attempt plus two retries")
	assert.Equal(t, int64(1), stats.DroppedRetries)
	assert.Equal(t, int64(0), stats.Delivered)
}

func TestEnqueueBeyondCapacityDropsWithoutBlocking(t *testing.T) {
	d := newStubDeliverer(1)
	d.blockUntil = make(chan struct{})
	q := testQueue(d, Config{Capacity: 3})
	q.Start()

	// Drain loop is blocked, so at most capacity+1 candidates are in
	// flight (one held by the deliverer). Everything past that drops.
	accepted := 0
	for i := 0; i < 20; i++ {
		done := make(chan bool, 1)
		go func(i int) {
			done <- q.Enqueue(candidate(fmt.Sprintf("c%d", i)))
		}(i)
		select {
		case ok := <-done:
			if ok {
				accepted++
			}
		case <-time.After(time.Second):
			t.Fatal("Enqueue blocked")
		}
	}

	assert.LessOrEqual(t, accepted, 4)
	assert.Equal(t, int64(20-accepted), q.Stats().DroppedCapacity)

	close(d.blockUntil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Stop(ctx)
}

func TestEnqueueAfterStopIsSafe(t *testing.T) {
	d := newStubDeliverer(1)
	q := testQueue(d, Config{Capacity: 2})
	q.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Stop(ctx)

	assert.False(t, q.Enqueue(candidate("late")))
}

func TestStopDeadlineCountsLostCandidates(t *testing.T) {
	d := newStubDeliverer(0)
	d.blockUntil = make(chan struct{})
	defer close(d.blockUntil)

	q := testQueue(d, Config{Capacity: 10, MaxRetries: 5, BaseDelay: time.Minute})
	q.Start()

	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(candidate(fmt.Sprintf("pending%d", i))))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q.Stop(ctx)

	stats := q.Stats()
	assert.Equal(t, int64(0), stats.Delivered)
	assert.Positive(t, stats.LostOnShutdown, "abandoned candidates must be accounted for")
}

func TestHTTPDelivererAcknowledgement(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success": true, "incident_id": "inc-42"}`)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer(srv.URL, time.Second)
	id, err := d.Deliver(context.Background(), candidate("cpu"))
	require.NoError(t, err)
	assert.Equal(t, "inc-42", id)
	assert.Equal(t, int64(1), calls.Load())
}

func TestHTTPDelivererRejectsBadResponses(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"missing incident id", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"success": true}`)
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "ok")
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			d := NewHTTPDeliverer(srv.URL, time.Second)
			_, err := d.Deliver(context.Background(), candidate("x"))
			assert.Error(t, err)
		})
	}
}

func TestHTTPDelivererUnreachableEndpoint(t *testing.T) {
	d := NewHTTPDeliverer("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := d.Deliver(context.Background(), candidate("x"))
	assert.Error(t, err)
}
