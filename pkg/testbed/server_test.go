package testbed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phoenix-ops/loadrelay/pkg/alert"
	"github.com/phoenix-ops/loadrelay/pkg/relay"
)

func newTestServer(t *testing.T) (*httptest.Server, *IncidentStore) {
	t.Helper()
	store, err := NewIncidentStore(filepath.Join(t.TempDir(), "incidents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(NewServer(store, zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestHealthAndProducts(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/products")
	require.NoError(t, err)
	defer resp.Body.Close()
	var products []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&products))
	assert.Len(t, products, 3)

	resp, err = http.Get(srv.URL + "/api/products/99")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateOrder(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/orders", map[string]int{"product_id": 1, "quantity": 2})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/orders", map[string]int{"product_id": 0})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDebugErrorAlwaysFails(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/debug/error")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestFailureInjection(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/debug/failure", map[string]int{"error_rate_percent": 100})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/api/products")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "injected failure applies to target routes")

	// Reset and verify recovery.
	resp = postJSON(t, srv.URL+"/api/debug/failure", map[string]int{"error_rate_percent": 0})
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/products")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAlertIntakeRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)

	c := alert.Candidate{
		Title:     "High CPU usage",
		Severity:  alert.SeverityCritical,
		Source:    "loadrelay",
		Metrics:   map[string]float64{"cpu_percentage": 96},
		CreatedAt: time.Now().UTC(),
	}

	resp := postJSON(t, srv.URL+"/api/alert", c)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack struct {
		Success    bool   `json:"success"`
		IncidentID string `json:"incident_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.True(t, ack.Success)
	require.NotEmpty(t, ack.IncidentID)

	inc, err := store.GetIncident(context.Background(), ack.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, "High CPU usage", inc.Title)
	assert.Equal(t, "critical", inc.Severity)

	var stored alert.Candidate
	require.NoError(t, json.Unmarshal(inc.Payload, &stored))
	assert.Equal(t, c.Metrics, stored.Metrics)
}

func TestAlertIntakeRejectsGarbage(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/alert", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/alert", map[string]string{"description": "no title"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIncidentListingAndSummary(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, srv.URL+"/api/alert", alert.Candidate{
			Title:    fmt.Sprintf("alert %d", i),
			Severity: alert.SeverityHigh,
			Source:   "test",
		})
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/api/incidents")
	require.NoError(t, err)
	defer resp.Body.Close()
	var incidents []Incident
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&incidents))
	assert.Len(t, incidents, 3)

	resp, err = http.Get(srv.URL + "/api/incidents/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	var summary map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, int64(3), summary["high"])

	resp, err = http.Get(srv.URL + "/api/incidents/does-not-exist")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// The testbed's intake is what the relay delivers to in a full local stack;
// make sure the two actually agree on the acknowledgement contract.
func TestRelayDeliversToTestbed(t *testing.T) {
	srv, store := newTestServer(t)

	d := relay.NewHTTPDeliverer(srv.URL+"/api/alert", time.Second)
	id, err := d.Deliver(context.Background(), alert.Candidate{
		Title:    "Elevated error rate",
		Severity: alert.SeverityHigh,
		Source:   "loadrelay",
		Metrics:  map[string]float64{"error_rate_percent": 12},
	})
	require.NoError(t, err)

	inc, err := store.GetIncident(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Elevated error rate", inc.Title)
}
