package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/phoenix-ops/loadrelay/pkg/alert"
)

// Deliverer attempts a single delivery of an alert candidate and returns the
// identifier assigned by the receiving system.
type Deliverer interface {
	Deliver(ctx context.Context, c alert.Candidate) (incidentID string, err error)
}

// intakeResponse is the acknowledgement shape of the alert endpoint. A
// delivery only counts when the response carries an assigned incident ID.
type intakeResponse struct {
	Success    bool   `json:"success"`
	IncidentID string `json:"incident_id"`
}

// HTTPDeliverer posts candidates to the external alert-ingestion endpoint.
type HTTPDeliverer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPDeliverer builds a deliverer for the given intake URL. timeout
// bounds each individual attempt.
func NewHTTPDeliverer(endpoint string, timeout time.Duration) *HTTPDeliverer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDeliverer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Deliver posts one candidate. Any non-2xx status, malformed acknowledgement,
// or transport failure is a failed attempt.
func (d *HTTPDeliverer) Deliver(ctx context.Context, c alert.Candidate) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "loadrelay/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("alert endpoint responded with status %d", resp.StatusCode)
	}

	var ack intakeResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", fmt.Errorf("failed to decode acknowledgement: %w", err)
	}
	if ack.IncidentID == "" {
		return "", fmt.Errorf("acknowledgement missing incident_id")
	}

	return ack.IncidentID, nil
}
