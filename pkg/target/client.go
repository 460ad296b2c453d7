// Package target wraps the HTTP surface of the service under test. Each
// activity kind maps to one call against the operator-configured base URL;
// any non-2xx status or transport failure classifies into an error kind the
// recorder can histogram.
package target

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/phoenix-ops/loadrelay/pkg/activity"
)

const DefaultCallTimeout = 10 * time.Second

// StatusError marks a completed HTTP exchange with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("target responded with status %d", e.StatusCode)
}

// Client executes synthetic activities against the target API.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient builds a target client. timeout bounds each individual call,
// independent of the run deadline.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Timeout returns the per-call budget.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Execute performs the HTTP call for the given activity kind. Incident
// kinds hit the target's failure-injection routes so the target sees the
// same traffic shape a degraded service would produce.
func (c *Client) Execute(ctx context.Context, kind activity.Kind) error {
	switch kind {
	case activity.KindBrowseProducts:
		return c.get(ctx, "/api/products")
	case activity.KindViewProduct:
		return c.get(ctx, "/api/products/1")
	case activity.KindSearchProducts:
		return c.get(ctx, "/api/products?q="+url.QueryEscape("widget"))
	case activity.KindCreateOrder:
		return c.post(ctx, "/api/orders", map[string]interface{}{
			"product_id": 1,
			"quantity":   1,
		})
	case activity.KindCheckHealth:
		return c.get(ctx, "/health")
	case activity.KindCPUSpike:
		return c.post(ctx, "/api/debug/load", map[string]interface{}{"kind": "cpu"})
	case activity.KindMemoryLeak:
		return c.post(ctx, "/api/debug/load", map[string]interface{}{"kind": "memory"})
	case activity.KindErrorBurst:
		return c.get(ctx, "/api/debug/error")
	case activity.KindDBTimeout:
		return c.get(ctx, "/api/debug/slow-query")
	default:
		return c.get(ctx, "/health")
	}
}

func (c *Client) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the transport can reuse the connection.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// ClassifyError maps an execution error to the error kind recorded in the
// run's histogram: http_<code> for completed exchanges, timeout for deadline
// expiry, connection for everything else transport-level.
func ClassifyError(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("http_%d", statusErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	return "connection"
}
