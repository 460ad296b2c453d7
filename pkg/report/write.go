package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// WriteFile persists the report artifact as indented JSON.
func WriteFile(path string, r RunReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// Render formats the report for terminal output.
func Render(r RunReport) string {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("\n--- Load Run Report: %s ---\n", r.Scenario.Name))
	buf.WriteString(fmt.Sprintf("Run ID: %s\n", r.RunID))
	buf.WriteString(fmt.Sprintf("Users: %d | Duration: %ds | Ramp-up: %ds | Elapsed: %.1fs\n",
		r.Scenario.VirtualUsers, r.Scenario.DurationSeconds, r.Scenario.RampUpSeconds, r.ElapsedSeconds))
	buf.WriteString(fmt.Sprintf("Requests: %d | Success: %d | Errors: %d (%.2f%%)\n",
		r.TotalRequests, r.SuccessCount, r.ErrorCount, r.ErrorRatePercent))
	buf.WriteString(fmt.Sprintf("Throughput: %.2f req/s\n", r.ThroughputPerSec))
	buf.WriteString(fmt.Sprintf("Latency ms: avg=%.1f p50=%.1f p95=%.1f p99=%.1f min=%.1f max=%.1f\n",
		r.Latency.Avg, r.Latency.P50, r.Latency.P95, r.Latency.P99, r.Latency.Min, r.Latency.Max))
	buf.WriteString(fmt.Sprintf("Alerts: enqueued=%d delivered=%d dropped_full=%d dropped_retries=%d lost=%d\n",
		r.Alerts.Enqueued, r.Alerts.Delivered, r.Alerts.DroppedCapacity, r.Alerts.DroppedRetries, r.Alerts.LostOnShutdown))

	if len(r.ErrorHistogram) > 0 {
		buf.WriteString("\nErrors:\n")
		kinds := make([]string, 0, len(r.ErrorHistogram))
		for k := range r.ErrorHistogram {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			buf.WriteString(fmt.Sprintf("  %-20s %d\n", k, r.ErrorHistogram[k]))
		}
	}

	return buf.String()
}
