package alert

import (
	"fmt"
	"time"
)

// Classification thresholds. Rules are applied independently, so one sample
// can yield several candidates.
const (
	cpuHighThreshold     = 80.0
	cpuCriticalThreshold = 90.0

	memoryHighThreshold     = 85.0
	memoryCriticalThreshold = 95.0

	latencyMediumThresholdMs   = 2000.0
	latencyCriticalThresholdMs = 5000.0

	errorRateHighThreshold     = 5.0
	errorRateCriticalThreshold = 20.0
)

// Classify maps a metrics sample to zero or more alert candidates. It is
// pure apart from the CreatedAt timestamp; identical samples produce
// identical candidate sets.
func Classify(source string, sample MetricsSample) []Candidate {
	now := time.Now().UTC()
	var out []Candidate

	if sample.CPUPercentage > cpuHighThreshold {
		sev := SeverityHigh
		if sample.CPUPercentage > cpuCriticalThreshold {
			sev = SeverityCritical
		}
		out = append(out, Candidate{
			Title:       "High CPU usage",
			Description: fmt.Sprintf("CPU usage at %.1f%% exceeds the %.0f%% threshold", sample.CPUPercentage, cpuHighThreshold),
			Severity:    sev,
			Source:      source,
			Metrics:     map[string]float64{"cpu_percentage": sample.CPUPercentage},
			CreatedAt:   now,
		})
	}

	if sample.MemoryPercentage > memoryHighThreshold {
		sev := SeverityHigh
		if sample.MemoryPercentage > memoryCriticalThreshold {
			sev = SeverityCritical
		}
		out = append(out, Candidate{
			Title:       "High memory usage",
			Description: fmt.Sprintf("Memory usage at %.1f%% exceeds the %.0f%% threshold", sample.MemoryPercentage, memoryHighThreshold),
			Severity:    sev,
			Source:      source,
			Metrics:     map[string]float64{"memory_percentage": sample.MemoryPercentage},
			CreatedAt:   now,
		})
	}

	if sample.AvgResponseTimeMs > latencyMediumThresholdMs {
		sev := SeverityMedium
		if sample.AvgResponseTimeMs > latencyCriticalThresholdMs {
			sev = SeverityCritical
		}
		out = append(out, Candidate{
			Title:       "Degraded response time",
			Description: fmt.Sprintf("Average response time %.0fms exceeds the %.0fms threshold", sample.AvgResponseTimeMs, latencyMediumThresholdMs),
			Severity:    sev,
			Source:      source,
			Metrics:     map[string]float64{"avg_response_time_ms": sample.AvgResponseTimeMs},
			CreatedAt:   now,
		})
	}

	if sample.ErrorRatePercent > errorRateHighThreshold {
		sev := SeverityHigh
		if sample.ErrorRatePercent > errorRateCriticalThreshold {
			sev = SeverityCritical
		}
		out = append(out, Candidate{
			Title:       "Elevated error rate",
			Description: fmt.Sprintf("Error rate %.1f%% exceeds the %.0f%% threshold", sample.ErrorRatePercent, errorRateHighThreshold),
			Severity:    sev,
			Source:      source,
			Metrics:     map[string]float64{"error_rate_percent": sample.ErrorRatePercent},
			CreatedAt:   now,
		})
	}

	if sample.DBConnectionErrors > 0 {
		out = append(out, Candidate{
			Title:       "Database connection errors",
			Description: fmt.Sprintf("%d database connection errors observed", sample.DBConnectionErrors),
			Severity:    SeverityHigh,
			Source:      source,
			Metrics:     map[string]float64{"db_connection_errors": float64(sample.DBConnectionErrors)},
			CreatedAt:   now,
		})
	}

	return out
}
