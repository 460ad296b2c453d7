package alert

import "time"

// Severity ranks how urgently an alert candidate should be handled.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Candidate is a structured anomaly signal bound for the external alerting
// endpoint. Once enqueued it is owned by the relay until delivered or
// dropped.
type Candidate struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Severity    Severity           `json:"severity"`
	Source      string             `json:"source"`
	Metrics     map[string]float64 `json:"metrics"`
	CreatedAt   time.Time          `json:"timestamp"`
}

// MetricsSample is one observation of application health metrics, the input
// to threshold classification.
type MetricsSample struct {
	CPUPercentage      float64 `json:"cpu_percentage"`
	MemoryPercentage   float64 `json:"memory_percentage"`
	AvgResponseTimeMs  float64 `json:"avg_response_time_ms"`
	ErrorRatePercent   float64 `json:"error_rate_percent"`
	DBConnectionErrors int     `json:"db_connection_errors"`
}
