package testbed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/phoenix-ops/loadrelay/pkg/alert"
)

// Incident is an ingested alert with its assigned identifier.
type Incident struct {
	IncidentID string    `json:"incident_id"`
	Title      string    `json:"title"`
	Severity   string    `json:"severity"`
	Source     string    `json:"source"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// IncidentStore persists ingested alerts in SQLite so operators can inspect
// what the relay actually delivered during a run.
type IncidentStore struct {
	db *sql.DB
}

// NewIncidentStore opens (or creates) the incident database. WAL mode keeps
// concurrent intake writes cheap.
func NewIncidentStore(dbPath string) (*IncidentStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &IncidentStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *IncidentStore) Close() error {
	return s.db.Close()
}

func (s *IncidentStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS incidents (
		incident_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		severity TEXT NOT NULL,
		source TEXT NOT NULL,
		received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

		-- Full alert payload for traceability
		payload JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_incidents_received ON incidents(received_at);
	CREATE INDEX IF NOT EXISTS idx_incidents_severity ON incidents(severity);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create incidents table: %w", err)
	}
	return nil
}

// SaveAlert stores one ingested alert under the given incident ID.
func (s *IncidentStore) SaveAlert(ctx context.Context, incidentID string, c alert.Candidate) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO incidents (incident_id, title, severity, source, received_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		incidentID, c.Title, string(c.Severity), c.Source, time.Now().UTC(), payload)
	if err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return nil
}

// GetIncident fetches one incident by ID. Returns sql.ErrNoRows when absent.
func (s *IncidentStore) GetIncident(ctx context.Context, incidentID string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT incident_id, title, severity, source, received_at, payload
		 FROM incidents WHERE incident_id = ?`, incidentID)

	var inc Incident
	if err := row.Scan(&inc.IncidentID, &inc.Title, &inc.Severity, &inc.Source, &inc.ReceivedAt, &inc.Payload); err != nil {
		return nil, err
	}
	return &inc, nil
}

// ListIncidents returns the most recent incidents, newest first.
func (s *IncidentStore) ListIncidents(ctx context.Context, limit int) ([]*Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT incident_id, title, severity, source, received_at, payload
		 FROM incidents ORDER BY received_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var out []*Incident
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(&inc.IncidentID, &inc.Title, &inc.Severity, &inc.Source, &inc.ReceivedAt, &inc.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		out = append(out, &inc)
	}
	return out, rows.Err()
}

// CountBySeverity aggregates stored incidents for the summary endpoint.
func (s *IncidentStore) CountBySeverity(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, COUNT(*) FROM incidents GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var sev string
		var n int64
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, err
		}
		out[sev] = n
	}
	return out, rows.Err()
}
