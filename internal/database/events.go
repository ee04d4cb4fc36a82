package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/insightpipe/insightpipe/internal/events"
)

// SaveEvent persists a pipeline event. Satisfies the orchestrator's sink
// interface so every emitted event lands in the events table.
func (db *DB) SaveEvent(e events.Event) error {
	var payload sql.NullString
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encoding event payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	if _, err := db.conn.Exec(`
		INSERT INTO pipeline_events (run_id, type, stage, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.PipelineID, string(e.Type), string(e.Stage), payload,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// GetEventsForRun returns the stored events for a run in emission order.
// An empty typeFilter returns everything.
func (db *DB) GetEventsForRun(runID, typeFilter string) ([]StoredEvent, error) {
	query := `
		SELECT id, run_id, type, stage, payload, occurred_at
		FROM pipeline_events
		WHERE run_id = ?`
	args := []any{runID}
	if typeFilter != "" {
		query += " AND type = ?"
		args = append(args, typeFilter)
	}
	query += " ORDER BY id ASC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			ev         StoredEvent
			stage      sql.NullString
			payload    sql.NullString
			occurredAt string
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &stage, &payload, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Stage = stage.String
		ev.Payload = payload.String
		if t, err := time.Parse(time.RFC3339Nano, occurredAt); err == nil {
			ev.OccurredAt = t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountEventsByType returns a per-type tally of a run's events.
func (db *DB) CountEventsByType(runID string) (map[string]int, error) {
	rows, err := db.conn.Query(`
		SELECT type, COUNT(*) FROM pipeline_events
		WHERE run_id = ? GROUP BY type`, runID)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scanning event count: %w", err)
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}
