package database

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertRun records a new pipeline run in its initial state.
func (db *DB) InsertRun(id, productID, state string) error {
	if _, err := db.conn.Exec(`
		INSERT INTO pipeline_runs (id, product_id, state, started_at)
		VALUES (?, ?, ?, ?)`,
		id, productID, state, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRunState records a state transition for a run.
func (db *DB) UpdateRunState(id, state string) error {
	if _, err := db.conn.Exec(
		"UPDATE pipeline_runs SET state = ? WHERE id = ?", state, id,
	); err != nil {
		return fmt.Errorf("updating run state: %w", err)
	}
	return nil
}

// CompleteRun records the final state and counters of a finished run.
// errMsg is empty for successful runs.
func (db *DB) CompleteRun(id, state string, feedbackCount, enrichedCount, clusterCount, insightCount, fallbackCount int, errMsg string) error {
	if _, err := db.conn.Exec(`
		UPDATE pipeline_runs
		SET state = ?, feedback_count = ?, enriched_count = ?, cluster_count = ?,
		    insight_count = ?, fallback_count = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		state, feedbackCount, enrichedCount, clusterCount, insightCount, fallbackCount,
		errMsg, time.Now().UTC().Format(time.RFC3339), id,
	); err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	return nil
}

// GetRun returns one run by id, or nil if not found.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow(`
		SELECT id, product_id, state, feedback_count, enriched_count, cluster_count,
		       insight_count, fallback_count, error, started_at, completed_at
		FROM pipeline_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs for a product, newest first.
func (db *DB) ListRuns(productID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`
		SELECT id, product_id, state, feedback_count, enriched_count, cluster_count,
		       insight_count, fallback_count, error, started_at, completed_at
		FROM pipeline_runs
		WHERE product_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run         Run
		errMsg      sql.NullString
		startedAt   sql.NullString
		completedAt sql.NullString
	)
	if err := row.Scan(&run.ID, &run.ProductID, &run.State, &run.FeedbackCount,
		&run.EnrichedCount, &run.ClusterCount, &run.InsightCount, &run.FallbackCount,
		&errMsg, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return run, err
		}
		return run, fmt.Errorf("scanning run: %w", err)
	}
	run.Error = errMsg.String
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			run.StartedAt = t
		}
	}
	if completedAt.Valid && completedAt.String != "" {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			run.CompletedAt = &t
		}
	}
	return run, nil
}
