package database

import (
	"encoding/json"
	"fmt"

	"github.com/insightpipe/insightpipe/internal/feedback"
)

// SaveClusters stores the clusters produced by a run.
func (db *DB) SaveClusters(runID string, clusters []feedback.Cluster) error {
	for _, c := range clusters {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encoding cluster %s: %w", c.ID, err)
		}
		if _, err := db.conn.Exec(`
			INSERT INTO clusters (id, run_id, theme, size, data)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, runID, c.Theme, c.Size, string(data),
		); err != nil {
			return fmt.Errorf("inserting cluster %s: %w", c.ID, err)
		}
	}
	return nil
}

// GetClustersForRun returns a run's clusters, largest first.
func (db *DB) GetClustersForRun(runID string) ([]feedback.Cluster, error) {
	rows, err := db.conn.Query(
		"SELECT data FROM clusters WHERE run_id = ? ORDER BY size DESC, id ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	defer rows.Close()

	var clusters []feedback.Cluster
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning cluster: %w", err)
		}
		var c feedback.Cluster
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("decoding cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// SaveInsights stores the insights produced by a run.
func (db *DB) SaveInsights(runID string, insights []feedback.Insight) error {
	for _, ins := range insights {
		data, err := json.Marshal(ins)
		if err != nil {
			return fmt.Errorf("encoding insight %s: %w", ins.ID, err)
		}
		fallback := 0
		if ins.Fallback {
			fallback = 1
		}
		if _, err := db.conn.Exec(`
			INSERT INTO insights (id, run_id, cluster_id, title, severity, confidence, fallback, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ins.ID, runID, ins.ClusterID, ins.Title, ins.PainPoint.Severity,
			ins.Confidence, fallback, string(data),
		); err != nil {
			return fmt.Errorf("inserting insight %s: %w", ins.ID, err)
		}
	}
	return nil
}

// GetInsightsForRun returns a run's insights ordered by confidence.
func (db *DB) GetInsightsForRun(runID string) ([]feedback.Insight, error) {
	rows, err := db.conn.Query(
		"SELECT data FROM insights WHERE run_id = ? ORDER BY confidence DESC, id ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("listing insights: %w", err)
	}
	defer rows.Close()

	var insights []feedback.Insight
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning insight: %w", err)
		}
		var ins feedback.Insight
		if err := json.Unmarshal([]byte(data), &ins); err != nil {
			return nil, fmt.Errorf("decoding insight: %w", err)
		}
		insights = append(insights, ins)
	}
	return insights, rows.Err()
}
