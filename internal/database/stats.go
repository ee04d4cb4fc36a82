package database

import "fmt"

// GetStats returns headline counts for the status command.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM feedback_items", &s.FeedbackTotal},
		{"SELECT COUNT(*) FROM areas", &s.AreaTotal},
		{"SELECT COUNT(*) FROM pipeline_runs", &s.RunTotal},
		{"SELECT COUNT(*) FROM pipeline_runs WHERE state = 'complete'", &s.RunsComplete},
		{"SELECT COUNT(*) FROM pipeline_runs WHERE state = 'failed'", &s.RunsFailed},
		{"SELECT COUNT(*) FROM insights", &s.InsightTotal},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("gathering stats: %w", err)
		}
	}
	return s, nil
}
