package database

import "time"

// Run is a stored pipeline run row.
type Run struct {
	ID            string
	ProductID     string
	State         string
	FeedbackCount int
	EnrichedCount int
	ClusterCount  int
	InsightCount  int
	FallbackCount int
	Error         string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// StoredEvent is a pipeline event row.
type StoredEvent struct {
	ID         int64
	RunID      string
	Type       string
	Stage      string
	Payload    string
	OccurredAt time.Time
}

// StoredCluster is a cluster row; Data holds the full cluster JSON.
type StoredCluster struct {
	ID    string
	RunID string
	Theme string
	Size  int
	Data  string
}

// StoredInsight is an insight row; Data holds the full insight JSON.
type StoredInsight struct {
	ID         string
	RunID      string
	ClusterID  string
	Title      string
	Severity   string
	Confidence float64
	Fallback   bool
	Data       string
}

// Stats summarizes database contents for the status command.
type Stats struct {
	FeedbackTotal int
	AreaTotal     int
	RunTotal      int
	RunsComplete  int
	RunsFailed    int
	InsightTotal  int
}
