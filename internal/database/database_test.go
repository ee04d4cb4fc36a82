package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/insightpipe/insightpipe/internal/events"
	"github.com/insightpipe/insightpipe/internal/feedback"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db.Close()

	// Reopening should find user_version already set and do nothing.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db.Close()

	var version int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("reading version: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("user_version = %d, want %d", version, latestVersion())
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	db := openTestDB(t)

	url := "https://forum.example.com/t/123"
	item := feedback.Item{
		ID:        "fb-1",
		ProductID: "acme",
		Text:      "The export button does nothing on large workspaces.",
		AuthorID:  "user-9",
		Channel:   "forum",
		URL:       &url,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Metadata:  &feedback.Metadata{PlanTier: "enterprise", TeamSize: 40},
	}

	inserted, err := db.InsertFeedback(item)
	if err != nil {
		t.Fatalf("InsertFeedback: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to succeed")
	}

	// Same URL again is a no-op.
	dup := item
	dup.ID = "fb-2"
	inserted, err = db.InsertFeedback(dup)
	if err != nil {
		t.Fatalf("duplicate InsertFeedback: %v", err)
	}
	if inserted {
		t.Error("expected duplicate URL to be skipped")
	}

	items, err := db.ListFeedback("acme")
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	got := items[0]
	if got.ID != "fb-1" || got.Text != item.Text || got.Channel != "forum" {
		t.Errorf("unexpected item: %+v", got)
	}
	if got.URL == nil || *got.URL != url {
		t.Errorf("URL not preserved: %v", got.URL)
	}
	if got.Metadata == nil || got.Metadata.PlanTier != "enterprise" || got.Metadata.TeamSize != 40 {
		t.Errorf("metadata not preserved: %+v", got.Metadata)
	}
	if !got.CreatedAt.Equal(item.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, item.CreatedAt)
	}
}

func TestFeedbackWithoutURLNeverConflicts(t *testing.T) {
	db := openTestDB(t)

	for i, id := range []string{"fb-a", "fb-b"} {
		inserted, err := db.InsertFeedback(feedback.Item{
			ID:        id,
			ProductID: "acme",
			Text:      "manual note",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertFeedback %s: %v", id, err)
		}
		if !inserted {
			t.Errorf("item %s without URL should always insert", id)
		}
	}

	items, err := db.ListFeedback("acme")
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}

func TestAreasRoundTrip(t *testing.T) {
	db := openTestDB(t)

	area := feedback.Area{
		ID:          "area-1",
		ProductID:   "acme",
		Name:        "Billing",
		Description: "Invoices and payment flows",
		Keywords:    []string{"invoice", "payment"},
	}
	if err := db.InsertArea(area); err != nil {
		t.Fatalf("InsertArea: %v", err)
	}

	areas, err := db.ListAreasForProduct("acme")
	if err != nil {
		t.Fatalf("ListAreasForProduct: %v", err)
	}
	if len(areas) != 1 {
		t.Fatalf("got %d areas, want 1", len(areas))
	}
	if areas[0].Name != "Billing" || len(areas[0].Keywords) != 2 {
		t.Errorf("unexpected area: %+v", areas[0])
	}

	if err := db.DeleteArea("area-1"); err != nil {
		t.Fatalf("DeleteArea: %v", err)
	}
	if err := db.DeleteArea("area-1"); err == nil {
		t.Error("expected error deleting missing area")
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	if err := db.InsertRun("run-1", "acme", "idle"); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	if err := db.UpdateRunState("run-1", "enriching"); err != nil {
		t.Fatalf("UpdateRunState: %v", err)
	}
	if err := db.CompleteRun("run-1", "complete", 10, 9, 3, 3, 1, ""); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	run, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil {
		t.Fatal("run not found")
	}
	if run.State != "complete" || run.FeedbackCount != 10 || run.FallbackCount != 1 {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	missing, err := db.GetRun("nope")
	if err != nil {
		t.Fatalf("GetRun missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing run")
	}
}

func TestEventStorage(t *testing.T) {
	db := openTestDB(t)

	if err := db.InsertRun("run-1", "acme", "idle"); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	emitted := []events.Event{
		{PipelineID: "run-1", Type: events.PipelineStarted, Timestamp: time.Now()},
		{PipelineID: "run-1", Type: events.EnrichmentItemComplete, Stage: events.StageEnrichment,
			Timestamp: time.Now(), Payload: map[string]any{"item_id": "fb-1"}},
		{PipelineID: "run-1", Type: events.EnrichmentItemComplete, Stage: events.StageEnrichment,
			Timestamp: time.Now(), Payload: map[string]any{"item_id": "fb-2"}},
	}
	for _, e := range emitted {
		if err := db.SaveEvent(e); err != nil {
			t.Fatalf("SaveEvent: %v", err)
		}
	}

	all, err := db.GetEventsForRun("run-1", "")
	if err != nil {
		t.Fatalf("GetEventsForRun: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if all[0].Type != string(events.PipelineStarted) {
		t.Errorf("first event = %s, want %s", all[0].Type, events.PipelineStarted)
	}

	filtered, err := db.GetEventsForRun("run-1", string(events.EnrichmentItemComplete))
	if err != nil {
		t.Fatalf("filtered GetEventsForRun: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("got %d filtered events, want 2", len(filtered))
	}

	counts, err := db.CountEventsByType("run-1")
	if err != nil {
		t.Fatalf("CountEventsByType: %v", err)
	}
	if counts[string(events.EnrichmentItemComplete)] != 2 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestInsightAndClusterStorage(t *testing.T) {
	db := openTestDB(t)

	if err := db.InsertRun("run-1", "acme", "idle"); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	clusters := []feedback.Cluster{
		{ID: "c-1", Theme: "Slow exports", MemberIDs: []string{"fb-1", "fb-2"}, Size: 2,
			DominantSentiment: feedback.SentimentNegative, Confidence: 0.8},
		{ID: "c-2", Theme: "Login issues", MemberIDs: []string{"fb-3"}, Size: 1,
			DominantSentiment: feedback.SentimentNegative, Confidence: 0.6},
	}
	if err := db.SaveClusters("run-1", clusters); err != nil {
		t.Fatalf("SaveClusters: %v", err)
	}

	gotClusters, err := db.GetClustersForRun("run-1")
	if err != nil {
		t.Fatalf("GetClustersForRun: %v", err)
	}
	if len(gotClusters) != 2 || gotClusters[0].ID != "c-1" {
		t.Errorf("unexpected clusters: %+v", gotClusters)
	}
	if len(gotClusters[0].MemberIDs) != 2 {
		t.Errorf("member ids not preserved: %+v", gotClusters[0].MemberIDs)
	}

	insights := []feedback.Insight{
		{ID: "i-1", ClusterID: "c-1", Title: "Export performance degrades at scale",
			Confidence: 0.9, PainPoint: feedback.PainPoint{Severity: feedback.SeverityHigh}},
		{ID: "i-2", ClusterID: "c-2", Title: "Recurring feedback: Login issues",
			Confidence: 0.5, Fallback: true,
			PainPoint: feedback.PainPoint{Severity: feedback.SeverityMedium}},
	}
	if err := db.SaveInsights("run-1", insights); err != nil {
		t.Fatalf("SaveInsights: %v", err)
	}

	got, err := db.GetInsightsForRun("run-1")
	if err != nil {
		t.Fatalf("GetInsightsForRun: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d insights, want 2", len(got))
	}
	if got[0].ID != "i-1" {
		t.Errorf("expected highest-confidence insight first, got %s", got[0].ID)
	}
	if !got[1].Fallback {
		t.Error("fallback flag not preserved")
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.InsightTotal != 2 || stats.RunTotal != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
