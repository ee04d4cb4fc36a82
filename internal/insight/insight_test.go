package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/insightpipe/insightpipe/internal/events"
	"github.com/insightpipe/insightpipe/internal/feedback"
)

type mockProvider struct {
	response string
	err      error
	calls    int
}

func (m *mockProvider) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	m.calls++
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

func testCluster(size int) feedback.Cluster {
	ids := make([]string, size)
	for i := range ids {
		ids[i] = fmt.Sprintf("fb-%d", i+1)
	}
	return feedback.Cluster{
		ID:                "c-1",
		Theme:             "Slow exports",
		Description:       "Export performance complaints",
		MemberIDs:         ids,
		Size:              size,
		DominantSentiment: feedback.SentimentNegative,
		Sentiments:        map[string]int{feedback.SentimentNegative: size},
		Urgencies:         map[string]int{feedback.UrgencyMedium: size},
		Areas:             []string{"Exports"},
		Confidence:        0.8,
	}
}

func testEnriched(n int) []feedback.Enriched {
	out := make([]feedback.Enriched, n)
	for i := range out {
		out[i] = feedback.Enriched{
			Item: feedback.Item{
				ID:   fmt.Sprintf("fb-%d", i+1),
				Text: fmt.Sprintf("Export number %d is painfully slow. It takes minutes.", i+1),
			},
			Sentiment: feedback.Sentiment{Label: feedback.SentimentNegative, Score: -0.6, Confidence: 0.8},
			Urgency:   feedback.UrgencyMedium,
		}
	}
	return out
}

const goodResponse = `{
	"title": "Export performance is a churn risk",
	"summary": "Export times are driving complaints. Power users are hit hardest.",
	"analysis": "Exports degrade with workspace size.",
	"pain_point": {"description": "Exports take minutes", "severity": "high", "journey_stage": "daily use", "frequency": 3},
	"impact": {"users_affected": 3, "segments": ["enterprise"], "revenue": "at risk", "churn": "elevated", "satisfaction": "negative"},
	"actions": [
		{"title": "Profile export path", "category": "engineering", "priority": "high"},
		{"title": "Add async exports", "category": "product", "priority": "medium"}
	]
}`

func TestGenerateAllOneInsightPerCluster(t *testing.T) {
	provider := &mockProvider{response: goodResponse}
	bus := events.NewBus("run-1", nil)
	g := New(provider, bus, nil, Options{Concurrency: 1})

	clusters := []feedback.Cluster{testCluster(3), testCluster(2)}
	clusters[1].ID = "c-2"
	clusters[1].Theme = "Billing confusion"

	insights, result, err := g.GenerateAll(context.Background(), clusters, testEnriched(3))
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	if len(insights) != 2 {
		t.Fatalf("got %d insights, want 2", len(insights))
	}
	// Output order follows cluster order.
	if insights[0].ClusterID != "c-1" || insights[1].ClusterID != "c-2" {
		t.Errorf("cluster order not preserved: %s, %s", insights[0].ClusterID, insights[1].ClusterID)
	}
	if result.Generated != 2 || result.Fallbacks != 0 {
		t.Errorf("result = %+v", result)
	}
	got := insights[0]
	if got.Title != "Export performance is a churn risk" {
		t.Errorf("title = %q", got.Title)
	}
	if got.PainPoint.Severity != feedback.SeverityHigh {
		t.Errorf("severity = %q", got.PainPoint.Severity)
	}
	if len(got.Actions) != 2 {
		t.Errorf("actions = %d", len(got.Actions))
	}
	if got.Fallback {
		t.Error("unexpected fallback")
	}
}

func TestGenerateAllFallbackOnUnusableResponse(t *testing.T) {
	provider := &mockProvider{response: "I am unable to produce that analysis."}
	bus := events.NewBus("run-1", nil)
	g := New(provider, bus, nil, Options{Concurrency: 1})

	insights, result, err := g.GenerateAll(context.Background(), []feedback.Cluster{testCluster(4)}, testEnriched(4))
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	if len(insights) != 1 {
		t.Fatalf("got %d insights, want 1", len(insights))
	}
	ins := insights[0]
	if !ins.Fallback {
		t.Fatal("expected fallback insight")
	}
	if ins.Title != "Recurring feedback: Slow exports" {
		t.Errorf("title = %q", ins.Title)
	}
	if len(ins.Actions) != 1 || !strings.HasPrefix(ins.Actions[0].Title, "Investigate") {
		t.Errorf("actions = %+v", ins.Actions)
	}
	if ins.PainPoint.Frequency != 4 || ins.Impact.UsersAffected != 4 {
		t.Errorf("stats not derived from cluster: %+v", ins)
	}
	if result.Fallbacks != 1 {
		t.Errorf("result = %+v", result)
	}
	if n := len(bus.HistoryByType(events.InsightFallback)); n != 1 {
		t.Errorf("insight_fallback events = %d", n)
	}
}

func TestGenerateAllFallbackOnProviderError(t *testing.T) {
	provider := &mockProvider{err: errors.New("connection refused")}
	g := New(provider, events.NewBus("run-1", nil), nil, Options{})

	insights, result, err := g.GenerateAll(context.Background(), []feedback.Cluster{testCluster(2)}, testEnriched(2))
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if len(insights) != 1 || !insights[0].Fallback {
		t.Errorf("expected one fallback insight, got %+v", insights)
	}
	if result.Fallbacks != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestGenerateAllNoProvider(t *testing.T) {
	g := New(nil, events.NewBus("run-1", nil), nil, Options{})
	if _, _, err := g.GenerateAll(context.Background(), []feedback.Cluster{testCluster(1)}, nil); err == nil {
		t.Fatal("expected error without provider")
	}
}

func TestFromResponseDefaults(t *testing.T) {
	g := New(&mockProvider{}, events.NewBus("run-1", nil), nil, Options{})
	cl := testCluster(3)
	cl.Segments = []string{"smb"}
	evidence := buildEvidence(cl, testEnriched(3))

	// Empty response: everything defaults from cluster statistics.
	var resp insightResponse
	ins := g.fromResponse(cl, resp, evidence)

	if ins.Title != cl.Theme {
		t.Errorf("title = %q, want cluster theme", ins.Title)
	}
	if ins.PainPoint.Frequency != cl.Size {
		t.Errorf("frequency = %d, want %d", ins.PainPoint.Frequency, cl.Size)
	}
	if ins.Impact.UsersAffected != cl.Size {
		t.Errorf("users affected = %d, want %d", ins.Impact.UsersAffected, cl.Size)
	}
	if len(ins.Impact.Segments) != 1 || ins.Impact.Segments[0] != "smb" {
		t.Errorf("segments = %v, want cluster segments", ins.Impact.Segments)
	}
	// Negative dominant sentiment maps to high severity.
	if ins.PainPoint.Severity != feedback.SeverityHigh {
		t.Errorf("severity = %q", ins.PainPoint.Severity)
	}
	if ins.Impact.Estimates != nil {
		t.Error("empty estimates should stay nil")
	}
}

func TestConfidenceFormula(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		clusterCf float64
		actions   int
		estimates bool
		want      float64
	}{
		{"small cluster", 3, 0, 1, false, 0.7},
		{"size five bonus", 5, 0, 1, false, 0.8},
		{"size ten stacks", 10, 0, 1, false, 0.9},
		{"cluster confidence", 3, 0.5, 1, false, 0.8},
		{"multiple actions", 3, 0, 2, false, 0.75},
		{"estimates bonus", 3, 0, 1, true, 0.8},
		{"capped at one", 10, 1.0, 3, true, 1.0},
	}
	for _, tt := range tests {
		cl := testCluster(tt.size)
		cl.Confidence = tt.clusterCf
		ins := feedback.Insight{}
		for i := 0; i < tt.actions; i++ {
			ins.Actions = append(ins.Actions, feedback.Action{Title: "a"})
		}
		if tt.estimates {
			ins.Impact.Estimates = &feedback.QuantifiedImpact{RevenueAtRisk: "high"}
		}
		got := confidence(cl, ins)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s: confidence = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSeverityFromStats(t *testing.T) {
	cl := testCluster(4)
	cl.Urgencies = map[string]int{feedback.UrgencyHigh: 2, feedback.UrgencyLow: 2}
	// Half high urgency and negative sentiment: critical.
	if got := severityFromStats(cl); got != feedback.SeverityCritical {
		t.Errorf("severity = %q, want critical", got)
	}

	cl.DominantSentiment = feedback.SentimentNeutral
	if got := severityFromStats(cl); got != feedback.SeverityHigh {
		t.Errorf("severity = %q, want high", got)
	}

	cl.Urgencies = map[string]int{feedback.UrgencyLow: 4}
	if got := severityFromStats(cl); got != feedback.SeverityMedium {
		t.Errorf("severity = %q, want medium", got)
	}
}

func TestBuildEvidence(t *testing.T) {
	members := testEnriched(8)
	members[2].Urgency = feedback.UrgencyHigh // strongest signal
	cl := testCluster(8)

	chain := buildEvidence(cl, members)

	if len(chain.Supporting) != maxSupportingItems {
		t.Fatalf("supporting = %d, want %d", len(chain.Supporting), maxSupportingItems)
	}
	if chain.Supporting[0].ItemID != "fb-3" {
		t.Errorf("highest-relevance item = %s, want fb-3", chain.Supporting[0].ItemID)
	}
	if chain.ClusterSummary == "" || chain.Derivation == "" {
		t.Error("summary or derivation missing")
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Short sentence. And more text after.", "Short sentence."},
		{"no terminal punctuation but short", "no terminal punctuation but short"},
		{strings.Repeat("a", 130) + ". tail", strings.Repeat("a", 100)},
		{strings.Repeat("b", 90), strings.Repeat("b", 90)},
	}
	for _, tt := range tests {
		if got := quote(tt.in); got != tt.want {
			t.Errorf("quote(%.20q...) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteCutsOnRuneBoundary(t *testing.T) {
	// One ASCII byte followed by two-byte runes puts byte 100 mid-rune.
	long := "x" + strings.Repeat("é", 80)

	got := quote(long)
	if !utf8.ValidString(got) {
		t.Fatalf("quote produced invalid UTF-8: %q", got)
	}
	if !strings.HasPrefix(long, got) {
		t.Errorf("quote %q is not a prefix of the input", got)
	}
	if len(got) != 99 {
		t.Errorf("expected cut at byte 99, got %d", len(got))
	}
}

func TestNarrativesCoverAllAudiences(t *testing.T) {
	g := New(&mockProvider{response: goodResponse}, events.NewBus("run-1", nil), nil, Options{})
	cl := testCluster(3)
	evidence := buildEvidence(cl, testEnriched(3))

	var resp insightResponse
	resp.Title = "Export performance is a churn risk"
	resp.PainPoint.Severity = "high"
	ins := g.fromResponse(cl, resp, evidence)

	n := ins.Narratives
	for name, text := range map[string]string{
		"executive":        n.Executive,
		"product":          n.Product,
		"engineering":      n.Engineering,
		"customer success": n.CustomerSuccess,
	} {
		if strings.TrimSpace(text) == "" {
			t.Errorf("%s narrative is empty", name)
		}
	}
	// All narratives describe the same finding.
	if !strings.Contains(n.Executive, "Export performance is a churn risk") {
		t.Errorf("executive narrative missing title: %q", n.Executive)
	}
}
