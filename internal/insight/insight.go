// Package insight synthesizes one business insight per feedback cluster:
// pain point, impact assessment, recommended actions, evidence chain, and
// stakeholder narratives. Every cluster yields an insight: when the
// completion response cannot be used, a deterministic fallback is built from
// cluster statistics instead.
package insight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightpipe/insightpipe/internal/events"
	"github.com/insightpipe/insightpipe/internal/executor"
	"github.com/insightpipe/insightpipe/internal/feedback"
	"github.com/insightpipe/insightpipe/internal/llm"
)

const systemPrompt = `You are a product strategy analyst. You turn clustered user feedback into a structured business insight and respond with strict JSON only.`

const clusterPrompt = `Analyze this cluster of user feedback and produce a business insight.

Cluster: %s
Description: %s
%s

Supporting feedback:
%s

Respond with ONLY this JSON:
{
    "title": "Concise insight title",
    "summary": "Two-sentence executive summary",
    "analysis": "Detailed analysis in markdown, 2-3 paragraphs",
    "pain_point": {
        "description": "The core problem users face",
        "severity": "low" | "medium" | "high" | "critical",
        "journey_stage": "Where in the user journey this bites",
        "frequency": <number of items mentioning it>
    },
    "impact": {
        "users_affected": <number>,
        "segments": ["affected segment"],
        "revenue": "qualitative revenue impact",
        "churn": "qualitative churn impact",
        "satisfaction": "qualitative satisfaction impact",
        "estimates": {"revenue_at_risk": "", "churn_rate_pct": "", "support_tickets": ""}
    },
    "actions": [
        {
            "title": "Action title",
            "description": "What to do",
            "category": "product" | "engineering" | "process",
            "priority": "low" | "medium" | "high",
            "effort": "small" | "medium" | "large",
            "timeline": "e.g. next sprint, this quarter",
            "success_metrics": ["metric"]
        }
    ]
}`

// Options configures an insight-generation run.
type Options struct {
	Concurrency int // default 3
	MaxTokens   int // default 1536
}

// Result summarizes an insight-generation run.
type Result struct {
	Clusters  int
	Generated int
	Fallbacks int
	Duration  time.Duration
}

// Generator runs the insight-generation stage.
type Generator struct {
	provider llm.Provider
	bus      *events.Bus
	logger   *zap.Logger
	opts     Options
}

// New creates a Generator.
func New(provider llm.Provider, bus *events.Bus, logger *zap.Logger, opts Options) *Generator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = executor.DefaultConcurrency
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1536
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{provider: provider, bus: bus, logger: logger, opts: opts}
}

// GenerateAll produces exactly one insight per cluster, in cluster order.
// Per-cluster completion failures are recovered with the deterministic
// fallback; the stage itself only fails on configuration errors.
func (g *Generator) GenerateAll(ctx context.Context, clusters []feedback.Cluster, enriched []feedback.Enriched) ([]feedback.Insight, *Result, error) {
	if g.provider == nil {
		return nil, nil, fmt.Errorf("no completion provider available for insight generation")
	}

	g.bus.Emit(events.Event{
		Type:    events.InsightsStarted,
		Stage:   events.StageInsights,
		Payload: map[string]any{"cluster_count": len(clusters), "concurrency": g.opts.Concurrency},
	})

	byID := make(map[string]feedback.Enriched, len(enriched))
	for _, it := range enriched {
		byID[it.Item.ID] = it
	}

	fallbacks := 0
	transform := func(ctx context.Context, _ int, cl feedback.Cluster) (feedback.Insight, error) {
		g.bus.Emit(events.Event{
			Type:    events.InsightProcessing,
			Stage:   events.StageInsights,
			Payload: map[string]any{"cluster_id": cl.ID, "theme": cl.Theme},
		})
		return g.generateOne(ctx, cl, byID), nil
	}

	results, stats, _ := executor.Run(ctx, clusters, transform, executor.Options[feedback.Insight]{
		Concurrency: g.opts.Concurrency,
		OnItem: func(done, total int, res executor.ItemResult[feedback.Insight]) {
			ins := res.Value
			if ins.Fallback {
				fallbacks++
				g.bus.Emit(events.Event{
					Type:  events.InsightFallback,
					Stage: events.StageInsights,
					Payload: map[string]any{
						"cluster_id": ins.ClusterID,
						"insight_id": ins.ID,
					},
				})
			}
			g.bus.Emit(events.Event{
				Type:  events.InsightCreated,
				Stage: events.StageInsights,
				Payload: map[string]any{
					"insight_id":  ins.ID,
					"cluster_id":  ins.ClusterID,
					"title":       ins.Title,
					"severity":    ins.PainPoint.Severity,
					"actions":     len(ins.Actions),
					"confidence":  ins.Confidence,
					"fallback":    ins.Fallback,
					"duration_ms": res.Duration.Milliseconds(),
					"completed":   done,
					"total":       total,
				},
			})
		},
	})

	insights := make([]feedback.Insight, 0, len(clusters))
	for _, res := range results {
		insights = append(insights, res.Value)
	}

	summary := &Result{
		Clusters:  len(clusters),
		Generated: len(insights),
		Fallbacks: fallbacks,
		Duration:  stats.Duration,
	}

	g.bus.Emit(events.Event{
		Type:  events.InsightsComplete,
		Stage: events.StageInsights,
		Payload: map[string]any{
			"cluster_count": len(clusters),
			"insight_count": len(insights),
			"fallbacks":     fallbacks,
			"duration_ms":   stats.Duration.Milliseconds(),
		},
	})

	g.logger.Info("insight generation complete",
		zap.Int("insights", len(insights)),
		zap.Int("fallbacks", fallbacks),
		zap.Duration("duration", stats.Duration))

	return insights, summary, nil
}

// insightResponse is the fail-open shape requested from the completion
// service; missing optional fields default from cluster statistics.
type insightResponse struct {
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Analysis  string `json:"analysis"`
	PainPoint struct {
		Description  string `json:"description"`
		Severity     string `json:"severity"`
		JourneyStage string `json:"journey_stage"`
		Frequency    int    `json:"frequency"`
	} `json:"pain_point"`
	Impact struct {
		UsersAffected int      `json:"users_affected"`
		Segments      []string `json:"segments"`
		Revenue       string   `json:"revenue"`
		Churn         string   `json:"churn"`
		Satisfaction  string   `json:"satisfaction"`
		Estimates     *struct {
			RevenueAtRisk  string `json:"revenue_at_risk"`
			ChurnRatePct   string `json:"churn_rate_pct"`
			SupportTickets string `json:"support_tickets"`
		} `json:"estimates"`
	} `json:"impact"`
	Actions []struct {
		Title          string   `json:"title"`
		Description    string   `json:"description"`
		Category       string   `json:"category"`
		Priority       string   `json:"priority"`
		Effort         string   `json:"effort"`
		Timeline       string   `json:"timeline"`
		SuccessMetrics []string `json:"success_metrics"`
	} `json:"actions"`
}

func (g *Generator) generateOne(ctx context.Context, cl feedback.Cluster, byID map[string]feedback.Enriched) feedback.Insight {
	members := make([]feedback.Enriched, 0, len(cl.MemberIDs))
	for _, id := range cl.MemberIDs {
		if m, ok := byID[id]; ok {
			members = append(members, m)
		}
	}
	evidence := buildEvidence(cl, members)

	prompt := fmt.Sprintf(clusterPrompt, cl.Theme, cl.Description, clusterSummary(cl), formatMembers(members))
	raw, err := g.provider.Complete(ctx, systemPrompt, prompt, g.opts.MaxTokens)
	if err == nil {
		var resp insightResponse
		if exErr := llm.ExtractInto(raw, &resp); exErr == nil {
			return g.fromResponse(cl, resp, evidence)
		} else {
			err = exErr
		}
	}

	g.logger.Warn("falling back to deterministic insight",
		zap.String("cluster_id", cl.ID),
		zap.String("theme", cl.Theme),
		zap.Error(err))
	return g.fallbackInsight(cl, evidence)
}

// fromResponse normalizes the decoded response, defaulting missing fields
// from cluster statistics.
func (g *Generator) fromResponse(cl feedback.Cluster, resp insightResponse, evidence feedback.EvidenceChain) feedback.Insight {
	title := strings.TrimSpace(resp.Title)
	if title == "" {
		title = cl.Theme
	}
	summary := strings.TrimSpace(resp.Summary)
	if summary == "" {
		summary = evidence.ClusterSummary
	}

	severity := strings.ToLower(strings.TrimSpace(resp.PainPoint.Severity))
	if !feedback.ValidSeverity(severity) {
		severity = severityFromStats(cl)
	}
	frequency := resp.PainPoint.Frequency
	if frequency <= 0 || frequency > cl.Size {
		frequency = cl.Size
	}
	painDesc := strings.TrimSpace(resp.PainPoint.Description)
	if painDesc == "" {
		painDesc = fmt.Sprintf("Users report recurring problems with %s.", cl.Theme)
	}

	usersAffected := resp.Impact.UsersAffected
	if usersAffected <= 0 {
		usersAffected = cl.Size
	}
	segments := resp.Impact.Segments
	if len(segments) == 0 {
		segments = cl.Segments
	}

	var estimates *feedback.QuantifiedImpact
	if e := resp.Impact.Estimates; e != nil {
		if e.RevenueAtRisk != "" || e.ChurnRatePct != "" || e.SupportTickets != "" {
			estimates = &feedback.QuantifiedImpact{
				RevenueAtRisk:  e.RevenueAtRisk,
				ChurnRatePct:   e.ChurnRatePct,
				SupportTickets: e.SupportTickets,
			}
		}
	}

	actions := make([]feedback.Action, 0, len(resp.Actions))
	for _, a := range resp.Actions {
		if strings.TrimSpace(a.Title) == "" {
			continue
		}
		actions = append(actions, feedback.Action{
			Title:          strings.TrimSpace(a.Title),
			Description:    a.Description,
			Category:       a.Category,
			Priority:       a.Priority,
			Effort:         a.Effort,
			Timeline:       a.Timeline,
			SuccessMetrics: a.SuccessMetrics,
		})
	}

	ins := feedback.Insight{
		ID:        uuid.NewString(),
		ClusterID: cl.ID,
		Title:     title,
		Summary:   summary,
		Analysis:  resp.Analysis,
		PainPoint: feedback.PainPoint{
			Description:  painDesc,
			Severity:     severity,
			JourneyStage: resp.PainPoint.JourneyStage,
			Frequency:    frequency,
		},
		Impact: feedback.Impact{
			UsersAffected: usersAffected,
			Segments:      segments,
			Business: feedback.BusinessImpact{
				Revenue:      resp.Impact.Revenue,
				Churn:        resp.Impact.Churn,
				Satisfaction: resp.Impact.Satisfaction,
			},
			Estimates: estimates,
		},
		Actions:  actions,
		Evidence: evidence,
	}
	ins.Confidence = confidence(cl, ins)
	ins.Narratives = narratives(ins, cl)
	return ins
}

// fallbackInsight derives an insight purely from cluster statistics, so a
// cluster is never omitted because of an unusable completion response.
func (g *Generator) fallbackInsight(cl feedback.Cluster, evidence feedback.EvidenceChain) feedback.Insight {
	severity := severityFromStats(cl)

	ins := feedback.Insight{
		ID:        uuid.NewString(),
		ClusterID: cl.ID,
		Title:     fmt.Sprintf("Recurring feedback: %s", cl.Theme),
		Summary: fmt.Sprintf("%d users raised %s, with %s sentiment overall.",
			cl.Size, cl.Theme, cl.DominantSentiment),
		Analysis: evidence.ClusterSummary,
		PainPoint: feedback.PainPoint{
			Description: fmt.Sprintf("Users report recurring problems with %s.", cl.Theme),
			Severity:    severity,
			Frequency:   cl.Size,
		},
		Impact: feedback.Impact{
			UsersAffected: cl.Size,
			Segments:      cl.Segments,
			Business:      businessFromSentiment(cl.DominantSentiment),
		},
		Actions: []feedback.Action{{
			Title:       fmt.Sprintf("Investigate %s", cl.Theme),
			Description: fmt.Sprintf("Review the %d feedback items in this cluster and size the underlying problem.", cl.Size),
			Category:    "product",
			Priority:    severityToPriority(severity),
			Effort:      "small",
			Timeline:    "next sprint",
		}},
		Evidence: evidence,
		Fallback: true,
	}
	ins.Confidence = confidence(cl, ins)
	ins.Narratives = narratives(ins, cl)
	return ins
}

// confidence scores an insight: base 0.7, bonuses for cluster size (>=5 and
// >=10), cluster confidence, multiple recommendations, and quantified impact
// estimates, capped at 1.0.
func confidence(cl feedback.Cluster, ins feedback.Insight) float64 {
	score := 0.7
	if cl.Size >= 5 {
		score += 0.1
	}
	if cl.Size >= 10 {
		score += 0.1
	}
	score += cl.Confidence * 0.2
	if len(ins.Actions) >= 2 {
		score += 0.05
	}
	if ins.Impact.Estimates != nil {
		score += 0.1
	}
	return feedback.ClampUnit(score)
}

func severityFromStats(cl feedback.Cluster) string {
	high := cl.Urgencies[feedback.UrgencyHigh]
	if cl.Size > 0 && high*2 >= cl.Size {
		if cl.DominantSentiment == feedback.SentimentNegative {
			return feedback.SeverityCritical
		}
		return feedback.SeverityHigh
	}
	if cl.DominantSentiment == feedback.SentimentNegative {
		return feedback.SeverityHigh
	}
	return feedback.SeverityMedium
}

func severityToPriority(severity string) string {
	switch severity {
	case feedback.SeverityCritical, feedback.SeverityHigh:
		return "high"
	case feedback.SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

func businessFromSentiment(sentiment string) feedback.BusinessImpact {
	switch sentiment {
	case feedback.SentimentNegative:
		return feedback.BusinessImpact{
			Revenue:      "possible revenue risk if unaddressed",
			Churn:        "elevated churn risk among affected users",
			Satisfaction: "negative satisfaction signal",
		}
	case feedback.SentimentPositive:
		return feedback.BusinessImpact{
			Revenue:      "potential expansion opportunity",
			Churn:        "low churn risk",
			Satisfaction: "positive satisfaction signal",
		}
	default:
		return feedback.BusinessImpact{
			Revenue:      "neutral revenue impact",
			Churn:        "no clear churn signal",
			Satisfaction: "mixed satisfaction signal",
		}
	}
}

func formatMembers(members []feedback.Enriched) string {
	var parts []string
	for i, m := range members {
		if i >= 15 {
			parts = append(parts, fmt.Sprintf("... and %d more items", len(members)-i))
			break
		}
		text := m.Item.Text
		if len(text) > 300 {
			text = text[:300] + "..."
		}
		parts = append(parts, fmt.Sprintf("[%s] (%s, %s urgency) %s", m.Item.ID, m.Sentiment.Label, m.Urgency, text))
	}
	return strings.Join(parts, "\n")
}
