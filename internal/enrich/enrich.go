// Package enrich classifies raw feedback items: sentiment, urgency, extracted
// features, and links into the product-area taxonomy. One completion call is
// issued per item, run through the bounded executor.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/insightpipe/insightpipe/internal/events"
	"github.com/insightpipe/insightpipe/internal/executor"
	"github.com/insightpipe/insightpipe/internal/feedback"
	"github.com/insightpipe/insightpipe/internal/llm"
)

const systemPrompt = `You are a product-feedback analyst. You classify a single piece of user feedback and respond with strict JSON only.`

const itemPrompt = `Classify this piece of user feedback.

Feedback:
%s

User context:
%s

Candidate product areas (link 1-3, only ids from this list):
%s

Respond with ONLY this JSON:
{
    "areas": [{"area_id": "...", "confidence": 0.0-1.0}],
    "sentiment": {"label": "positive" | "negative" | "neutral", "score": -1.0 to 1.0, "confidence": 0.0-1.0},
    "features": ["specific feature or topic mentioned"],
    "urgency": "low" | "medium" | "high",
    "categories": ["short category tag"]
}`

const maxAreaLinks = 3

// Options configures an enrichment run.
type Options struct {
	// Concurrency bounds in-flight completion calls (default 3).
	Concurrency int
	// Permissive keeps unknown area ids, using the id as the display name,
	// instead of dropping them.
	Permissive bool
	// MaxTokens is passed to the completion provider.
	MaxTokens int
}

// Result summarizes an enrichment run.
type Result struct {
	Processed int
	Enriched  int
	Failed    int
	Duration  time.Duration
}

// Enricher runs the enrichment stage.
type Enricher struct {
	provider llm.Provider
	bus      *events.Bus
	logger   *zap.Logger
	opts     Options
}

// New creates an Enricher.
func New(provider llm.Provider, bus *events.Bus, logger *zap.Logger, opts Options) *Enricher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = executor.DefaultConcurrency
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{provider: provider, bus: bus, logger: logger, opts: opts}
}

// EnrichAll enriches every item. A failed item is omitted from the output and
// recorded via an event; the batch continues. Output order follows input
// order.
func (e *Enricher) EnrichAll(ctx context.Context, items []feedback.Item, areas []feedback.Area) ([]feedback.Enriched, *Result, error) {
	if e.provider == nil {
		return nil, nil, fmt.Errorf("no completion provider available for enrichment")
	}

	e.bus.Emit(events.Event{
		Type:    events.EnrichmentStarted,
		Stage:   events.StageEnrichment,
		Payload: map[string]any{"item_count": len(items), "concurrency": e.opts.Concurrency},
	})

	areasByID := make(map[string]feedback.Area, len(areas))
	for _, a := range areas {
		areasByID[a.ID] = a
	}
	areaList := formatAreas(areas)

	transform := func(ctx context.Context, _ int, item feedback.Item) (feedback.Enriched, error) {
		e.bus.Emit(events.Event{
			Type:    events.EnrichmentItemStarted,
			Stage:   events.StageEnrichment,
			Payload: map[string]any{"item_id": item.ID},
		})
		return e.enrichItem(ctx, item, areasByID, areaList)
	}

	results, stats, _ := executor.Run(ctx, items, transform, executor.Options[feedback.Enriched]{
		Concurrency: e.opts.Concurrency,
		OnItem: func(done, total int, res executor.ItemResult[feedback.Enriched]) {
			if res.Err != nil {
				e.bus.Emit(events.Event{
					Type:  events.EnrichmentItemFailed,
					Stage: events.StageEnrichment,
					Payload: map[string]any{
						"item_id":   items[res.Index].ID,
						"error":     res.Err.Error(),
						"completed": done,
						"total":     total,
					},
				})
				return
			}
			e.bus.Emit(events.Event{
				Type:  events.EnrichmentItemComplete,
				Stage: events.StageEnrichment,
				Payload: map[string]any{
					"item_id":     res.Value.Item.ID,
					"sentiment":   res.Value.Sentiment.Label,
					"urgency":     res.Value.Urgency,
					"duration_ms": res.Duration.Milliseconds(),
					"completed":   done,
					"total":       total,
				},
			})
		},
	})

	enriched := make([]feedback.Enriched, 0, len(items))
	for _, res := range results {
		if res.Err == nil {
			enriched = append(enriched, res.Value)
		}
	}

	summary := &Result{
		Processed: stats.Total,
		Enriched:  stats.Succeeded,
		Failed:    stats.Failed,
		Duration:  stats.Duration,
	}

	e.bus.Emit(events.Event{
		Type:  events.EnrichmentComplete,
		Stage: events.StageEnrichment,
		Payload: map[string]any{
			"item_count":  stats.Total,
			"enriched":    stats.Succeeded,
			"failed":      stats.Failed,
			"duration_ms": stats.Duration.Milliseconds(),
		},
	})

	e.logger.Info("enrichment complete",
		zap.Int("enriched", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))

	return enriched, summary, nil
}

// enrichmentResponse is the shape requested from the completion service.
// Decoding fails open: missing or invalid fields fall back to defaults.
type enrichmentResponse struct {
	Areas []struct {
		AreaID     string  `json:"area_id"`
		Confidence float64 `json:"confidence"`
	} `json:"areas"`
	Sentiment struct {
		Label      string  `json:"label"`
		Score      float64 `json:"score"`
		Confidence float64 `json:"confidence"`
	} `json:"sentiment"`
	Features   []any  `json:"features"`
	Urgency    string `json:"urgency"`
	Categories []any  `json:"categories"`
}

func (e *Enricher) enrichItem(ctx context.Context, item feedback.Item, areasByID map[string]feedback.Area, areaList string) (feedback.Enriched, error) {
	text := item.Text
	if len(text) > 4000 {
		text = text[:4000] + "..."
	}
	prompt := fmt.Sprintf(itemPrompt, text, formatMetadata(item), areaList)

	raw, err := e.provider.Complete(ctx, systemPrompt, prompt, e.opts.MaxTokens)
	if err != nil {
		return feedback.Enriched{}, fmt.Errorf("completion call: %w", err)
	}

	var resp enrichmentResponse
	if err := llm.ExtractInto(raw, &resp); err != nil {
		return feedback.Enriched{}, fmt.Errorf("extracting enrichment response: %w", err)
	}

	return e.normalize(item, resp, areasByID), nil
}

// normalize validates the decoded response: invalid labels get defaults,
// numeric fields are clamped, unknown areas are dropped (or kept in
// permissive mode), and feature/category lists keep strings only.
func (e *Enricher) normalize(item feedback.Item, resp enrichmentResponse, areasByID map[string]feedback.Area) feedback.Enriched {
	sentiment := feedback.Sentiment{
		Label:      strings.ToLower(strings.TrimSpace(resp.Sentiment.Label)),
		Score:      feedback.ClampSigned(resp.Sentiment.Score),
		Confidence: feedback.ClampUnit(resp.Sentiment.Confidence),
	}
	if !feedback.ValidSentiment(sentiment.Label) {
		sentiment.Label = feedback.SentimentNeutral
	}

	urgency := strings.ToLower(strings.TrimSpace(resp.Urgency))
	if !feedback.ValidUrgency(urgency) {
		urgency = feedback.UrgencyMedium
	}

	var links []feedback.AreaLink
	seen := make(map[string]bool)
	for _, a := range resp.Areas {
		id := strings.TrimSpace(a.AreaID)
		if id == "" || seen[id] {
			continue
		}
		link := feedback.AreaLink{AreaID: id, Confidence: feedback.ClampUnit(a.Confidence)}
		if area, ok := areasByID[id]; ok {
			link.AreaName = area.Name
		} else if e.opts.Permissive {
			link.AreaName = id
		} else {
			continue
		}
		seen[id] = true
		links = append(links, link)
	}
	sort.SliceStable(links, func(i, j int) bool { return links[i].Confidence > links[j].Confidence })
	if len(links) > maxAreaLinks {
		links = links[:maxAreaLinks]
	}

	return feedback.Enriched{
		Item:       item,
		Areas:      links,
		Sentiment:  sentiment,
		Features:   stringsOnly(resp.Features),
		Urgency:    urgency,
		Categories: stringsOnly(resp.Categories),
	}
}

func stringsOnly(values []any) []string {
	var out []string
	for _, v := range values {
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func formatAreas(areas []feedback.Area) string {
	if len(areas) == 0 {
		return "None defined"
	}
	var lines []string
	for _, a := range areas {
		line := fmt.Sprintf("- %s (%s)", a.ID, a.Name)
		if a.Description != "" {
			desc := a.Description
			if len(desc) > 100 {
				desc = desc[:100]
			}
			line += ": " + desc
		}
		if len(a.Keywords) > 0 {
			line += " (keywords: " + strings.Join(a.Keywords, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatMetadata(item feedback.Item) string {
	var parts []string
	if item.Channel != "" {
		parts = append(parts, "channel: "+item.Channel)
	}
	if m := item.Metadata; m != nil {
		if m.PlanTier != "" {
			parts = append(parts, "plan: "+m.PlanTier)
		}
		if m.Segment != "" {
			parts = append(parts, "segment: "+m.Segment)
		}
		if m.TeamSize > 0 {
			parts = append(parts, fmt.Sprintf("team size: %d", m.TeamSize))
		}
		if m.UsageLevel != "" {
			parts = append(parts, "usage: "+m.UsageLevel)
		}
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, ", ")
}
