// Package cluster groups enriched feedback into thematic clusters via a
// single batch completion call. Clustering is all-or-nothing: a grouping over
// a partial item set is not well-defined, so extraction or validation failure
// on the batch call is fatal to the stage.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightpipe/insightpipe/internal/events"
	"github.com/insightpipe/insightpipe/internal/feedback"
	"github.com/insightpipe/insightpipe/internal/llm"
)

const systemPrompt = `You are a product-feedback analyst. You group feedback items into thematic clusters and respond with strict JSON only.`

const batchPrompt = `Group these feedback items into %d thematic clusters. Every item id must appear in exactly one cluster. Do not invent ids.

Batch profile:
%s

Feedback items:
%s

Respond with ONLY this JSON:
{
    "clusters": [
        {
            "theme": "Short thematic label",
            "description": "One or two sentences describing the shared theme",
            "member_ids": ["id", "id"],
            "confidence": 0.0-1.0
        }
    ]
}`

const defaultMaxClusters = 8

// Options configures a clustering run.
type Options struct {
	MaxClusters    int     // default 8
	MinClusterSize int     // clusters smaller than this are merged away; default 1
	MinConfidence  float64 // clusters below this are merged away; default 0
	MinThemeLength int     // default 3
	MaxTokens      int     // default 2048
}

// Clusterer runs the clustering stage.
type Clusterer struct {
	provider llm.Provider
	bus      *events.Bus
	logger   *zap.Logger
	opts     Options
}

// New creates a Clusterer.
func New(provider llm.Provider, bus *events.Bus, logger *zap.Logger, opts Options) *Clusterer {
	if opts.MaxClusters <= 0 {
		opts.MaxClusters = defaultMaxClusters
	}
	if opts.MinClusterSize <= 0 {
		opts.MinClusterSize = 1
	}
	if opts.MinThemeLength <= 0 {
		opts.MinThemeLength = 3
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clusterer{provider: provider, bus: bus, logger: logger, opts: opts}
}

// ClusterAll clusters the enriched batch. Every input id ends up in exactly
// one returned cluster: ids the model skipped are repaired onto the best
// matching cluster, and clusters removed by the quality filter donate their
// members the same way. Returned clusters are sorted by size descending.
func (c *Clusterer) ClusterAll(ctx context.Context, items []feedback.Enriched) ([]feedback.Cluster, error) {
	started := time.Now()
	c.bus.Emit(events.Event{
		Type:    events.ClusteringStarted,
		Stage:   events.StageClustering,
		Payload: map[string]any{"item_count": len(items)},
	})

	clusters, err := c.clusterBatch(ctx, items)
	if err != nil {
		return nil, err
	}

	for _, cl := range clusters {
		c.bus.Emit(events.Event{
			Type:  events.ClusterCreated,
			Stage: events.StageClustering,
			Payload: map[string]any{
				"cluster_id": cl.ID,
				"theme":      cl.Theme,
				"size":       cl.Size,
				"sentiment":  cl.DominantSentiment,
			},
		})
	}

	c.bus.Emit(events.Event{
		Type:  events.ClusteringComplete,
		Stage: events.StageClustering,
		Payload: map[string]any{
			"cluster_count": len(clusters),
			"item_count":    len(items),
			"duration_ms":   time.Since(started).Milliseconds(),
		},
	})

	c.logger.Info("clustering complete",
		zap.Int("clusters", len(clusters)),
		zap.Int("items", len(items)),
		zap.Duration("duration", time.Since(started)))

	return clusters, nil
}

func (c *Clusterer) clusterBatch(ctx context.Context, items []feedback.Enriched) ([]feedback.Cluster, error) {
	switch len(items) {
	case 0:
		return nil, nil
	case 1:
		return []feedback.Cluster{c.trivialCluster(items[0])}, nil
	}

	if c.provider == nil {
		return nil, fmt.Errorf("no completion provider available for clustering")
	}

	pre := analyze(items)
	target := targetCount(len(items), pre, c.opts.MaxClusters)

	prompt := fmt.Sprintf(batchPrompt, target, formatProfile(pre), formatItems(items))
	raw, err := c.provider.Complete(ctx, systemPrompt, prompt, c.opts.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("clustering completion call: %w", err)
	}

	resp, err := decodeBatchResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("clustering response: %w", err)
	}

	groups := c.assignMembers(resp, items)
	clusters := c.buildClusters(groups, items)
	clusters = c.applyQualityFilter(clusters, items)

	sort.SliceStable(clusters, func(i, j int) bool { return clusters[i].Size > clusters[j].Size })
	return clusters, nil
}

// group is a proto-cluster before stats are computed.
type group struct {
	theme       string
	description string
	confidence  float64
	memberIDs   []string
}

// assignMembers turns the validated response into member-id groups: themes
// are deduplicated by merging, ids outside the batch are dropped, an id
// claimed by several clusters stays with the first, and unassigned ids are
// repaired onto the best-matching group.
func (c *Clusterer) assignMembers(resp *batchResponse, items []feedback.Enriched) []*group {
	byID := make(map[string]feedback.Enriched, len(items))
	for _, it := range items {
		byID[it.Item.ID] = it
	}

	var groups []*group
	byTheme := make(map[string]*group)
	assigned := make(map[string]bool)

	for _, rc := range resp.Clusters {
		theme := strings.TrimSpace(rc.Theme)
		g, ok := byTheme[theme]
		if !ok {
			g = &group{
				theme:       theme,
				description: strings.TrimSpace(rc.Description),
				confidence:  feedback.ClampUnit(rc.Confidence),
			}
			byTheme[theme] = g
			groups = append(groups, g)
		} else if g.confidence < rc.Confidence {
			g.confidence = feedback.ClampUnit(rc.Confidence)
		}

		for _, id := range rc.MemberIDs {
			if _, known := byID[id]; !known || assigned[id] {
				continue
			}
			assigned[id] = true
			g.memberIDs = append(g.memberIDs, id)
		}
	}

	// Drop groups the model returned empty (all ids unknown or stolen).
	kept := groups[:0]
	for _, g := range groups {
		if len(g.memberIDs) > 0 {
			kept = append(kept, g)
		}
	}
	groups = kept

	if len(groups) == 0 {
		groups = append(groups, &group{theme: "General Feedback", confidence: 0.3})
	}

	for _, it := range items {
		if !assigned[it.Item.ID] {
			best := bestGroupFor(it, groups, byID)
			best.memberIDs = append(best.memberIDs, it.Item.ID)
		}
	}

	return groups
}

// bestGroupFor picks the group whose members share the most taxonomy areas
// with the item; on a tie (or no overlap anywhere) the largest group wins.
func bestGroupFor(item feedback.Enriched, groups []*group, byID map[string]feedback.Enriched) *group {
	itemAreas := make(map[string]bool)
	for _, link := range item.Areas {
		itemAreas[link.AreaID] = true
	}

	best := groups[0]
	bestOverlap := -1
	for _, g := range groups {
		overlap := 0
		for _, id := range g.memberIDs {
			for _, link := range byID[id].Areas {
				if itemAreas[link.AreaID] {
					overlap++
				}
			}
		}
		if overlap > bestOverlap || (overlap == bestOverlap && len(g.memberIDs) > len(best.memberIDs)) {
			best = g
			bestOverlap = overlap
		}
	}
	return best
}

// buildClusters computes per-cluster statistics over the member items.
func (c *Clusterer) buildClusters(groups []*group, items []feedback.Enriched) []feedback.Cluster {
	byID := make(map[string]feedback.Enriched, len(items))
	for _, it := range items {
		byID[it.Item.ID] = it
	}

	clusters := make([]feedback.Cluster, 0, len(groups))
	for _, g := range groups {
		members := make([]feedback.Enriched, 0, len(g.memberIDs))
		for _, id := range g.memberIDs {
			members = append(members, byID[id])
		}

		sentiments := make(map[string]int)
		urgencies := make(map[string]int)
		areaSet := make(map[string]bool)
		segmentSet := make(map[string]bool)
		for _, m := range members {
			sentiments[m.Sentiment.Label]++
			urgencies[m.Urgency]++
			for _, link := range m.Areas {
				areaSet[link.AreaName] = true
			}
			if md := m.Item.Metadata; md != nil && md.Segment != "" {
				segmentSet[md.Segment] = true
			}
		}

		clusters = append(clusters, feedback.Cluster{
			ID:                uuid.NewString(),
			Theme:             g.theme,
			Description:       g.description,
			MemberIDs:         append([]string(nil), g.memberIDs...),
			Size:              len(g.memberIDs),
			DominantSentiment: dominantSentiment(sentiments),
			Sentiments:        sentiments,
			Urgencies:         urgencies,
			Areas:             sortedKeys(areaSet),
			Segments:          sortedKeys(segmentSet),
			Keywords:          topKeywords(members, 10),
			Confidence:        g.confidence,
		})
	}
	return clusters
}

// applyQualityFilter removes clusters with degenerate themes, too few
// members, or too little confidence. Removed clusters donate their members to
// the surviving clusters so the batch partition stays intact; if nothing
// survives, the largest cluster is kept as-is.
func (c *Clusterer) applyQualityFilter(clusters []feedback.Cluster, items []feedback.Enriched) []feedback.Cluster {
	if len(clusters) <= 1 {
		return clusters
	}

	var surviving, dropped []feedback.Cluster
	for _, cl := range clusters {
		if len(cl.Theme) < c.opts.MinThemeLength ||
			cl.Size < c.opts.MinClusterSize ||
			cl.Confidence < c.opts.MinConfidence {
			dropped = append(dropped, cl)
		} else {
			surviving = append(surviving, cl)
		}
	}

	if len(dropped) == 0 {
		return clusters
	}
	if len(surviving) == 0 {
		largest := clusters[0]
		for _, cl := range clusters[1:] {
			if cl.Size > largest.Size {
				largest = cl
			}
		}
		return []feedback.Cluster{largest}
	}

	byID := make(map[string]feedback.Enriched, len(items))
	for _, it := range items {
		byID[it.Item.ID] = it
	}
	groups := make([]*group, len(surviving))
	for i, cl := range surviving {
		groups[i] = &group{
			theme:       cl.Theme,
			description: cl.Description,
			confidence:  cl.Confidence,
			memberIDs:   cl.MemberIDs,
		}
	}
	for _, cl := range dropped {
		for _, id := range cl.MemberIDs {
			best := bestGroupFor(byID[id], groups, byID)
			best.memberIDs = append(best.memberIDs, id)
		}
		c.logger.Debug("cluster removed by quality filter",
			zap.String("theme", cl.Theme),
			zap.Int("size", cl.Size),
			zap.Float64("confidence", cl.Confidence))
	}

	return c.buildClusters(groups, items)
}

func (c *Clusterer) trivialCluster(item feedback.Enriched) feedback.Cluster {
	theme := "General Feedback"
	if len(item.Areas) > 0 {
		theme = item.Areas[0].AreaName
	}
	return c.buildClusters([]*group{{
		theme:      theme,
		confidence: 1,
		memberIDs:  []string{item.Item.ID},
	}}, []feedback.Enriched{item})[0]
}

func formatProfile(a *analysis) string {
	return fmt.Sprintf("areas: %s\nsentiments: %s\nurgencies: %s\ndiversity: %.2f",
		formatCounts(a.areaCounts), formatCounts(a.sentimentCounts), formatCounts(a.urgencyCounts), a.diversity)
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s (%d)", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

func formatItems(items []feedback.Enriched) string {
	var parts []string
	for _, it := range items {
		text := it.Item.Text
		if len(text) > 300 {
			text = text[:300] + "..."
		}
		areas := make([]string, 0, len(it.Areas))
		for _, link := range it.Areas {
			areas = append(areas, link.AreaName)
		}
		parts = append(parts, fmt.Sprintf("[%s] (%s, %s urgency, areas: %s)\n%s",
			it.Item.ID, it.Sentiment.Label, it.Urgency, strings.Join(areas, ", "), text))
	}
	return strings.Join(parts, "\n\n")
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
