package cluster

import (
	"math"
	"sort"

	"github.com/insightpipe/insightpipe/internal/feedback"
)

// analysis is the lightweight pre-pass over the enriched batch used to pick
// a target cluster count and to seed the batch prompt.
type analysis struct {
	areaCounts      map[string]int // area name -> items linking it
	sentimentCounts map[string]int
	urgencyCounts   map[string]int
	segmentCounts   map[string]int
	dominantAreas   int     // distinct top-confidence areas across items
	diversity       float64 // in [0, 1]
}

func analyze(items []feedback.Enriched) *analysis {
	a := &analysis{
		areaCounts:      make(map[string]int),
		sentimentCounts: make(map[string]int),
		urgencyCounts:   make(map[string]int),
		segmentCounts:   make(map[string]int),
	}

	dominant := make(map[string]bool)
	categories := make(map[string]bool)
	uniqueAreas := make(map[string]bool)

	for _, item := range items {
		a.sentimentCounts[item.Sentiment.Label]++
		a.urgencyCounts[item.Urgency]++
		if m := item.Item.Metadata; m != nil && m.Segment != "" {
			a.segmentCounts[m.Segment]++
		}
		for _, link := range item.Areas {
			a.areaCounts[link.AreaName]++
			uniqueAreas[link.AreaID] = true
		}
		if len(item.Areas) > 0 {
			dominant[item.Areas[0].AreaID] = true
		}
		for _, c := range item.Categories {
			categories[c] = true
		}
	}

	a.dominantAreas = len(dominant)

	// Diversity combines unique-area, sentiment, and category counts, each
	// normalized so a fully homogeneous batch scores near 0 and a batch where
	// every item brings something new scores near 1.
	n := float64(len(items))
	if n > 0 {
		areaDiv := math.Min(1, float64(len(uniqueAreas))/n)
		sentDiv := float64(len(a.sentimentCounts)) / 3
		catDiv := math.Min(1, float64(len(categories))/n)
		a.diversity = (areaDiv + sentDiv + catDiv) / 3
	}

	return a
}

// targetCount derives the requested cluster count from batch size and
// diversity. Baseline is clamp(floor(sqrt(n)), 2, maxClusters); high
// diversity widens it by 2, low diversity narrows it by 1 (floor 2), and the
// count is raised to the number of distinct dominant areas when that exceeds
// the baseline.
func targetCount(n int, a *analysis, maxClusters int) int {
	if maxClusters < 2 {
		maxClusters = 2
	}

	count := int(math.Floor(math.Sqrt(float64(n))))
	if count < 2 {
		count = 2
	}
	if count > maxClusters {
		count = maxClusters
	}

	switch {
	case a.diversity > 0.8:
		count += 2
	case a.diversity < 0.3:
		if count > 2 {
			count--
		}
	}

	if a.dominantAreas > count {
		count = a.dominantAreas
	}

	if count > maxClusters {
		count = maxClusters
	}
	if count > n {
		count = n
	}
	return count
}

// topKeywords returns the top n keywords among member categories and
// features, ranked by combined count. Ties break alphabetically so the
// result is deterministic.
func topKeywords(members []feedback.Enriched, n int) []string {
	counts := make(map[string]int)
	for _, m := range members {
		for _, c := range m.Categories {
			counts[c]++
		}
		for _, f := range m.Features {
			counts[f]++
		}
	}

	keywords := make([]string, 0, len(counts))
	for k := range counts {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > n {
		keywords = keywords[:n]
	}
	return keywords
}

// dominantSentiment picks the most frequent label; ties break by the fixed
// priority positive > negative > neutral.
func dominantSentiment(counts map[string]int) string {
	priority := []string{feedback.SentimentPositive, feedback.SentimentNegative, feedback.SentimentNeutral}
	best := feedback.SentimentNeutral
	bestCount := -1
	for _, label := range priority {
		if counts[label] > bestCount {
			best = label
			bestCount = counts[label]
		}
	}
	return best
}
