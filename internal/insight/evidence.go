package insight

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/insightpipe/insightpipe/internal/feedback"
)

const maxSupportingItems = 5

// buildEvidence assembles the traceable chain from a cluster back to its
// member feedback: a cluster summary, the top supporting excerpts with
// relevance scores, and a derivation narrative.
func buildEvidence(cl feedback.Cluster, members []feedback.Enriched) feedback.EvidenceChain {
	scored := make([]feedback.Excerpt, 0, len(members))
	for _, m := range members {
		scored = append(scored, feedback.Excerpt{
			ItemID:    m.Item.ID,
			Relevance: relevance(m),
			Quote:     quote(m.Item.Text),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Relevance > scored[j].Relevance })
	if len(scored) > maxSupportingItems {
		scored = scored[:maxSupportingItems]
	}

	return feedback.EvidenceChain{
		ClusterSummary: clusterSummary(cl),
		Supporting:     scored,
		Derivation: fmt.Sprintf("Derived from %d feedback items clustered under %q; %s sentiment dominates.",
			cl.Size, cl.Theme, cl.DominantSentiment),
	}
}

// relevance weights an item by how confidently it was classified and how
// urgent it is, so the strongest signals surface first in the chain.
func relevance(m feedback.Enriched) float64 {
	score := 0.4 + 0.4*m.Sentiment.Confidence
	switch m.Urgency {
	case feedback.UrgencyHigh:
		score += 0.2
	case feedback.UrgencyMedium:
		score += 0.1
	}
	return feedback.ClampUnit(score)
}

// quote extracts a short excerpt: the first sentence when it fits in 120
// bytes, otherwise the first 100 bytes cut back to a rune boundary.
func quote(text string) string {
	text = strings.TrimSpace(text)
	sentence := firstSentence(text)
	if len(sentence) > 0 && len(sentence) <= 120 {
		return sentence
	}
	if len(text) > 100 {
		cut := 100
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut]
	}
	return text
}

func firstSentence(text string) string {
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return strings.TrimSpace(text[:i+1])
		}
	}
	return text
}

func clusterSummary(cl feedback.Cluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d items about %q", cl.Size, cl.Theme)
	if len(cl.Areas) > 0 {
		fmt.Fprintf(&b, " touching %s", strings.Join(cl.Areas, ", "))
	}
	fmt.Fprintf(&b, "; dominant sentiment %s", cl.DominantSentiment)
	if high := cl.Urgencies[feedback.UrgencyHigh]; high > 0 {
		fmt.Fprintf(&b, ", %d marked high urgency", high)
	}
	b.WriteString(".")
	return b.String()
}
