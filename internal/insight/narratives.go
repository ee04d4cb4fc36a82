package insight

import (
	"fmt"
	"strings"

	"github.com/insightpipe/insightpipe/internal/feedback"
)

// narratives renders the four fixed-audience views of an insight from its
// structured core. No extra completion call is made.
func narratives(ins feedback.Insight, cl feedback.Cluster) feedback.Narratives {
	return feedback.Narratives{
		Executive:       executiveNarrative(ins),
		Product:         productNarrative(ins),
		Engineering:     engineeringNarrative(ins, cl),
		CustomerSuccess: customerSuccessNarrative(ins, cl),
	}
}

func executiveNarrative(ins feedback.Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s. %s", ins.Title, ins.Summary)
	if r := ins.Impact.Business.Revenue; r != "" {
		fmt.Fprintf(&b, " Revenue: %s.", r)
	}
	if c := ins.Impact.Business.Churn; c != "" {
		fmt.Fprintf(&b, " Churn: %s.", c)
	}
	if len(ins.Actions) > 0 {
		fmt.Fprintf(&b, " Recommended next step: %s.", ins.Actions[0].Title)
	}
	return b.String()
}

func productNarrative(ins feedback.Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pain point (%s severity): %s", ins.PainPoint.Severity, ins.PainPoint.Description)
	if ins.PainPoint.JourneyStage != "" {
		fmt.Fprintf(&b, " It surfaces at the %s stage.", ins.PainPoint.JourneyStage)
	}
	fmt.Fprintf(&b, " Mentioned by %d users.", ins.PainPoint.Frequency)
	for i, a := range ins.Actions {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, " Action: %s (%s priority, %s effort).", a.Title, valueOr(a.Priority, "medium"), valueOr(a.Effort, "unknown"))
	}
	return b.String()
}

func engineeringNarrative(ins feedback.Insight, cl feedback.Cluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s affecting %s.", ins.PainPoint.Description, areasOr(cl.Areas))
	if len(cl.Keywords) > 0 {
		fmt.Fprintf(&b, " Recurring terms: %s.", strings.Join(cl.Keywords, ", "))
	}
	for _, a := range ins.Actions {
		if a.Category == "engineering" {
			fmt.Fprintf(&b, " Engineering action: %s (%s effort).", a.Title, valueOr(a.Effort, "unsized"))
		}
	}
	return b.String()
}

func customerSuccessNarrative(ins feedback.Insight, cl feedback.Cluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d customers are affected", ins.Impact.UsersAffected)
	if len(ins.Impact.Segments) > 0 {
		fmt.Fprintf(&b, ", concentrated in the %s segment(s)", strings.Join(ins.Impact.Segments, ", "))
	}
	fmt.Fprintf(&b, ". Overall sentiment is %s.", cl.DominantSentiment)
	if s := ins.Impact.Business.Satisfaction; s != "" {
		fmt.Fprintf(&b, " Satisfaction: %s.", s)
	}
	fmt.Fprintf(&b, " Talking point: %s", ins.Summary)
	return b.String()
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func areasOr(areas []string) string {
	if len(areas) == 0 {
		return "the product"
	}
	return strings.Join(areas, ", ")
}
