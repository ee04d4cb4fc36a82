package server

import (
	"fmt"
	"strings"

	"github.com/insightpipe/insightpipe/internal/database"
	"github.com/insightpipe/insightpipe/internal/feedback"
)

// RenderReport builds a shareable markdown report for a finished run.
func RenderReport(run *database.Run, insights []feedback.Insight) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Feedback insights: %s\n\n", run.ProductID)
	fmt.Fprintf(&b, "Run `%s` (%s)\n\n", run.ID, run.State)
	fmt.Fprintf(&b, "%d feedback items, %d clusters, %d insights",
		run.FeedbackCount, run.ClusterCount, run.InsightCount)
	if run.FallbackCount > 0 {
		fmt.Fprintf(&b, " (%d fallback)", run.FallbackCount)
	}
	b.WriteString("\n\n")

	for i, ins := range insights {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, ins.Title)
		if ins.Summary != "" {
			fmt.Fprintf(&b, "%s\n\n", ins.Summary)
		}
		fmt.Fprintf(&b, "- Severity: %s\n", ins.PainPoint.Severity)
		fmt.Fprintf(&b, "- Confidence: %.0f%%\n", ins.Confidence*100)
		fmt.Fprintf(&b, "- Users affected: %d\n", ins.Impact.UsersAffected)
		if ins.Fallback {
			b.WriteString("- Generated without model analysis\n")
		}
		b.WriteString("\n")

		if len(ins.Actions) > 0 {
			b.WriteString("**Recommended actions**\n\n")
			for _, a := range ins.Actions {
				fmt.Fprintf(&b, "- [%s] %s\n", a.Priority, a.Title)
			}
			b.WriteString("\n")
		}

		if len(ins.Evidence.Supporting) > 0 {
			b.WriteString("**Evidence**\n\n")
			for _, e := range ins.Evidence.Supporting {
				fmt.Fprintf(&b, "> %s\n\n", e.Quote)
			}
		}

		if ins.Narratives.Executive != "" {
			b.WriteString("**Executive summary**\n\n")
			fmt.Fprintf(&b, "%s\n\n", ins.Narratives.Executive)
		}
	}

	return b.String()
}
