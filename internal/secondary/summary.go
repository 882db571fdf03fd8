package secondary

import (
	"fmt"
	"math"
	"strings"

	"github.com/spine-review-engine/internal/domain"
)

// shiftThreshold is the absolute score change above which the summary reports a shift.
const shiftThreshold = 0.5

// SummaryInput is everything the summary text is rendered from.
type SummaryInput struct {
	Adjusted         domain.AdjustedScores
	Statistic        domain.ScoringStatistic
	Primary          domain.CaseAggregate
	ReratingCount    int
	ParticipantCount int
}

// GenerateSummary renders the editable outcome summary. Output depends only on the input.
func GenerateSummary(in SummaryInput) string {
	var b strings.Builder

	statistic := in.Statistic
	if !statistic.IsValid() {
		statistic = domain.StatisticMean
	}

	b.WriteString("Secondary Review Summary\n\n")

	fmt.Fprintf(&b, "Adjusted scores (%s of %d re-ratings from %d participants):\n",
		statistic, in.ReratingCount, in.ParticipantCount)
	fmt.Fprintf(&b, "- Appropriateness: %.2f (%s)\n",
		in.Adjusted.AppropriatenessMean, in.Adjusted.AppropriatenessClass.Label())
	if in.Adjusted.NecessityMean != nil && in.Adjusted.NecessityClass != nil {
		fmt.Fprintf(&b, "- Necessity: %.2f (%s)\n", *in.Adjusted.NecessityMean, in.Adjusted.NecessityClass.Label())
	} else {
		b.WriteString("- Necessity: not rated\n")
	}

	if len(in.Primary.TriggerReasons) > 0 {
		reasons := make([]string, len(in.Primary.TriggerReasons))
		for i, r := range in.Primary.TriggerReasons {
			reasons[i] = string(r)
		}
		fmt.Fprintf(&b, "\nEscalation reasons: %s\n", strings.Join(reasons, ", "))
	}

	if items := in.Primary.ControversialItems(); len(items) > 0 {
		b.WriteString("\nControversial items:\n")
		for _, item := range items {
			text := string(item.Question)
			if q, ok := domain.LookupQuestion(item.Question); ok {
				text = q.Text()
			}
			fmt.Fprintf(&b, "- %s (%s, %d of %d in agreement)\n", text, item.Tier, item.AgreeCount, item.Responses)
		}
	}

	b.WriteString("\nComparison with primary review:\n")
	writeComparison(&b, "Appropriateness", in.Primary.AppropriatenessMean, in.Primary.AppropriatenessClass,
		&in.Adjusted.AppropriatenessMean, in.Adjusted.AppropriatenessClass)
	var adjustedNecessityClass domain.LikertClass
	if in.Adjusted.NecessityClass != nil {
		adjustedNecessityClass = *in.Adjusted.NecessityClass
	}
	writeComparison(&b, "Necessity", in.Primary.NecessityMean, in.Primary.NecessityClass,
		in.Adjusted.NecessityMean, adjustedNecessityClass)

	switch in.Adjusted.AppropriatenessClass {
	case domain.ClassUncertain:
		b.WriteString("\nRecommended next steps:\n")
		b.WriteString("- Discuss the unresolved items with the submitting surgeon before scheduling surgery.\n")
		b.WriteString("- Consider further conservative care or additional diagnostic workup.\n")
		b.WriteString("- Resubmit the case if new clinical information becomes available.\n")
	case domain.ClassInappropriate:
		b.WriteString("\nRecommended next steps:\n")
		b.WriteString("- The proposed procedure is not supported by the review panel.\n")
		b.WriteString("- Consider alternative treatment options with the patient.\n")
		b.WriteString("- Resubmit the case if new clinical information becomes available.\n")
	}

	return b.String()
}

func writeComparison(b *strings.Builder, label string, primary *float64, primaryClass domain.LikertClass, adjusted *float64, adjustedClass domain.LikertClass) {
	switch {
	case primary == nil && adjusted == nil:
		fmt.Fprintf(b, "- %s: not rated\n", label)
	case primary == nil:
		fmt.Fprintf(b, "- %s: not rated in primary review, adjusted %.2f (%s)\n", label, *adjusted, adjustedClass.Label())
	case adjusted == nil:
		fmt.Fprintf(b, "- %s: primary %.2f (%s), not rated in re-rating\n", label, *primary, primaryClass.Label())
	default:
		fmt.Fprintf(b, "- %s: primary %.2f (%s) -> adjusted %.2f (%s)", label,
			*primary, primaryClass.Label(), *adjusted, adjustedClass.Label())
		if shift := *adjusted - *primary; math.Abs(shift) > shiftThreshold {
			fmt.Fprintf(b, ", shift %+.2f", shift)
		}
		b.WriteString("\n")
	}
}
