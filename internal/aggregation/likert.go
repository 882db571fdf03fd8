package aggregation

import (
	"sort"

	"github.com/spine-review-engine/internal/domain"
)

// Likert class boundaries on the 1-9 scale.
const (
	appropriateFloor = 7.0
	uncertainFloor   = 4.0
)

// ClassifyLikert maps a mean score onto its Likert class. The same function classifies
// appropriateness and necessity, for primary and adjusted scores alike.
func ClassifyLikert(mean float64) domain.LikertClass {
	switch {
	case mean >= appropriateFloor:
		return domain.ClassAppropriate
	case mean >= uncertainFloor:
		return domain.ClassUncertain
	default:
		return domain.ClassInappropriate
	}
}

// InRange reports whether a score is on the Likert scale.
func InRange(score int) bool {
	return score >= domain.MinScore && score <= domain.MaxScore
}

// Mean returns the arithmetic mean of the scores. ok is false for an empty slice.
func Mean(scores []int) (mean float64, ok bool) {
	if len(scores) == 0 {
		return 0, false
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores)), true
}

// Median returns the middle score, averaging the two middle scores for an even count.
func Median(scores []int) (median float64, ok bool) {
	if len(scores) == 0 {
		return 0, false
	}
	sorted := make([]int, len(scores))
	copy(sorted, scores)
	sort.Ints(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid]), true
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2, true
}

// Central applies the configured scoring statistic.
func Central(scores []int, statistic domain.ScoringStatistic) (float64, bool) {
	if statistic == domain.StatisticMedian {
		return Median(scores)
	}
	return Mean(scores)
}
