package supervisor

// #region imports
import "strings"

// #endregion

// #region weights

// Scored-matcher weights. A remedy matches a problem only when its
// cumulative score reaches matchThreshold, so a lone keyword hit is
// never enough on its own.
const (
	patternWeight  = 10
	categoryWeight = 5
	keywordWeight  = 2
	matchThreshold = 10
)

// #endregion

// #region match

// RemedyMatch pairs a remedy with the score it earned against a problem.
type RemedyMatch struct {
	Remedy RemedyRef
	Score  int
}

// MatchRemedy scores every remedy against the problem and returns the
// highest-scoring one at or above the threshold, or nil when none qualify.
func MatchRemedy(p Problem, remedies []RemedyRef) *RemedyMatch {
	var best *RemedyMatch
	for _, r := range remedies {
		score := scoreRemedy(p, r)
		if score < matchThreshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &RemedyMatch{Remedy: r, Score: score}
		}
	}
	return best
}

// #endregion

// #region scoring

// scoreRemedy computes the weighted score of one remedy against one problem:
// each trigger pattern found in the problem text scores patternWeight, a
// category match scores categoryWeight, and each keyword hit scores
// keywordWeight.
func scoreRemedy(p Problem, r RemedyRef) int {
	text := strings.ToLower(p.Text)
	score := 0

	for _, pat := range r.Patterns {
		if pat == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(pat)) {
			score += patternWeight
		}
	}

	if r.Category != "" && strings.EqualFold(r.Category, p.Category) {
		score += categoryWeight
	}

	for _, kw := range r.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			score += keywordWeight
		}
	}

	return score
}

// #endregion
