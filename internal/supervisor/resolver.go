package supervisor

// #region imports
import (
	"context"
	"strings"
)

// #endregion

// #region session-lister

// SessionLister enumerates live sessions the sensor can observe.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]Session, error)
}

// #endregion

// #region constants

// minMatchConfidence is the floor under which a session-to-project match
// is treated as no match at all.
const minMatchConfidence = 0.5

// #endregion

// #region resolve

// ResolveSession picks the live session bound to a project by name
// similarity. Matches below minMatchConfidence, and ties between multiple
// candidates, resolve to no match: the orchestrator would rather report a
// lost session than supervise the wrong one.
func ResolveSession(cfg ProjectConfig, sessions []Session) (Session, bool) {
	want := cfg.SessionHint
	if want == "" {
		want = cfg.Name
	}

	var best Session
	bestScore, secondScore := 0.0, 0.0
	for _, s := range sessions {
		score := nameSimilarity(want, s.ID)
		switch {
		case score > bestScore:
			secondScore = bestScore
			bestScore = score
			best = s
		case score > secondScore:
			secondScore = score
		}
	}

	if bestScore < minMatchConfidence {
		return Session{}, false
	}
	if bestScore == secondScore {
		return Session{}, false
	}
	return best, true
}

// #endregion

// #region similarity

// nameSimilarity scores two session names in [0,1]: exact match, then
// containment weighted by length ratio, then token overlap.
func nameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		return float64(len(shorter)) / float64(len(longer))
	}

	at := tokenSet(a)
	bt := tokenSet(b)
	shared := 0
	for t := range at {
		if bt[t] {
			shared++
		}
	}
	denom := len(at)
	if len(bt) > denom {
		denom = len(bt)
	}
	if denom == 0 {
		return 0
	}
	return float64(shared) / float64(denom)
}

func tokenSet(s string) map[string]bool {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == '/' || r == ' '
	})
	set := make(map[string]bool, len(parts))
	for _, p := range parts {
		if p != "" {
			set[p] = true
		}
	}
	return set
}

// #endregion
