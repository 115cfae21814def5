package supervisor

// #region imports
import "time"

// #endregion

// #region constants

const (
	// loopWindow is the trailing window inspected for repeated actions.
	loopWindow = 5 * time.Minute

	// loopRepeatLimit is how many identical continue decisions inside the
	// window force a notify instead.
	loopRepeatLimit = 3
)

// #endregion

// #region count-recent

// CountRecent counts how many decisions in history chose action within the
// trailing window ending at now. History order is not assumed; entries are
// filtered by timestamp only.
func CountRecent(history []Decision, action Action, window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	n := 0
	for _, d := range history {
		if d.Action != action {
			continue
		}
		if d.Time.Before(cutoff) {
			continue
		}
		n++
	}
	return n
}

// #endregion

// #region suppress

// SuppressContinue reports whether a continue decision must be replaced with
// a notify because the same action already repeated loopRepeatLimit times
// inside the trailing window. Evaluated before any other policy branching.
func SuppressContinue(history []Decision, now time.Time) bool {
	return CountRecent(history, ActionContinue, loopWindow, now) >= loopRepeatLimit
}

// #endregion
