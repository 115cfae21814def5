package supervisor

// #region imports
import "time"

// #endregion

// #region constants

// idleThreshold is how long a session must sit without activity before
// it classifies as idle rather than waiting.
const idleThreshold = 10 * time.Minute

// #endregion

// #region classify

// Classify maps an Observation to exactly one SessionStatus. Total,
// deterministic, side-effect-free: first matching rule wins, and an
// observation matching nothing classifies as unknown.
func Classify(obs Observation) SessionStatus {
	total, remaining := clampCounters(obs)

	// Processing always takes precedence: never race an agent mid-turn.
	if obs.Processing {
		return StatusInProgress
	}

	// Errors pre-empt progress decisions.
	if len(obs.Problems) > 0 {
		return StatusError
	}

	if remaining > 0 && obs.InputReady {
		return StatusHasWork
	}

	// Completion requires total > 0: a session with no tracked work is
	// never reported as complete.
	if remaining == 0 && total > 0 && obs.InputReady {
		return StatusPhaseComplete
	}

	if obs.IdleFor > idleThreshold {
		return StatusIdle
	}

	if obs.InputReady {
		return StatusWaitingForInput
	}

	return StatusUnknown
}

// #endregion

// #region counters

// clampCounters repairs counter invariant violations instead of failing.
// remaining is recomputed as total - completed and clamped at zero.
func clampCounters(obs Observation) (total, remaining int) {
	total = obs.TodosTotal
	if total < 0 {
		total = 0
	}
	completed := obs.TodosDone
	if completed < 0 {
		completed = 0
	}
	remaining = total - completed
	if remaining < 0 {
		remaining = 0
	}
	return total, remaining
}

// #endregion
