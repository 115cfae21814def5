package supervisor

// #region imports
import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// #endregion

// #region constants

// continueCommand is the generic proceed instruction sent when a session
// has outstanding work and autonomy allows continuing.
const continueCommand = "Continue working through the remaining tasks. Pick the next incomplete item and proceed."

// #endregion

// #region rule-policy

// RulePolicy is the deterministic decision path. It never fails, never
// calls external services, and always produces a decision with a valid
// action, which makes it a safe fallback for the advisory path.
type RulePolicy struct{}

// NewRulePolicy returns the zero-cost rule-based policy.
func NewRulePolicy() *RulePolicy {
	return &RulePolicy{}
}

// #endregion

// #region decide

// Decide maps (status, observation, config, history) to a Decision.
// Every branch fills in rationale text naming its trigger condition —
// the decision log must be auditable without replaying observations.
func (p *RulePolicy) Decide(status SessionStatus, obs Observation, cfg ProjectConfig, history []Decision, now time.Time) Decision {
	dec := p.decideStatus(status, obs, cfg, now)
	dec.ID = uuid.New().String()
	dec.Project = cfg.Name
	dec.Time = now
	dec.Method = MethodRuleBased
	return ApplyLoopGuard(dec, history, now)
}

func (p *RulePolicy) decideStatus(status SessionStatus, obs Observation, cfg ProjectConfig, now time.Time) Decision {
	switch status {
	case StatusInProgress:
		return Decision{
			Action:     ActionWait,
			Rationale:  "session is actively processing; interrupting mid-turn risks corrupting the agent's work",
			Confidence: 0.98,
		}

	case StatusError:
		return p.decideError(obs, cfg)

	case StatusHasWork:
		if cfg.AutoContinue {
			return Decision{
				Action:     ActionContinue,
				Command:    continueCommand,
				Rationale:  fmt.Sprintf("%d tasks remaining and auto-continue is enabled", obs.TodosLeft),
				Confidence: 0.86,
			}
		}
		return Decision{
			Action:     ActionNotify,
			Rationale:  fmt.Sprintf("%d tasks remaining but auto-continue is disabled; operator input required", obs.TodosLeft),
			Confidence: 0.91,
		}

	case StatusPhaseComplete:
		if cfg.AutoCommit {
			return Decision{
				Action:     ActionPhaseTransition,
				Rationale:  fmt.Sprintf("all %d tracked tasks complete and auto-commit is enabled", obs.TodosTotal),
				Confidence: 0.82,
			}
		}
		return Decision{
			Action:     ActionNotify,
			Rationale:  fmt.Sprintf("all %d tracked tasks complete; auto-commit disabled, phase transition needs approval", obs.TodosTotal),
			Confidence: 0.95,
		}

	case StatusWaitingForInput:
		return Decision{
			Action:     ActionNotify,
			Rationale:  "session accepts input but shows no tracked work or problems; state ambiguous, operator should look",
			Confidence: 0.70,
		}

	case StatusIdle:
		if cfg.StallThreshold > 0 && obs.IdleFor > cfg.StallThreshold {
			return Decision{
				Action:     ActionNotify,
				Rationale:  fmt.Sprintf("idle for %s, past the %s stall threshold", obs.IdleFor.Round(time.Second), cfg.StallThreshold),
				Confidence: 0.90,
			}
		}
		return Decision{
			Action:     ActionWait,
			Rationale:  fmt.Sprintf("idle for %s, still under the stall threshold", obs.IdleFor.Round(time.Second)),
			Confidence: 0.82,
		}

	default:
		return Decision{
			Action:     ActionWait,
			Rationale:  "session state could not be classified; waiting and flagging for investigation",
			Confidence: 0.45,
		}
	}
}

// #endregion

// #region decide-error

// decideError handles the error branch: approval patterns first, then the
// multi-high-severity check, then single-problem remedy matching.
func (p *RulePolicy) decideError(obs Observation, cfg ProjectConfig) Decision {
	if pat, hit := matchApprovalPattern(obs.Problems, cfg.ApprovalPatterns); hit {
		return Decision{
			Action:     ActionNotify,
			Rationale:  fmt.Sprintf("problem matches human-approval pattern %q; policy must not act on this alone", pat),
			Confidence: 0.95,
		}
	}

	if n := obs.HighSeverityCount(); n >= 2 {
		return Decision{
			Action:     ActionNotify,
			Rationale:  fmt.Sprintf("%d high-severity problems detected at once; automated remediation is off the table", n),
			Confidence: 0.92,
		}
	}

	if len(obs.Problems) == 1 {
		if m := MatchRemedy(obs.Problems[0], cfg.Remedies); m != nil {
			return Decision{
				Action:     ActionUseRemedy,
				Remedy:     m.Remedy.Name,
				Command:    m.Remedy.Command,
				Rationale:  fmt.Sprintf("remedy %q matched the problem with score %d", m.Remedy.Name, m.Score),
				Confidence: 0.82,
			}
		}
	}

	return Decision{
		Action:     ActionNotify,
		Rationale:  fmt.Sprintf("%d problem(s) detected with no qualifying remedy; operator attention required", len(obs.Problems)),
		Confidence: 0.88,
	}
}

// matchApprovalPattern reports the first configured pattern found in any
// problem text. Matching is case-insensitive substring, same as the
// remedy matcher's trigger patterns.
func matchApprovalPattern(problems []Problem, patterns []string) (string, bool) {
	for _, pat := range patterns {
		if pat == "" {
			continue
		}
		lp := strings.ToLower(pat)
		for _, pr := range problems {
			if strings.Contains(strings.ToLower(pr.Text), lp) {
				return pat, true
			}
		}
	}
	return "", false
}

// #endregion

// #region loop-guard

// ApplyLoopGuard replaces a continue decision with a notify when the
// trailing window already holds loopRepeatLimit continue decisions.
// Applied to rule-based and advisory decisions alike.
func ApplyLoopGuard(dec Decision, history []Decision, now time.Time) Decision {
	if dec.Action != ActionContinue {
		return dec
	}
	if !SuppressContinue(history, now) {
		return dec
	}
	dec.Action = ActionNotify
	dec.Command = ""
	dec.Rationale = "potential decision loop detected: continue chosen repeatedly within the guard window"
	dec.Confidence = 0.90
	return dec
}

// #endregion
