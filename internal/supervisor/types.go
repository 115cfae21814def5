package supervisor

// #region imports
import (
	"context"
	"time"
)

// #endregion

// #region session-status

// SessionStatus is the classified lifecycle state of one supervised session.
type SessionStatus string

const (
	StatusInProgress      SessionStatus = "in_progress"
	StatusError           SessionStatus = "error"
	StatusHasWork         SessionStatus = "has_work"
	StatusPhaseComplete   SessionStatus = "phase_complete"
	StatusIdle            SessionStatus = "idle"
	StatusWaitingForInput SessionStatus = "waiting_for_input"
	StatusUnknown         SessionStatus = "unknown"

	// StatusSessionLost is assigned by the orchestrator when a previously
	// bound session vanishes. Never produced by Classify.
	StatusSessionLost SessionStatus = "session_lost"
)

// #endregion

// #region action

// Action is what the policy decided to do this cycle.
type Action string

const (
	ActionContinue        Action = "continue"
	ActionWait            Action = "wait"
	ActionNotify          Action = "notify"
	ActionUseRemedy       Action = "use-remedy"
	ActionPhaseTransition Action = "phase-transition"
)

// ValidAction reports whether s is one of the five defined actions.
func ValidAction(s string) bool {
	switch Action(s) {
	case ActionContinue, ActionWait, ActionNotify, ActionUseRemedy, ActionPhaseTransition:
		return true
	}
	return false
}

// #endregion

// #region severity

// Severity ranks a detected problem.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// #endregion

// #region policy-method

// PolicyMethod tags which decision path produced a Decision.
type PolicyMethod string

const (
	MethodRuleBased PolicyMethod = "rule-based"
	MethodAdvisory  PolicyMethod = "advisory"
)

// #endregion

// #region observation

// WorkItem is one tracked outstanding task inside a session.
type WorkItem struct {
	Text      string
	Completed bool
}

// Problem is one detected issue with a severity and category tag.
type Problem struct {
	Text     string
	Severity Severity
	Category string
}

// Observation is the normalized per-cycle snapshot of one session.
// Produced fresh every cycle by the sensor; never persisted.
type Observation struct {
	Processing  bool
	TodosTotal  int
	TodosDone   int
	TodosLeft   int
	Items       []WorkItem
	Problems    []Problem
	InputReady  bool
	InputTarget string
	IdleFor     time.Duration
}

// HighSeverityCount returns the number of high-severity problems.
func (o Observation) HighSeverityCount() int {
	n := 0
	for _, p := range o.Problems {
		if p.Severity == SeverityHigh {
			n++
		}
	}
	return n
}

// #endregion

// #region decision

// AdvisoryUsage carries token usage and cost metadata for advisory decisions.
type AdvisoryUsage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Decision is one policy output. Append-only: never mutated once logged.
type Decision struct {
	ID         string
	Project    string
	Time       time.Time
	Action     Action
	Command    string
	Remedy     string
	Rationale  string
	Confidence float64
	Method     PolicyMethod
	Usage      *AdvisoryUsage // nil for rule-based decisions
}

// #endregion

// #region project-config

// RemedyRef names an external procedure able to resolve a class of problem.
type RemedyRef struct {
	Name     string
	Command  string
	Patterns []string
	Category string
	Keywords []string
}

// PhaseConfig is one ordered unit of project work with completion criteria.
type PhaseConfig struct {
	Name            string
	RequireApproval bool
}

// ProjectConfig is the read-only per-project configuration surface.
type ProjectConfig struct {
	Name             string
	Path             string
	Branch           string
	SessionHint      string
	AutoContinue     bool
	AutoCommit       bool
	AutoPush         bool
	ApprovalPatterns []string
	StallThreshold   time.Duration
	Remedies         []RemedyRef
	Phases           []PhaseConfig
}

// #endregion

// #region project-state

// SessionStats accumulates per-project supervision statistics.
type SessionStats struct {
	Cycles        int
	Continues     int
	Notifies      int
	Remedies      int
	Transitions   int
	AdvisoryCalls int
	SpendUSD      float64
}

// ProjectState is the durable per-project record, mutated once per cycle
// by the orchestrator and persisted through the state store.
type ProjectState struct {
	Name              string
	Status            SessionStatus
	PhaseIndex        int
	PhaseName         string
	PhaseStartedAt    time.Time
	TodosTotal        int
	TodosDone         int
	TodosLeft         int
	Problems          []Problem
	SessionID         string
	ConsecutiveErrors int
	Quarantined       bool
	Complete          bool
	Approved          bool
	Stats             SessionStats
	UpdatedAt         time.Time
}

// #endregion

// #region session

// Session is a live binding to one external agent conversation.
type Session struct {
	ID         string
	Target     string // opaque input-target handle (e.g. a tmux pane)
	LastActive time.Time
}

// #endregion

// #region collaborators

// Sensor captures the observable state of a session.
type Sensor interface {
	Capture(ctx context.Context, s Session) (Observation, error)
	Transcript(ctx context.Context, s Session, lines int) (string, error)
}

// Actuator delivers input to a session.
type Actuator interface {
	Send(ctx context.Context, s Session, text string) error
}

// Notification is one operator-facing message.
type Notification struct {
	Title    string
	Message  string
	Severity Severity
	Project  string
}

// Notifier delivers notifications. Fire-and-forget; the dispatcher
// rate-limits, not the implementation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SourceControl is the version-control collaborator consumed by the
// phase manager.
type SourceControl interface {
	Commit(ctx context.Context, path, message string) (string, error)
	Push(ctx context.Context, path, branch string) error
	IsClean(ctx context.Context, path string) (bool, error)
}

// AdvisoryReply is the raw answer from the external reasoning service.
type AdvisoryReply struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// AdvisoryClient calls the external reasoning service.
type AdvisoryClient interface {
	Complete(ctx context.Context, prompt string) (AdvisoryReply, error)
}

// Ledger tracks advisory spend. Implementations must make the
// read-check-then-increment sequence safe under concurrent callers.
type Ledger interface {
	SpendSince(from time.Time) (float64, error)
	AddSpend(project string, amount float64, at time.Time) error
}

// #endregion
