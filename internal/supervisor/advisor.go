package supervisor

// #region imports
import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// #endregion

// #region config

// AdvisoryConfig controls the paid decision path.
type AdvisoryConfig struct {
	Enabled            bool
	Model              string
	DailyCeilingUSD    float64
	WeeklyCeilingUSD   float64
	InputPricePerMTok  float64
	OutputPricePerMTok float64
	RequestTimeout     time.Duration
}

// #endregion

// #region advisory-policy

// AdvisoryPolicy escalates decisions to an external reasoning service when
// budget headroom allows. Every failure mode inside Decide — gating,
// transport, parsing — resolves to the rule-based policy so the caller
// always gets a valid decision and never an error.
type AdvisoryPolicy struct {
	cfg    AdvisoryConfig
	client AdvisoryClient // nil when no credential is configured
	ledger Ledger
	rule   *RulePolicy
	logger *zap.Logger

	// mu makes the headroom check and the reservation one atomic step,
	// so concurrent per-project callers cannot admit calls against the
	// same remaining budget.
	mu sync.Mutex
}

// NewAdvisoryPolicy wires the advisory path. client may be nil; the policy
// then behaves exactly like the rule-based fallback.
func NewAdvisoryPolicy(cfg AdvisoryConfig, client AdvisoryClient, ledger Ledger, rule *RulePolicy, logger *zap.Logger) *AdvisoryPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &AdvisoryPolicy{cfg: cfg, client: client, ledger: ledger, rule: rule, logger: logger}
}

// #endregion

// #region decide

// Decide runs the advisory path when it is enabled, credentialed, and under
// budget; otherwise it delegates to the rule-based policy. Budget exhaustion
// is a normal gating condition, not an error.
func (a *AdvisoryPolicy) Decide(ctx context.Context, status SessionStatus, obs Observation, cfg ProjectConfig, history []Decision, now time.Time) Decision {
	if !a.cfg.Enabled || a.client == nil {
		return a.rule.Decide(status, obs, cfg, history, now)
	}

	prompt := buildAdvisoryPrompt(status, obs, cfg, history)
	estimate := a.estimateCost(prompt)
	if !a.reserve(cfg.Name, estimate, now) {
		return a.rule.Decide(status, obs, cfg, history, now)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	reply, err := a.client.Complete(callCtx, prompt)
	if err != nil {
		a.release(cfg.Name, estimate, now)
		a.logger.Warn("advisory call failed, falling back to rule policy",
			zap.String("project", cfg.Name), zap.Error(err))
		return a.rule.Decide(status, obs, cfg, history, now)
	}

	dec, err := a.parseReply(reply.Text)
	if err != nil {
		// The tokens were spent even though the reply was unusable.
		a.reconcile(cfg.Name, estimate, reply, now)
		a.logger.Warn("advisory response unparseable, falling back to rule policy",
			zap.String("project", cfg.Name), zap.Error(err))
		return a.rule.Decide(status, obs, cfg, history, now)
	}

	cost := a.reconcile(cfg.Name, estimate, reply, now)
	dec.ID = uuid.New().String()
	dec.Project = cfg.Name
	dec.Time = now
	dec.Method = MethodAdvisory
	dec.Usage = &AdvisoryUsage{
		InputTokens:  reply.InputTokens,
		OutputTokens: reply.OutputTokens,
		CostUSD:      cost,
	}
	return ApplyLoopGuard(dec, history, now)
}

// #endregion

// #region budget-gate

// estimateCost prices the worst case for one call: the full prompt in,
// maxAdvisoryTokens out, at roughly four bytes per token.
func (a *AdvisoryPolicy) estimateCost(prompt string) float64 {
	inTok := float64(len(prompt)) / 4
	return inTok*a.cfg.InputPricePerMTok/1e6 +
		float64(maxAdvisoryTokens)*a.cfg.OutputPricePerMTok/1e6
}

// reserve checks headroom and books the worst-case estimate as one
// atomic step. A reservation that cannot be booked admits no call.
func (a *AdvisoryPolicy) reserve(project string, estimate float64, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasHeadroom(project, now) {
		return false
	}
	if err := a.ledger.AddSpend(project, estimate, now); err != nil {
		a.logger.Warn("budget reservation failed", zap.Error(err))
		return false
	}
	return true
}

// hasHeadroom checks both ceilings. A ledger read error counts as no
// headroom: better a free decision than an unaccounted paid one.
// Callers hold mu.
func (a *AdvisoryPolicy) hasHeadroom(project string, now time.Time) bool {
	if a.ledger == nil {
		return false
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	daySpend, err := a.ledger.SpendSince(dayStart)
	if err != nil {
		a.logger.Warn("budget ledger read failed", zap.Error(err))
		return false
	}
	if a.cfg.DailyCeilingUSD > 0 && daySpend >= a.cfg.DailyCeilingUSD {
		a.logger.Debug("daily advisory budget exhausted",
			zap.String("project", project), zap.Float64("spend", daySpend))
		return false
	}
	weekSpend, err := a.ledger.SpendSince(now.AddDate(0, 0, -7))
	if err != nil {
		a.logger.Warn("budget ledger read failed", zap.Error(err))
		return false
	}
	if a.cfg.WeeklyCeilingUSD > 0 && weekSpend >= a.cfg.WeeklyCeilingUSD {
		a.logger.Debug("weekly advisory budget exhausted",
			zap.String("project", project), zap.Float64("spend", weekSpend))
		return false
	}
	return true
}

// reconcile replaces the reservation with the call's actual cost (tokens
// times per-model price, rounded to 6 decimals) and returns that cost.
func (a *AdvisoryPolicy) reconcile(project string, estimate float64, reply AdvisoryReply, now time.Time) float64 {
	cost := float64(reply.InputTokens)*a.cfg.InputPricePerMTok/1e6 +
		float64(reply.OutputTokens)*a.cfg.OutputPricePerMTok/1e6
	cost = math.Round(cost*1e6) / 1e6
	a.adjust(project, cost-estimate, now)
	return cost
}

// release returns a reservation whose call never consumed tokens.
func (a *AdvisoryPolicy) release(project string, estimate float64, now time.Time) {
	a.adjust(project, -estimate, now)
}

func (a *AdvisoryPolicy) adjust(project string, delta float64, now time.Time) {
	if a.ledger == nil || delta == 0 {
		return
	}
	if err := a.ledger.AddSpend(project, delta, now); err != nil {
		a.logger.Error("failed to record advisory spend", zap.Error(err))
	}
}

// #endregion

// #region response-parsing

// advisoryResponse is the strict reply schema. Anything else is a parse
// failure and routes to the rule-based fallback.
type advisoryResponse struct {
	Action          string  `json:"action"`
	Command         string  `json:"command"`
	RemedyReference string  `json:"remedy_reference"`
	Rationale       string  `json:"rationale"`
	Confidence      float64 `json:"confidence"`
}

// parseReply extracts the JSON object from the reply text and validates it.
// A reply that unmarshals but carries a missing or unknown action yields a
// wait decision at 0.50 confidence rather than an error.
func (a *AdvisoryPolicy) parseReply(text string) (Decision, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return Decision{}, fmt.Errorf("no JSON object in advisory reply")
	}
	var resp advisoryResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return Decision{}, fmt.Errorf("unmarshal advisory reply: %w", err)
	}

	if !ValidAction(resp.Action) {
		return Decision{
			Action:     ActionWait,
			Rationale:  fmt.Sprintf("advisory returned invalid action %q; defaulting to wait", resp.Action),
			Confidence: 0.50,
		}, nil
	}

	conf := resp.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return Decision{
		Action:     Action(resp.Action),
		Command:    resp.Command,
		Remedy:     resp.RemedyReference,
		Rationale:  resp.Rationale,
		Confidence: conf,
	}, nil
}

// extractJSONObject returns the outermost {...} span in text, tolerating
// prose or fencing around the object.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// #endregion

// #region prompt

// buildAdvisoryPrompt summarizes the cycle inputs into a structured prompt
// that pins the reply to the advisoryResponse schema.
func buildAdvisoryPrompt(status SessionStatus, obs Observation, cfg ProjectConfig, history []Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You supervise an autonomous coding session for project %q.\n", cfg.Name)
	fmt.Fprintf(&b, "Current status: %s\n", status)
	fmt.Fprintf(&b, "Tasks: %d total, %d completed, %d remaining\n", obs.TodosTotal, obs.TodosDone, obs.TodosLeft)

	if len(obs.Items) > 0 {
		b.WriteString("Work items:\n")
		for _, it := range obs.Items {
			mark := " "
			if it.Completed {
				mark = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", mark, it.Text)
		}
	}
	if len(obs.Problems) > 0 {
		b.WriteString("Detected problems:\n")
		for _, p := range obs.Problems {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", p.Severity, p.Category, p.Text)
		}
	}
	if len(cfg.Remedies) > 0 {
		b.WriteString("Available remedies:\n")
		for _, r := range cfg.Remedies {
			fmt.Fprintf(&b, "- %s (category %s)\n", r.Name, r.Category)
		}
	}
	if len(history) > 0 {
		b.WriteString("Recent decisions, newest last:\n")
		tail := history
		if len(tail) > 5 {
			tail = tail[len(tail)-5:]
		}
		for _, d := range tail {
			fmt.Fprintf(&b, "- %s %s (%s)\n", d.Time.Format(time.RFC3339), d.Action, d.Method)
		}
	}

	b.WriteString("\nChoose the next supervisory action. Reply with exactly one JSON object:\n")
	b.WriteString(`{"action": "continue|wait|notify|use-remedy|phase-transition", "command": "", "remedy_reference": "", "rationale": "", "confidence": 0.0}`)
	b.WriteString("\nNo text outside the JSON object.")
	return b.String()
}

// #endregion
