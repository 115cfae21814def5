package supervisor

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// #endregion

// #region constants

const (
	// defaultCycleInterval is the polling interval between cycles.
	defaultCycleInterval = 120 * time.Second

	// quarantineThreshold is how many consecutive per-project failures set
	// the quarantine flag.
	quarantineThreshold = 5

	// historyWindow is how far back decision history is loaded each cycle.
	// Must cover the loop-guard window with margin.
	historyWindow = 15 * time.Minute
)

// #endregion

// #region store-interface

// SessionBinding records one live project-to-session binding for the
// recovery snapshot.
type SessionBinding struct {
	Project    string
	SessionID  string
	LastActive time.Time
}

// StateStore is the durable persistence consumed by the orchestrator.
type StateStore interface {
	LoadProject(name string) (ProjectState, bool, error)
	SaveProject(ps ProjectState) error
	AppendDecision(dec Decision) error
	RecentDecisions(project string, since time.Time) ([]Decision, error)
	SaveSnapshot(bindings []SessionBinding) error
	LoadSnapshot() ([]SessionBinding, error)
}

// #endregion

// #region orchestrator

// Orchestrator iterates the registered project set on a fixed interval.
// Each project runs an independent pipeline per cycle; one project's
// failure never aborts its siblings, and repeated failures quarantine the
// project until an operator clears it.
type Orchestrator struct {
	projects   []ProjectConfig
	store      StateStore
	sensor     Sensor
	lister     SessionLister
	policy     *AdvisoryPolicy
	phases     *PhaseManager
	dispatcher *Dispatcher
	notifier   Notifier
	interval   time.Duration
	maxRuntime time.Duration
	logger     *zap.Logger

	// clock is swappable for tests.
	clock func() time.Time
}

// OrchestratorDeps bundles the collaborators for NewOrchestrator.
type OrchestratorDeps struct {
	Store      StateStore
	Sensor     Sensor
	Lister     SessionLister
	Policy     *AdvisoryPolicy
	Phases     *PhaseManager
	Dispatcher *Dispatcher
	Notifier   Notifier
	Logger     *zap.Logger
}

// NewOrchestrator wires the control loop over the registered projects.
func NewOrchestrator(projects []ProjectConfig, interval, maxRuntime time.Duration, deps OrchestratorDeps) *Orchestrator {
	if interval <= 0 {
		interval = defaultCycleInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		projects:   projects,
		store:      deps.Store,
		sensor:     deps.Sensor,
		lister:     deps.Lister,
		policy:     deps.Policy,
		phases:     deps.Phases,
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		interval:   interval,
		maxRuntime: maxRuntime,
		logger:     logger,
		clock:      time.Now,
	}
}

// #endregion

// #region run

// Run drives the cycle loop until the context is cancelled or the maximum
// runtime elapses. The in-flight cycle drains before the loop exits, and a
// recovery snapshot is persisted on the way out.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.recoverBindings(ctx)

	if o.maxRuntime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.maxRuntime)
		defer cancel()
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.logger.Info("supervision loop started",
		zap.Int("projects", len(o.projects)),
		zap.Duration("interval", o.interval))

	o.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("supervision loop stopping")
			if err := o.persistSnapshot(); err != nil {
				o.logger.Error("recovery snapshot failed", zap.Error(err))
			}
			return nil
		case <-ticker.C:
			o.RunCycle(ctx)
		}
	}
}

// RunOnce executes a single cycle with the same recovery bracketing as
// Run: bindings are reattached first, the snapshot is persisted after.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	o.recoverBindings(ctx)
	o.RunCycle(ctx)
	return o.persistSnapshot()
}

// #endregion

// #region cycle

// RunCycle processes every non-quarantined project once, one worker per
// project, joined before the cycle ends. The budget ledger is the only
// cross-project shared state and serializes internally.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, cfg := range o.projects {
		ps, found, err := o.store.LoadProject(cfg.Name)
		if err != nil {
			o.logger.Error("load project state failed",
				zap.String("project", cfg.Name), zap.Error(err))
			continue
		}
		if !found {
			ps = o.initialState(cfg)
		}
		if ps.Quarantined {
			continue
		}
		if ps.Complete {
			continue
		}

		wg.Add(1)
		go func(cfg ProjectConfig, ps ProjectState) {
			defer wg.Done()
			o.runProjectIsolated(ctx, cfg, ps)
		}(cfg, ps)
	}
	wg.Wait()
}

// runProjectIsolated is the error-isolation boundary: an error or panic in
// one project's pipeline is absorbed here, counted, and converted into
// quarantine once the threshold is reached.
func (o *Orchestrator) runProjectIsolated(ctx context.Context, cfg ProjectConfig, ps ProjectState) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in project pipeline: %v", r)
			}
		}()
		return o.runProject(ctx, cfg, &ps)
	}()

	if err == nil {
		ps.ConsecutiveErrors = 0
	} else {
		o.logger.Error("project cycle failed",
			zap.String("project", cfg.Name), zap.Error(err))
		ps.ConsecutiveErrors++
		if ps.ConsecutiveErrors >= quarantineThreshold && !ps.Quarantined {
			ps.Quarantined = true
			o.notifyQuarantine(ctx, cfg, ps)
		}
	}

	ps.UpdatedAt = o.clock()
	if err := o.store.SaveProject(ps); err != nil {
		o.logger.Error("persist project state failed",
			zap.String("project", cfg.Name), zap.Error(err))
	}
}

// #endregion

// #region project-pipeline

// runProject runs one project's pipeline: resolve session, capture, classify,
// decide, dispatch, record.
func (o *Orchestrator) runProject(ctx context.Context, cfg ProjectConfig, ps *ProjectState) error {
	now := o.clock()
	ps.Stats.Cycles++

	session, ok, err := o.resolveSession(ctx, cfg)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if !ok {
		// A vanished binding notifies but never counts toward quarantine.
		if ps.SessionID != "" {
			o.logger.Warn("session lost",
				zap.String("project", cfg.Name), zap.String("session", ps.SessionID))
			o.notifySessionLost(ctx, cfg, ps.SessionID)
			ps.SessionID = ""
			ps.Status = StatusSessionLost
		}
		return nil
	}
	ps.SessionID = session.ID

	obs, err := o.sensor.Capture(ctx, session)
	if err != nil {
		return fmt.Errorf("capture observation: %w", err)
	}

	status := Classify(obs)
	history, err := o.store.RecentDecisions(cfg.Name, now.Add(-historyWindow))
	if err != nil {
		return fmt.Errorf("load decision history: %w", err)
	}

	dec := o.policy.Decide(ctx, status, obs, cfg, history, now)

	if dec.Action == ActionPhaseTransition {
		if err := o.phases.Transition(ctx, ps, obs, cfg, false); err != nil {
			if !errors.Is(err, ErrPhaseIncomplete) {
				return fmt.Errorf("phase transition: %w", err)
			}
			// An unmet criterion such as pending approval gates the
			// transition; it is not a pipeline failure and must not
			// count toward quarantine.
			dec = degradeToNotify(dec, err)
			if derr := o.dispatcher.Dispatch(ctx, dec, session); derr != nil {
				return fmt.Errorf("dispatch: %w", derr)
			}
		}
	} else {
		if err := o.dispatcher.Dispatch(ctx, dec, session); err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
	}

	o.applyDecision(ps, status, obs, dec)
	if err := o.store.AppendDecision(dec); err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// degradeToNotify rewrites a vetoed transition decision into a
// notification naming the unmet criterion, keeping the identity fields
// for the decision log.
func degradeToNotify(dec Decision, cause error) Decision {
	dec.Action = ActionNotify
	dec.Command = ""
	dec.Rationale = cause.Error()
	dec.Confidence = 0.95
	return dec
}

// applyDecision folds the cycle's outcome into the durable project state.
func (o *Orchestrator) applyDecision(ps *ProjectState, status SessionStatus, obs Observation, dec Decision) {
	// A transition already reset the counters for the next phase; folding
	// the pre-transition observation back in would resurrect them.
	if dec.Action != ActionPhaseTransition {
		ps.Status = status
		ps.TodosTotal = obs.TodosTotal
		ps.TodosDone = obs.TodosDone
		ps.TodosLeft = obs.TodosLeft
		ps.Problems = obs.Problems
	} else if !ps.Complete {
		// The advanced phase has no observation of its own yet.
		ps.Status = StatusUnknown
	}

	switch dec.Action {
	case ActionContinue:
		ps.Stats.Continues++
	case ActionNotify:
		ps.Stats.Notifies++
	case ActionUseRemedy:
		ps.Stats.Remedies++
	}
	// Transitions are counted by the phase manager itself.
	if dec.Method == MethodAdvisory {
		ps.Stats.AdvisoryCalls++
		if dec.Usage != nil {
			ps.Stats.SpendUSD += dec.Usage.CostUSD
		}
	}
}

// #endregion

// #region sessions

func (o *Orchestrator) resolveSession(ctx context.Context, cfg ProjectConfig) (Session, bool, error) {
	sessions, err := o.lister.ListSessions(ctx)
	if err != nil {
		return Session{}, false, fmt.Errorf("list sessions: %w", err)
	}
	s, ok := ResolveSession(cfg, sessions)
	return s, ok, nil
}

// recoverBindings replays the last recovery snapshot against the live
// session set, reattaching bindings that survived the restart.
func (o *Orchestrator) recoverBindings(ctx context.Context) {
	bindings, err := o.store.LoadSnapshot()
	if err != nil {
		o.logger.Warn("recovery snapshot unreadable, starting cold", zap.Error(err))
		return
	}
	if len(bindings) == 0 {
		return
	}
	sessions, err := o.lister.ListSessions(ctx)
	if err != nil {
		o.logger.Warn("session listing failed during recovery", zap.Error(err))
		return
	}
	live := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		live[s.ID] = true
	}
	for _, b := range bindings {
		ps, found, err := o.store.LoadProject(b.Project)
		if err != nil || !found {
			continue
		}
		if live[b.SessionID] {
			ps.SessionID = b.SessionID
			if err := o.store.SaveProject(ps); err != nil {
				o.logger.Warn("reattach persist failed",
					zap.String("project", b.Project), zap.Error(err))
				continue
			}
			o.logger.Info("session reattached",
				zap.String("project", b.Project), zap.String("session", b.SessionID))
		} else {
			o.logger.Info("stale binding dropped",
				zap.String("project", b.Project), zap.String("session", b.SessionID))
		}
	}
}

// persistSnapshot writes the live bindings so a restart can reattach.
func (o *Orchestrator) persistSnapshot() error {
	var bindings []SessionBinding
	for _, cfg := range o.projects {
		ps, found, err := o.store.LoadProject(cfg.Name)
		if err != nil || !found || ps.SessionID == "" {
			continue
		}
		bindings = append(bindings, SessionBinding{
			Project:    cfg.Name,
			SessionID:  ps.SessionID,
			LastActive: ps.UpdatedAt,
		})
	}
	return o.store.SaveSnapshot(bindings)
}

// #endregion

// #region notifications

func (o *Orchestrator) notifySessionLost(ctx context.Context, cfg ProjectConfig, sessionID string) {
	o.notifyDirect(ctx, Notification{
		Title:    fmt.Sprintf("%s: session lost", cfg.Name),
		Message:  fmt.Sprintf("previously bound session %q is gone; supervision paused until it reappears", sessionID),
		Severity: SeverityMedium,
		Project:  cfg.Name,
	})
}

func (o *Orchestrator) notifyQuarantine(ctx context.Context, cfg ProjectConfig, ps ProjectState) {
	o.logger.Error("project quarantined",
		zap.String("project", cfg.Name),
		zap.Int("consecutive_errors", ps.ConsecutiveErrors))
	o.notifyDirect(ctx, Notification{
		Title:    fmt.Sprintf("%s quarantined", cfg.Name),
		Message:  fmt.Sprintf("%d consecutive failures; project excluded from supervision until cleared", ps.ConsecutiveErrors),
		Severity: SeverityHigh,
		Project:  cfg.Name,
	})
}

// notifyDirect bypasses the dispatcher's rate limit: quarantine and
// session-loss events always reach the operator.
func (o *Orchestrator) notifyDirect(ctx context.Context, n Notification) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, n); err != nil {
		o.logger.Warn("notification failed", zap.String("title", n.Title), zap.Error(err))
	}
}

// #endregion

// #region initial-state

// initialState registers a project on first sight.
func (o *Orchestrator) initialState(cfg ProjectConfig) ProjectState {
	ps := ProjectState{
		Name:           cfg.Name,
		Status:         StatusUnknown,
		PhaseStartedAt: o.clock(),
	}
	if len(cfg.Phases) > 0 {
		ps.PhaseName = cfg.Phases[0].Name
	}
	return ps
}

// #endregion
