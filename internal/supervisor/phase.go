package supervisor

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// #endregion

// #region errors

// ErrPhaseIncomplete reports a transition attempted before the phase's
// completion criteria held.
var ErrPhaseIncomplete = errors.New("phase completion criteria not met")

// ErrProjectComplete reports a transition attempted past the final phase.
var ErrProjectComplete = errors.New("project already complete")

// #endregion

// #region phase-manager

// PhaseManager drives a project through its ordered phase list. A
// transition commits the phase's work, pushes when configured, notifies,
// and resets the work counters for the next phase.
type PhaseManager struct {
	scm      SourceControl
	notifier Notifier
	logger   *zap.Logger
}

// NewPhaseManager wires a phase manager.
func NewPhaseManager(scm SourceControl, notifier Notifier, logger *zap.Logger) *PhaseManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PhaseManager{scm: scm, notifier: notifier, logger: logger}
}

// #endregion

// #region completion-check

// CompletionVeto names one unmet completion criterion.
type CompletionVeto struct {
	Reason string
}

// CheckComplete evaluates the current phase's completion criteria against
// the latest observation. Hard vetoes are collected, not short-circuited,
// so the caller can log every unmet criterion.
func (m *PhaseManager) CheckComplete(ps ProjectState, obs Observation, cfg ProjectConfig) (bool, []CompletionVeto) {
	var vetoes []CompletionVeto

	// Outstanding work blocks. A phase that never tracked work passes.
	if obs.TodosLeft > 0 {
		vetoes = append(vetoes, CompletionVeto{
			Reason: fmt.Sprintf("%d tasks still outstanding", obs.TodosLeft),
		})
	}

	for _, p := range obs.Problems {
		if p.Severity == SeverityHigh {
			vetoes = append(vetoes, CompletionVeto{
				Reason: fmt.Sprintf("unresolved high-severity problem: %s", p.Text),
			})
		}
	}

	if phase, ok := currentPhase(ps, cfg); ok && phase.RequireApproval && !ps.Approved {
		vetoes = append(vetoes, CompletionVeto{
			Reason: fmt.Sprintf("phase %q requires manual approval", phase.Name),
		})
	}

	return len(vetoes) == 0, vetoes
}

func currentPhase(ps ProjectState, cfg ProjectConfig) (PhaseConfig, bool) {
	if ps.PhaseIndex < 0 || ps.PhaseIndex >= len(cfg.Phases) {
		return PhaseConfig{}, false
	}
	return cfg.Phases[ps.PhaseIndex], true
}

// #endregion

// #region transition

// Transition closes the current phase: commit, optional push, completion
// notification, then counter reset and cursor advance. force bypasses the
// completion check and is logged distinctly. The final phase marks the
// project complete instead of advancing.
func (m *PhaseManager) Transition(ctx context.Context, ps *ProjectState, obs Observation, cfg ProjectConfig, force bool) error {
	if ps.Complete {
		return ErrProjectComplete
	}

	if force {
		m.logger.Warn("phase transition forced, completion check bypassed",
			zap.String("project", ps.Name), zap.String("phase", ps.PhaseName))
	} else {
		ok, vetoes := m.CheckComplete(*ps, obs, cfg)
		if !ok {
			return fmt.Errorf("%w: %s", ErrPhaseIncomplete, vetoes[0].Reason)
		}
	}

	msg := m.commitMessage(*ps, obs)
	if err := m.commitPhase(ctx, ps, cfg, msg); err != nil {
		return err
	}

	final := ps.PhaseIndex >= len(cfg.Phases)-1
	m.notifyCompletion(ctx, *ps, final)

	// New phase starts with fresh counters and a clean problem slate.
	ps.TodosTotal, ps.TodosDone, ps.TodosLeft = 0, 0, 0
	ps.Problems = nil
	ps.Approved = false
	ps.Stats.Transitions++
	ps.PhaseStartedAt = time.Now()

	if final {
		ps.Complete = true
		ps.Status = StatusPhaseComplete
		m.logger.Info("project complete", zap.String("project", ps.Name))
		return nil
	}

	ps.PhaseIndex++
	ps.PhaseName = cfg.Phases[ps.PhaseIndex].Name
	m.logger.Info("phase advanced",
		zap.String("project", ps.Name),
		zap.Int("phase_index", ps.PhaseIndex),
		zap.String("phase", ps.PhaseName))
	return nil
}

// commitPhase commits the working tree when it has changes and pushes when
// configured. A clean tree advances without a commit.
func (m *PhaseManager) commitPhase(ctx context.Context, ps *ProjectState, cfg ProjectConfig, msg string) error {
	clean, err := m.scm.IsClean(ctx, cfg.Path)
	if err != nil {
		return fmt.Errorf("phase transition status check: %w", err)
	}
	if clean {
		m.logger.Info("working tree clean, advancing without commit",
			zap.String("project", ps.Name))
		return nil
	}

	commitID, err := m.scm.Commit(ctx, cfg.Path, msg)
	if err != nil {
		return fmt.Errorf("phase transition commit: %w", err)
	}
	m.logger.Info("phase committed",
		zap.String("project", ps.Name), zap.String("commit", commitID))

	if cfg.AutoPush {
		if err := m.scm.Push(ctx, cfg.Path, cfg.Branch); err != nil {
			return fmt.Errorf("phase transition push: %w", err)
		}
	}
	return nil
}

// commitMessage summarizes the completed task count and phase duration.
func (m *PhaseManager) commitMessage(ps ProjectState, obs Observation) string {
	dur := time.Since(ps.PhaseStartedAt).Round(time.Minute)
	if ps.PhaseStartedAt.IsZero() {
		dur = 0
	}
	return fmt.Sprintf("Complete phase %q: %d tasks done in %s", ps.PhaseName, obs.TodosDone, dur)
}

func (m *PhaseManager) notifyCompletion(ctx context.Context, ps ProjectState, final bool) {
	title := fmt.Sprintf("%s: phase %q complete", ps.Name, ps.PhaseName)
	msg := "Phase committed, advancing to the next phase."
	if final {
		msg = "Final phase committed, project is complete."
	}
	if err := m.notifier.Notify(ctx, Notification{
		Title:    title,
		Message:  msg,
		Severity: SeverityLow,
		Project:  ps.Name,
	}); err != nil {
		m.logger.Warn("phase completion notification failed",
			zap.String("project", ps.Name), zap.Error(err))
	}
}

// #endregion
