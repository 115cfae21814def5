// Package tmux adapts tmux panes into supervisor sensors and
// actuators. All interaction goes through the tmux CLI; no libtmux
// style long-lived control connection is kept.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/overseer/internal/supervisor"
)

// runner executes a tmux invocation and returns stdout. Swappable in
// tests.
type runner func(ctx context.Context, args ...string) (string, error)

func execTmux(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "tmux", args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return string(out), nil
}

// Adapter is a tmux-backed Sensor, Actuator and SessionLister.
type Adapter struct {
	run          runner
	captureLines int
	logger       *zap.Logger
	now          func() time.Time
}

// NewAdapter builds a tmux adapter capturing captureLines of pane
// history per observation. Zero means a 200-line default.
func NewAdapter(captureLines int, logger *zap.Logger) *Adapter {
	if captureLines <= 0 {
		captureLines = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{run: execTmux, captureLines: captureLines, logger: logger, now: time.Now}
}

// ListSessions enumerates live tmux sessions.
func (a *Adapter) ListSessions(ctx context.Context) ([]supervisor.Session, error) {
	out, err := a.run(ctx, "list-sessions", "-F", "#{session_name}\t#{session_activity}")
	if err != nil {
		// No server running means no sessions, not a failure.
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}

	var sessions []supervisor.Session
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		name, activity, _ := strings.Cut(line, "\t")
		s := supervisor.Session{ID: name, Target: name + ":0.0"}
		if secs, err := strconv.ParseInt(activity, 10, 64); err == nil {
			s.LastActive = time.Unix(secs, 0)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Capture reads the pane and parses it into an observation.
func (a *Adapter) Capture(ctx context.Context, s supervisor.Session) (supervisor.Observation, error) {
	text, err := a.capturePane(ctx, s)
	if err != nil {
		return supervisor.Observation{}, err
	}
	obs := ParsePane(text)
	obs.InputTarget = s.Target
	if !s.LastActive.IsZero() {
		obs.IdleFor = a.now().Sub(s.LastActive)
	}
	return obs, nil
}

// Transcript returns the last n lines of the pane.
func (a *Adapter) Transcript(ctx context.Context, s supervisor.Session, lines int) (string, error) {
	text, err := a.capturePane(ctx, s)
	if err != nil {
		return "", err
	}
	all := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if lines > 0 && len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n"), nil
}

// Send types text into the pane followed by Enter.
func (a *Adapter) Send(ctx context.Context, s supervisor.Session, text string) error {
	if _, err := a.run(ctx, "send-keys", "-t", s.Target, "-l", text); err != nil {
		return err
	}
	if _, err := a.run(ctx, "send-keys", "-t", s.Target, "Enter"); err != nil {
		return err
	}
	return nil
}

func (a *Adapter) capturePane(ctx context.Context, s supervisor.Session) (string, error) {
	start := fmt.Sprintf("-%d", a.captureLines)
	return a.run(ctx, "capture-pane", "-t", s.Target, "-p", "-S", start)
}

// #region parsing

var processingMarkers = []string{
	"esc to interrupt",
	"ctrl+c to interrupt",
	"running…",
	"thinking…",
	"working…",
}

var promptMarkers = []string{"> ", "❯ ", "$ "}

var errorMarkers = map[string]supervisor.Severity{
	"panic:":       supervisor.SeverityHigh,
	"fatal:":       supervisor.SeverityHigh,
	"error:":       supervisor.SeverityHigh,
	"✗":            supervisor.SeverityMedium,
	"fail:":        supervisor.SeverityMedium,
	"warning:":     supervisor.SeverityLow,
	"deprecated":   supervisor.SeverityLow,
	"rate limit":   supervisor.SeverityMedium,
	"connection r": supervisor.SeverityMedium,
}

// ParsePane turns raw pane text into an observation. Parsing is
// line-oriented: checkbox lines become work items, known markers
// become problems, and the tail decides processing/input readiness.
func ParsePane(text string) supervisor.Observation {
	var obs supervisor.Observation
	lines := strings.Split(text, "\n")

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if item, ok := parseCheckbox(trimmed); ok {
			obs.Items = append(obs.Items, item)
			obs.TodosTotal++
			if item.Completed {
				obs.TodosDone++
			}
			continue
		}
		if p, ok := parseProblem(trimmed); ok {
			obs.Problems = append(obs.Problems, p)
		}
	}
	obs.TodosLeft = obs.TodosTotal - obs.TodosDone

	tail := lastNonEmpty(lines, 5)
	lower := strings.ToLower(strings.Join(tail, "\n"))
	for _, m := range processingMarkers {
		if strings.Contains(lower, m) {
			obs.Processing = true
			break
		}
	}
	if !obs.Processing && len(tail) > 0 {
		last := tail[len(tail)-1]
		for _, m := range promptMarkers {
			if strings.HasSuffix(last, strings.TrimRight(m, " ")) || strings.HasPrefix(strings.TrimSpace(last), strings.TrimRight(m, " ")) {
				obs.InputReady = true
				break
			}
		}
	}
	return obs
}

func parseCheckbox(line string) (supervisor.WorkItem, bool) {
	for _, prefix := range []string{"- [ ]", "* [ ]", "☐"} {
		if strings.HasPrefix(line, prefix) {
			return supervisor.WorkItem{Text: strings.TrimSpace(line[len(prefix):])}, true
		}
	}
	for _, prefix := range []string{"- [x]", "- [X]", "* [x]", "☒", "☑"} {
		if strings.HasPrefix(line, prefix) {
			return supervisor.WorkItem{Text: strings.TrimSpace(line[len(prefix):]), Completed: true}, true
		}
	}
	return supervisor.WorkItem{}, false
}

func parseProblem(line string) (supervisor.Problem, bool) {
	lower := strings.ToLower(line)
	for marker, sev := range errorMarkers {
		if strings.Contains(lower, marker) {
			return supervisor.Problem{
				Text:     line,
				Severity: sev,
				Category: categorize(lower),
			}, true
		}
	}
	return supervisor.Problem{}, false
}

func categorize(lower string) string {
	switch {
	case strings.Contains(lower, "test"):
		return "test"
	case strings.Contains(lower, "compil") || strings.Contains(lower, "build"):
		return "build"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "connection"):
		return "network"
	case strings.Contains(lower, "permission") || strings.Contains(lower, "denied"):
		return "permissions"
	default:
		return "general"
	}
}

func lastNonEmpty(lines []string, n int) []string {
	var out []string
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			out = append([]string{lines[i]}, out...)
		}
	}
	return out
}

// #endregion
