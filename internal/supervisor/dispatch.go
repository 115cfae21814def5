package supervisor

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// #endregion

// #region constants

const (
	// maxSendAttempts bounds the send+verify loop.
	maxSendAttempts = 3

	// sendBackoffBase seeds the exponential backoff between attempts.
	sendBackoffBase = 2 * time.Second

	// defaultVerifyDelay is how long the dispatcher lets the session settle
	// before sampling verification signals.
	defaultVerifyDelay = 2 * time.Second

	// verifyQuorum is how many of the four verification signals must agree.
	verifyQuorum = 2
)

// ErrSendUnverified reports that a send went through the actuator but the
// post-conditions never confirmed it.
var ErrSendUnverified = errors.New("send not verified by session state")

// #endregion

// #region dispatcher

// Dispatcher turns a Decision into collaborator calls. Sends are retried
// with exponential backoff and verified against the session's observable
// state; notifications are rate-limited and dropped, never retried.
type Dispatcher struct {
	sensor      Sensor
	actuator    Actuator
	notifier    Notifier
	limiter     *rate.Limiter
	verifyDelay time.Duration
	backoffBase time.Duration
	logger      *zap.Logger
}

// NewDispatcher wires a dispatcher. maxNotifyPerHour bounds notification
// delivery; zero disables the limit.
func NewDispatcher(sensor Sensor, actuator Actuator, notifier Notifier, maxNotifyPerHour int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if maxNotifyPerHour > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(maxNotifyPerHour)), maxNotifyPerHour)
	}
	return &Dispatcher{
		sensor:      sensor,
		actuator:    actuator,
		notifier:    notifier,
		limiter:     limiter,
		verifyDelay: defaultVerifyDelay,
		backoffBase: sendBackoffBase,
		logger:      logger,
	}
}

// #endregion

// #region dispatch

// Dispatch executes a decision against the session. A final send failure
// surfaces as an error; wait logs only; notify drops silently past the
// rate limit.
func (d *Dispatcher) Dispatch(ctx context.Context, dec Decision, session Session) error {
	switch dec.Action {
	case ActionContinue, ActionUseRemedy:
		return d.send(ctx, dec, session)
	case ActionNotify:
		d.notify(ctx, dec)
		return nil
	case ActionWait:
		d.logger.Debug("waiting",
			zap.String("project", dec.Project), zap.String("rationale", dec.Rationale))
		return nil
	default:
		return fmt.Errorf("dispatch: unroutable action %q", dec.Action)
	}
}

// #endregion

// #region send

// send pushes the decision's command into the session and verifies it
// landed, retrying up to maxSendAttempts with exponential backoff.
func (d *Dispatcher) send(ctx context.Context, dec Decision, session Session) error {
	if dec.Command == "" {
		return fmt.Errorf("dispatch %s: decision has no command", dec.Action)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = d.backoffBase

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := d.actuator.Send(ctx, session, dec.Command); err != nil {
			d.logger.Warn("send attempt failed",
				zap.String("project", dec.Project), zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, fmt.Errorf("send attempt %d: %w", attempt, err)
		}
		if err := d.verify(ctx, dec.Command, session); err != nil {
			d.logger.Warn("send verification failed",
				zap.String("project", dec.Project), zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(maxSendAttempts))

	if err != nil {
		return fmt.Errorf("dispatch %s after %d attempts: %w", dec.Action, attempt, err)
	}
	d.logger.Info("command delivered",
		zap.String("project", dec.Project), zap.String("action", string(dec.Action)),
		zap.Int("attempts", attempt))
	return nil
}

// #endregion

// #region verify

// verify samples four independent post-send signals and passes when at
// least verifyQuorum agree: input target no longer accepts input, a working
// indicator appeared, the sent text shows in the transcript, and no error
// indicator surfaced in the settle window.
func (d *Dispatcher) verify(ctx context.Context, sent string, session Session) error {
	if d.verifyDelay > 0 {
		select {
		case <-time.After(d.verifyDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	obs, err := d.sensor.Capture(ctx, session)
	if err != nil {
		return fmt.Errorf("verify capture: %w", err)
	}

	agree := 0
	if !obs.InputReady {
		agree++
	}
	if obs.Processing {
		agree++
	}
	if len(obs.Problems) == 0 {
		agree++
	}
	transcript, err := d.sensor.Transcript(ctx, session, 50)
	if err == nil && strings.Contains(transcript, verifySnippet(sent)) {
		agree++
	}

	if agree < verifyQuorum {
		return fmt.Errorf("%w: %d/4 signals", ErrSendUnverified, agree)
	}
	return nil
}

// verifySnippet trims the sent text to a short prefix the transcript check
// can reasonably expect to find on one line.
func verifySnippet(sent string) string {
	line := sent
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) > 40 {
		line = line[:40]
	}
	return line
}

// #endregion

// #region notify

// notify delivers a notification unless the hourly limit is spent. Dropped
// notifications are logged, not retried.
func (d *Dispatcher) notify(ctx context.Context, dec Decision) {
	if d.limiter != nil && !d.limiter.Allow() {
		d.logger.Debug("notification dropped by rate limit", zap.String("project", dec.Project))
		return
	}
	n := Notification{
		Title:    fmt.Sprintf("%s needs attention", dec.Project),
		Message:  dec.Rationale,
		Severity: SeverityMedium,
		Project:  dec.Project,
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("project", dec.Project), zap.Error(err))
	}
}

// #endregion
