// Package notify delivers operator notifications. Delivery is
// fire-and-forget; rate limiting is the caller's concern.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/overseer/internal/supervisor"
)

// Webhook posts notifications as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhook builds a webhook notifier.
func NewWebhook(url string, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type webhookPayload struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Project  string `json:"project"`
}

// Notify posts one notification. Non-2xx responses are errors.
func (w *Webhook) Notify(ctx context.Context, n supervisor.Notification) error {
	body, err := json.Marshal(webhookPayload{
		Title:    n.Title,
		Message:  n.Message,
		Severity: string(n.Severity),
		Project:  n.Project,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Command runs a local program per notification with the notification
// fields as arguments.
type Command struct {
	program string
	logger  *zap.Logger
}

// NewCommand builds a command notifier.
func NewCommand(program string, logger *zap.Logger) *Command {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{program: program, logger: logger}
}

// Notify invokes the program with (title, message, severity, project).
func (c *Command) Notify(ctx context.Context, n supervisor.Notification) error {
	cmd := exec.CommandContext(ctx, c.program, n.Title, n.Message, string(n.Severity), n.Project)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify command: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// Log writes notifications to the logger only. The fallback when no
// delivery channel is configured.
type Log struct {
	logger *zap.Logger
}

// NewLog builds a log-only notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Notify logs the notification at warn level so it stands out.
func (l *Log) Notify(_ context.Context, n supervisor.Notification) error {
	l.logger.Warn("notification",
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.String("severity", string(n.Severity)),
		zap.String("project", n.Project))
	return nil
}

// Multi fans out to several notifiers; the first error wins but every
// notifier is attempted.
type Multi struct {
	targets []supervisor.Notifier
}

// NewMulti builds a fan-out notifier.
func NewMulti(targets ...supervisor.Notifier) *Multi {
	return &Multi{targets: targets}
}

// Notify delivers to every target.
func (m *Multi) Notify(ctx context.Context, n supervisor.Notification) error {
	var first error
	for _, t := range m.targets {
		if err := t.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
