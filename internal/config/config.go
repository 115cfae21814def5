// Package config loads the overseer configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/overseer/internal/supervisor"
)

// Config is the full configuration surface.
type Config struct {
	// Interval is the polling cycle interval.
	Interval time.Duration `koanf:"interval"`

	// MaxRuntime stops the loop after this long. Zero means no cutoff.
	MaxRuntime time.Duration `koanf:"max_runtime"`

	// Database is the path to the SQLite state database.
	Database string `koanf:"database"`

	Log      LogConfig       `koanf:"log"`
	Notify   NotifyConfig    `koanf:"notify"`
	Advisory AdvisoryConfig  `koanf:"advisory"`
	Projects []ProjectConfig `koanf:"projects"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// NotifyConfig controls notification delivery.
type NotifyConfig struct {
	// MaxPerHour caps decision-driven notifications. Zero disables the cap.
	MaxPerHour int `koanf:"max_per_hour"`

	// WebhookURL posts notifications as JSON when set.
	WebhookURL string `koanf:"webhook_url"`

	// Command runs a local program per notification when set
	// (title, message, severity, project as arguments).
	Command string `koanf:"command"`
}

// AdvisoryConfig controls the paid decision path.
type AdvisoryConfig struct {
	Enabled            bool          `koanf:"enabled"`
	Model              string        `koanf:"model"`
	APIKeyEnv          string        `koanf:"api_key_env"`
	DailyCeilingUSD    float64       `koanf:"daily_ceiling_usd"`
	WeeklyCeilingUSD   float64       `koanf:"weekly_ceiling_usd"`
	InputPricePerMTok  float64       `koanf:"input_price_per_mtok"`
	OutputPricePerMTok float64       `koanf:"output_price_per_mtok"`
	RequestTimeout     time.Duration `koanf:"request_timeout"`
}

// ProjectConfig registers one supervised project.
type ProjectConfig struct {
	Name             string         `koanf:"name"`
	Path             string         `koanf:"path"`
	Branch           string         `koanf:"branch"`
	Session          string         `koanf:"session"`
	AutoContinue     bool           `koanf:"auto_continue"`
	AutoCommit       bool           `koanf:"auto_commit"`
	AutoPush         bool           `koanf:"auto_push"`
	ApprovalPatterns []string       `koanf:"approval_patterns"`
	StallThreshold   time.Duration  `koanf:"stall_threshold"`
	Remedies         []RemedyConfig `koanf:"remedies"`
	Phases           []PhaseConfig  `koanf:"phases"`
}

// RemedyConfig declares one remedy and its matching triggers.
type RemedyConfig struct {
	Name     string   `koanf:"name"`
	Command  string   `koanf:"command"`
	Category string   `koanf:"category"`
	Patterns []string `koanf:"patterns"`
	Keywords []string `koanf:"keywords"`
}

// PhaseConfig declares one ordered phase.
type PhaseConfig struct {
	Name            string `koanf:"name"`
	RequireApproval bool   `koanf:"require_approval"`
}

// Validate checks the invariants the orchestrator cannot recover from.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if len(c.Projects) == 0 {
		return fmt.Errorf("at least one project must be configured")
	}
	seen := map[string]bool{}
	for _, p := range c.Projects {
		if p.Name == "" {
			return fmt.Errorf("project with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate project name %q", p.Name)
		}
		seen[p.Name] = true
		if p.Path == "" {
			return fmt.Errorf("project %q has no path", p.Name)
		}
	}
	return nil
}

// SupervisorProjects converts the project blocks to the core's types.
func (c *Config) SupervisorProjects() []supervisor.ProjectConfig {
	out := make([]supervisor.ProjectConfig, 0, len(c.Projects))
	for _, p := range c.Projects {
		cfg := supervisor.ProjectConfig{
			Name:             p.Name,
			Path:             p.Path,
			Branch:           p.Branch,
			SessionHint:      p.Session,
			AutoContinue:     p.AutoContinue,
			AutoCommit:       p.AutoCommit,
			AutoPush:         p.AutoPush,
			ApprovalPatterns: p.ApprovalPatterns,
			StallThreshold:   p.StallThreshold,
		}
		for _, r := range p.Remedies {
			cfg.Remedies = append(cfg.Remedies, supervisor.RemedyRef{
				Name:     r.Name,
				Command:  r.Command,
				Category: r.Category,
				Patterns: r.Patterns,
				Keywords: r.Keywords,
			})
		}
		for _, ph := range p.Phases {
			cfg.Phases = append(cfg.Phases, supervisor.PhaseConfig{
				Name:            ph.Name,
				RequireApproval: ph.RequireApproval,
			})
		}
		out = append(out, cfg)
	}
	return out
}

// SupervisorAdvisory converts the advisory block to the core's type.
func (c *Config) SupervisorAdvisory() supervisor.AdvisoryConfig {
	return supervisor.AdvisoryConfig{
		Enabled:            c.Advisory.Enabled,
		Model:              c.Advisory.Model,
		DailyCeilingUSD:    c.Advisory.DailyCeilingUSD,
		WeeklyCeilingUSD:   c.Advisory.WeeklyCeilingUSD,
		InputPricePerMTok:  c.Advisory.InputPricePerMTok,
		OutputPricePerMTok: c.Advisory.OutputPricePerMTok,
		RequestTimeout:     c.Advisory.RequestTimeout,
	}
}
