package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
projects:
  - name: demo
    path: /tmp/demo
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overseer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.Interval)
	assert.Equal(t, "overseer.db", cfg.Database)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 6, cfg.Notify.MaxPerHour)
	assert.False(t, cfg.Advisory.Enabled)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Advisory.APIKeyEnv)
	assert.Equal(t, 5.0, cfg.Advisory.DailyCeilingUSD)
	assert.Equal(t, 25.0, cfg.Advisory.WeeklyCeilingUSD)
	assert.Equal(t, 60*time.Second, cfg.Advisory.RequestTimeout)
	require.Len(t, cfg.Projects, 1)
	assert.Equal(t, "demo", cfg.Projects[0].Name)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
interval: 30s
log:
  level: debug
  format: json
advisory:
  enabled: true
  daily_ceiling_usd: 2.5
projects:
  - name: billing
    path: /srv/billing
    branch: main
    auto_continue: true
    auto_commit: true
    stall_threshold: 45m
    approval_patterns:
      - "--force"
    remedies:
      - name: backoff
        command: wait and retry
        category: network
        patterns: ["rate limit"]
        keywords: [retry]
    phases:
      - name: build
      - name: release
        require_approval: true
`))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Advisory.Enabled)
	assert.Equal(t, 2.5, cfg.Advisory.DailyCeilingUSD)
	// Untouched defaults survive the file layer.
	assert.Equal(t, 25.0, cfg.Advisory.WeeklyCeilingUSD)

	require.Len(t, cfg.Projects, 1)
	p := cfg.Projects[0]
	assert.True(t, p.AutoContinue)
	assert.Equal(t, 45*time.Minute, p.StallThreshold)
	require.Len(t, p.Remedies, 1)
	assert.Equal(t, []string{"rate limit"}, p.Remedies[0].Patterns)
	require.Len(t, p.Phases, 2)
	assert.True(t, p.Phases[1].RequireApproval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OVERSEER_INTERVAL", "45s")
	t.Setenv("OVERSEER_LOG_LEVEL", "warn")
	t.Setenv("OVERSEER_NOTIFY_MAX_PER_HOUR", "12")
	t.Setenv("OVERSEER_ADVISORY_DAILY_CEILING_USD", "1.25")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Interval)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 12, cfg.Notify.MaxPerHour)
	assert.Equal(t, 1.25, cfg.Advisory.DailyCeilingUSD)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	// Defaults alone fail validation: no projects.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one project")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "non-positive interval",
			yaml:    "interval: 0s\n" + minimalYAML,
			wantErr: "interval",
		},
		{
			name: "duplicate project names",
			yaml: `
projects:
  - name: demo
    path: /tmp/a
  - name: demo
    path: /tmp/b
`,
			wantErr: "duplicate project",
		},
		{
			name: "project without path",
			yaml: `
projects:
  - name: demo
`,
			wantErr: "no path",
		},
		{
			name: "project without name",
			yaml: `
projects:
  - path: /tmp/a
`,
			wantErr: "empty name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct{ in, want string }{
		{"OVERSEER_INTERVAL", "interval"},
		{"OVERSEER_MAX_RUNTIME", "max_runtime"},
		{"OVERSEER_LOG_LEVEL", "log.level"},
		{"OVERSEER_NOTIFY_MAX_PER_HOUR", "notify.max_per_hour"},
		{"OVERSEER_ADVISORY_API_KEY_ENV", "advisory.api_key_env"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransform(tt.in), tt.in)
	}
}
