package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// defaultYAML seeds the koanf tree before file and env loading.
var defaultYAML = []byte(`
interval: 120s
max_runtime: 0s
database: overseer.db
log:
  level: info
  format: console
notify:
  max_per_hour: 6
advisory:
  enabled: false
  model: claude-sonnet-4-5
  api_key_env: ANTHROPIC_API_KEY
  daily_ceiling_usd: 5.0
  weekly_ceiling_usd: 25.0
  input_price_per_mtok: 3.0
  output_price_per_mtok: 15.0
  request_timeout: 60s
`)

const envPrefix = "OVERSEER_"

// Load builds the configuration with the usual precedence: hardcoded
// defaults, then the YAML file at path (optional), then OVERSEER_*
// environment variables.
//
// Environment variables map down with underscores as separators:
//
//	OVERSEER_INTERVAL           -> interval
//	OVERSEER_LOG_LEVEL          -> log.level
//	OVERSEER_ADVISORY_ENABLED   -> advisory.enabled
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := unmarshal(k, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func unmarshal(k *koanf.Koanf, cfg *Config) error {
	return k.Unmarshal("", cfg)
}

// envSections are the top-level blocks an environment variable can
// address. The first matching section prefix becomes the koanf path
// separator; underscores inside the remainder stay literal, so
// OVERSEER_NOTIFY_MAX_PER_HOUR maps to notify.max_per_hour and
// OVERSEER_MAX_RUNTIME stays max_runtime.
var envSections = []string{"log", "notify", "advisory"}

func envTransform(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, sec := range envSections {
		if strings.HasPrefix(key, sec+"_") {
			return sec + "." + strings.TrimPrefix(key, sec+"_")
		}
	}
	return key
}
