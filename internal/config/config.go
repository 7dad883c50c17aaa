// Package config loads the Orchestrator's settings from environment
// variables with an optional YAML file overlay (spec.md §6
// "Configuration options"). Env vars take precedence over the YAML
// file so a deployment can override a handful of keys without
// forking the whole file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AdapterOverride holds a per-adapter enable flag and cadence
// override, keyed by adapter name in Config.Adapters.
type AdapterOverride struct {
	Enabled *bool      `yaml:"enabled,omitempty"`
	Cadence *yamlDuration `yaml:"cadence,omitempty"`
}

// yamlDuration lets the YAML file spell cadences as "30m" or "6h"
// the way time.ParseDuration expects, since yaml.v3 has no built-in
// time.Duration support.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid cadence %q: %w", s, err)
	}
	*d = yamlDuration(parsed)
	return nil
}

func (d yamlDuration) String() string { return time.Duration(d).String() }

// ScoringWeights optionally overrides any subset of the six weight
// keys; zero-valued fields are left at their engine default.
type ScoringWeights struct {
	Urgency               float64 `yaml:"urgency,omitempty"`
	FinancialStress       float64 `yaml:"financial_stress,omitempty"`
	OperationalDisruption float64 `yaml:"operational_disruption,omitempty"`
	CompetitiveThreat     float64 `yaml:"competitive_threat,omitempty"`
	RegulatoryRisk        float64 `yaml:"regulatory_risk,omitempty"`
	Strategic             float64 `yaml:"strategic,omitempty"`
}

// Config is the enumerated set of configuration options from
// spec.md §6. Every field has a documented default.
type Config struct {
	RedisURL                string                     `yaml:"redis_url"`
	IngestIntervalMinutes   int                        `yaml:"ingest_interval_minutes"`
	MaxSignalsPerBatch      int                        `yaml:"max_signals_per_batch"`
	AlertCheckIntervalHours int                        `yaml:"alert_check_interval_hours"`
	AlertThresholds         []int                      `yaml:"alert_thresholds"`
	DefaultOutreachChannel  string                     `yaml:"default_outreach_channel"`
	LLMResolverEnabled      bool                       `yaml:"llm_resolver_enabled"`
	LLMResolverBaseURL      string                     `yaml:"llm_resolver_base_url"`
	LLMResolverModel        string                     `yaml:"llm_resolver_model"`
	ScoringWeights          ScoringWeights             `yaml:"scoring_weights"`
	Adapters                map[string]AdapterOverride `yaml:"adapters"`
}

// Default returns the configuration spec.md §6 documents when no
// file or environment override is present.
func Default() Config {
	return Config{
		RedisURL:                "redis://localhost:6379",
		IngestIntervalMinutes:   180,
		MaxSignalsPerBatch:      100,
		AlertCheckIntervalHours: 6,
		AlertThresholds:         []int{30, 14, 7, 2},
		DefaultOutreachChannel:  "email",
		LLMResolverEnabled:      false,
	}
}

// IngestInterval is the global cadence override as a time.Duration.
func (c Config) IngestInterval() time.Duration {
	return time.Duration(c.IngestIntervalMinutes) * time.Minute
}

// AlertCheckInterval is the monitor sweep cadence as a time.Duration.
func (c Config) AlertCheckInterval() time.Duration {
	return time.Duration(c.AlertCheckIntervalHours) * time.Hour
}

// Validate rejects configurations that would misbehave at runtime
// rather than failing deep inside a component (exit code 1, spec.md
// §6 "CLI surface").
func (c Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("config: redis_url must not be empty")
	}
	if c.IngestIntervalMinutes <= 0 {
		return fmt.Errorf("config: ingest_interval_minutes must be positive")
	}
	if c.MaxSignalsPerBatch <= 0 {
		return fmt.Errorf("config: max_signals_per_batch must be positive")
	}
	if c.AlertCheckIntervalHours <= 0 {
		return fmt.Errorf("config: alert_check_interval_hours must be positive")
	}
	switch c.DefaultOutreachChannel {
	case "email", "sms", "phone", "linkedin":
	default:
		return fmt.Errorf("config: default_outreach_channel %q is not one of email|sms|phone|linkedin", c.DefaultOutreachChannel)
	}
	if c.LLMResolverEnabled && c.LLMResolverBaseURL == "" {
		return fmt.Errorf("config: llm_resolver_base_url is required when llm_resolver_enabled is true")
	}
	return nil
}

// Load builds a Config from Default(), overlaid by the YAML file at
// path (if path is non-empty and the file exists), overlaid in turn
// by recognized environment variables. It returns the fully resolved
// and validated configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("CORTEX_REDIS_URL"); ok {
		cfg.RedisURL = v
	}
	if v, ok := envInt("CORTEX_INGEST_INTERVAL_MINUTES"); ok {
		cfg.IngestIntervalMinutes = v
	}
	if v, ok := envInt("CORTEX_MAX_SIGNALS_PER_BATCH"); ok {
		cfg.MaxSignalsPerBatch = v
	}
	if v, ok := envInt("CORTEX_ALERT_CHECK_INTERVAL_HOURS"); ok {
		cfg.AlertCheckIntervalHours = v
	}
	if v, ok := os.LookupEnv("CORTEX_ALERT_THRESHOLDS"); ok {
		if parsed, ok := parseIntList(v); ok {
			cfg.AlertThresholds = parsed
		}
	}
	if v, ok := os.LookupEnv("CORTEX_DEFAULT_OUTREACH_CHANNEL"); ok {
		cfg.DefaultOutreachChannel = v
	}
	if v, ok := envBool("CORTEX_LLM_RESOLVER_ENABLED"); ok {
		cfg.LLMResolverEnabled = v
	}
	if v, ok := os.LookupEnv("CORTEX_LLM_RESOLVER_BASE_URL"); ok {
		cfg.LLMResolverBaseURL = v
	}
	if v, ok := os.LookupEnv("CORTEX_LLM_RESOLVER_MODEL"); ok {
		cfg.LLMResolverModel = v
	}
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, false
	}
	return b, true
}

func parseIntList(v string) ([]int, bool) {
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}
