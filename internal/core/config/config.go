package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aevon-lab/flexevent/internal/core/preset"
)

// Config represents the top-level application config plus loaded presets.
type Config struct {
	Measurement MeasurementConfig `koanf:"measurement"`
	Preset      PresetConfig      `koanf:"preset"`
	Database    DatabaseConfig    `koanf:"database"`
	Evaluation  EvaluationConfig  `koanf:"evaluation"`

	// Presets is populated by Load after parsing preset files.
	Presets *preset.FileSystemRepository `koanf:"-"`
}

type MeasurementConfig struct {
	LookbackWindowFilterEnabled  bool    `koanf:"lookback_window_filter_enabled"`
	PrivacyEpsilon               float64 `koanf:"privacy_epsilon"`
	MaxInformationGainEvent      float64 `koanf:"max_information_gain_event"`
	MaxInformationGainNavigation float64 `koanf:"max_information_gain_navigation"`
	MaxReportStates              uint64  `koanf:"max_report_states"`
}

type PresetConfig struct {
	Dir string `koanf:"dir"`
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"` // empty: run without persistence
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type EvaluationConfig struct {
	WorkerCount int `koanf:"worker_count"`
	BatchSize   int `koanf:"batch_size"`

	// Interval between scheduler drains. "0s" evaluates once and exits.
	Interval string `koanf:"interval"`

	RateLimitWindow          string `koanf:"rate_limit_window"`
	MaxAttributionsPerWindow int    `koanf:"max_attributions_per_window"` // 0 disables
}

// IntervalDuration parses Interval.
func (e EvaluationConfig) IntervalDuration() (time.Duration, error) {
	return time.ParseDuration(e.Interval)
}

// RateLimitWindowDuration parses RateLimitWindow.
func (e EvaluationConfig) RateLimitWindowDuration() (time.Duration, error) {
	return time.ParseDuration(e.RateLimitWindow)
}

// Flags is an immutable snapshot of the measurement settings, taken once per
// evaluation and passed down explicitly.
type Flags struct {
	lookbackWindowFilterEnabled  bool
	privacyEpsilon               float64
	maxInformationGainEvent      float64
	maxInformationGainNavigation float64
	maxReportStates              uint64
}

// NewFlags builds a snapshot directly, mostly for tests and tools.
func NewFlags(lookbackWindowFilterEnabled bool, privacyEpsilon float64) Flags {
	return Flags{
		lookbackWindowFilterEnabled:  lookbackWindowFilterEnabled,
		privacyEpsilon:               privacyEpsilon,
		maxInformationGainEvent:      defaultMaxInformationGainEvent,
		maxInformationGainNavigation: defaultMaxInformationGainNavigation,
		maxReportStates:              defaultMaxReportStates,
	}
}

func (f Flags) LookbackWindowFilterEnabled() bool     { return f.lookbackWindowFilterEnabled }
func (f Flags) PrivacyEpsilon() float64               { return f.privacyEpsilon }
func (f Flags) MaxInformationGainEvent() float64      { return f.maxInformationGainEvent }
func (f Flags) MaxInformationGainNavigation() float64 { return f.maxInformationGainNavigation }
func (f Flags) MaxReportStates() uint64               { return f.maxReportStates }

// MaxInformationGain returns the limit for a preset source type.
func (f Flags) MaxInformationGain(sourceType string) float64 {
	if sourceType == preset.SourceTypeNavigation {
		return f.maxInformationGainNavigation
	}
	return f.maxInformationGainEvent
}

// Flags snapshots the measurement section.
func (c *Config) Flags() Flags {
	m := c.Measurement
	return Flags{
		lookbackWindowFilterEnabled:  m.LookbackWindowFilterEnabled,
		privacyEpsilon:               m.PrivacyEpsilon,
		maxInformationGainEvent:      m.MaxInformationGainEvent,
		maxInformationGainNavigation: m.MaxInformationGainNavigation,
		maxReportStates:              m.MaxReportStates,
	}
}

const (
	defaultPrivacyEpsilon               = 14.0
	defaultMaxInformationGainEvent      = 6.5
	defaultMaxInformationGainNavigation = 11.46
	defaultMaxReportStates              = uint64(math.MaxUint32)
)

func (c *Config) Validate() error {
	m := c.Measurement
	if m.PrivacyEpsilon <= 0 || math.IsInf(m.PrivacyEpsilon, 0) || math.IsNaN(m.PrivacyEpsilon) {
		return fmt.Errorf("measurement.privacy_epsilon must be a positive number, got %v", m.PrivacyEpsilon)
	}
	if m.MaxInformationGainEvent <= 0 {
		return fmt.Errorf("measurement.max_information_gain_event must be > 0")
	}
	if m.MaxInformationGainNavigation <= 0 {
		return fmt.Errorf("measurement.max_information_gain_navigation must be > 0")
	}
	if m.MaxReportStates == 0 {
		return fmt.Errorf("measurement.max_report_states must be > 0")
	}

	if strings.TrimSpace(c.Preset.Dir) == "" {
		return fmt.Errorf("preset.dir is required")
	}

	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if dsn := strings.TrimSpace(c.Database.DSN); dsn != "" && !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return fmt.Errorf("unsupported database.dsn scheme %q (postgres only)", dsn)
	}

	if c.Evaluation.WorkerCount <= 0 {
		return fmt.Errorf("evaluation.worker_count must be > 0")
	}
	if c.Evaluation.BatchSize <= 0 {
		return fmt.Errorf("evaluation.batch_size must be > 0")
	}
	if d, err := c.Evaluation.IntervalDuration(); err != nil || d < 0 {
		return fmt.Errorf("invalid evaluation.interval %q", c.Evaluation.Interval)
	}
	if d, err := c.Evaluation.RateLimitWindowDuration(); err != nil || d <= 0 {
		return fmt.Errorf("invalid evaluation.rate_limit_window %q", c.Evaluation.RateLimitWindow)
	}
	if c.Evaluation.MaxAttributionsPerWindow < 0 {
		return fmt.Errorf("evaluation.max_attributions_per_window must be >= 0")
	}
	return nil
}

// Load parses config from defaults, file and env, validates it, then loads presets.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"measurement.lookback_window_filter_enabled":  true,
		"measurement.privacy_epsilon":                 defaultPrivacyEpsilon,
		"measurement.max_information_gain_event":      defaultMaxInformationGainEvent,
		"measurement.max_information_gain_navigation": defaultMaxInformationGainNavigation,
		"measurement.max_report_states":               defaultMaxReportStates,
		"preset.dir":                                  "./config/presets",
		"database.dsn":                                "",
		"database.max_open_conns":                     10,
		"database.max_idle_conns":                     10,
		"database.auto_migrate":                       true,
		"evaluation.worker_count":                     4,
		"evaluation.batch_size":                       1000,
		"evaluation.interval":                         "0s",
		"evaluation.rate_limit_window":                "720h",
		"evaluation.max_attributions_per_window":      100,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("FLEXEVENT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "FLEXEVENT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := preset.NewFileSystemRepository(cfg.Preset.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load presets: %w", err)
	}
	cfg.Presets = repo

	return &cfg, nil
}
