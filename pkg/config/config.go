// Package config loads EngineConfig from environment variables and an
// optional file via github.com/spf13/viper, following the mesh's
// pkg/config/pkg/common/config split: defaults set in code, environment
// bound automatically, file optional and layered on top.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	locerrors "github.com/kwstx/cool-LOC/pkg/errors"
)

// EngineConfig holds every tunable the scheduler, meta-reflection and
// resilience layers need.
type EngineConfig struct {
	// TickInterval is the scheduler loop's cadence (spec §4.6, default ~1s).
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// ValidDomains is the externally configured closed set of domain
	// labels (spec §6).
	ValidDomains []string `mapstructure:"valid_domains"`

	// LowConfidenceThreshold is the predicted-success floor below which
	// remediation fires (spec §4.6, default 0.65).
	LowConfidenceThreshold float64 `mapstructure:"low_confidence_threshold"`

	// DispatchConfidenceFloor is the result.confidenceScore floor below
	// which a dispatch result triggers reassignment (spec §4.6, default 0.6).
	DispatchConfidenceFloor float64 `mapstructure:"dispatch_confidence_floor"`

	// MaxRetries is the retry ceiling before MAX_RETRIES_EXHAUSTED /
	// LOW_CONFIDENCE_ABORT (spec §4.9, default 3).
	MaxRetries int `mapstructure:"max_retries"`

	// InterferenceCoefficient and InterferenceFloor parameterize
	// Meta-Reflection's interference penalty (spec §4.5, defaults 0.15/0.1).
	InterferenceCoefficient float64 `mapstructure:"interference_coefficient"`
	InterferenceFloor       float64 `mapstructure:"interference_floor"`

	// SplitComplexityThreshold is the complexity above which
	// suggestRemediation returns SPLIT (spec §4.5, default 6).
	SplitComplexityThreshold float64 `mapstructure:"split_complexity_threshold"`

	// MinScoreThreshold is the compatibility score floor below which an
	// agent is rejected by the scorer (spec §4.4, default 0.2).
	MinScoreThreshold float64 `mapstructure:"min_score_threshold"`

	// DefaultResourceCapacity is the capacity given to a parallel resource
	// that a task references before it has been explicitly registered.
	DefaultResourceCapacity int `mapstructure:"default_resource_capacity"`

	// TieBreakEpsilon is how close two candidates' predicted success must
	// be for the StrategyRegistry tie-break to apply (SPEC_FULL §12).
	TieBreakEpsilon float64 `mapstructure:"tie_break_epsilon"`
}

// Load reads configuration from environment variables (prefixed LOC_) and,
// if present, a config file at path (may be empty to skip file loading).
func Load(path string) (*EngineConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, locerrors.Wrap(locerrors.KindInvalidTask, "config.Load", "failed to read config file", err)
		}
	}

	cfg := &EngineConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, locerrors.Wrap(locerrors.KindInvalidTask, "config.Load", "failed to unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick_interval", time.Second)
	v.SetDefault("valid_domains", []string{})
	v.SetDefault("low_confidence_threshold", 0.65)
	v.SetDefault("dispatch_confidence_floor", 0.6)
	v.SetDefault("max_retries", 3)
	v.SetDefault("interference_coefficient", 0.15)
	v.SetDefault("interference_floor", 0.1)
	v.SetDefault("split_complexity_threshold", 6.0)
	v.SetDefault("min_score_threshold", 0.2)
	v.SetDefault("default_resource_capacity", 1)
	v.SetDefault("tie_break_epsilon", 0.02)
}

// Validate rejects configurations the scheduler cannot run under.
func (c *EngineConfig) Validate() error {
	if c.TickInterval <= 0 {
		return locerrors.New(locerrors.KindInvalidTask, "config.Validate", "tick_interval must be positive")
	}
	if len(c.ValidDomains) == 0 {
		return locerrors.New(locerrors.KindInvalidTask, "config.Validate", "valid_domains must not be empty")
	}
	return nil
}

// HasDomain reports whether label is in the configured valid set.
func (c *EngineConfig) HasDomain(label string) bool {
	for _, d := range c.ValidDomains {
		if d == label {
			return true
		}
	}
	return false
}
