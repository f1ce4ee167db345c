// Package config holds the runtime configuration for the transactional
// memory library.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config carries every tunable of the runtime. Zero values are not
// meaningful; construct via NewDefaultConfig or NewTestConfig, or load a
// TOML file over the defaults.
type Config struct {
	// Algorithm is the name of the algorithm installed at init
	// ("nano" or "byteeager").
	Algorithm string `toml:"algorithm"`

	LogLevel string `toml:"log_level"`

	// Spin budgets, in loop iterations. A spin that exhausts its budget
	// turns into an abort.
	ReadTimeout    uint32 `toml:"read_timeout"`
	AcquireTimeout uint32 `toml:"acquire_timeout"`
	DrainTimeout   uint32 `toml:"drain_timeout"`

	// BackoffCeiling caps the exponent of the randomized exponential
	// backoff applied after repeated aborts.
	BackoffCeiling uint32 `toml:"backoff_ceiling"`

	// EnableMetrics turns on the Prometheus commit/abort counters.
	EnableMetrics bool `toml:"enable_metrics"`

	// RequirePrivatizationSafety makes the runtime refuse switches to
	// algorithms that are not privatization safe.
	RequirePrivatizationSafety bool `toml:"require_privatization_safety"`
}

func getLogLevel() string {
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		return l
	}
	return "info"
}

// NewDefaultConfig returns the production defaults. The spin budgets are
// the x86-family constants; other CPU families tend to want a larger
// drain budget.
func NewDefaultConfig() *Config {
	return &Config{
		Algorithm:      "nano",
		LogLevel:       getLogLevel(),
		ReadTimeout:    32,
		AcquireTimeout: 128,
		DrainTimeout:   256,
		BackoffCeiling: 16,
		EnableMetrics:  false,
	}
}

// NewTestConfig returns defaults with budgets small enough that timeout
// paths are reachable in unit tests.
func NewTestConfig() *Config {
	return &Config{
		Algorithm:      "nano",
		LogLevel:       getLogLevel(),
		ReadTimeout:    8,
		AcquireTimeout: 16,
		DrainTimeout:   32,
		BackoffCeiling: 4,
		EnableMetrics:  false,
	}
}

// LoadFile overlays a TOML file onto the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Algorithm == "" {
		return errors.New("algorithm must be set")
	}
	if c.ReadTimeout == 0 || c.AcquireTimeout == 0 || c.DrainTimeout == 0 {
		return errors.New("spin budgets must be greater than 0")
	}
	return nil
}
