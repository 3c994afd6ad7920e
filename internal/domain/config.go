package domain

import (
	"fmt"
	"time"
)

// RolloutConfig carries the per-session control-loop parameters. It is
// immutable for the lifetime of the session.
type RolloutConfig struct {
	// FailureThreshold is the number of back-to-back unhealthy samples
	// that forces a rollback.
	FailureThreshold int `json:"failureThreshold"`
	// CheckInterval is the cadence of metric sampling within a stage.
	CheckInterval time.Duration `json:"checkInterval"`
	// WarmupPeriod is the delay after a traffic shift before the first
	// sample, excluding transient startup effects from evaluation.
	WarmupPeriod time.Duration `json:"warmupPeriod"`
	// Thresholds parameterise health evaluation.
	Thresholds HealthThresholds `json:"thresholds"`
}

// DefaultRolloutConfig returns the recommended control-loop parameters.
func DefaultRolloutConfig() RolloutConfig {
	return RolloutConfig{
		FailureThreshold: 3,
		CheckInterval:    30 * time.Second,
		WarmupPeriod:     60 * time.Second,
		Thresholds:       DefaultThresholds(),
	}
}

// Validate rejects configs that would stall or never abort the loop.
func (c RolloutConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure threshold must be at least 1", ErrInvalidArgument)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: check interval must be positive", ErrInvalidArgument)
	}
	if c.WarmupPeriod < 0 {
		return fmt.Errorf("%w: warm-up period must not be negative", ErrInvalidArgument)
	}
	return c.Thresholds.Validate()
}
