package domain

import "fmt"

// HealthThresholds parameterise sample evaluation. Absolute ceilings apply
// regardless of baseline; regression multipliers compare against the
// baseline and are skipped when the baseline value is absent or zero.
type HealthThresholds struct {
	// AbsoluteErrorRate is the hard error-rate ceiling (fraction, 0-1).
	AbsoluteErrorRate float64 `json:"absoluteErrorRate"`
	// AbsoluteLatencyMs is the hard response-time ceiling in milliseconds.
	AbsoluteLatencyMs float64 `json:"absoluteLatencyMs"`
	// ThroughputFloor is the fraction of baseline throughput below which
	// the sample is an error. Throughput collapse has no warning tier.
	ThroughputFloor float64 `json:"throughputFloor"`
	// ErrorRateRegression flags a warning when the sample error rate
	// exceeds this multiple of the baseline.
	ErrorRateRegression float64 `json:"errorRateRegression"`
	// LatencyRegression flags a warning when the sample response time
	// exceeds this multiple of the baseline.
	LatencyRegression float64 `json:"latencyRegression"`
}

// DefaultThresholds returns the recommended evaluation thresholds.
func DefaultThresholds() HealthThresholds {
	return HealthThresholds{
		AbsoluteErrorRate:   0.05,
		AbsoluteLatencyMs:   5000,
		ThroughputFloor:     0.8,
		ErrorRateRegression: 2.0,
		LatencyRegression:   1.5,
	}
}

// Validate rejects threshold sets that would make every sample pass or fail.
func (t HealthThresholds) Validate() error {
	if t.AbsoluteErrorRate <= 0 || t.AbsoluteErrorRate > 1 {
		return fmt.Errorf("%w: absolute error rate must be in (0, 1]", ErrInvalidArgument)
	}
	if t.AbsoluteLatencyMs <= 0 {
		return fmt.Errorf("%w: absolute latency ceiling must be positive", ErrInvalidArgument)
	}
	if t.ThroughputFloor <= 0 || t.ThroughputFloor >= 1 {
		return fmt.Errorf("%w: throughput floor must be in (0, 1)", ErrInvalidArgument)
	}
	if t.ErrorRateRegression <= 1 {
		return fmt.Errorf("%w: error-rate regression multiplier must exceed 1", ErrInvalidArgument)
	}
	if t.LatencyRegression <= 1 {
		return fmt.Errorf("%w: latency regression multiplier must exceed 1", ErrInvalidArgument)
	}
	return nil
}

// HealthVerdict is the evaluation of one sample: healthy iff no errors.
// Verdicts are derived values; they are never persisted beyond the
// consecutive-failure count they feed.
type HealthVerdict struct {
	Healthy  bool     `json:"healthy"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// HealthEvaluator classifies metric samples against a baseline and fixed
// absolute thresholds. Analyze is a pure function of its inputs.
type HealthEvaluator struct {
	Thresholds HealthThresholds
}

// Analyze evaluates one sample. A nil baseline (or a zero-valued baseline
// metric) disables the relative rules for that metric; absolute ceilings
// always apply.
func (e HealthEvaluator) Analyze(sample MetricSample, baseline *MetricSample) HealthVerdict {
	t := e.Thresholds
	var v HealthVerdict

	switch {
	case sample.ErrorRate > t.AbsoluteErrorRate:
		v.Errors = append(v.Errors, fmt.Sprintf(
			"error rate %.4f exceeds absolute ceiling %.4f", sample.ErrorRate, t.AbsoluteErrorRate))
	case baseline != nil && baseline.ErrorRate > 0 &&
		sample.ErrorRate > t.ErrorRateRegression*baseline.ErrorRate:
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"error rate %.4f exceeds %.1fx baseline %.4f",
			sample.ErrorRate, t.ErrorRateRegression, baseline.ErrorRate))
	}

	switch {
	case sample.ResponseTimeMs > t.AbsoluteLatencyMs:
		v.Errors = append(v.Errors, fmt.Sprintf(
			"response time %.0fms exceeds absolute ceiling %.0fms",
			sample.ResponseTimeMs, t.AbsoluteLatencyMs))
	case baseline != nil && baseline.ResponseTimeMs > 0 &&
		sample.ResponseTimeMs > t.LatencyRegression*baseline.ResponseTimeMs:
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"response time %.0fms exceeds %.1fx baseline %.0fms",
			sample.ResponseTimeMs, t.LatencyRegression, baseline.ResponseTimeMs))
	}

	if baseline != nil && baseline.Throughput > 0 &&
		sample.Throughput < baseline.Throughput*t.ThroughputFloor {
		v.Errors = append(v.Errors, fmt.Sprintf(
			"throughput %.0f below %.0f%% of baseline %.0f",
			sample.Throughput, t.ThroughputFloor*100, baseline.Throughput))
	}

	v.Healthy = len(v.Errors) == 0
	return v
}
