package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BaselineCollector captures the reference health snapshot before any
// traffic shifts. Without a baseline there is no comparison basis, so
// exhausting the retry budget is fatal to starting the rollout.
type BaselineCollector struct {
	Source MetricsSource

	// Timeout bounds each attempt. Defaults to 10s.
	Timeout time.Duration
	// MaxRetries bounds attempts beyond the first. Defaults to 3.
	MaxRetries uint64
	// RetryInterval seeds the exponential backoff between attempts.
	// Defaults to 1s.
	RetryInterval time.Duration
}

// Collect reads one sample from the metrics source and tags it as the
// baseline. The read is retried with exponential backoff within the
// configured budget; exhaustion yields ErrMetricsUnavailable.
func (c *BaselineCollector) Collect(ctx context.Context, serviceID string) (MetricSample, error) {
	sample, err := SampleWithRetry(ctx, c.Source, serviceID, c.timeout(), c.maxRetries(), c.retryInterval())
	if err != nil {
		return MetricSample{}, fmt.Errorf("collect baseline for %s: %w", serviceID, err)
	}
	sample.Source = SourceBaseline
	return sample, nil
}

func (c *BaselineCollector) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}

func (c *BaselineCollector) maxRetries() uint64 {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 3
}

func (c *BaselineCollector) retryInterval() time.Duration {
	if c.RetryInterval > 0 {
		return c.RetryInterval
	}
	return time.Second
}

// SampleWithRetry reads one sample from the source, retrying transient
// failures with exponential backoff. Each attempt is bounded by timeout;
// the overall budget is maxRetries attempts beyond the first. All failures
// surface as ErrMetricsUnavailable.
func SampleWithRetry(
	ctx context.Context,
	source MetricsSource,
	serviceID string,
	timeout time.Duration,
	maxRetries uint64,
	retryInterval time.Duration,
) (MetricSample, error) {
	attempt := func() (MetricSample, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return source.Sample(attemptCtx, serviceID)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInterval

	sample, err := backoff.RetryWithData(
		attempt,
		backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx),
	)
	if err != nil {
		return MetricSample{}, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}
	return sample, nil
}
