package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canarygate/canarygate/internal/domain"
)

// flakySource fails the first failures calls, then returns sample.
type flakySource struct {
	failures int
	sample   domain.MetricSample
	calls    int
}

func (s *flakySource) Sample(_ context.Context, _ string) (domain.MetricSample, error) {
	s.calls++
	if s.calls <= s.failures {
		return domain.MetricSample{}, errors.New("connection refused")
	}
	return s.sample, nil
}

func TestCollect_TagsSampleAsBaseline(t *testing.T) {
	src := &flakySource{sample: domain.MetricSample{
		Source:     "whatever",
		ErrorRate:  0.01,
		Throughput: 1000,
	}}
	collector := &domain.BaselineCollector{Source: src, RetryInterval: time.Millisecond}

	baseline, err := collector.Collect(context.Background(), "checkout")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if baseline.Source != domain.SourceBaseline {
		t.Errorf("Source = %q, want %q", baseline.Source, domain.SourceBaseline)
	}
	if baseline.Timestamp.IsZero() {
		t.Error("Timestamp must be set when the source omits it")
	}
}

func TestCollect_RetriesTransientFailures(t *testing.T) {
	src := &flakySource{failures: 2, sample: domain.MetricSample{Throughput: 500}}
	collector := &domain.BaselineCollector{Source: src, RetryInterval: time.Millisecond}

	if _, err := collector.Collect(context.Background(), "checkout"); err != nil {
		t.Fatalf("Collect after transient failures: %v", err)
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3", src.calls)
	}
}

func TestCollect_ExhaustedBudgetIsMetricsUnavailable(t *testing.T) {
	src := &flakySource{failures: 100}
	collector := &domain.BaselineCollector{
		Source:        src,
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	}

	_, err := collector.Collect(context.Background(), "checkout")
	if !errors.Is(err, domain.ErrMetricsUnavailable) {
		t.Fatalf("Collect: got %v, want ErrMetricsUnavailable", err)
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3 (initial attempt plus two retries)", src.calls)
	}
}

func TestCollect_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &flakySource{failures: 100}
	collector := &domain.BaselineCollector{Source: src, RetryInterval: time.Millisecond}

	_, err := collector.Collect(ctx, "checkout")
	if !errors.Is(err, domain.ErrMetricsUnavailable) {
		t.Fatalf("Collect: got %v, want ErrMetricsUnavailable", err)
	}
}
