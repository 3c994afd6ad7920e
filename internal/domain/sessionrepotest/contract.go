// Package sessionrepotest provides contract tests for
// [domain.SessionRepository] implementations.
package sessionrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canarygate/canarygate/internal/domain"
)

// Factory creates a fresh [domain.SessionRepository] for each test.
type Factory func(t *testing.T) domain.SessionRepository

// Run exercises the [domain.SessionRepository] contract.
func Run(t *testing.T, factory Factory) {
	sampleSession := func() domain.RolloutSession {
		return domain.RolloutSession{
			ID:        "s1",
			ServiceID: "checkout",
			Version:   "v2.3.0",
			Stages: []domain.RolloutStage{
				{Name: "canary-5", TrafficPercent: 5, Dwell: 5 * time.Minute},
				{Name: "full", TrafficPercent: 100, Dwell: 10 * time.Minute},
			},
			Status:    domain.StatusInitializing,
			Config:    domain.DefaultRolloutConfig(),
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			UpdatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		s := sampleSession()

		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "s1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ServiceID != "checkout" || got.Version != "v2.3.0" {
			t.Errorf("got %q/%q, want checkout/v2.3.0", got.ServiceID, got.Version)
		}
		if len(got.Stages) != 2 {
			t.Fatalf("Stages = %d, want 2", len(got.Stages))
		}
		if got.Stages[0].Dwell != 5*time.Minute {
			t.Errorf("Stages[0].Dwell = %v, want 5m", got.Stages[0].Dwell)
		}
		if got.Status != domain.StatusInitializing {
			t.Errorf("Status = %q, want %q", got.Status, domain.StatusInitializing)
		}
		if got.Config.FailureThreshold != 3 {
			t.Errorf("Config.FailureThreshold = %d, want 3", got.Config.FailureThreshold)
		}
		if got.Baseline != nil {
			t.Errorf("Baseline = %+v, want nil before collection", got.Baseline)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		s := sampleSession()
		_ = repo.Create(ctx, s)
		err := repo.Create(ctx, s)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdatePersistsBaselineAndCounters", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		s := sampleSession()
		_ = repo.Create(ctx, s)

		s.Status = domain.StatusRunning
		s.CurrentStageIndex = 1
		s.ConsecutiveFailures = 2
		s.Baseline = &domain.MetricSample{
			Timestamp:      time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC),
			Source:         domain.SourceBaseline,
			ErrorRate:      0.008,
			ResponseTimeMs: 450,
			Throughput:     1250,
		}
		if err := repo.Update(ctx, s); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repo.Get(ctx, "s1")
		if got.Status != domain.StatusRunning {
			t.Errorf("Status = %q, want %q", got.Status, domain.StatusRunning)
		}
		if got.CurrentStageIndex != 1 {
			t.Errorf("CurrentStageIndex = %d, want 1", got.CurrentStageIndex)
		}
		if got.ConsecutiveFailures != 2 {
			t.Errorf("ConsecutiveFailures = %d, want 2", got.ConsecutiveFailures)
		}
		if got.Baseline == nil || got.Baseline.Throughput != 1250 {
			t.Errorf("Baseline = %+v, want throughput 1250", got.Baseline)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Update(context.Background(), domain.RolloutSession{ID: "nonexistent"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("AppendSamplePreservesOrder", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleSession())

		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			err := repo.AppendSample(ctx, "s1", domain.MetricSample{
				Timestamp:      base.Add(time.Duration(i) * 30 * time.Second),
				Source:         "canary-5",
				ErrorRate:      float64(i) * 0.01,
				ResponseTimeMs: 400,
				Throughput:     1200,
			})
			if err != nil {
				t.Fatalf("AppendSample %d: %v", i, err)
			}
		}

		got, _ := repo.Get(ctx, "s1")
		if len(got.Samples) != 3 {
			t.Fatalf("Samples = %d, want 3", len(got.Samples))
		}
		for i, s := range got.Samples {
			if s.ErrorRate != float64(i)*0.01 {
				t.Errorf("Samples[%d].ErrorRate = %v, want %v (insertion order)", i, s.ErrorRate, float64(i)*0.01)
			}
		}
	})

	t.Run("AppendSampleUnknownSession", func(t *testing.T) {
		repo := factory(t)
		err := repo.AppendSample(context.Background(), "nonexistent", domain.MetricSample{
			Timestamp: time.Now().UTC(),
			Source:    "canary-5",
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("AppendSample: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListOmitsSamples", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		s1 := sampleSession()
		s2 := sampleSession()
		s2.ID = "s2"
		_ = repo.Create(ctx, s1)
		_ = repo.Create(ctx, s2)
		_ = repo.AppendSample(ctx, "s1", domain.MetricSample{
			Timestamp: time.Now().UTC(), Source: "canary-5",
		})

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
		for _, s := range got {
			if len(s.Samples) != 0 {
				t.Errorf("List must omit samples, session %s carried %d", s.ID, len(s.Samples))
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleSession())
		_ = repo.AppendSample(ctx, "s1", domain.MetricSample{
			Timestamp: time.Now().UTC(), Source: "canary-5",
		})

		if err := repo.Delete(ctx, "s1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, err := repo.Get(ctx, "s1")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Delete(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Delete: got %v, want ErrNotFound", err)
		}
	})
}
