package dbosworkflows_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/canarygate/canarygate/internal/domain"
	"github.com/canarygate/canarygate/internal/infrastructure/dbosworkflows"
	"github.com/canarygate/canarygate/internal/infrastructure/sqlite"
)

func startPostgres(t *testing.T) string {
	t.Helper()

	// Ryuk (the reaper) requires a Docker bridge network that does not
	// exist on Podman. We handle cleanup via t.Cleanup instead.
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("dbos_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get postgres connection string: %v", err)
	}
	return connStr
}

type fakeRouter struct {
	mu       sync.Mutex
	percents []int
}

func (r *fakeRouter) SetTrafficPercent(_ context.Context, _ string, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, percent)
	return nil
}

func (r *fakeRouter) recorded() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.percents))
	copy(out, r.percents)
	return out
}

type fakeMetrics struct {
	sample domain.MetricSample
}

func (m *fakeMetrics) Sample(_ context.Context, _ string) (domain.MetricSample, error) {
	return m.sample, nil
}

func TestRollout_DBOS(t *testing.T) {
	connStr := startPostgres(t)

	ctx := context.Background()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		AppName:     "canarygate-dbos-test",
		DatabaseURL: connStr,
	})
	if err != nil {
		t.Fatalf("NewDBOSContext: %v", err)
	}

	db := sqlite.OpenTestDB(t)
	sessions := &sqlite.SessionRepo{DB: db}

	router := &fakeRouter{}
	metrics := &fakeMetrics{sample: domain.MetricSample{
		ErrorRate:      0.01,
		ResponseTimeMs: 480,
		Throughput:     1200,
	}}

	wf := &domain.RolloutWorkflow{
		Sessions: sessions,
		Router:   router,
		Metrics:  metrics,
	}

	engine := &dbosworkflows.Engine{DBOSCtx: dbosCtx}
	runner, err := engine.RolloutRunner(wf)
	if err != nil {
		t.Fatalf("RolloutRunner: %v", err)
	}

	if err := dbos.Launch(dbosCtx); err != nil {
		t.Fatalf("dbos.Launch: %v", err)
	}
	t.Cleanup(func() { dbos.Shutdown(dbosCtx, 5*time.Second) })

	cfg := domain.DefaultRolloutConfig()
	cfg.WarmupPeriod = 10 * time.Millisecond
	cfg.CheckInterval = 10 * time.Millisecond

	session := domain.RolloutSession{
		ID:        "dbos-session-1",
		ServiceID: "checkout",
		Version:   "v2.3.0",
		Stages: []domain.RolloutStage{
			{Name: "canary", TrafficPercent: 10, Dwell: 20 * time.Millisecond},
			{Name: "full", TrafficPercent: 100, Dwell: 10 * time.Millisecond},
		},
		Status: domain.StatusInitializing,
		Baseline: &domain.MetricSample{
			Source:         domain.SourceBaseline,
			ErrorRate:      0.008,
			ResponseTimeMs: 450,
			Throughput:     1250,
		},
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := sessions.Create(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	handle, err := runner.Run(ctx, session.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	outcome, err := handle.AwaitResult(ctx)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if outcome.Status != domain.StatusCompleted {
		t.Fatalf("outcome = %+v, want completed", outcome)
	}

	if got := router.recorded(); len(got) != 2 || got[0] != 10 || got[1] != 100 {
		t.Errorf("traffic shifts = %v, want [10 100]", got)
	}

	final, err := sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != domain.StatusCompleted {
		t.Errorf("persisted status = %q, want %q", final.Status, domain.StatusCompleted)
	}
}
