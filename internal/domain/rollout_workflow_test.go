package domain_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/canarygate/canarygate/internal/domain"
)

// syncTestRunner runs activities synchronously and records sleeps instead
// of performing them, so dwell-heavy rollouts finish instantly.
type syncTestRunner struct {
	ctx    context.Context
	sleeps []time.Duration
}

func (r *syncTestRunner) ID() string               { return "test-sync" }
func (r *syncTestRunner) Context() context.Context { return r.ctx }

func (r *syncTestRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(r.ctx, in)
}

func (r *syncTestRunner) Sleep(d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return r.ctx.Err()
}

// recordingRunner wraps a runner and records activity names in order so
// tests can assert execution sequence.
type recordingRunner struct {
	delegate domain.DurableRunner
	names    []string
}

func (r *recordingRunner) ID() string               { return r.delegate.ID() }
func (r *recordingRunner) Context() context.Context { return r.delegate.Context() }
func (r *recordingRunner) Sleep(d time.Duration) error {
	return r.delegate.Sleep(d)
}

func (r *recordingRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	r.names = append(r.names, activity.Name())
	return r.delegate.Run(activity, in)
}

// memSessionRepo is an in-memory [domain.SessionRepository].
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]domain.RolloutSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[domain.SessionID]domain.RolloutSession)}
}

func (r *memSessionRepo) Create(_ context.Context, s domain.RolloutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, id domain.SessionID) (domain.RolloutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.RolloutSession{}, domain.ErrNotFound
	}
	return s, nil
}

func (r *memSessionRepo) List(_ context.Context) ([]domain.RolloutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RolloutSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (r *memSessionRepo) Update(_ context.Context, s domain.RolloutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.sessions[s.ID]
	if !ok {
		return domain.ErrNotFound
	}
	s.Samples = existing.Samples
	r.sessions[s.ID] = s
	return nil
}

func (r *memSessionRepo) AppendSample(_ context.Context, id domain.SessionID, sample domain.MetricSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Samples = append(s.Samples, sample)
	r.sessions[id] = s
	return nil
}

func (r *memSessionRepo) Delete(_ context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

// recordingRouter records every percentage set and can be scripted to
// reject specific percentages.
type recordingRouter struct {
	mu       sync.Mutex
	percents []int
	failOn   map[int]bool
}

func (r *recordingRouter) SetTrafficPercent(_ context.Context, _ string, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, percent)
	if r.failOn[percent] {
		return fmt.Errorf("%w: router rejected %d%%", domain.ErrTrafficShiftFailed, percent)
	}
	return nil
}

func (r *recordingRouter) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.percents))
	copy(out, r.percents)
	return out
}

// scriptedMetrics returns queued samples in order, then repeats the last
// one forever.
type scriptedMetrics struct {
	mu      sync.Mutex
	samples []domain.MetricSample
	next    int
}

func healthySample() domain.MetricSample {
	return domain.MetricSample{ErrorRate: 0.005, ResponseTimeMs: 420, Throughput: 1300}
}

func unhealthySample() domain.MetricSample {
	return domain.MetricSample{ErrorRate: 0.5, ResponseTimeMs: 420, Throughput: 1300}
}

func (m *scriptedMetrics) Sample(_ context.Context, _ string) (domain.MetricSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return healthySample(), nil
	}
	s := m.samples[m.next]
	if m.next < len(m.samples)-1 {
		m.next++
	}
	return s, nil
}

func repeat(s domain.MetricSample, n int) []domain.MetricSample {
	out := make([]domain.MetricSample, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func canaryStages(dwell time.Duration, percents ...int) []domain.RolloutStage {
	out := make([]domain.RolloutStage, len(percents))
	for i, p := range percents {
		out[i] = domain.RolloutStage{
			Name:           fmt.Sprintf("canary-%d", p),
			TrafficPercent: p,
			Dwell:          dwell,
		}
	}
	return out
}

type workflowHarness struct {
	repo    *memSessionRepo
	router  *recordingRouter
	metrics *scriptedMetrics
	wf      *domain.RolloutWorkflow
}

func newWorkflowHarness(t *testing.T, session domain.RolloutSession) *workflowHarness {
	t.Helper()
	repo := newMemSessionRepo()
	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	router := &recordingRouter{failOn: map[int]bool{}}
	metrics := &scriptedMetrics{}
	return &workflowHarness{
		repo:    repo,
		router:  router,
		metrics: metrics,
		wf: &domain.RolloutWorkflow{
			Sessions:      repo,
			Router:        router,
			Metrics:       metrics,
			RetryInterval: time.Millisecond,
		},
	}
}

func testSession(stages []domain.RolloutStage) domain.RolloutSession {
	baseline := domain.MetricSample{
		Source:         domain.SourceBaseline,
		ErrorRate:      0.008,
		ResponseTimeMs: 450,
		Throughput:     1250,
	}
	cfg := domain.DefaultRolloutConfig()
	cfg.CheckInterval = 30 * time.Second
	cfg.WarmupPeriod = 60 * time.Second
	return domain.RolloutSession{
		ID:        "s1",
		ServiceID: "checkout",
		Version:   "v2.3.0",
		Stages:    stages,
		Status:    domain.StatusInitializing,
		Baseline:  &baseline,
		Config:    cfg,
	}
}

func TestRollout_AllHealthyCompletesInOrder(t *testing.T) {
	// Five stages, one sample each, every sample healthy: the session
	// completes and traffic shifts ascend through every stage exactly once.
	session := testSession(canaryStages(30*time.Second, 5, 10, 25, 50, 100))
	h := newWorkflowHarness(t, session)

	runner := &syncTestRunner{ctx: context.Background()}
	outcome, err := h.wf.Run(runner, "s1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Status != domain.StatusCompleted {
		t.Fatalf("outcome = %+v, want Completed", outcome)
	}

	want := []int{5, 10, 25, 50, 100}
	got := h.router.calls()
	if len(got) != len(want) {
		t.Fatalf("traffic shifts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("traffic shifts = %v, want %v", got, want)
		}
	}

	final, _ := h.repo.Get(context.Background(), "s1")
	if final.Status != domain.StatusCompleted {
		t.Errorf("persisted status = %s, want %s", final.Status, domain.StatusCompleted)
	}
	if final.CurrentStageIndex != 4 {
		t.Errorf("CurrentStageIndex = %d, want 4", final.CurrentStageIndex)
	}
	if len(final.Samples) != 5 {
		t.Errorf("samples = %d, want 5", len(final.Samples))
	}
	for i, s := range final.Samples {
		if s.Source == domain.SourceBaseline {
			t.Errorf("sample %d tagged as baseline", i)
		}
	}
}

func TestRollout_WarmupPrecedesFirstSample(t *testing.T) {
	session := testSession(canaryStages(30*time.Second, 100))
	h := newWorkflowHarness(t, session)

	runner := &syncTestRunner{ctx: context.Background()}
	rec := &recordingRunner{delegate: runner}
	if _, err := h.wf.Run(rec, "s1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(runner.sleeps) != 1 || runner.sleeps[0] != 60*time.Second {
		t.Errorf("sleeps = %v, want one 60s warm-up", runner.sleeps)
	}

	shiftAt, sampleAt := -1, -1
	for i, name := range rec.names {
		if name == "shift-traffic" && shiftAt < 0 {
			shiftAt = i
		}
		if name == "sample-metrics" && sampleAt < 0 {
			sampleAt = i
		}
	}
	if shiftAt < 0 || sampleAt < 0 || shiftAt >= sampleAt {
		t.Errorf("activity order %v: shift-traffic must precede sample-metrics", rec.names)
	}
}

func TestRollout_DwellControlsSampleCount(t *testing.T) {
	// 90s dwell at a 30s interval means three samples and two interval
	// sleeps after the warm-up.
	session := testSession(canaryStages(90*time.Second, 100))
	h := newWorkflowHarness(t, session)

	runner := &syncTestRunner{ctx: context.Background()}
	if _, err := h.wf.Run(runner, "s1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final, _ := h.repo.Get(context.Background(), "s1")
	if len(final.Samples) != 3 {
		t.Errorf("samples = %d, want 3", len(final.Samples))
	}
	if len(runner.sleeps) != 3 {
		t.Errorf("sleeps = %v, want warm-up plus two interval sleeps", runner.sleeps)
	}
}

func TestRollout_ConsecutiveFailuresRollBack(t *testing.T) {
	// Healthy through 5% and 10%, then three consecutive unhealthy samples
	// at 25%: the rollout rolls back without ever shifting past 25%.
	session := testSession(canaryStages(90*time.Second, 5, 10, 25, 50, 100))
	h := newWorkflowHarness(t, session)
	h.metrics.samples = append(repeat(healthySample(), 6), unhealthySample())

	runner := &syncTestRunner{ctx: context.Background()}
	outcome, err := h.wf.Run(runner, "s1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Status != domain.StatusRolledBack {
		t.Fatalf("outcome = %+v, want RolledBack", outcome)
	}
	if !strings.Contains(outcome.Reason, "3 consecutive unhealthy samples") {
		t.Errorf("Reason = %q, want consecutive-failure explanation", outcome.Reason)
	}

	calls := h.router.calls()
	rollbacks := 0
	for _, p := range calls {
		if p > 25 {
			t.Errorf("traffic shifted to %d%% after failures began (calls %v)", p, calls)
		}
		if p == 0 {
			rollbacks++
		}
	}
	if rollbacks != 1 {
		t.Errorf("rollback calls = %d, want exactly 1 (calls %v)", rollbacks, calls)
	}
	if calls[len(calls)-1] != 0 {
		t.Errorf("last call = %d, want rollback to 0 (calls %v)", calls[len(calls)-1], calls)
	}

	final, _ := h.repo.Get(context.Background(), "s1")
	if final.Status != domain.StatusRolledBack {
		t.Errorf("persisted status = %s, want %s", final.Status, domain.StatusRolledBack)
	}
	if final.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", final.ConsecutiveFailures)
	}
}

func TestRollout_HealthySampleResetsFailureCount(t *testing.T) {
	// Failures interleaved with healthy samples never reach the threshold,
	// so the rollout completes despite six unhealthy samples total.
	session := testSession(canaryStages(270*time.Second, 100))
	h := newWorkflowHarness(t, session)
	h.metrics.samples = []domain.MetricSample{
		unhealthySample(), unhealthySample(), healthySample(),
		unhealthySample(), unhealthySample(), healthySample(),
		unhealthySample(), unhealthySample(), healthySample(),
	}

	outcome, err := h.wf.Run(&syncTestRunner{ctx: context.Background()}, "s1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != domain.StatusCompleted {
		t.Fatalf("outcome = %+v, want Completed", outcome)
	}

	final, _ := h.repo.Get(context.Background(), "s1")
	if final.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after trailing healthy sample", final.ConsecutiveFailures)
	}
}

func TestRollout_TrafficShiftFailureRollsBack(t *testing.T) {
	session := testSession(canaryStages(30*time.Second, 5, 10, 100))
	h := newWorkflowHarness(t, session)
	h.router.failOn[10] = true

	outcome, err := h.wf.Run(&syncTestRunner{ctx: context.Background()}, "s1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Status != domain.StatusRolledBack {
		t.Fatalf("outcome = %+v, want RolledBack", outcome)
	}
	if !strings.Contains(outcome.Reason, "traffic shift to 10%") {
		t.Errorf("Reason = %q, want traffic-shift explanation", outcome.Reason)
	}

	calls := h.router.calls()
	if calls[len(calls)-1] != 0 {
		t.Errorf("last call = %d, want rollback to 0 (calls %v)", calls[len(calls)-1], calls)
	}
}

func TestRollout_RollbackFailureEndsFailed(t *testing.T) {
	session := testSession(canaryStages(30*time.Second, 5, 100))
	h := newWorkflowHarness(t, session)
	h.router.failOn[5] = true
	h.router.failOn[0] = true

	outcome, err := h.wf.Run(&syncTestRunner{ctx: context.Background()}, "s1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Status != domain.StatusFailed {
		t.Fatalf("outcome = %+v, want Failed", outcome)
	}
	if !strings.Contains(outcome.Reason, "rollback failed") {
		t.Errorf("Reason = %q, want rollback-failure explanation", outcome.Reason)
	}

	rollbacks := 0
	for _, p := range h.router.calls() {
		if p == 0 {
			rollbacks++
		}
	}
	if rollbacks != 3 {
		t.Errorf("rollback attempts = %d, want 3", rollbacks)
	}

	final, _ := h.repo.Get(context.Background(), "s1")
	if final.Status != domain.StatusFailed {
		t.Errorf("persisted status = %s, want %s", final.Status, domain.StatusFailed)
	}
}

func TestRollout_CancellationRollsBack(t *testing.T) {
	session := testSession(canaryStages(30*time.Second, 5, 100))
	h := newWorkflowHarness(t, session)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := h.wf.Run(&syncTestRunner{ctx: ctx}, "s1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Status != domain.StatusRolledBack {
		t.Fatalf("outcome = %+v, want RolledBack", outcome)
	}
	if !strings.Contains(outcome.Reason, "canceled") {
		t.Errorf("Reason = %q, want cancellation explanation", outcome.Reason)
	}

	// Cancellation was observed before any shift, so the only router call
	// is the rollback itself.
	calls := h.router.calls()
	if len(calls) != 1 || calls[0] != 0 {
		t.Errorf("router calls = %v, want only a rollback to 0", calls)
	}
}

func TestRollout_MetricsExhaustionRollsBack(t *testing.T) {
	session := testSession(canaryStages(30*time.Second, 5, 100))
	h := newWorkflowHarness(t, session)
	h.wf.Metrics = &flakySource{failures: 1000}
	h.wf.SampleRetries = 1

	outcome, err := h.wf.Run(&syncTestRunner{ctx: context.Background()}, "s1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Status != domain.StatusRolledBack {
		t.Fatalf("outcome = %+v, want RolledBack", outcome)
	}
	if !strings.Contains(outcome.Reason, "metrics source unavailable") {
		t.Errorf("Reason = %q, want metrics-unavailable explanation", outcome.Reason)
	}
}

func TestRollout_ResumesFromPersistedStageIndex(t *testing.T) {
	// A session reloaded at stage index 2 skips the earlier stages.
	session := testSession(canaryStages(30*time.Second, 5, 10, 25, 50, 100))
	session.CurrentStageIndex = 2
	h := newWorkflowHarness(t, session)

	outcome, err := h.wf.Run(&syncTestRunner{ctx: context.Background()}, "s1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Status != domain.StatusCompleted {
		t.Fatalf("outcome = %+v, want Completed", outcome)
	}

	calls := h.router.calls()
	want := []int{25, 50, 100}
	if len(calls) != len(want) {
		t.Fatalf("traffic shifts = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("traffic shifts = %v, want %v", calls, want)
		}
	}
}
