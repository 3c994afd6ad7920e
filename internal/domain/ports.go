package domain

import "context"

// TrafficRouter is the port through which the rollout loop shifts traffic
// between the stable and candidate versions of a service. Implementations
// must be idempotent: repeating a call with the same percentage leaves the
// router in the same state.
type TrafficRouter interface {
	SetTrafficPercent(ctx context.Context, serviceID string, percent int) error
}

// MetricsSource is the port through which the rollout loop reads live
// health metrics for a service.
type MetricsSource interface {
	Sample(ctx context.Context, serviceID string) (MetricSample, error)
}

// SessionRepository persists rollout session snapshots for crash recovery
// and status queries.
type SessionRepository interface {
	Create(ctx context.Context, s RolloutSession) error
	// Get returns the session with its full ordered sample history.
	Get(ctx context.Context, id SessionID) (RolloutSession, error)
	// List returns all sessions without their sample histories.
	List(ctx context.Context) ([]RolloutSession, error)
	// Update replaces the session snapshot; samples are written only
	// through AppendSample.
	Update(ctx context.Context, s RolloutSession) error
	// AppendSample adds one sample to the session's append-only sequence.
	AppendSample(ctx context.Context, id SessionID, sample MetricSample) error
	Delete(ctx context.Context, id SessionID) error
}
