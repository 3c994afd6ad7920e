package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/canarygate/canarygate/internal/domain"
	"github.com/canarygate/canarygate/internal/metrics"
)

// StartInput is the caller-provided input for starting a rollout.
type StartInput struct {
	ServiceID string
	Version   string
	Stages    []domain.RolloutStage
	// Config overrides the controller defaults when non-nil.
	Config *domain.RolloutConfig
}

// RolloutService manages rollout session lifecycle: it creates sessions,
// collects the pre-shift baseline, and drives the staged delivery workflow
// to a terminal state.
type RolloutService struct {
	Sessions      domain.SessionRepository
	Baseline      *domain.BaselineCollector
	Orchestration *RolloutOrchestrator
	Logger        *slog.Logger

	// Defaults is the control-loop configuration applied when a request
	// does not carry its own. Nil means the built-in defaults.
	Defaults *domain.RolloutConfig

	mu      sync.Mutex
	cancels map[domain.SessionID]context.CancelFunc
}

// Start validates the request, persists a new session, collects the
// baseline, and runs the rollout workflow to completion. The returned
// session carries a terminal status unless an error is returned.
func (s *RolloutService) Start(ctx context.Context, in StartInput) (domain.RolloutSession, error) {
	if in.ServiceID == "" {
		return domain.RolloutSession{}, fmt.Errorf("%w: service ID is required", domain.ErrInvalidArgument)
	}
	if in.Version == "" {
		return domain.RolloutSession{}, fmt.Errorf("%w: version is required", domain.ErrInvalidArgument)
	}
	if err := domain.ValidateStages(in.Stages); err != nil {
		return domain.RolloutSession{}, err
	}

	cfg := s.defaultConfig()
	if in.Config != nil {
		cfg = *in.Config
	}
	if err := cfg.Validate(); err != nil {
		return domain.RolloutSession{}, err
	}

	now := time.Now().UTC()
	session := domain.RolloutSession{
		ID:        domain.SessionID(uuid.NewString()),
		ServiceID: in.ServiceID,
		Version:   in.Version,
		Stages:    in.Stages,
		Status:    domain.StatusInitializing,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Sessions.Create(ctx, session); err != nil {
		return domain.RolloutSession{}, fmt.Errorf("create session: %w", err)
	}

	baseline, err := s.Baseline.Collect(ctx, in.ServiceID)
	if err != nil {
		s.logger().Error("baseline collection failed",
			slog.String("session", string(session.ID)),
			slog.String("service", in.ServiceID),
			slog.Any("error", err))
		if terr := session.Transition(domain.StatusFailed); terr == nil {
			session.UpdatedAt = time.Now().UTC()
			if uerr := s.Sessions.Update(ctx, session); uerr != nil {
				s.logger().Error("persist failed session",
					slog.String("session", string(session.ID)), slog.Any("error", uerr))
			}
		}
		return session, fmt.Errorf("start rollout %s: %w", session.ID, err)
	}
	session.Baseline = &baseline
	session.UpdatedAt = time.Now().UTC()
	if err := s.Sessions.Update(ctx, session); err != nil {
		return domain.RolloutSession{}, fmt.Errorf("persist baseline: %w", err)
	}

	runCtx := s.register(ctx, session.ID)
	defer s.unregister(session.ID)

	started := time.Now()
	outcome, err := s.Orchestration.Orchestrate(runCtx, session.ID)
	if err != nil {
		metrics.ObserveRollout(time.Since(started), "error")
		return domain.RolloutSession{}, fmt.Errorf("rollout %s: %w", session.ID, err)
	}
	metrics.ObserveRollout(time.Since(started), string(outcome.Status))

	final, err := s.Sessions.Get(ctx, session.ID)
	if err != nil {
		return domain.RolloutSession{}, fmt.Errorf("load final session: %w", err)
	}
	if outcome.Status == domain.StatusFailed {
		return final, fmt.Errorf("%w: session %s: %s", domain.ErrRollbackFailed, session.ID, outcome.Reason)
	}
	return final, nil
}

// Get retrieves a session with its full sample history.
func (s *RolloutService) Get(ctx context.Context, id domain.SessionID) (domain.RolloutSession, error) {
	return s.Sessions.Get(ctx, id)
}

// List returns all sessions without sample histories.
func (s *RolloutService) List(ctx context.Context) ([]domain.RolloutSession, error) {
	return s.Sessions.List(ctx)
}

// Cancel requests cooperative cancellation of a running session. The
// workflow observes the cancellation between steps and rolls back.
func (s *RolloutService) Cancel(ctx context.Context, id domain.SessionID) error {
	session, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return fmt.Errorf("%w: session %s is already %s", domain.ErrInvalidArgument, id, session.Status)
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: session %s is not running in this process", domain.ErrNotFound, id)
	}

	s.logger().Info("canceling rollout", slog.String("session", string(id)))
	cancel()
	return nil
}

func (s *RolloutService) register(ctx context.Context, id domain.SessionID) context.Context {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancels == nil {
		s.cancels = make(map[domain.SessionID]context.CancelFunc)
	}
	s.cancels[id] = cancel
	s.mu.Unlock()
	return runCtx
}

func (s *RolloutService) unregister(id domain.SessionID) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	delete(s.cancels, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *RolloutService) defaultConfig() domain.RolloutConfig {
	if s.Defaults != nil {
		return *s.Defaults
	}
	return domain.DefaultRolloutConfig()
}

func (s *RolloutService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
