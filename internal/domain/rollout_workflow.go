package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ShiftTrafficInput is the input to the shift-traffic activity.
type ShiftTrafficInput struct {
	ServiceID string `json:"serviceId"`
	Percent   int    `json:"percent"`
}

// SampleMetricsInput is the input to the sample-metrics activity.
type SampleMetricsInput struct {
	SessionID SessionID `json:"sessionId"`
	ServiceID string    `json:"serviceId"`
	Source    string    `json:"source"`
}

// EvaluateHealthInput is the input to the evaluate-health activity.
type EvaluateHealthInput struct {
	SessionID  SessionID        `json:"sessionId"`
	Sample     MetricSample     `json:"sample"`
	Baseline   *MetricSample    `json:"baseline,omitempty"`
	Thresholds HealthThresholds `json:"thresholds"`
}

// RollbackInput is the input to the roll-back activity.
type RollbackInput struct {
	ServiceID string `json:"serviceId"`
}

// RolloutWorkflow drives one rollout session through its stage list:
// shift traffic, wait out the warm-up, then sample and evaluate on the
// check interval until the dwell elapses or the failure threshold forces
// a rollback. All I/O runs as named activities through a [DurableRunner]
// so the same loop executes on the synchronous engine or a durable one.
//
// Exactly one logical thread of control drives a session; concurrent
// sessions for different services are fully independent.
type RolloutWorkflow struct {
	Sessions SessionRepository
	Router   TrafficRouter
	Metrics  MetricsSource
	Logger   *slog.Logger

	// ShiftTimeout bounds each traffic-shift call. Defaults to 30s.
	ShiftTimeout time.Duration
	// SampleTimeout bounds each metrics read. Defaults to 10s.
	SampleTimeout time.Duration
	// SampleRetries bounds retries per sample beyond the first attempt.
	// Defaults to 3.
	SampleRetries uint64
	// RetryInterval seeds the sampling backoff. Defaults to 1s.
	RetryInterval time.Duration
	// RollbackAttempts bounds rollback calls before giving up and
	// surfacing a rollback failure. Defaults to 3.
	RollbackAttempts int
}

// Name returns the stable workflow registration name.
func (w *RolloutWorkflow) Name() string { return "rollout" }

// Run executes the control loop for the given session. It always returns a
// terminal outcome unless workflow plumbing itself fails. Cancellation is
// observed between steps, never during an in-flight traffic shift, and
// behaves like an abort: traffic is reverted and the session ends
// RolledBack.
func (w *RolloutWorkflow) Run(runner DurableRunner, sessionID SessionID) (RolloutOutcome, error) {
	session, err := RunActivity(runner, w.LoadSession(), sessionID)
	if err != nil {
		return RolloutOutcome{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if err := session.Transition(StatusRunning); err != nil {
		return RolloutOutcome{}, err
	}
	if err := w.save(runner, session); err != nil {
		return RolloutOutcome{}, err
	}

	for i := session.CurrentStageIndex; i < len(session.Stages); i++ {
		stage := session.Stages[i]
		session.CurrentStageIndex = i
		if err := w.save(runner, session); err != nil {
			return RolloutOutcome{}, err
		}

		if runner.Context().Err() != nil {
			return w.abort(runner, &session, "rollout canceled")
		}

		shift := ShiftTrafficInput{ServiceID: session.ServiceID, Percent: stage.TrafficPercent}
		if _, err := RunActivity(runner, w.ShiftTraffic(), shift); err != nil {
			return w.abort(runner, &session,
				fmt.Sprintf("traffic shift to %d%% failed: %v", stage.TrafficPercent, err))
		}

		if err := runner.Sleep(session.Config.WarmupPeriod); err != nil {
			return w.abort(runner, &session, "rollout canceled")
		}

		iterations := sampleIterations(stage.Dwell, session.Config.CheckInterval)
		for n := 0; n < iterations; n++ {
			if runner.Context().Err() != nil {
				return w.abort(runner, &session, "rollout canceled")
			}

			sample, err := RunActivity(runner, w.SampleMetrics(), SampleMetricsInput{
				SessionID: session.ID,
				ServiceID: session.ServiceID,
				Source:    stage.Name,
			})
			if err != nil {
				return w.abort(runner, &session,
					fmt.Sprintf("metrics source unavailable at stage %q: %v", stage.Name, err))
			}

			verdict, err := RunActivity(runner, w.EvaluateHealth(), EvaluateHealthInput{
				SessionID:  session.ID,
				Sample:     sample,
				Baseline:   session.Baseline,
				Thresholds: session.Config.Thresholds,
			})
			if err != nil {
				return w.abort(runner, &session,
					fmt.Sprintf("health evaluation failed at stage %q: %v", stage.Name, err))
			}

			if verdict.Healthy {
				session.ConsecutiveFailures = 0
			} else {
				session.ConsecutiveFailures++
			}
			if err := w.save(runner, session); err != nil {
				return RolloutOutcome{}, err
			}
			if session.ConsecutiveFailures >= session.Config.FailureThreshold {
				return w.abort(runner, &session, fmt.Sprintf(
					"%d consecutive unhealthy samples at stage %q: %v",
					session.ConsecutiveFailures, stage.Name, verdict.Errors))
			}

			if n < iterations-1 {
				if err := runner.Sleep(session.Config.CheckInterval); err != nil {
					return w.abort(runner, &session, "rollout canceled")
				}
			}
		}
	}

	if err := session.Transition(StatusCompleted); err != nil {
		return RolloutOutcome{}, err
	}
	if err := w.save(runner, session); err != nil {
		return RolloutOutcome{}, err
	}
	return RolloutOutcome{Status: StatusCompleted}, nil
}

// abort reverts traffic and finalises the session. A successful revert ends
// the session RolledBack; a failed revert ends it Failed, which callers map
// to ErrRollbackFailed for manual intervention.
func (w *RolloutWorkflow) abort(runner DurableRunner, session *RolloutSession, reason string) (RolloutOutcome, error) {
	_, rbErr := RunActivity(runner, w.Rollback(), RollbackInput{ServiceID: session.ServiceID})
	if rbErr != nil {
		reason = fmt.Sprintf("%s; rollback failed: %v", reason, rbErr)
		if err := session.Transition(StatusFailed); err != nil {
			return RolloutOutcome{}, err
		}
		if err := w.save(runner, *session); err != nil {
			return RolloutOutcome{}, err
		}
		return RolloutOutcome{Status: StatusFailed, Reason: reason}, nil
	}

	if err := session.Transition(StatusRolledBack); err != nil {
		return RolloutOutcome{}, err
	}
	if err := w.save(runner, *session); err != nil {
		return RolloutOutcome{}, err
	}
	return RolloutOutcome{Status: StatusRolledBack, Reason: reason}, nil
}

func (w *RolloutWorkflow) save(runner DurableRunner, session RolloutSession) error {
	if _, err := RunActivity(runner, w.SaveSession(), session); err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// sampleIterations returns how many samples cover the dwell at the given
// interval. Computed from durations rather than a wall clock so the
// workflow body stays deterministic under replay.
func sampleIterations(dwell, interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	n := int((dwell + interval - 1) / interval)
	if n < 1 {
		return 1
	}
	return n
}

// LoadSession returns the load-session activity.
func (w *RolloutWorkflow) LoadSession() Activity[SessionID, RolloutSession] {
	return NewActivity("load-session", func(ctx context.Context, id SessionID) (RolloutSession, error) {
		return w.Sessions.Get(ctx, id)
	})
}

// SaveSession returns the save-session activity. The write is detached
// from workflow cancellation so that a canceled rollout can still record
// its terminal state.
func (w *RolloutWorkflow) SaveSession() Activity[RolloutSession, struct{}] {
	return NewActivity("save-session", func(ctx context.Context, s RolloutSession) (struct{}, error) {
		s.UpdatedAt = time.Now().UTC()
		return struct{}{}, w.Sessions.Update(context.WithoutCancel(ctx), s)
	})
}

// ShiftTraffic returns the shift-traffic activity. The router contract is
// idempotent, so at-least-once execution of the same percentage is safe.
func (w *RolloutWorkflow) ShiftTraffic() Activity[ShiftTrafficInput, struct{}] {
	return NewActivity("shift-traffic", func(ctx context.Context, in ShiftTrafficInput) (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, w.shiftTimeout())
		defer cancel()
		w.logger().Info("shifting traffic",
			slog.String("service", in.ServiceID), slog.Int("percent", in.Percent))
		return struct{}{}, w.Router.SetTrafficPercent(ctx, in.ServiceID, in.Percent)
	})
}

// SampleMetrics returns the sample-metrics activity: one retried read from
// the metrics source, appended to the session's sample sequence.
func (w *RolloutWorkflow) SampleMetrics() Activity[SampleMetricsInput, MetricSample] {
	return NewActivity("sample-metrics", func(ctx context.Context, in SampleMetricsInput) (MetricSample, error) {
		sample, err := SampleWithRetry(ctx, w.Metrics, in.ServiceID,
			w.sampleTimeout(), w.sampleRetries(), w.retryInterval())
		if err != nil {
			return MetricSample{}, err
		}
		sample.Source = in.Source
		if err := w.Sessions.AppendSample(ctx, in.SessionID, sample); err != nil {
			return MetricSample{}, fmt.Errorf("append sample: %w", err)
		}
		return sample, nil
	})
}

// EvaluateHealth returns the evaluate-health activity. Evaluation is pure
// today; it still runs as an activity so future evaluators may perform I/O
// safely, and so warnings are logged once rather than on every replay.
func (w *RolloutWorkflow) EvaluateHealth() Activity[EvaluateHealthInput, HealthVerdict] {
	return NewActivity("evaluate-health", func(_ context.Context, in EvaluateHealthInput) (HealthVerdict, error) {
		verdict := HealthEvaluator{Thresholds: in.Thresholds}.Analyze(in.Sample, in.Baseline)
		for _, warning := range verdict.Warnings {
			w.logger().Warn("health warning",
				slog.String("session", string(in.SessionID)),
				slog.String("source", in.Sample.Source),
				slog.String("warning", warning))
		}
		for _, violation := range verdict.Errors {
			w.logger().Error("health violation",
				slog.String("session", string(in.SessionID)),
				slog.String("source", in.Sample.Source),
				slog.String("violation", violation))
		}
		return verdict, nil
	})
}

// Rollback returns the roll-back activity: revert traffic to 0% with a
// bounded number of attempts. The call is detached from the incoming
// context because rollback must proceed even when the rollout itself was
// canceled.
func (w *RolloutWorkflow) Rollback() Activity[RollbackInput, struct{}] {
	return NewActivity("roll-back", func(ctx context.Context, in RollbackInput) (struct{}, error) {
		var lastErr error
		for attempt := 1; attempt <= w.rollbackAttempts(); attempt++ {
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.shiftTimeout())
			lastErr = w.Router.SetTrafficPercent(callCtx, in.ServiceID, 0)
			cancel()
			if lastErr == nil {
				w.logger().Info("rolled back traffic", slog.String("service", in.ServiceID))
				return struct{}{}, nil
			}
			w.logger().Warn("rollback attempt failed",
				slog.String("service", in.ServiceID),
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr))
		}
		return struct{}{}, fmt.Errorf("%w: %v", ErrRollbackFailed, lastErr)
	})
}

func (w *RolloutWorkflow) shiftTimeout() time.Duration {
	if w.ShiftTimeout > 0 {
		return w.ShiftTimeout
	}
	return 30 * time.Second
}

func (w *RolloutWorkflow) sampleTimeout() time.Duration {
	if w.SampleTimeout > 0 {
		return w.SampleTimeout
	}
	return 10 * time.Second
}

func (w *RolloutWorkflow) sampleRetries() uint64 {
	if w.SampleRetries > 0 {
		return w.SampleRetries
	}
	return 3
}

func (w *RolloutWorkflow) retryInterval() time.Duration {
	if w.RetryInterval > 0 {
		return w.RetryInterval
	}
	return time.Second
}

func (w *RolloutWorkflow) rollbackAttempts() int {
	if w.RollbackAttempts > 0 {
		return w.RollbackAttempts
	}
	return 3
}

func (w *RolloutWorkflow) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
