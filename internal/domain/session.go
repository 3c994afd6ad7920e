package domain

import (
	"fmt"
	"time"
)

// SessionID identifies a rollout session.
type SessionID string

// RolloutStatus indicates the lifecycle state of a rollout session.
type RolloutStatus string

const (
	StatusInitializing RolloutStatus = "initializing"
	StatusRunning      RolloutStatus = "running"
	StatusCompleted    RolloutStatus = "completed"
	StatusRolledBack   RolloutStatus = "rolled_back"
	StatusFailed       RolloutStatus = "failed"
)

// Terminal reports whether the status is an end state. Terminal states are
// never re-entered or left.
func (s RolloutStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRolledBack, StatusFailed:
		return true
	}
	return false
}

// RolloutSession is the aggregate root for one progressive rollout of a
// service version. It is created when a rollout is requested, mutated only
// by the single control loop that drives it, and reaches exactly one
// terminal status.
type RolloutSession struct {
	ID                  SessionID      `json:"id"`
	ServiceID           string         `json:"serviceId"`
	Version             string         `json:"version"`
	Stages              []RolloutStage `json:"stages"`
	CurrentStageIndex   int            `json:"currentStageIndex"`
	Status              RolloutStatus  `json:"status"`
	Baseline            *MetricSample  `json:"baseline,omitempty"`
	Samples             []MetricSample `json:"samples,omitempty"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	Config              RolloutConfig  `json:"config"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// Transition moves the session to the next status. Only forward transitions
// are allowed: Initializing -> Running | Failed, and Running -> any terminal
// state. Everything else is rejected.
func (s *RolloutSession) Transition(next RolloutStatus) error {
	if s.Status == next {
		return nil
	}
	if s.Status.Terminal() {
		return fmt.Errorf("%w: session %s is already %s", ErrInvalidArgument, s.ID, s.Status)
	}

	switch s.Status {
	case StatusInitializing:
		if next != StatusRunning && next != StatusFailed {
			return fmt.Errorf("%w: cannot transition %s -> %s", ErrInvalidArgument, s.Status, next)
		}
	case StatusRunning:
		if !next.Terminal() {
			return fmt.Errorf("%w: cannot transition %s -> %s", ErrInvalidArgument, s.Status, next)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s.Status)
	}

	s.Status = next
	return nil
}

// RolloutOutcome is the terminal result of a rollout session as seen by the
// caller: the final status plus a human-readable reason for aborted runs.
type RolloutOutcome struct {
	Status RolloutStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}
