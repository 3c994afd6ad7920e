package domain

import (
	"fmt"
	"time"
)

// RolloutStage is one step of a progressive rollout: a traffic-percentage
// target held for a fixed dwell duration. Stages are defined before the
// rollout starts and never mutated.
type RolloutStage struct {
	Name           string        `json:"name"`
	TrafficPercent int           `json:"trafficPercent"`
	Dwell          time.Duration `json:"dwell"`
}

// ValidateStages checks a stage list for use in a rollout: percentages in
// [0, 100] and non-decreasing, positive dwells, and a terminal 100% stage.
func ValidateStages(stages []RolloutStage) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: at least one stage is required", ErrInvalidArgument)
	}

	prev := -1
	for i, s := range stages {
		if s.Name == "" {
			return fmt.Errorf("%w: stage %d has no name", ErrInvalidArgument, i)
		}
		if s.TrafficPercent < 0 || s.TrafficPercent > 100 {
			return fmt.Errorf("%w: stage %q traffic percent %d outside [0, 100]",
				ErrInvalidArgument, s.Name, s.TrafficPercent)
		}
		if s.TrafficPercent < prev {
			return fmt.Errorf("%w: stage %q decreases traffic from %d%% to %d%%",
				ErrInvalidArgument, s.Name, prev, s.TrafficPercent)
		}
		if s.Dwell <= 0 {
			return fmt.Errorf("%w: stage %q dwell must be positive", ErrInvalidArgument, s.Name)
		}
		prev = s.TrafficPercent
	}

	if stages[len(stages)-1].TrafficPercent != 100 {
		return fmt.Errorf("%w: final stage must shift 100%% of traffic", ErrInvalidArgument)
	}
	return nil
}
