package application

import (
	"context"
	"fmt"

	"github.com/canarygate/canarygate/internal/domain"
)

// RolloutOrchestrator drives one rollout session through the staged
// delivery workflow.
type RolloutOrchestrator struct {
	Workflow domain.RolloutRunner
}

// Orchestrate starts the rollout workflow for the session and waits for
// its terminal outcome.
func (o *RolloutOrchestrator) Orchestrate(ctx context.Context, sessionID domain.SessionID) (domain.RolloutOutcome, error) {
	handle, err := o.Workflow.Run(ctx, sessionID)
	if err != nil {
		return domain.RolloutOutcome{}, fmt.Errorf("start rollout workflow: %w", err)
	}
	return handle.AwaitResult(ctx)
}
