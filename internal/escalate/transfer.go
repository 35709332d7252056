package escalate

import (
	"context"
	"time"

	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/pkg/types"
)

// Transfer is the warm hand-off collaborator. Initiate receives the sanitized
// context summary and returns the outcome of one attempt; only CONNECTED
// completes a plan.
type Transfer interface {
	Initiate(ctx context.Context, summary string) (types.TransferStatus, error)
}

// TransferFunc adapts a function to the Transfer interface.
type TransferFunc func(ctx context.Context, summary string) (types.TransferStatus, error)

func (f TransferFunc) Initiate(ctx context.Context, summary string) (types.TransferStatus, error) {
	return f(ctx, summary)
}

// SimulatedTransfer stands in for a real crisis-team integration. It reports
// every hand-off as connected so plans resolve deterministically in
// deployments without a configured transfer backend.
type SimulatedTransfer struct {
	// Delay is applied before the transfer connects.
	Delay time.Duration
}

func (s *SimulatedTransfer) Initiate(ctx context.Context, summary string) (types.TransferStatus, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return types.TransferFailed, ctx.Err()
		}
	}
	logging.Info().Int("summaryLen", len(summary)).Msg("simulated warm transfer connected")
	return types.TransferConnected, nil
}
