package application

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mercato/order-system/orchestrator-service/domain"
)

// SweepWorkflows removes terminal workflow instances older than the
// retention threshold to bound orchestrator memory.
type SweepWorkflows struct {
	repository domain.WorkflowRepository
	maxAge     time.Duration
	logger     zerolog.Logger
}

// NewSweepWorkflows creates a new SweepWorkflows use case
func NewSweepWorkflows(repository domain.WorkflowRepository, maxAge time.Duration, logger zerolog.Logger) *SweepWorkflows {
	return &SweepWorkflows{
		repository: repository,
		maxAge:     maxAge,
		logger:     logger.With().Str("component", "workflow-sweeper").Logger(),
	}
}

// Execute runs one sweep pass and returns how many workflows were removed.
func (uc *SweepWorkflows) Execute(ctx context.Context) (int, error) {
	removed, err := uc.repository.Sweep(ctx, uc.maxAge)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		uc.logger.Info().Int("removed", removed).Msg("swept terminal workflows")
	}
	return removed, nil
}

// Run sweeps periodically until ctx is cancelled.
func (uc *SweepWorkflows) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := uc.Execute(ctx); err != nil {
				uc.logger.Warn().Err(err).Msg("sweep failed")
			}
		}
	}
}
