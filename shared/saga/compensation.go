package saga

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mercato/order-system/shared/models"
)

// CompensationAction is an undo operation registered after a forward step
// succeeds. Actions stay on the workflow's stack in push order and are only
// drained during rollback.
type CompensationAction struct {
	ID       models.ID
	Name     string
	StepName string
	Action   func(ctx context.Context) error
	Executed bool
	Error    string
}

// NewCompensationAction creates a compensation action for a completed step.
func NewCompensationAction(name, stepName string, action func(ctx context.Context) error) *CompensationAction {
	return &CompensationAction{
		ID:       models.GenerateUUID(),
		Name:     name,
		StepName: stepName,
		Action:   action,
	}
}

// CompensationResult is the outcome of one executed compensation.
type CompensationResult struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// FailedCount returns how many compensations in results failed.
func FailedCount(results []CompensationResult) int {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	return failed
}

// CompensationRunner executes a workflow's compensation stack in reverse
// order. Each action runs under its own timeout; a failure never stops the
// remaining actions.
type CompensationRunner struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewCompensationRunner creates a runner with a per-action timeout.
func NewCompensationRunner(timeout time.Duration, logger zerolog.Logger) *CompensationRunner {
	return &CompensationRunner{
		timeout: timeout,
		logger:  logger.With().Str("component", "compensation-runner").Logger(),
	}
}

// RunAll executes actions last-pushed first and aggregates per-action
// results. All actions are attempted regardless of individual failures.
func (r *CompensationRunner) RunAll(ctx context.Context, actions []*CompensationAction) []CompensationResult {
	results := make([]CompensationResult, 0, len(actions))

	for i := len(actions) - 1; i >= 0; i-- {
		action := actions[i]

		r.logger.Info().
			Str("compensation", action.Name).
			Str("step", action.StepName).
			Msg("executing compensation")

		if err := r.runOne(ctx, action); err != nil {
			action.Executed = false
			action.Error = err.Error()
			results = append(results, CompensationResult{
				Action:  action.Name,
				Success: false,
				Error:   err.Error(),
			})

			r.logger.Error().
				Str("compensation", action.Name).
				Err(err).
				Msg("compensation failed")
			continue
		}

		action.Executed = true
		results = append(results, CompensationResult{
			Action:  action.Name,
			Success: true,
		})
	}

	return results
}

func (r *CompensationRunner) runOne(ctx context.Context, action *CompensationAction) error {
	if action.Action == nil {
		return errors.New("compensation has no action")
	}

	actionCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- action.Action(actionCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-actionCtx.Done():
		return errors.Wrapf(actionCtx.Err(), "compensation %s timed out", action.Name)
	}
}
