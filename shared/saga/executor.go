package saga

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mercato/order-system/shared/backoff"
	"github.com/mercato/order-system/shared/messaging"
	"github.com/mercato/order-system/shared/models"
)

// StepConfig describes one remote step invocation.
type StepConfig struct {
	Name        string
	Queue       string
	Timeout     time.Duration
	MaxAttempts int
}

// StepResult is the successful outcome of a step.
type StepResult struct {
	Step string
	Data map[string]interface{}
}

// Executor sends step commands over the bus and awaits correlated replies.
// Timeouts are retried with backoff on the assumption they are transient;
// explicit error replies are business rejections and fail immediately.
type Executor struct {
	registry  *Registry
	publisher messaging.CommandPublisher
	replyTo   string
	strategy  backoff.Strategy
	logger    zerolog.Logger
}

// NewExecutor creates a step executor replying on the given reply queue.
func NewExecutor(
	registry *Registry,
	publisher messaging.CommandPublisher,
	replyTo string,
	strategy backoff.Strategy,
	logger zerolog.Logger,
) *Executor {
	return &Executor{
		registry:  registry,
		publisher: publisher,
		replyTo:   replyTo,
		strategy:  strategy,
		logger:    logger.With().Str("component", "step-executor").Logger(),
	}
}

// ExecuteStep runs one step to completion: publish the command, wait for the
// correlated reply or the per-attempt timeout, retrying timed-out attempts
// until MaxAttempts is exhausted.
func (e *Executor) ExecuteStep(
	ctx context.Context,
	config StepConfig,
	payload map[string]interface{},
	workflowID string,
) (*StepResult, error) {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.strategy.Delay(attempt)
			e.logger.Info().
				Str("workflow_id", workflowID).
				Str("step", config.Name).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("waiting before step retry")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, retryable, err := e.attempt(ctx, config, payload, workflowID)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		e.logger.Warn().
			Str("workflow_id", workflowID).
			Str("step", config.Name).
			Int("attempt", attempt+1).
			Err(err).
			Msg("step attempt failed")
	}

	return nil, errors.Wrapf(lastErr, "step %s failed after %d attempts", config.Name, config.MaxAttempts)
}

// attempt performs a single publish-and-wait cycle. The second return value
// reports whether the failure may be retried.
func (e *Executor) attempt(
	ctx context.Context,
	config StepConfig,
	payload map[string]interface{},
	workflowID string,
) (*StepResult, bool, error) {
	correlationID := models.GenerateUUID().String()

	outcome, err := e.registry.Register(correlationID, config.Name, workflowID)
	if err != nil {
		return nil, false, err
	}

	command := messaging.NewCommand(workflowID, config.Name, correlationID, e.replyTo, payload)
	if err := e.publisher.Send(ctx, config.Queue, command); err != nil {
		e.registry.Expire(correlationID)
		return nil, true, errors.Wrapf(err, "failed to publish step %s command", config.Name)
	}

	timer := time.NewTimer(config.Timeout)
	defer timer.Stop()

	select {
	case out := <-outcome:
		return e.finish(config.Name, out)

	case <-timer.C:
		if !e.registry.Expire(correlationID) {
			// The reply won the race against the timer; the outcome is
			// already buffered.
			return e.finish(config.Name, <-outcome)
		}
		return nil, true, errors.Errorf("step %s timed out after %s", config.Name, config.Timeout)

	case <-ctx.Done():
		e.registry.Expire(correlationID)
		return nil, false, ctx.Err()
	}
}

func (e *Executor) finish(stepName string, out StepOutcome) (*StepResult, bool, error) {
	if out.Err != nil {
		return nil, false, errors.Wrapf(out.Err, "step %s failed", stepName)
	}
	return &StepResult{Step: stepName, Data: out.Data}, false, nil
}
