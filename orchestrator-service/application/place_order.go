package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mercato/order-system/orchestrator-service/domain"
	"github.com/mercato/order-system/shared/events"
	"github.com/mercato/order-system/shared/messaging"
	"github.com/mercato/order-system/shared/models"
	"github.com/mercato/order-system/shared/saga"
	"github.com/mercato/order-system/shared/telemetry"
)

// Compensation command queues. Compensations are fire-and-forget: no reply
// is expected from the downstream service.
const (
	CancelOrderQueue    = "order.cancel.command"
	RefundPaymentQueue  = "payment.refund.command"
	CancelShippingQueue = "shipping.cancel.command"
)

const compensationReason = "compensation due to workflow failure"

// StepsConfig holds the fixed PlaceOrder step sequence configuration.
type StepsConfig struct {
	CreateOrder          saga.StepConfig
	ProcessPayment       saga.StepConfig
	CreateShipping       saga.StepConfig
	UpdateOrderStatus    saga.StepConfig
	UpdatePaymentStatus  saga.StepConfig
	UpdateShippingStatus saga.StepConfig
}

// DefaultStepsConfig returns the step queues and timing used in every
// environment unless overridden by configuration. Create steps get the
// longer timeout and one more attempt than the status updates.
func DefaultStepsConfig() StepsConfig {
	return StepsConfig{
		CreateOrder:          saga.StepConfig{Name: "createOrder", Queue: "order.create.command", Timeout: 30 * time.Second, MaxAttempts: 3},
		ProcessPayment:       saga.StepConfig{Name: "processPayment", Queue: "payment.create.command", Timeout: 30 * time.Second, MaxAttempts: 3},
		CreateShipping:       saga.StepConfig{Name: "createShipping", Queue: "shipping.create.command", Timeout: 30 * time.Second, MaxAttempts: 3},
		UpdateOrderStatus:    saga.StepConfig{Name: "updateOrderStatus", Queue: "order.update.command", Timeout: 15 * time.Second, MaxAttempts: 2},
		UpdatePaymentStatus:  saga.StepConfig{Name: "updatePaymentStatus", Queue: "payment.update.command", Timeout: 15 * time.Second, MaxAttempts: 2},
		UpdateShippingStatus: saga.StepConfig{Name: "updateShippingStatus", Queue: "shipping.update.command", Timeout: 15 * time.Second, MaxAttempts: 2},
	}
}

// PlaceOrderCommand represents the purchase order request
type PlaceOrderCommand struct {
	UserID          string  `json:"userId"`
	ProductID       string  `json:"productId"`
	Quantity        int     `json:"quantity"`
	Amount          float64 `json:"amount"`
	ShippingAddress string  `json:"shippingAddress"`
	PaymentMethod   string  `json:"paymentMethod"`
}

// PlaceOrderResponse represents the result of a completed workflow
type PlaceOrderResponse struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
	OrderID    string `json:"orderId"`
	PaymentID  string `json:"paymentId"`
	ShipmentID string `json:"shipmentId"`
	Message    string `json:"message"`
}

// PlaceOrder drives the PlaceOrder saga: six forward steps executed strictly
// in sequence, compensations registered for the first three, LIFO rollback on
// any failure.
type PlaceOrder struct {
	repository  domain.WorkflowRepository
	executor    *saga.Executor
	compensator *saga.CompensationRunner
	commands    messaging.CommandPublisher
	events      events.Publisher
	eventStore  events.EventStore
	steps       StepsConfig
	logger      zerolog.Logger
}

// NewPlaceOrder creates the PlaceOrder use case. eventStore may be nil when
// no durable audit log is configured.
func NewPlaceOrder(
	repository domain.WorkflowRepository,
	executor *saga.Executor,
	compensator *saga.CompensationRunner,
	commands messaging.CommandPublisher,
	eventPublisher events.Publisher,
	eventStore events.EventStore,
	steps StepsConfig,
	logger zerolog.Logger,
) *PlaceOrder {
	return &PlaceOrder{
		repository:  repository,
		executor:    executor,
		compensator: compensator,
		commands:    commands,
		events:      eventPublisher,
		eventStore:  eventStore,
		steps:       steps,
		logger:      logger.With().Str("component", "place-order").Logger(),
	}
}

// Execute runs the whole workflow to a terminal status. The caller always
// gets either a SUCCESS response or an error after compensation completed;
// never a half-finished state.
func (uc *PlaceOrder) Execute(ctx context.Context, cmd *PlaceOrderCommand) (*PlaceOrderResponse, error) {
	if err := uc.validateCommand(cmd); err != nil {
		return nil, errors.Wrap(err, "invalid command")
	}

	workflow := domain.NewWorkflow(cmd.toRequest(), uc.steps.CreateOrder.MaxAttempts, uc.steps.CreateOrder.Timeout)
	if err := uc.repository.Save(ctx, workflow); err != nil {
		return nil, errors.Wrap(err, "failed to save workflow")
	}

	logger := uc.logger.With().Str("workflow_id", workflow.ID.String()).Logger()
	logger.Info().Str("user_id", cmd.UserID).Msg("starting workflow")

	uc.publishEvent(ctx, workflow, events.SagaStartedEvent, map[string]interface{}{
		"userId": cmd.UserID,
	})
	telemetry.RecordCounter(ctx, "workflows_started_total", "Workflows started", 1)

	if err := uc.runForwardSteps(ctx, workflow, cmd); err != nil {
		return nil, uc.fail(ctx, workflow, err)
	}

	uc.transition(ctx, workflow, domain.StatusCompleted, "workflowCompleted", nil)
	uc.publishEvent(ctx, workflow, events.SagaCompletedEvent, map[string]interface{}{
		"orderId":    workflow.DataString("orderId"),
		"paymentId":  workflow.DataString("paymentId"),
		"shipmentId": workflow.DataString("shipmentId"),
		"status":     "SUCCESS",
	})
	telemetry.RecordCounter(ctx, "workflows_completed_total", "Workflows completed", 1)

	logger.Info().Msg("workflow completed")

	return &PlaceOrderResponse{
		WorkflowID: workflow.ID.String(),
		Status:     "SUCCESS",
		OrderID:    workflow.DataString("orderId"),
		PaymentID:  workflow.DataString("paymentId"),
		ShipmentID: workflow.DataString("shipmentId"),
		Message:    "purchase order processed successfully",
	}, nil
}

func (uc *PlaceOrder) runForwardSteps(ctx context.Context, workflow *domain.Workflow, cmd *PlaceOrderCommand) error {
	if err := uc.executeCreateOrder(ctx, workflow, cmd); err != nil {
		return err
	}
	if err := uc.executeProcessPayment(ctx, workflow, cmd); err != nil {
		return err
	}
	if err := uc.executeCreateShipping(ctx, workflow, cmd); err != nil {
		return err
	}
	if err := uc.executeStatusUpdate(ctx, workflow, uc.steps.UpdateOrderStatus, "orderId"); err != nil {
		return err
	}
	if err := uc.executeStatusUpdate(ctx, workflow, uc.steps.UpdatePaymentStatus, "paymentId"); err != nil {
		return err
	}
	return uc.executeStatusUpdate(ctx, workflow, uc.steps.UpdateShippingStatus, "shipmentId")
}

func (uc *PlaceOrder) executeCreateOrder(ctx context.Context, workflow *domain.Workflow, cmd *PlaceOrderCommand) error {
	payload := map[string]interface{}{
		"productId": cmd.ProductID,
		"quantity":  cmd.Quantity,
		"userId":    cmd.UserID,
		"amount":    cmd.Amount,
	}

	result, err := uc.runStep(ctx, workflow, uc.steps.CreateOrder, payload)
	if err != nil {
		return err
	}

	orderID, ok := result.Data["orderId"].(string)
	if !ok || orderID == "" {
		return errors.New("order creation failed: no order id returned")
	}

	workflow.AddCompensation(saga.NewCompensationAction("cancelOrder", "createOrder",
		uc.compensationCommand(CancelOrderQueue, "cancelOrder", workflow.ID, map[string]interface{}{"orderId": orderID})))
	uc.transition(ctx, workflow, domain.StatusOrderCreated, "createOrder", map[string]interface{}{"orderId": orderID})
	return nil
}

func (uc *PlaceOrder) executeProcessPayment(ctx context.Context, workflow *domain.Workflow, cmd *PlaceOrderCommand) error {
	payload := map[string]interface{}{
		"orderId": workflow.DataString("orderId"),
		"userId":  cmd.UserID,
		"amount":  cmd.Amount,
		"method":  cmd.PaymentMethod,
	}

	result, err := uc.runStep(ctx, workflow, uc.steps.ProcessPayment, payload)
	if err != nil {
		return err
	}

	paymentID, ok := result.Data["paymentId"].(string)
	if !ok || paymentID == "" {
		return errors.New("payment processing failed: no payment id returned")
	}

	workflow.AddCompensation(saga.NewCompensationAction("refundPayment", "processPayment",
		uc.compensationCommand(RefundPaymentQueue, "refundPayment", workflow.ID, map[string]interface{}{"paymentId": paymentID})))
	uc.transition(ctx, workflow, domain.StatusPaymentProcessed, "processPayment", map[string]interface{}{"paymentId": paymentID})
	return nil
}

func (uc *PlaceOrder) executeCreateShipping(ctx context.Context, workflow *domain.Workflow, cmd *PlaceOrderCommand) error {
	payload := map[string]interface{}{
		"orderId": workflow.DataString("orderId"),
		"userId":  cmd.UserID,
		"address": cmd.ShippingAddress,
	}

	result, err := uc.runStep(ctx, workflow, uc.steps.CreateShipping, payload)
	if err != nil {
		return err
	}

	shipmentID, ok := result.Data["shipmentId"].(string)
	if !ok || shipmentID == "" {
		return errors.New("shipping creation failed: no shipment id returned")
	}

	workflow.AddCompensation(saga.NewCompensationAction("cancelShipping", "createShipping",
		uc.compensationCommand(CancelShippingQueue, "cancelShipping", workflow.ID, map[string]interface{}{"shipmentId": shipmentID})))
	uc.transition(ctx, workflow, domain.StatusShippingCreated, "createShipping", map[string]interface{}{"shipmentId": shipmentID})
	return nil
}

// executeStatusUpdate runs one of the status-update steps. These have no
// compensation: the entities they touch are already owned by the workflow
// and the updates are treated as idempotent. A reply that acknowledges the
// command without confirming status=completed counts as a failure.
func (uc *PlaceOrder) executeStatusUpdate(ctx context.Context, workflow *domain.Workflow, step saga.StepConfig, idField string) error {
	payload := map[string]interface{}{
		idField:  workflow.DataString(idField),
		"status": "completed",
	}

	result, err := uc.runStep(ctx, workflow, step, payload)
	if err != nil {
		return err
	}

	if status, _ := result.Data["status"].(string); status != "completed" {
		return errors.Errorf("step %s failed: status not confirmed", step.Name)
	}

	uc.transition(ctx, workflow, workflow.Status, step.Name, nil)
	return nil
}

func (uc *PlaceOrder) runStep(ctx context.Context, workflow *domain.Workflow, step saga.StepConfig, payload map[string]interface{}) (*saga.StepResult, error) {
	start := time.Now()
	result, err := uc.executor.ExecuteStep(ctx, step, payload, workflow.ID.String())
	telemetry.RecordHistogram(ctx, "workflow_step_duration_seconds", "Step execution duration",
		time.Since(start).Seconds(), attribute.String("step", step.Name))
	return result, err
}

// fail runs the compensation stack and moves the workflow to its terminal
// failure status, then surfaces the original step error to the caller.
func (uc *PlaceOrder) fail(ctx context.Context, workflow *domain.Workflow, stepErr error) error {
	logger := uc.logger.With().Str("workflow_id", workflow.ID.String()).Logger()
	logger.Error().Err(stepErr).Msg("workflow failed, compensating")

	// Rollback must finish even when the caller gave up on the request.
	ctx = context.WithoutCancel(ctx)

	uc.transition(ctx, workflow, domain.StatusCompensating, "compensationStarted", map[string]interface{}{
		"error": stepErr.Error(),
	})

	results := uc.compensator.RunAll(ctx, workflow.Compensations)
	failed := saga.FailedCount(results)

	if failed > 0 {
		uc.transition(ctx, workflow, domain.StatusFailed, "workflowFailed", map[string]interface{}{
			"compensationResults": results,
			"failedCompensations": failed,
		})
		uc.publishEvent(ctx, workflow, events.SagaFailedEvent, map[string]interface{}{
			"error":               stepErr.Error(),
			"failedCompensations": failed,
			"status":              "FAILED",
		})
	} else {
		uc.transition(ctx, workflow, domain.StatusRolledBack, "workflowRolledBack", map[string]interface{}{
			"compensationResults": results,
		})
		uc.publishEvent(ctx, workflow, events.SagaCompensatedEvent, map[string]interface{}{
			"error":  stepErr.Error(),
			"status": "ROLLED_BACK",
		})
	}
	telemetry.RecordCounter(ctx, "workflows_failed_total", "Workflows that did not complete", 1,
		attribute.String("outcome", string(workflow.Status)))

	return errors.Wrap(stepErr, "purchase order failed")
}

// compensationCommand builds a fire-and-forget undo command sender. The
// payload carries the entity id; the envelope adds workflow id and timestamp.
func (uc *PlaceOrder) compensationCommand(queue, name string, workflowID models.ID, payload map[string]interface{}) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		body := make(map[string]interface{}, len(payload)+1)
		for k, v := range payload {
			body[k] = v
		}
		body["reason"] = compensationReason

		command := messaging.NewCommand(workflowID.String(), name, models.GenerateUUID().String(), "", body)
		return uc.commands.Send(ctx, queue, command)
	}
}

// transition advances the workflow, persists the new snapshot so status
// reads observe it, and publishes the state-change event.
func (uc *PlaceOrder) transition(ctx context.Context, workflow *domain.Workflow, state domain.Status, stepName string, data map[string]interface{}) {
	previous := workflow.Status
	workflow.Transition(state, stepName, data)

	if err := uc.repository.Save(ctx, workflow); err != nil {
		uc.logger.Warn().Err(err).Str("workflow_id", workflow.ID.String()).Msg("failed to persist workflow state")
	}

	uc.publishEvent(ctx, workflow, events.WorkflowStateChangedEvent, map[string]interface{}{
		"state":         string(state),
		"previousState": string(previous),
		"stepName":      stepName,
	})
}

func (uc *PlaceOrder) publishEvent(ctx context.Context, workflow *domain.Workflow, eventType string, data map[string]interface{}) {
	event := events.NewEvent(workflow.ID, eventType, data).WithCorrelationID(workflow.ID)

	if err := uc.events.Publish(ctx, event); err != nil {
		uc.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish workflow event")
	}
	if uc.eventStore != nil {
		if err := uc.eventStore.SaveEvents(ctx, workflow.ID, []*events.Event{event}); err != nil {
			uc.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to store workflow event")
		}
	}
}

func (uc *PlaceOrder) validateCommand(cmd *PlaceOrderCommand) error {
	if cmd.UserID == "" {
		return errors.New("user ID is required")
	}
	if cmd.ProductID == "" {
		return errors.New("product ID is required")
	}
	if cmd.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if cmd.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if cmd.ShippingAddress == "" {
		return errors.New("shipping address is required")
	}
	if cmd.PaymentMethod == "" {
		return errors.New("payment method is required")
	}
	return nil
}

func (cmd *PlaceOrderCommand) toRequest() map[string]interface{} {
	return map[string]interface{}{
		"userId":          cmd.UserID,
		"productId":       cmd.ProductID,
		"quantity":        cmd.Quantity,
		"amount":          cmd.Amount,
		"shippingAddress": cmd.ShippingAddress,
		"paymentMethod":   cmd.PaymentMethod,
	}
}
