package application

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/order-system/orchestrator-service/domain"
	"github.com/mercato/order-system/orchestrator-service/infrastructure"
	"github.com/mercato/order-system/shared/backoff"
	"github.com/mercato/order-system/shared/events"
	"github.com/mercato/order-system/shared/messaging"
	"github.com/mercato/order-system/shared/models"
	"github.com/mercato/order-system/shared/saga"
)

// stepResponse describes how the fake bus answers one attempt of a step.
// A nil entry means no reply at all, which lets the attempt time out.
type stepResponse struct {
	data     map[string]interface{}
	errorMsg string
}

type sentCommand struct {
	Queue   string
	Command *messaging.Command
}

// fakeCommandBus records every command and plays scripted replies back into
// the registry, standing in for the downstream step services.
type fakeCommandBus struct {
	mu       sync.Mutex
	registry *saga.Registry
	scripts  map[string][]*stepResponse
	sent     []sentCommand
	attempts map[string]int
}

func newFakeCommandBus(registry *saga.Registry) *fakeCommandBus {
	return &fakeCommandBus{
		registry: registry,
		scripts:  make(map[string][]*stepResponse),
		attempts: make(map[string]int),
	}
}

// respond queues replies for successive attempts of a step. Once the queued
// replies run out the last one repeats.
func (b *fakeCommandBus) respond(stepName string, responses ...*stepResponse) {
	b.scripts[stepName] = responses
}

func (b *fakeCommandBus) Send(_ context.Context, queue string, cmd *messaging.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sent = append(b.sent, sentCommand{Queue: queue, Command: cmd})

	// Compensation commands carry no reply address and get no reply.
	if cmd.ReplyTo == "" {
		return nil
	}

	attempt := b.attempts[cmd.StepName]
	b.attempts[cmd.StepName]++

	script := b.scripts[cmd.StepName]
	if len(script) == 0 {
		return nil
	}
	if attempt >= len(script) {
		attempt = len(script) - 1
	}
	response := script[attempt]
	if response == nil {
		return nil
	}

	if response.errorMsg != "" {
		b.registry.Reject(cmd.CorrelationID, &scriptedError{msg: response.errorMsg})
	} else {
		b.registry.Resolve(cmd.CorrelationID, response.data)
	}
	return nil
}

func (b *fakeCommandBus) sentTo(queue string) []sentCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	var matched []sentCommand
	for _, s := range b.sent {
		if s.Queue == queue {
			matched = append(matched, s)
		}
	}
	return matched
}

func (b *fakeCommandBus) attemptCount(stepName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[stepName]
}

type scriptedError struct{ msg string }

func (e *scriptedError) Error() string { return e.msg }

type fakeEventPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *fakeEventPublisher) Publish(_ context.Context, evts ...*events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *fakeEventPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType)
	}
	return types
}

type placeOrderFixture struct {
	useCase    *PlaceOrder
	repository *infrastructure.MemoryWorkflowRepository
	registry   *saga.Registry
	bus        *fakeCommandBus
	published  *fakeEventPublisher
}

func newPlaceOrderFixture(t *testing.T) *placeOrderFixture {
	t.Helper()

	registry := saga.NewRegistry(zerolog.Nop())
	bus := newFakeCommandBus(registry)
	published := &fakeEventPublisher{}
	repository := infrastructure.NewMemoryWorkflowRepository()

	steps := DefaultStepsConfig()
	for _, step := range []*saga.StepConfig{&steps.CreateOrder, &steps.ProcessPayment, &steps.CreateShipping} {
		step.Timeout = 50 * time.Millisecond
	}
	for _, step := range []*saga.StepConfig{&steps.UpdateOrderStatus, &steps.UpdatePaymentStatus, &steps.UpdateShippingStatus} {
		step.Timeout = 50 * time.Millisecond
	}

	executor := saga.NewExecutor(registry, bus, "orchestrator.reply", backoff.NewConstant(time.Millisecond), zerolog.Nop())
	compensator := saga.NewCompensationRunner(time.Second, zerolog.Nop())

	useCase := NewPlaceOrder(repository, executor, compensator, bus, published, nil, steps, zerolog.Nop())

	return &placeOrderFixture{
		useCase:    useCase,
		repository: repository,
		registry:   registry,
		bus:        bus,
		published:  published,
	}
}

func (f *placeOrderFixture) respondAllSteps() {
	f.bus.respond("createOrder", &stepResponse{data: map[string]interface{}{"orderId": "order-1"}})
	f.bus.respond("processPayment", &stepResponse{data: map[string]interface{}{"paymentId": "payment-1"}})
	f.bus.respond("createShipping", &stepResponse{data: map[string]interface{}{"shipmentId": "shipment-1"}})
	f.bus.respond("updateOrderStatus", &stepResponse{data: map[string]interface{}{"status": "completed"}})
	f.bus.respond("updatePaymentStatus", &stepResponse{data: map[string]interface{}{"status": "completed"}})
	f.bus.respond("updateShippingStatus", &stepResponse{data: map[string]interface{}{"status": "completed"}})
}

func validPlaceOrderCommand() *PlaceOrderCommand {
	return &PlaceOrderCommand{
		UserID:          "user-1",
		ProductID:       "product-1",
		Quantity:        2,
		Amount:          59.90,
		ShippingAddress: "742 Evergreen Terrace",
		PaymentMethod:   "credit_card",
	}
}

func TestPlaceOrder_HappyPath(t *testing.T) {
	fixture := newPlaceOrderFixture(t)
	fixture.respondAllSteps()

	response, err := fixture.useCase.Execute(context.Background(), validPlaceOrderCommand())
	require.NoError(t, err)

	assert.Equal(t, "SUCCESS", response.Status)
	assert.Equal(t, "order-1", response.OrderID)
	assert.Equal(t, "payment-1", response.PaymentID)
	assert.Equal(t, "shipment-1", response.ShipmentID)

	workflow, err := fixture.repository.Get(context.Background(), models.ID(response.WorkflowID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, workflow.Status)
	assert.Len(t, workflow.Steps, 7)

	// No compensation commands on the happy path.
	assert.Empty(t, fixture.bus.sentTo(CancelOrderQueue))
	assert.Empty(t, fixture.bus.sentTo(RefundPaymentQueue))
	assert.Empty(t, fixture.bus.sentTo(CancelShippingQueue))

	assert.Equal(t, 0, fixture.registry.PendingCount())
	assert.Contains(t, fixture.published.eventTypes(), events.SagaStartedEvent)
	assert.Contains(t, fixture.published.eventTypes(), events.SagaCompletedEvent)
}

func TestPlaceOrder_PaymentRejectedCompensatesOrderOnly(t *testing.T) {
	fixture := newPlaceOrderFixture(t)
	fixture.respondAllSteps()
	fixture.bus.respond("processPayment", &stepResponse{errorMsg: "insufficient funds"})

	response, err := fixture.useCase.Execute(context.Background(), validPlaceOrderCommand())
	require.Error(t, err)
	assert.Nil(t, response)
	assert.Contains(t, err.Error(), "insufficient funds")

	// A business rejection is final, never retried.
	assert.Equal(t, 1, fixture.bus.attemptCount("processPayment"))

	// Only the order existed, so only the order is undone.
	cancels := fixture.bus.sentTo(CancelOrderQueue)
	require.Len(t, cancels, 1)
	assert.Equal(t, "order-1", cancels[0].Command.Payload["orderId"])
	assert.Empty(t, fixture.bus.sentTo(RefundPaymentQueue))
	assert.Empty(t, fixture.bus.sentTo(CancelShippingQueue))

	workflows, err := fixture.repository.List(context.Background())
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, domain.StatusRolledBack, workflows[0].Status)
	assert.Contains(t, fixture.published.eventTypes(), events.SagaCompensatedEvent)
}

func TestPlaceOrder_TimeoutRetriedThenSucceeds(t *testing.T) {
	fixture := newPlaceOrderFixture(t)
	fixture.respondAllSteps()
	fixture.bus.respond("createOrder",
		nil,
		&stepResponse{data: map[string]interface{}{"orderId": "order-1"}},
	)

	response, err := fixture.useCase.Execute(context.Background(), validPlaceOrderCommand())
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", response.Status)
	assert.Equal(t, 2, fixture.bus.attemptCount("createOrder"))
}

func TestPlaceOrder_StatusReadableDuringExecution(t *testing.T) {
	fixture := newPlaceOrderFixture(t)
	fixture.respondAllSteps()
	// A silent first createShipping attempt keeps the workflow in flight
	// long enough for the polling loop to observe intermediate states.
	fixture.bus.respond("createShipping",
		nil,
		&stepResponse{data: map[string]interface{}{"shipmentId": "shipment-1"}},
	)

	status := NewGetWorkflowStatus(fixture.repository)
	list := NewListWorkflows(fixture.repository)

	done := make(chan error, 1)
	go func() {
		_, err := fixture.useCase.Execute(context.Background(), validPlaceOrderCommand())
		done <- err
	}()

	deadline := time.After(5 * time.Second)
	for {
		summaries, err := list.Execute(context.Background())
		require.NoError(t, err)
		for _, summary := range summaries {
			snapshot, err := status.Execute(context.Background(), &GetWorkflowStatusQuery{WorkflowID: summary.ID})
			require.NoError(t, err)
			// Walk every field the HTTP handler would serialize.
			if _, err := json.Marshal(snapshot); err != nil {
				t.Fatalf("failed to marshal snapshot: %v", err)
			}
		}

		select {
		case err := <-done:
			require.NoError(t, err)

			workflows, err := fixture.repository.List(context.Background())
			require.NoError(t, err)
			require.Len(t, workflows, 1)
			assert.Equal(t, domain.StatusCompleted, workflows[0].Status)
			return
		case <-deadline:
			t.Fatal("workflow did not finish")
		default:
		}
	}
}

func TestPlaceOrder_TimeoutExhaustionRollsBack(t *testing.T) {
	fixture := newPlaceOrderFixture(t)
	fixture.respondAllSteps()
	fixture.bus.respond("createShipping", nil)

	_, err := fixture.useCase.Execute(context.Background(), validPlaceOrderCommand())
	require.Error(t, err)

	assert.Equal(t, 3, fixture.bus.attemptCount("createShipping"))

	// Rollback runs newest-first: refund before cancel, no shipping to undo.
	assert.Empty(t, fixture.bus.sentTo(CancelShippingQueue))
	assert.Len(t, fixture.bus.sentTo(RefundPaymentQueue), 1)
	assert.Len(t, fixture.bus.sentTo(CancelOrderQueue), 1)

	workflows, err := fixture.repository.List(context.Background())
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, domain.StatusRolledBack, workflows[0].Status)
}

func TestPlaceOrder_UnconfirmedStatusUpdateCompensatesEverything(t *testing.T) {
	fixture := newPlaceOrderFixture(t)
	fixture.respondAllSteps()
	fixture.bus.respond("updateOrderStatus", &stepResponse{data: map[string]interface{}{"status": "pending"}})

	_, err := fixture.useCase.Execute(context.Background(), validPlaceOrderCommand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status not confirmed")

	// All three created entities get undone, newest first.
	assert.Len(t, fixture.bus.sentTo(CancelShippingQueue), 1)
	assert.Len(t, fixture.bus.sentTo(RefundPaymentQueue), 1)
	assert.Len(t, fixture.bus.sentTo(CancelOrderQueue), 1)
}

func TestPlaceOrder_InvalidCommand(t *testing.T) {
	fixture := newPlaceOrderFixture(t)

	tests := []struct {
		name    string
		mutate  func(cmd *PlaceOrderCommand)
		wantErr string
	}{
		{"missing user", func(cmd *PlaceOrderCommand) { cmd.UserID = "" }, "user ID is required"},
		{"missing product", func(cmd *PlaceOrderCommand) { cmd.ProductID = "" }, "product ID is required"},
		{"zero quantity", func(cmd *PlaceOrderCommand) { cmd.Quantity = 0 }, "quantity must be positive"},
		{"negative amount", func(cmd *PlaceOrderCommand) { cmd.Amount = -1 }, "amount must be positive"},
		{"missing address", func(cmd *PlaceOrderCommand) { cmd.ShippingAddress = "" }, "shipping address is required"},
		{"missing payment method", func(cmd *PlaceOrderCommand) { cmd.PaymentMethod = "" }, "payment method is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := validPlaceOrderCommand()
			tt.mutate(cmd)

			_, err := fixture.useCase.Execute(context.Background(), cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	// Nothing reaches the bus on validation failure.
	assert.Empty(t, fixture.bus.sent)
}
