package config

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/mercato/order-system/orchestrator-service/application"
	"github.com/mercato/order-system/orchestrator-service/handlers"
	"github.com/mercato/order-system/orchestrator-service/infrastructure"
	"github.com/mercato/order-system/shared/backoff"
	"github.com/mercato/order-system/shared/events"
	sharedinfra "github.com/mercato/order-system/shared/infrastructure"
	"github.com/mercato/order-system/shared/saga"
	"github.com/mercato/order-system/shared/telemetry"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Saga machinery
	Registry    *saga.Registry
	Executor    *saga.Executor
	Compensator *saga.CompensationRunner

	// Repositories
	WorkflowRepository *infrastructure.MemoryWorkflowRepository

	// Use Cases
	PlaceOrder        *application.PlaceOrder
	GetWorkflowStatus *application.GetWorkflowStatus
	ListWorkflows     *application.ListWorkflows
	SweepWorkflows    *application.SweepWorkflows

	// HTTP Handlers
	OrchestratorHandlers *handlers.OrchestratorHandlers

	// Reply plumbing
	ReplyDispatcher *handlers.ReplyDispatcher
	ReplyConsumer   *sharedinfra.SQSReplyConsumer

	// Infrastructure
	CommandPublisher *sharedinfra.SQSCommandPublisher
	EventPublisher   *sharedinfra.SNSEventPublisher
	EventStore       events.EventStore

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()
}

func BuildDependencies(ctx context.Context, config *Config, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.OrchestratorServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, telemetryShutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize telemetry, continuing without it")
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	// The durable event store is optional; workflow state itself lives in
	// memory and the database only keeps the audit log.
	var eventStore events.EventStore
	if config.Workflow.EventStoreEnabled {
		db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		deps.DB = db
		eventStore = sharedinfra.NewPostgresEventStore(db)
		deps.EventStore = eventStore
	}

	// Initialize AWS infrastructure
	eventPublisher, err := sharedinfra.NewSNSEventPublisherFromConfig(ctx, config.AWS.SNSTopicArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.EventPublisher = eventPublisher

	commandPublisher, err := sharedinfra.NewSQSCommandPublisherFromConfig(ctx, config.AWS.QueueURLPrefix, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS command publisher: %w", err)
	}
	deps.CommandPublisher = commandPublisher

	// Initialize saga machinery
	deps.Registry = saga.NewRegistry(logger)
	deps.Executor = saga.NewExecutor(
		deps.Registry,
		commandPublisher,
		config.AWS.ReplyQueueURL,
		backoff.NewExponential(config.Workflow.RetryBaseDelay, config.Workflow.RetryMaxDelay),
		logger,
	)
	deps.Compensator = saga.NewCompensationRunner(config.Workflow.CompensationTimeout, logger)

	// Initialize repositories
	deps.WorkflowRepository = infrastructure.NewMemoryWorkflowRepository()

	// Initialize use cases
	deps.PlaceOrder = application.NewPlaceOrder(
		deps.WorkflowRepository,
		deps.Executor,
		deps.Compensator,
		commandPublisher,
		eventPublisher,
		eventStore,
		stepsFromConfig(config.Workflow),
		logger,
	)
	deps.GetWorkflowStatus = application.NewGetWorkflowStatus(deps.WorkflowRepository)
	deps.ListWorkflows = application.NewListWorkflows(deps.WorkflowRepository)
	deps.SweepWorkflows = application.NewSweepWorkflows(deps.WorkflowRepository, config.Workflow.CompletedRetention, logger)

	// Initialize handlers
	deps.OrchestratorHandlers = handlers.NewOrchestratorHandlers(deps.PlaceOrder, deps.GetWorkflowStatus, deps.ListWorkflows)
	deps.ReplyDispatcher = handlers.NewReplyDispatcher(deps.Registry, logger)

	if config.Workflow.ReplyConsumerEnabled {
		replyConsumer, err := sharedinfra.NewSQSReplyConsumerFromConfig(
			ctx,
			config.AWS.ReplyQueueURL,
			deps.ReplyDispatcher,
			logger,
			sharedinfra.WithWorkers(int32(config.Workflow.ReplyConsumerWorkers)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS reply consumer: %w", err)
		}
		deps.ReplyConsumer = replyConsumer
	}

	return deps, nil
}

// stepsFromConfig applies the configured timing knobs to the fixed step
// sequence.
func stepsFromConfig(cfg Workflow) application.StepsConfig {
	steps := application.DefaultStepsConfig()
	for _, step := range []*saga.StepConfig{&steps.CreateOrder, &steps.ProcessPayment, &steps.CreateShipping} {
		step.Timeout = cfg.CreateStepTimeout
		step.MaxAttempts = cfg.CreateStepAttempts
	}
	for _, step := range []*saga.StepConfig{&steps.UpdateOrderStatus, &steps.UpdatePaymentStatus, &steps.UpdateShippingStatus} {
		step.Timeout = cfg.UpdateStepTimeout
		step.MaxAttempts = cfg.UpdateStepAttempts
	}
	return steps
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.ReplyConsumer != nil {
		if err := d.ReplyConsumer.Stop(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop reply consumer: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
