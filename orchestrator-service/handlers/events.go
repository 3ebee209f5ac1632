package handlers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mercato/order-system/shared/messaging"
	"github.com/mercato/order-system/shared/saga"
	"github.com/mercato/order-system/shared/telemetry"
)

// ReplyDispatcher is the inbound handler for the orchestrator's private
// reply queue. It resolves each reply against the correlation registry.
// Replies without a matching pending entry are dropped: they arrive after a
// timeout expired the entry or are duplicates, both expected under
// at-least-once delivery with retries.
type ReplyDispatcher struct {
	registry *saga.Registry
	logger   zerolog.Logger
}

// NewReplyDispatcher creates a new ReplyDispatcher
func NewReplyDispatcher(registry *saga.Registry, logger zerolog.Logger) *ReplyDispatcher {
	return &ReplyDispatcher{
		registry: registry,
		logger:   logger.With().Str("component", "reply-dispatcher").Logger(),
	}
}

var _ messaging.ReplyHandler = (*ReplyDispatcher)(nil)

// HandlerID returns the unique identifier for this handler
func (d *ReplyDispatcher) HandlerID() string {
	return "orchestrator-reply-dispatcher"
}

// Handle resolves or rejects the pending request matching the reply.
func (d *ReplyDispatcher) Handle(ctx context.Context, reply *messaging.Reply) error {
	var matched bool
	if reply.Error != "" {
		matched = d.registry.Reject(reply.CorrelationID, errors.New(reply.Error))
	} else {
		matched = d.registry.Resolve(reply.CorrelationID, reply.Data)
	}

	if !matched {
		d.logger.Debug().
			Str("correlation_id", reply.CorrelationID).
			Msg("dropping reply with no pending request")
		telemetry.RecordCounter(ctx, "orphaned_replies_total", "Replies without a pending request", 1)
	}

	return nil
}
