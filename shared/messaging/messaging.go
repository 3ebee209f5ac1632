// Package messaging defines the command/reply contract between the
// orchestrator and downstream step services.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Envelope field names reserved on command messages. Business payload fields
// are spread at the top level next to them.
const (
	FieldWorkflowID    = "workflowId"
	FieldStepName      = "stepName"
	FieldCorrelationID = "correlationId"
	FieldReplyTo       = "replyTo"
	FieldTimestamp     = "timestamp"
)

// Command is an outbound command to a step service. It serializes as a flat
// JSON object: the business payload fields plus the envelope fields.
type Command struct {
	WorkflowID    string
	StepName      string
	CorrelationID string
	ReplyTo       string
	Timestamp     time.Time
	Payload       map[string]interface{}
}

// NewCommand builds a command for a step invocation.
func NewCommand(workflowID, stepName, correlationID, replyTo string, payload map[string]interface{}) *Command {
	return &Command{
		WorkflowID:    workflowID,
		StepName:      stepName,
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
		Timestamp:     time.Now(),
		Payload:       payload,
	}
}

// MarshalJSON flattens the payload and envelope into one object. Envelope
// fields win on key collision.
func (c *Command) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(c.Payload)+5)
	for k, v := range c.Payload {
		flat[k] = v
	}
	flat[FieldWorkflowID] = c.WorkflowID
	flat[FieldStepName] = c.StepName
	flat[FieldCorrelationID] = c.CorrelationID
	flat[FieldReplyTo] = c.ReplyTo
	flat[FieldTimestamp] = c.Timestamp
	return json.Marshal(flat)
}

// Reply is an inbound reply from a step service. Exactly one of Data or
// Error is expected to be set.
type Reply struct {
	CorrelationID string                 `json:"correlationId"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// ParseReply decodes a reply message body.
func ParseReply(body []byte) (*Reply, error) {
	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal reply")
	}
	if reply.CorrelationID == "" {
		return nil, errors.New("reply has no correlation id")
	}
	return &reply, nil
}

// CommandPublisher sends commands to a named queue.
type CommandPublisher interface {
	Send(ctx context.Context, queue string, cmd *Command) error
}

// ReplyHandler processes inbound replies from the orchestrator's reply queue.
type ReplyHandler interface {
	HandlerID() string
	Handle(ctx context.Context, reply *Reply) error
}
