package domain

import (
	"time"

	"github.com/mercato/order-system/shared/models"
	"github.com/mercato/order-system/shared/saga"
)

// Status represents the workflow state
type Status string

const (
	StatusInitiated        Status = "INITIATED"
	StatusOrderCreated     Status = "ORDER_CREATED"
	StatusPaymentProcessed Status = "PAYMENT_PROCESSED"
	StatusShippingCreated  Status = "SHIPPING_CREATED"
	StatusCompleted        Status = "COMPLETED"
	StatusCompensating     Status = "COMPENSATING"
	StatusRolledBack       Status = "ROLLED_BACK"
	StatusFailed           Status = "FAILED"
)

// IsTerminal reports whether the workflow can no longer change state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRolledBack
}

// StepRecord is one entry of the append-only workflow history.
type StepRecord struct {
	State         Status                 `json:"state"`
	PreviousState Status                 `json:"previous_state"`
	StepName      string                 `json:"step_name"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// Workflow is one saga execution. It is mutated only by its own driving
// goroutine; cross-workflow access goes through the repository.
type Workflow struct {
	ID            models.ID
	Status        Status
	StartTime     time.Time
	Steps         []StepRecord
	Data          map[string]interface{}
	Compensations []*saga.CompensationAction
	MaxRetries    int
	Timeout       time.Duration
}

// NewWorkflow creates a workflow instance in INITIATED state carrying the
// original order request and execution-control parameters.
func NewWorkflow(orderRequest map[string]interface{}, maxRetries int, timeout time.Duration) *Workflow {
	data := map[string]interface{}{
		"orderRequest": orderRequest,
		"metadata": map[string]interface{}{
			"correlationId": models.GenerateUUID().String(),
			"userId":        orderRequest["userId"],
			"timestamp":     time.Now(),
		},
	}

	return &Workflow{
		ID:         models.GenerateUUID(),
		Status:     StatusInitiated,
		StartTime:  time.Now(),
		Data:       data,
		MaxRetries: maxRetries,
		Timeout:    timeout,
	}
}

// Transition moves the workflow to newState, appends a history record and
// merges stepData into the accumulated data bag.
func (w *Workflow) Transition(newState Status, stepName string, stepData map[string]interface{}) {
	record := StepRecord{
		State:         newState,
		PreviousState: w.Status,
		StepName:      stepName,
		Timestamp:     time.Now(),
		Data:          stepData,
	}

	w.Status = newState
	w.Steps = append(w.Steps, record)

	for k, v := range stepData {
		w.Data[k] = v
	}
}

// Clone returns a deep snapshot of the workflow. History records, the data
// bag and the compensation entries are copied so the clone stays stable
// while the original execution keeps mutating. Action closures are shared;
// clones are for reading, not for running compensations.
func (w *Workflow) Clone() *Workflow {
	clone := *w

	clone.Steps = append([]StepRecord(nil), w.Steps...)

	clone.Data = make(map[string]interface{}, len(w.Data))
	for k, v := range w.Data {
		clone.Data[k] = v
	}

	clone.Compensations = make([]*saga.CompensationAction, len(w.Compensations))
	for i, action := range w.Compensations {
		actionCopy := *action
		clone.Compensations[i] = &actionCopy
	}

	return &clone
}

// AddCompensation pushes an undo action on the compensation stack.
func (w *Workflow) AddCompensation(action *saga.CompensationAction) {
	w.Compensations = append(w.Compensations, action)
}

// DataString returns a string field from the data bag, or "" if absent.
func (w *Workflow) DataString(key string) string {
	if v, ok := w.Data[key].(string); ok {
		return v
	}
	return ""
}

// IsTerminal reports whether the workflow reached a terminal status.
func (w *Workflow) IsTerminal() bool {
	return w.Status.IsTerminal()
}

// Age returns how long ago the workflow started.
func (w *Workflow) Age(now time.Time) time.Duration {
	return now.Sub(w.StartTime)
}

// CompensationSummary describes a registered compensation for status reads.
type CompensationSummary struct {
	Name     string `json:"name"`
	StepName string `json:"step_name"`
	Executed bool   `json:"executed"`
	Error    string `json:"error,omitempty"`
}

// CompensationSummaries lists the registered compensations without exposing
// the action closures.
func (w *Workflow) CompensationSummaries() []CompensationSummary {
	summaries := make([]CompensationSummary, 0, len(w.Compensations))
	for _, c := range w.Compensations {
		summaries = append(summaries, CompensationSummary{
			Name:     c.Name,
			StepName: c.StepName,
			Executed: c.Executed,
			Error:    c.Error,
		})
	}
	return summaries
}
