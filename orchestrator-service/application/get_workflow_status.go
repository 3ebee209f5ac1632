package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mercato/order-system/orchestrator-service/domain"
	"github.com/mercato/order-system/shared/models"
)

// GetWorkflowStatusQuery represents the query to fetch one workflow
type GetWorkflowStatusQuery struct {
	WorkflowID string `json:"workflow_id"`
}

// WorkflowSnapshot is a read model of a workflow instance
type WorkflowSnapshot struct {
	ID            string                       `json:"id"`
	Status        string                       `json:"status"`
	StartTime     time.Time                    `json:"start_time"`
	Steps         []domain.StepRecord          `json:"steps"`
	Data          map[string]interface{}       `json:"data"`
	Compensations []domain.CompensationSummary `json:"compensations"`
}

// GetWorkflowStatus use case
type GetWorkflowStatus struct {
	repository domain.WorkflowRepository
}

// NewGetWorkflowStatus creates a new GetWorkflowStatus use case
func NewGetWorkflowStatus(repository domain.WorkflowRepository) *GetWorkflowStatus {
	return &GetWorkflowStatus{repository: repository}
}

// Execute returns a snapshot of the workflow or domain.ErrWorkflowNotFound.
func (uc *GetWorkflowStatus) Execute(ctx context.Context, query *GetWorkflowStatusQuery) (*WorkflowSnapshot, error) {
	if query.WorkflowID == "" {
		return nil, errors.New("workflow ID is required")
	}

	workflow, err := uc.repository.Get(ctx, models.ID(query.WorkflowID))
	if err != nil {
		return nil, err
	}

	return &WorkflowSnapshot{
		ID:            workflow.ID.String(),
		Status:        string(workflow.Status),
		StartTime:     workflow.StartTime,
		Steps:         workflow.Steps,
		Data:          workflow.Data,
		Compensations: workflow.CompensationSummaries(),
	}, nil
}
