package application

import (
	"context"
	"sort"
	"time"

	"github.com/mercato/order-system/orchestrator-service/domain"
)

// WorkflowSummary is a compact listing entry for one workflow
type WorkflowSummary struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	StepCount int       `json:"step_count"`
}

// ListWorkflows use case
type ListWorkflows struct {
	repository domain.WorkflowRepository
}

// NewListWorkflows creates a new ListWorkflows use case
func NewListWorkflows(repository domain.WorkflowRepository) *ListWorkflows {
	return &ListWorkflows{repository: repository}
}

// Execute returns summaries of all workflows, newest first.
func (uc *ListWorkflows) Execute(ctx context.Context) ([]WorkflowSummary, error) {
	workflows, err := uc.repository.List(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]WorkflowSummary, 0, len(workflows))
	for _, workflow := range workflows {
		summaries = append(summaries, WorkflowSummary{
			ID:        workflow.ID.String(),
			Status:    string(workflow.Status),
			StartTime: workflow.StartTime,
			StepCount: len(workflow.Steps),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})

	return summaries, nil
}
