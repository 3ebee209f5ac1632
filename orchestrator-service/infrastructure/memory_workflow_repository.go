package infrastructure

import (
	"context"
	"sync"
	"time"

	"github.com/mercato/order-system/orchestrator-service/domain"
	"github.com/mercato/order-system/shared/models"
)

// MemoryWorkflowRepository keeps workflow instances in memory for the
// orchestrator's lifetime. Save stores a deep snapshot and reads return
// snapshots, so status polls never observe an execution mid-mutation. The
// driver re-saves after every transition to keep its entry current.
type MemoryWorkflowRepository struct {
	mux       sync.RWMutex
	workflows map[models.ID]*domain.Workflow
}

// NewMemoryWorkflowRepository creates an empty in-memory repository.
func NewMemoryWorkflowRepository() *MemoryWorkflowRepository {
	return &MemoryWorkflowRepository{
		workflows: make(map[models.ID]*domain.Workflow),
	}
}

var _ domain.WorkflowRepository = (*MemoryWorkflowRepository)(nil)

// Save stores a snapshot of the workflow, replacing any previous entry for
// the same id.
func (r *MemoryWorkflowRepository) Save(_ context.Context, workflow *domain.Workflow) error {
	snapshot := workflow.Clone()

	r.mux.Lock()
	defer r.mux.Unlock()
	r.workflows[snapshot.ID] = snapshot
	return nil
}

// Get returns a snapshot of the workflow for id or domain.ErrWorkflowNotFound.
func (r *MemoryWorkflowRepository) Get(_ context.Context, id models.ID) (*domain.Workflow, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return workflow.Clone(), nil
}

// List returns snapshots of all stored workflows in unspecified order.
func (r *MemoryWorkflowRepository) List(_ context.Context) ([]*domain.Workflow, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	workflows := make([]*domain.Workflow, 0, len(r.workflows))
	for _, workflow := range r.workflows {
		workflows = append(workflows, workflow.Clone())
	}
	return workflows, nil
}

// Sweep removes terminal workflows older than maxAge.
func (r *MemoryWorkflowRepository) Sweep(_ context.Context, maxAge time.Duration) (int, error) {
	now := time.Now()

	r.mux.Lock()
	defer r.mux.Unlock()

	removed := 0
	for id, workflow := range r.workflows {
		if workflow.IsTerminal() && workflow.Age(now) > maxAge {
			delete(r.workflows, id)
			removed++
		}
	}
	return removed, nil
}
