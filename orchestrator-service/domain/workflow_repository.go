package domain

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mercato/order-system/shared/models"
)

// ErrWorkflowNotFound is returned when no workflow exists for an id.
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowRepository stores active workflow executions. The default backend
// is in-memory; the interface keeps a durable backend substitutable without
// touching the driver.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *Workflow) error
	Get(ctx context.Context, id models.ID) (*Workflow, error)
	List(ctx context.Context) ([]*Workflow, error)

	// Sweep removes terminal workflows older than maxAge and returns how
	// many were removed.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}
