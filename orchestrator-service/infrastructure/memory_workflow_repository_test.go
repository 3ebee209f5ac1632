package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/order-system/orchestrator-service/domain"
)

func newTestWorkflow() *domain.Workflow {
	return domain.NewWorkflow(map[string]interface{}{"userId": "u1"}, 3, 30*time.Second)
}

func TestMemoryWorkflowRepository_SaveAndGet(t *testing.T) {
	repo := NewMemoryWorkflowRepository()
	ctx := context.Background()

	workflow := newTestWorkflow()
	require.NoError(t, repo.Save(ctx, workflow))

	got, err := repo.Get(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, got.ID)
}

func TestMemoryWorkflowRepository_ReadsAreSnapshots(t *testing.T) {
	repo := NewMemoryWorkflowRepository()
	ctx := context.Background()

	workflow := newTestWorkflow()
	require.NoError(t, repo.Save(ctx, workflow))

	// Mutations after Save stay invisible until the next Save.
	workflow.Transition(domain.StatusOrderCreated, "createOrder", map[string]interface{}{"orderId": "o-1"})

	got, err := repo.Get(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInitiated, got.Status)
	assert.Empty(t, got.Steps)
	assert.Equal(t, "", got.DataString("orderId"))

	// Mutating a returned snapshot never leaks into the store.
	got.Transition(domain.StatusFailed, "tampered", nil)

	again, err := repo.Get(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInitiated, again.Status)

	require.NoError(t, repo.Save(ctx, workflow))
	saved, err := repo.Get(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOrderCreated, saved.Status)
	assert.Equal(t, "o-1", saved.DataString("orderId"))
}

func TestMemoryWorkflowRepository_GetMissing(t *testing.T) {
	repo := NewMemoryWorkflowRepository()

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestMemoryWorkflowRepository_List(t *testing.T) {
	repo := NewMemoryWorkflowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newTestWorkflow()))
	require.NoError(t, repo.Save(ctx, newTestWorkflow()))

	workflows, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, workflows, 2)
}

func TestMemoryWorkflowRepository_SweepRemovesOldTerminalOnly(t *testing.T) {
	repo := NewMemoryWorkflowRepository()
	ctx := context.Background()

	oldCompleted := newTestWorkflow()
	oldCompleted.Transition(domain.StatusCompleted, "workflowCompleted", nil)
	oldCompleted.StartTime = time.Now().Add(-25 * time.Hour)

	youngCompleted := newTestWorkflow()
	youngCompleted.Transition(domain.StatusCompleted, "workflowCompleted", nil)

	oldRunning := newTestWorkflow()
	oldRunning.StartTime = time.Now().Add(-25 * time.Hour)

	require.NoError(t, repo.Save(ctx, oldCompleted))
	require.NoError(t, repo.Save(ctx, youngCompleted))
	require.NoError(t, repo.Save(ctx, oldRunning))

	removed, err := repo.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, oldCompleted.ID)
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)

	_, err = repo.Get(ctx, youngCompleted.ID)
	assert.NoError(t, err)

	_, err = repo.Get(ctx, oldRunning.ID)
	assert.NoError(t, err, "non-terminal workflows are never swept")
}
