package saga

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveDeliversOutcome(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	outcome, err := registry.Register("corr-1", "createOrder", "wf-1")
	require.NoError(t, err)

	resolved := registry.Resolve("corr-1", map[string]interface{}{"orderId": "o-1"})
	assert.True(t, resolved)

	out := <-outcome
	require.NoError(t, out.Err)
	assert.Equal(t, "o-1", out.Data["orderId"])
	assert.Equal(t, 0, registry.PendingCount())
}

func TestRegistry_RejectDeliversError(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	outcome, err := registry.Register("corr-1", "processPayment", "wf-1")
	require.NoError(t, err)

	rejected := registry.Reject("corr-1", errors.New("insufficient funds"))
	assert.True(t, rejected)

	out := <-outcome
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "insufficient funds")
}

func TestRegistry_RegisterFailsOnCollision(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	_, err := registry.Register("corr-1", "createOrder", "wf-1")
	require.NoError(t, err)

	_, err = registry.Register("corr-1", "createOrder", "wf-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateCorrelationID))
}

func TestRegistry_ResolveUnknownIsNoOp(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	assert.False(t, registry.Resolve("missing", nil))
	assert.False(t, registry.Reject("missing", errors.New("late error")))
	assert.False(t, registry.Expire("missing"))
}

func TestRegistry_ExpireAndResolveAreMutuallyExclusive(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	_, err := registry.Register("corr-1", "createShipping", "wf-1")
	require.NoError(t, err)

	assert.True(t, registry.Expire("corr-1"))

	// A late reply after expiry must be dropped.
	assert.False(t, registry.Resolve("corr-1", map[string]interface{}{"shipmentId": "s-1"}))
}

func TestRegistry_ReplayedResolveHasNoEffect(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	_, err := registry.Register("corr-1", "createOrder", "wf-1")
	require.NoError(t, err)

	assert.True(t, registry.Resolve("corr-1", map[string]interface{}{"orderId": "o-1"}))
	assert.False(t, registry.Resolve("corr-1", map[string]interface{}{"orderId": "o-1"}))
}
