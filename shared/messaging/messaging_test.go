package messaging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_MarshalsFlat(t *testing.T) {
	cmd := NewCommand("wf-1", "createOrder", "corr-1", "orchestrator.reply.queue", map[string]interface{}{
		"productId": "p1",
		"quantity":  1,
	})

	raw, err := json.Marshal(cmd)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	// Business fields and envelope fields live at the same level.
	assert.Equal(t, "p1", decoded["productId"])
	assert.Equal(t, float64(1), decoded["quantity"])
	assert.Equal(t, "wf-1", decoded["workflowId"])
	assert.Equal(t, "createOrder", decoded["stepName"])
	assert.Equal(t, "corr-1", decoded["correlationId"])
	assert.Equal(t, "orchestrator.reply.queue", decoded["replyTo"])
	assert.NotEmpty(t, decoded["timestamp"])
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expectedError bool
		check         func(t *testing.T, reply *Reply)
	}{
		{
			name: "success reply",
			body: `{"correlationId":"corr-1","data":{"orderId":"o-1"}}`,
			check: func(t *testing.T, reply *Reply) {
				assert.Equal(t, "corr-1", reply.CorrelationID)
				assert.Equal(t, "o-1", reply.Data["orderId"])
				assert.Empty(t, reply.Error)
			},
		},
		{
			name: "error reply",
			body: `{"correlationId":"corr-2","error":"insufficient funds"}`,
			check: func(t *testing.T, reply *Reply) {
				assert.Equal(t, "insufficient funds", reply.Error)
				assert.Nil(t, reply.Data)
			},
		},
		{
			name:          "missing correlation id",
			body:          `{"data":{"orderId":"o-1"}}`,
			expectedError: true,
		},
		{
			name:          "malformed body",
			body:          `not-json`,
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := ParseReply([]byte(tt.body))
			if tt.expectedError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, reply)
		})
	}
}
