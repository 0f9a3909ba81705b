package orders

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	p := UnitEventPayload{UnitID: "u1", OrderID: "o1", SellerID: "s1", BuyerID: "b1", ActorID: "s1"}
	env := NewEnvelope(EventUnitConfirmed, "marketplace-api", "u1", p)

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, EventUnitConfirmed, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "marketplace-api", env.Producer)
	assert.Equal(t, "u1", env.CorrelationID)
	assert.False(t, env.OccurredAt.IsZero())

	var got UnitEventPayload
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, p, got)
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, []byte("unit-42"), PartitionKey("unit-42"))
}
