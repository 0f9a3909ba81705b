package messaging

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatihkizil1453/go-marketplace-orders/internal/orders"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/postgres"
)

// Same TEST_POSTGRES_DSN gate as the order repo tests.
func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)
	_, err = db.Exec(ctx, string(schema))
	require.NoError(t, err)

	return &Repo{DB: db}
}

// seedUnit satisfies the conversation's foreign keys with a minimal order.
func seedUnit(t *testing.T, db *pgxpool.Pool) (unitID, buyerID, sellerID string) {
	t.Helper()
	ctx := context.Background()
	buyerID, sellerID = uuid.NewString(), uuid.NewString()
	orderID, unitID := uuid.NewString(), uuid.NewString()
	_, err := db.Exec(ctx, `
		INSERT INTO orders(id, external_id, buyer_id, total_cents)
		VALUES ($1,$2,$3,1000)`, orderID, uuid.NewString(), buyerID)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `
		INSERT INTO fulfillment_units(id, order_id, seller_id, total_cents)
		VALUES ($1,$2,$3,1000)`, unitID, orderID, sellerID)
	require.NoError(t, err)
	return unitID, buyerID, sellerID
}

func TestPostSystemMessageReusesConversation(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	unitID, buyerID, sellerID := seedUnit(t, r.DB)

	require.NoError(t, r.PostSystemMessage(ctx, unitID, sellerID, buyerID, sellerID, "first"))
	require.NoError(t, r.PostSystemMessage(ctx, unitID, sellerID, buyerID, sellerID, "second"))

	conv, msgs, err := r.UnitMessages(ctx, unitID, buyerID)
	require.NoError(t, err)
	assert.Equal(t, unitID, conv.UnitID)
	require.Len(t, msgs, 2, "both posts land in one conversation")
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	for _, m := range msgs {
		assert.True(t, m.IsSystem)
		assert.Equal(t, sellerID, m.SenderID)
	}

	// both participants can read
	_, msgs, err = r.UnitMessages(ctx, unitID, sellerID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestUnitMessagesNonParticipant(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	unitID, buyerID, sellerID := seedUnit(t, r.DB)
	require.NoError(t, r.PostSystemMessage(ctx, unitID, sellerID, buyerID, sellerID, "hello"))

	_, _, err := r.UnitMessages(ctx, unitID, uuid.NewString())
	var nfe *orders.NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestUnitMessagesNoConversation(t *testing.T) {
	r := newTestRepo(t)
	unitID, buyerID, _ := seedUnit(t, r.DB)

	_, _, err := r.UnitMessages(context.Background(), unitID, buyerID)
	var nfe *orders.NotFoundError
	require.ErrorAs(t, err, &nfe)
}
