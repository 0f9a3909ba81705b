package notifier

import (
	"context"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkax "github.com/fatihkizil1453/go-marketplace-orders/internal/kafka"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/orders"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/redisx"
)

type recordedMessage struct {
	unitID, senderID, buyerID, sellerID, content string
}

type fakeSink struct {
	posted []recordedMessage
	err    error
}

func (f *fakeSink) PostSystemMessage(_ context.Context, unitID, senderID, buyerID, sellerID, content string) error {
	if f.err != nil {
		return f.err
	}
	f.posted = append(f.posted, recordedMessage{unitID, senderID, buyerID, sellerID, content})
	return nil
}

func newTestService(sink *fakeSink) *Service {
	// redis at a closed port: dedup reads fail open, writes are best effort
	return &Service{Sink: sink, Redis: redisx.New("127.0.0.1:1"), ServiceName: "test-notifier"}
}

func messageFor(t *testing.T, eventType string, p orders.UnitEventPayload) kafkago.Message {
	t.Helper()
	env := orders.NewEnvelope(eventType, "test-api", p.UnitID, p)
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestHandleEventPostsSystemMessage(t *testing.T) {
	sink := &fakeSink{}
	svc := newTestService(sink)

	p := orders.UnitEventPayload{UnitID: "u1", OrderID: "o1", SellerID: "s1", BuyerID: "b1", ActorID: "s1"}
	err := svc.HandleEvent(context.Background(), messageFor(t, orders.EventUnitConfirmed, p))
	require.NoError(t, err)

	require.Len(t, sink.posted, 1)
	got := sink.posted[0]
	assert.Equal(t, "u1", got.unitID)
	assert.Equal(t, "s1", got.senderID)
	assert.Equal(t, "b1", got.buyerID)
	assert.Equal(t, "s1", got.sellerID)
	assert.Contains(t, got.content, "confirmed")
}

func TestHandleEventShippedIncludesTracking(t *testing.T) {
	sink := &fakeSink{}
	svc := newTestService(sink)

	p := orders.UnitEventPayload{
		UnitID: "u1", OrderID: "o1", SellerID: "s1", BuyerID: "b1", ActorID: "s1",
		TrackingNumber: "TRK-99", CarrierName: "UPS",
	}
	require.NoError(t, svc.HandleEvent(context.Background(), messageFor(t, orders.EventUnitShipped, p)))

	require.Len(t, sink.posted, 1)
	assert.Contains(t, sink.posted[0].content, "TRK-99")
	assert.Contains(t, sink.posted[0].content, "UPS")
}

func TestHandleEventIgnoresUnknownTypes(t *testing.T) {
	sink := &fakeSink{}
	svc := newTestService(sink)

	p := orders.OrderCancelledPayload{OrderID: "o1", BuyerID: "b1"}
	env := orders.NewEnvelope(orders.EventOrderCancelled, "test-api", "o1", p)
	err := svc.HandleEvent(context.Background(), kafkago.Message{Value: kafkax.MustMarshal(env)})
	require.NoError(t, err)
	assert.Empty(t, sink.posted)
}

func TestHandleEventPropagatesSinkError(t *testing.T) {
	sink := &fakeSink{err: assert.AnError}
	svc := newTestService(sink)

	p := orders.UnitEventPayload{UnitID: "u1", SellerID: "s1", BuyerID: "b1", ActorID: "s1"}
	err := svc.HandleEvent(context.Background(), messageFor(t, orders.EventUnitRejected, p))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestContentFor(t *testing.T) {
	for _, et := range []string{
		orders.EventUnitConfirmed, orders.EventUnitRejected, orders.EventUnitShipped,
		orders.EventUnitCancelled, orders.EventUnitDelivered, orders.EventUnitReturned,
	} {
		c, ok := ContentFor(et)
		assert.True(t, ok, et)
		assert.NotEmpty(t, c, et)
	}
	_, ok := ContentFor(orders.EventOrderCancelled)
	assert.False(t, ok)
	_, ok = ContentFor("Bogus")
	assert.False(t, ok)
}
