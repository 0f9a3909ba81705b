package notifier

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/fatihkizil1453/go-marketplace-orders/internal/kafka"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/orders"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/redisx"
)

// Sink persists a system message into the conversation of a fulfillment unit.
type Sink interface {
	PostSystemMessage(ctx context.Context, unitID, senderID, buyerID, sellerID, content string) error
}

// Service projects fulfillment lifecycle events into per-unit conversations.
type Service struct {
	Sink        Sink
	Redis       *redis.Client
	ServiceName string
}

// HandleEvent is the kafka consumer handler.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		return err
	}

	content, ok := ContentFor(env.EventType)
	if !ok {
		return nil // not a notification-worthy event
	}

	// dedup by event id so redelivery never double-posts
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	exists, _ := redisx.Exists(ctx, s.Redis, dkey)
	if exists {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.UnitEventPayload](env.Payload)
	if err != nil {
		return err
	}
	if env.EventType == orders.EventUnitShipped {
		content = fmt.Sprintf("%s Carrier: %s, tracking number: %s.", content, p.CarrierName, p.TrackingNumber)
	}

	if err := s.Sink.PostSystemMessage(ctx, p.UnitID, p.ActorID, p.BuyerID, p.SellerID, content); err != nil {
		return err
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	log.Info().Str("event", env.EventType).Str("unit", p.UnitID).Msg("system message posted")
	return nil
}

// ContentFor maps a lifecycle event type to the system message shown to the
// buyer. The second return is false for events that carry no message.
func ContentFor(eventType string) (string, bool) {
	switch eventType {
	case orders.EventUnitConfirmed:
		return "Your order has been confirmed and is being prepared.", true
	case orders.EventUnitRejected:
		return "Your order has been rejected by the seller.", true
	case orders.EventUnitShipped:
		return "Your order has been shipped.", true
	case orders.EventUnitCancelled:
		return "Your order has been cancelled.", true
	case orders.EventUnitDelivered:
		return "Your order has been delivered.", true
	case orders.EventUnitReturned:
		return "Your order has been marked as returned.", true
	default:
		return "", false
	}
}
