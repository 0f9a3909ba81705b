package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventUnitConfirmed  = "UnitConfirmed"
	EventUnitRejected   = "UnitRejected"
	EventUnitShipped    = "UnitShipped"
	EventUnitDelivered  = "UnitDelivered"
	EventUnitReturned   = "UnitReturned"
	EventUnitCancelled  = "UnitCancelled"
	EventOrderCancelled = "OrderCancelled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"` // unit_id for unit events, order_id otherwise
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, correlationID string, payload any) Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}
}

// ---- payload types ----

type ItemQty struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

// UnitEventPayload carries what the notification sink needs to open the
// unit's conversation: both participants plus the acting party.
type UnitEventPayload struct {
	UnitID    string    `json:"unit_id"`
	OrderID   string    `json:"order_id"`
	SellerID  string    `json:"seller_id"`
	BuyerID   string    `json:"buyer_id"`
	ActorID   string    `json:"actor_id"`
	Restocked []ItemQty `json:"restocked,omitempty"` // set on rejection/cancellation

	// shipping details, set on UnitShipped only
	TrackingNumber string `json:"tracking_number,omitempty"`
	CarrierName    string `json:"carrier_name,omitempty"`
}

type OrderCancelledPayload struct {
	OrderID        string   `json:"order_id"`
	BuyerID        string   `json:"buyer_id"`
	CancelledUnits []string `json:"cancelled_units"`
}
