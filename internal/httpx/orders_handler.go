package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/fatihkizil1453/go-marketplace-orders/internal/kafka"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/messaging"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/metrics"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/orders"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/redisx"
)

// Core is the order engine surface the handlers need; *orders.Repo satisfies
// it, tests use a stub.
type Core interface {
	Checkout(ctx context.Context, in orders.CheckoutInput) (*orders.OrderDetail, bool, error)
	GetOrder(ctx context.Context, orderID string, actor orders.Actor) (*orders.OrderDetail, error)
	ListOrders(ctx context.Context, buyerID string) ([]orders.Order, error)
	ListUnits(ctx context.Context, sellerID string) ([]orders.FulfillmentUnit, error)
	ListVariants(ctx context.Context) ([]orders.Variant, error)
	ConfirmUnit(ctx context.Context, unitID string, actor orders.Actor) ([]orders.Envelope, error)
	RejectUnit(ctx context.Context, unitID string, actor orders.Actor) ([]orders.Envelope, error)
	ShipUnit(ctx context.Context, unitID string, actor orders.Actor, in orders.ShipmentInput) ([]orders.Envelope, error)
	DeliverUnit(ctx context.Context, unitID string, actor orders.Actor) ([]orders.Envelope, error)
	ReturnUnit(ctx context.Context, unitID string, actor orders.Actor) ([]orders.Envelope, error)
	CancelOrder(ctx context.Context, orderID string, actor orders.Actor) ([]orders.Envelope, error)
}

// Publisher is the async event sink; *kafka.Producer satisfies it.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// MessageReader exposes the unit conversation to its participants;
// *messaging.Repo satisfies it.
type MessageReader interface {
	UnitMessages(ctx context.Context, unitID, actorID string) (*messaging.Conversation, []messaging.Message, error)
}

type OrdersHandler struct {
	Core     Core
	Producer Publisher
	Messages MessageReader
	Redis    *redis.Client
	Service  string // stamped on every published event header
}

type CheckoutReq struct {
	ExternalID      string                     `json:"external_id"`
	Items           []orders.CheckoutItemInput `json:"items"`
	ShippingAddress json.RawMessage            `json:"shipping_address"`
	BillingAddress  json.RawMessage            `json:"billing_address"`
}

type ShipReq struct {
	TrackingNumber    string `json:"tracking_number"`
	CarrierName       string `json:"carrier_name"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"` // YYYY-MM-DD
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.checkout)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/units", h.listUnits)
	r.Post("/units/{id}/confirm", h.unitAction("confirm", h.Core.ConfirmUnit))
	r.Post("/units/{id}/reject", h.unitAction("reject", h.Core.RejectUnit))
	r.Post("/units/{id}/ship", h.shipUnit)
	r.Post("/units/{id}/deliver", h.unitAction("deliver", h.Core.DeliverUnit))
	r.Post("/units/{id}/return", h.unitAction("return", h.Core.ReturnUnit))
	r.Get("/units/{id}/messages", h.unitMessages)
	r.Get("/variants", h.listVariants)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := orders.CodeOf(err)
	status := http.StatusInternalServerError
	msg := err.Error()
	switch code {
	case orders.CodeValidation:
		status = http.StatusBadRequest
	case orders.CodeNotFound:
		status = http.StatusNotFound
	case orders.CodeForbidden:
		status = http.StatusForbidden
	case orders.CodeInsufficientStock, orders.CodeInvalidTransition:
		status = http.StatusConflict
	case orders.CodeInternal:
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"code": code, "error": msg})
}

// actorFrom trusts the pre-authenticated identity headers set by the gateway.
func actorFrom(r *http.Request) (orders.Actor, error) {
	a := orders.Actor{
		ID:   r.Header.Get("X-Actor-Id"),
		Role: r.Header.Get("X-Actor-Role"),
	}
	if a.ID == "" {
		return a, &orders.ValidationError{Field: "X-Actor-Id", Reason: "required"}
	}
	return a, nil
}

func (h *OrdersHandler) publish(evs []orders.Envelope) {
	for _, ev := range evs {
		h.Producer.Publish(orders.PartitionKey(ev.CorrelationID), kafkax.MustMarshal(ev),
			kafkago.Header{Key: "x-event-type", Value: []byte(ev.EventType)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
			kafkago.Header{Key: "x-producer", Value: []byte(h.Service)},
		)
	}
}

func (h *OrdersHandler) invalidateOrder(ctx context.Context, orderID string) {
	_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderDetail, orderID)).Err()
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &orders.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	detail, existed, err := h.Core.Checkout(ctx, orders.CheckoutInput{
		ExternalID:      req.ExternalID,
		BuyerID:         actor.ID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
	})
	if err != nil {
		switch orders.CodeOf(err) {
		case orders.CodeInsufficientStock:
			metrics.CheckoutTotal.WithLabelValues("insufficient_stock").Inc()
		case orders.CodeValidation, orders.CodeNotFound:
			metrics.CheckoutTotal.WithLabelValues("invalid").Inc()
		default:
			metrics.CheckoutTotal.WithLabelValues("error").Inc()
		}
		writeError(w, err)
		return
	}
	metrics.CheckoutTotal.WithLabelValues("ok").Inc()

	// idempotency shortcut for repeated submits
	idemKey := fmt.Sprintf(redisx.KeyIdemCheckout, req.ExternalID)
	_ = h.Redis.Set(ctx, idemKey, detail.ID, redisx.TTLIdempotency).Err()

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, detail)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cached detail first; transitions invalidate this key
	key := fmt.Sprintf(redisx.KeyOrderDetail, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		var cached orders.OrderDetail
		if json.Unmarshal([]byte(s), &cached) == nil && cached.BuyerID == actor.ID {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	detail, err := h.Core.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	if b, err := json.Marshal(detail); err == nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLDetailCache).Err()
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Core.ListOrders(ctx, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) listUnits(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Core.ListUnits(ctx, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) unitMessages(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "id")
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	conv, msgs, err := h.Messages.UnitMessages(ctx, unitID, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     msgs,
	})
}

func (h *OrdersHandler) listVariants(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Core.ListVariants(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type unitActionFn func(ctx context.Context, unitID string, actor orders.Actor) ([]orders.Envelope, error)

func (h *OrdersHandler) unitAction(action string, fn unitActionFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unitID := chi.URLParam(r, "id")
		actor, err := actorFrom(r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		evs, err := fn(ctx, unitID, actor)
		if err != nil {
			metrics.TransitionsTotal.WithLabelValues(action, "fail").Inc()
			writeError(w, err)
			return
		}
		metrics.TransitionsTotal.WithLabelValues(action, "ok").Inc()
		h.publish(evs)
		for _, ev := range evs {
			if p, err := kafkax.UnwrapPayload[orders.UnitEventPayload](ev.Payload); err == nil && p.OrderID != "" {
				h.invalidateOrder(ctx, p.OrderID)
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": action + "ed"})
	}
}

func (h *OrdersHandler) shipUnit(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "id")
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ShipReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &orders.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	in := orders.ShipmentInput{
		TrackingNumber: req.TrackingNumber,
		CarrierName:    req.CarrierName,
	}
	if req.EstimatedDelivery != "" {
		t, err := time.Parse("2006-01-02", req.EstimatedDelivery)
		if err != nil {
			writeError(w, &orders.ValidationError{Field: "estimated_delivery", Reason: "expected YYYY-MM-DD"})
			return
		}
		in.EstimatedDelivery = &t
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	evs, err := h.Core.ShipUnit(ctx, unitID, actor, in)
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues("ship", "fail").Inc()
		writeError(w, err)
		return
	}
	metrics.TransitionsTotal.WithLabelValues("ship", "ok").Inc()
	h.publish(evs)
	for _, ev := range evs {
		if p, err := kafkax.UnwrapPayload[orders.UnitEventPayload](ev.Payload); err == nil && p.OrderID != "" {
			h.invalidateOrder(ctx, p.OrderID)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shipped"})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	evs, err := h.Core.CancelOrder(ctx, orderID, actor)
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues("cancel", "fail").Inc()
		writeError(w, err)
		return
	}
	metrics.TransitionsTotal.WithLabelValues("cancel", "ok").Inc()
	h.publish(evs)
	h.invalidateOrder(ctx, orderID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
