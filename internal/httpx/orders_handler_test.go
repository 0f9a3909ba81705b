package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkax "github.com/fatihkizil1453/go-marketplace-orders/internal/kafka"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/messaging"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/orders"
	"github.com/fatihkizil1453/go-marketplace-orders/internal/redisx"
)

type stubCore struct {
	detail  *orders.OrderDetail
	existed bool
	err     error
	evs     []orders.Envelope
	gotShip orders.ShipmentInput
	calls   []string
}

func (s *stubCore) Checkout(_ context.Context, in orders.CheckoutInput) (*orders.OrderDetail, bool, error) {
	s.calls = append(s.calls, "checkout")
	return s.detail, s.existed, s.err
}

func (s *stubCore) GetOrder(_ context.Context, orderID string, _ orders.Actor) (*orders.OrderDetail, error) {
	s.calls = append(s.calls, "get:"+orderID)
	return s.detail, s.err
}

func (s *stubCore) ListOrders(context.Context, string) ([]orders.Order, error) { return nil, s.err }

func (s *stubCore) ListUnits(context.Context, string) ([]orders.FulfillmentUnit, error) {
	return nil, s.err
}

func (s *stubCore) ListVariants(context.Context) ([]orders.Variant, error) { return nil, s.err }

func (s *stubCore) ConfirmUnit(_ context.Context, unitID string, _ orders.Actor) ([]orders.Envelope, error) {
	s.calls = append(s.calls, "confirm:"+unitID)
	return s.evs, s.err
}

func (s *stubCore) RejectUnit(_ context.Context, unitID string, _ orders.Actor) ([]orders.Envelope, error) {
	s.calls = append(s.calls, "reject:"+unitID)
	return s.evs, s.err
}

func (s *stubCore) ShipUnit(_ context.Context, unitID string, _ orders.Actor, in orders.ShipmentInput) ([]orders.Envelope, error) {
	s.calls = append(s.calls, "ship:"+unitID)
	s.gotShip = in
	return s.evs, s.err
}

func (s *stubCore) DeliverUnit(_ context.Context, unitID string, _ orders.Actor) ([]orders.Envelope, error) {
	s.calls = append(s.calls, "deliver:"+unitID)
	return s.evs, s.err
}

func (s *stubCore) ReturnUnit(_ context.Context, unitID string, _ orders.Actor) ([]orders.Envelope, error) {
	s.calls = append(s.calls, "return:"+unitID)
	return s.evs, s.err
}

func (s *stubCore) CancelOrder(_ context.Context, orderID string, _ orders.Actor) ([]orders.Envelope, error) {
	s.calls = append(s.calls, "cancel:"+orderID)
	return s.evs, s.err
}

type publishedMsg struct {
	key     []byte
	value   []byte
	headers map[string]string
}

type fakePublisher struct{ msgs []publishedMsg }

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	m := publishedMsg{key: key, value: value, headers: map[string]string{}}
	for _, h := range headers {
		m.headers[h.Key] = string(h.Value)
	}
	f.msgs = append(f.msgs, m)
}

// newTestHandler wires the handler against a stub core; redis points at a
// closed port so cache calls fail fast and fall through, the publisher only
// records.
func newTestHandler(core Core) (*OrdersHandler, http.Handler) {
	h := &OrdersHandler{
		Core:     core,
		Producer: &fakePublisher{},
		Redis:    redisx.New("127.0.0.1:1"),
		Service:  "test-api",
	}
	r := NewRouter()
	h.Register(r)
	return h, r
}

func doReq(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

var buyerHeaders = map[string]string{"X-Actor-Id": "buyer-1", "X-Actor-Role": orders.RoleBuyer}
var sellerHeaders = map[string]string{"X-Actor-Id": "seller-1", "X-Actor-Role": orders.RoleSeller}

func TestCheckoutCreated(t *testing.T) {
	core := &stubCore{detail: &orders.OrderDetail{
		Order: orders.Order{ID: "o1", BuyerID: "buyer-1", TotalCents: 25000, Status: orders.OrderPaid},
	}}
	_, r := newTestHandler(core)

	body := `{"external_id":"ext-1","items":[{"variant_id":"va","quantity":2}],"shipping_address":{},"billing_address":{}}`
	w := doReq(t, r, http.MethodPost, "/checkout", body, buyerHeaders)

	require.Equal(t, http.StatusCreated, w.Code)
	var got orders.OrderDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, []string{"checkout"}, core.calls)
}

func TestCheckoutIdempotentReplayReturnsOK(t *testing.T) {
	core := &stubCore{existed: true, detail: &orders.OrderDetail{
		Order: orders.Order{ID: "o1", BuyerID: "buyer-1"},
	}}
	_, r := newTestHandler(core)

	body := `{"external_id":"ext-1","items":[{"variant_id":"va","quantity":1}]}`
	w := doReq(t, r, http.MethodPost, "/checkout", body, buyerHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutInsufficientStock(t *testing.T) {
	core := &stubCore{err: &orders.InsufficientStockError{VariantID: "vb", Requested: 100, Available: 5}}
	_, r := newTestHandler(core)

	body := `{"external_id":"ext-1","items":[{"variant_id":"vb","quantity":100}]}`
	w := doReq(t, r, http.MethodPost, "/checkout", body, buyerHeaders)

	require.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orders.CodeInsufficientStock, resp["code"])
	assert.Contains(t, resp["error"], "vb")
}

func TestMissingActorHeader(t *testing.T) {
	_, r := newTestHandler(&stubCore{})
	w := doReq(t, r, http.MethodPost, "/checkout", `{"external_id":"e","items":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orders.CodeValidation, resp["code"])
}

func TestConfirmForbidden(t *testing.T) {
	core := &stubCore{err: &orders.ForbiddenError{ActorID: "seller-1", Entity: "fulfillment unit", ID: "u1"}}
	_, r := newTestHandler(core)

	w := doReq(t, r, http.MethodPost, "/units/u1/confirm", "", sellerHeaders)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, []string{"confirm:u1"}, core.calls)
}

func TestRejectInvalidTransition(t *testing.T) {
	core := &stubCore{err: &orders.InvalidTransitionError{From: string(orders.UnitShipped), Action: "reject"}}
	_, r := newTestHandler(core)

	w := doReq(t, r, http.MethodPost, "/units/u1/reject", "", sellerHeaders)
	require.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orders.CodeInvalidTransition, resp["code"])
}

func TestShipParsesEstimatedDelivery(t *testing.T) {
	core := &stubCore{}
	_, r := newTestHandler(core)

	body := `{"tracking_number":"TRK-1","carrier_name":"UPS","estimated_delivery":"2026-09-15"}`
	w := doReq(t, r, http.MethodPost, "/units/u1/ship", body, sellerHeaders)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "TRK-1", core.gotShip.TrackingNumber)
	assert.Equal(t, "UPS", core.gotShip.CarrierName)
	require.NotNil(t, core.gotShip.EstimatedDelivery)
	assert.Equal(t, time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC), *core.gotShip.EstimatedDelivery)
}

func TestShipRejectsBadDate(t *testing.T) {
	core := &stubCore{}
	_, r := newTestHandler(core)

	body := `{"tracking_number":"TRK-1","carrier_name":"UPS","estimated_delivery":"15/09/2026"}`
	w := doReq(t, r, http.MethodPost, "/units/u1/ship", body, sellerHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, core.calls)
}

func TestCancelOrder(t *testing.T) {
	core := &stubCore{evs: []orders.Envelope{
		orders.NewEnvelope(orders.EventOrderCancelled, "test-api", "o1", orders.OrderCancelledPayload{OrderID: "o1"}),
	}}
	_, r := newTestHandler(core)

	w := doReq(t, r, http.MethodPost, "/orders/o1/cancel", "", buyerHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"cancel:o1"}, core.calls)
}

func TestConfirmPublishesStampedEvent(t *testing.T) {
	core := &stubCore{evs: []orders.Envelope{
		orders.NewEnvelope(orders.EventUnitConfirmed, "test-api", "u1",
			orders.UnitEventPayload{UnitID: "u1", OrderID: "o1", SellerID: "seller-1", BuyerID: "buyer-1"}),
	}}
	h, r := newTestHandler(core)

	w := doReq(t, r, http.MethodPost, "/units/u1/confirm", "", sellerHeaders)
	require.Equal(t, http.StatusOK, w.Code)

	pub := h.Producer.(*fakePublisher)
	require.Len(t, pub.msgs, 1)
	got := pub.msgs[0]
	assert.Equal(t, []byte("u1"), got.key)
	assert.Equal(t, orders.EventUnitConfirmed, got.headers["x-event-type"])
	assert.Equal(t, "1", got.headers["x-event-version"])
	assert.Equal(t, "test-api", got.headers["x-producer"])

	var env orders.Envelope
	require.NoError(t, kafkax.UnmarshalEnvelope(got.value, &env))
	assert.Equal(t, orders.EventUnitConfirmed, env.EventType)
}

type stubMessages struct {
	conv *messaging.Conversation
	msgs []messaging.Message
	err  error
	got  string
}

func (s *stubMessages) UnitMessages(_ context.Context, unitID, actorID string) (*messaging.Conversation, []messaging.Message, error) {
	s.got = unitID + ":" + actorID
	return s.conv, s.msgs, s.err
}

func TestUnitMessages(t *testing.T) {
	h, r := newTestHandler(&stubCore{})
	sm := &stubMessages{
		conv: &messaging.Conversation{ID: "c1", UnitID: "u1"},
		msgs: []messaging.Message{{ID: "m1", ConversationID: "c1", SenderID: "seller-1", Content: "hi", IsSystem: true}},
	}
	h.Messages = sm

	w := doReq(t, r, http.MethodGet, "/units/u1/messages", "", buyerHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1:buyer-1", sm.got)

	var resp struct {
		Conversation messaging.Conversation `json:"conversation"`
		Messages     []messaging.Message    `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.Conversation.ID)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hi", resp.Messages[0].Content)
}

func TestUnitMessagesNotFound(t *testing.T) {
	h, r := newTestHandler(&stubCore{})
	h.Messages = &stubMessages{err: &orders.NotFoundError{Entity: "conversation", ID: "u1"}}

	w := doReq(t, r, http.MethodGet, "/units/u1/messages", "", buyerHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOrderNotFound(t *testing.T) {
	core := &stubCore{err: &orders.NotFoundError{Entity: "order", ID: "nope"}}
	_, r := newTestHandler(core)

	w := doReq(t, r, http.MethodGet, "/orders/nope", "", buyerHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
