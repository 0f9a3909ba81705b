package orders

import (
	"encoding/json"
	"time"
)

// Variant is the sellable entity the inventory ledger guards. The catalog
// owns everything else about it; checkout only reads seller, price and stock
// under lock.
type Variant struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	SellerID   string          `json:"seller_id"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	PriceCents int64           `json:"price_cents"`
	Stock      int             `json:"stock"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Order is the buyer-facing parent aggregate. Addresses are snapshots taken
// at checkout; only status and updated_at change after creation.
type Order struct {
	ID              string          `json:"id"`
	ExternalID      string          `json:"external_id"`
	BuyerID         string          `json:"buyer_id"`
	TotalCents      int64           `json:"total_cents"`
	Currency        string          `json:"currency"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress json.RawMessage `json:"shipping_address"`
	BillingAddress  json.RawMessage `json:"billing_address"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// FulfillmentUnit is the per-seller split of an order ("seller order").
// Created once at checkout, status-mutated through the lifecycle, never
// deleted.
type FulfillmentUnit struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"order_id"`
	SellerID        string     `json:"seller_id"`
	TotalCents      int64      `json:"total_cents"`
	CommissionCents int64      `json:"commission_cents"`
	Status          UnitStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// LineItem snapshots quantity and price at purchase time. Immutable.
type LineItem struct {
	ID              string `json:"id"`
	UnitID          string `json:"unit_id"`
	VariantID       string `json:"variant_id"`
	Quantity        int    `json:"quantity"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`
}

// Shipment exists at most once per unit, created on the transition to SHIPPED.
type Shipment struct {
	UnitID            string     `json:"unit_id"`
	TrackingNumber    string     `json:"tracking_number"`
	CarrierName       string     `json:"carrier_name"`
	ShippedAt         time.Time  `json:"shipped_at"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
}

// UnitDetail and OrderDetail are the read shapes returned to callers.
type UnitDetail struct {
	FulfillmentUnit
	Items    []LineItem `json:"items"`
	Shipment *Shipment  `json:"shipment,omitempty"`
}

type OrderDetail struct {
	Order
	Units []UnitDetail `json:"units"`
}

// Actor is a pre-authenticated caller. Role checks happened upstream; the
// core re-validates ownership only.
type Actor struct {
	ID   string
	Role string
}

const (
	RoleBuyer  = "BUYER"
	RoleSeller = "SELLER"
)

// Ownable declares the owner relation of a mutable entity. Authorization is a
// lookup against this declared field, never attribute probing at call sites.
type Ownable interface {
	OwnerID() string
}

func (o *Order) OwnerID() string           { return o.BuyerID }
func (u *FulfillmentUnit) OwnerID() string { return u.SellerID }
