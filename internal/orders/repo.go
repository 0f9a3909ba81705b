package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultCurrency = "TRY"

type CheckoutItemInput struct {
	VariantID string `json:"variant_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type CheckoutInput struct {
	ExternalID      string
	BuyerID         string
	Items           []CheckoutItemInput
	ShippingAddress json.RawMessage
	BillingAddress  json.RawMessage
}

type Repo struct {
	DB            *pgxpool.Pool
	Service       string // producer name stamped on emitted events
	CommissionBps int64
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Checkout runs the planner and the aggregate builder inside one transaction:
// resolve every request to a variant, lock the variants in ascending id order,
// validate and decrement stock, then create the order, its per-seller units
// and their line items. Any failure rolls the whole thing back. A repeated
// external id returns the already-created order (existed=true).
func (r *Repo) Checkout(ctx context.Context, in CheckoutInput) (*OrderDetail, bool, error) {
	if err := validateCheckout(in); err != nil {
		return nil, false, err
	}
	// absent addresses persist as empty snapshots, the columns are NOT NULL
	if len(in.ShippingAddress) == 0 {
		in.ShippingAddress = json.RawMessage(`{}`)
	}
	if len(in.BillingAddress) == 0 {
		in.BillingAddress = json.RawMessage(`{}`)
	}

	// idempotency via external_id, DB is the source of truth
	var existingID string
	err := r.DB.QueryRow(ctx, `SELECT id FROM orders WHERE external_id=$1`, in.ExternalID).Scan(&existingID)
	if err == nil {
		d, err := r.loadDetail(ctx, r.DB, existingID)
		return d, true, err
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	// resolve bare product ids to their lowest-id variant (deterministic)
	variantIDs := make([]string, len(in.Items))
	for i, it := range in.Items {
		id := it.VariantID
		if id == "" {
			err := tx.QueryRow(ctx,
				`SELECT id FROM variants WHERE product_id=$1 ORDER BY id LIMIT 1`,
				it.ProductID).Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, false, &NotFoundError{Entity: "product", ID: it.ProductID}
			} else if err != nil {
				return nil, false, err
			}
		}
		variantIDs[i] = id
	}

	// lock each distinct variant exactly once, ascending id to avoid deadlock
	locked, err := lockVariants(ctx, tx, variantIDs)
	if err != nil {
		return nil, false, err
	}

	items := make([]PlanItem, len(in.Items))
	for i, it := range in.Items {
		items[i] = PlanItem{Variant: locked[variantIDs[i]], Quantity: it.Quantity}
	}
	buckets, grandTotal, err := Plan(items)
	if err != nil {
		return nil, false, err
	}

	for _, d := range Decrements(items) {
		if _, err := tx.Exec(ctx,
			`UPDATE variants SET stock = stock - $2, updated_at = now() WHERE id=$1`,
			d.VariantID, d.Qty); err != nil {
			return nil, false, err
		}
	}

	orderID := uuid.NewString()
	var order Order
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, external_id, buyer_id, total_cents, currency, status, shipping_address, billing_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		orderID, in.ExternalID, in.BuyerID, grandTotal, DefaultCurrency, OrderPaid,
		in.ShippingAddress, in.BillingAddress,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, false, err
	}
	order.ID = orderID
	order.ExternalID = in.ExternalID
	order.BuyerID = in.BuyerID
	order.TotalCents = grandTotal
	order.Currency = DefaultCurrency
	order.Status = OrderPaid
	order.ShippingAddress = in.ShippingAddress
	order.BillingAddress = in.BillingAddress

	detail := &OrderDetail{Order: order}
	for _, b := range buckets {
		unit := FulfillmentUnit{
			ID:              uuid.NewString(),
			OrderID:         orderID,
			SellerID:        b.SellerID,
			TotalCents:      b.TotalCents,
			CommissionCents: b.TotalCents * r.CommissionBps / 10000,
			Status:          UnitWaitingConfirmation,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO fulfillment_units(id, order_id, seller_id, total_cents, commission_cents, status)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING created_at, updated_at`,
			unit.ID, unit.OrderID, unit.SellerID, unit.TotalCents, unit.CommissionCents, unit.Status,
		).Scan(&unit.CreatedAt, &unit.UpdatedAt)
		if err != nil {
			return nil, false, err
		}

		ud := UnitDetail{FulfillmentUnit: unit}
		for _, line := range b.Lines {
			li := LineItem{
				ID:              uuid.NewString(),
				UnitID:          unit.ID,
				VariantID:       line.VariantID,
				Quantity:        line.Quantity,
				UnitPriceCents:  line.UnitPriceCents,
				TotalPriceCents: line.TotalPriceCents,
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO line_items(id, unit_id, variant_id, qty, unit_price_cents, total_price_cents)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				li.ID, li.UnitID, li.VariantID, li.Quantity, li.UnitPriceCents, li.TotalPriceCents,
			); err != nil {
				return nil, false, err
			}
			ud.Items = append(ud.Items, li)
		}
		detail.Units = append(detail.Units, ud)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return detail, false, nil
}

func validateCheckout(in CheckoutInput) error {
	switch {
	case in.ExternalID == "":
		return &ValidationError{Field: "external_id", Reason: "required"}
	case in.BuyerID == "":
		return &ValidationError{Field: "buyer_id", Reason: "required"}
	case len(in.Items) == 0:
		return &ValidationError{Field: "items", Reason: "at least one item required"}
	}
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return &ValidationError{Field: "quantity", Reason: "must be >= 1"}
		}
		if it.VariantID == "" && it.ProductID == "" {
			return &ValidationError{Field: "items", Reason: "variant_id or product_id required"}
		}
	}
	return nil
}

func lockVariants(ctx context.Context, tx pgx.Tx, ids []string) (map[string]Variant, error) {
	distinct := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}
	sort.Strings(distinct)

	out := make(map[string]Variant, len(distinct))
	for _, id := range distinct {
		var v Variant
		err := tx.QueryRow(ctx, `
			SELECT id, product_id, seller_id, sku, name, price_cents, stock
			FROM variants WHERE id=$1 FOR UPDATE`, id,
		).Scan(&v.ID, &v.ProductID, &v.SellerID, &v.SKU, &v.Name, &v.PriceCents, &v.Stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "variant", ID: id}
		} else if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// GetOrder returns the buyer's view of one order. Non-owners get NotFound,
// never a hint the order exists.
func (r *Repo) GetOrder(ctx context.Context, orderID string, actor Actor) (*OrderDetail, error) {
	d, err := r.loadDetail(ctx, r.DB, orderID)
	if err != nil {
		return nil, err
	}
	if d.BuyerID != actor.ID {
		return nil, &NotFoundError{Entity: "order", ID: orderID}
	}
	return d, nil
}

func (r *Repo) loadDetail(ctx context.Context, q querier, orderID string) (*OrderDetail, error) {
	var d OrderDetail
	err := q.QueryRow(ctx, `
		SELECT id, external_id, buyer_id, total_cents, currency, status,
		       shipping_address, billing_address, created_at, updated_at
		FROM orders WHERE id=$1`, orderID,
	).Scan(&d.ID, &d.ExternalID, &d.BuyerID, &d.TotalCents, &d.Currency, &d.Status,
		&d.ShippingAddress, &d.BillingAddress, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "order", ID: orderID}
	} else if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id, seller_id, total_cents, commission_cents, status, created_at, updated_at
		FROM fulfillment_units WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byUnit := map[string]int{}
	for rows.Next() {
		var u FulfillmentUnit
		if err := rows.Scan(&u.ID, &u.OrderID, &u.SellerID, &u.TotalCents, &u.CommissionCents,
			&u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		byUnit[u.ID] = len(d.Units)
		d.Units = append(d.Units, UnitDetail{FulfillmentUnit: u})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	irows, err := q.Query(ctx, `
		SELECT li.id, li.unit_id, li.variant_id, li.qty, li.unit_price_cents, li.total_price_cents
		FROM line_items li
		JOIN fulfillment_units u ON u.id = li.unit_id
		WHERE u.order_id=$1 ORDER BY li.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer irows.Close()
	for irows.Next() {
		var li LineItem
		if err := irows.Scan(&li.ID, &li.UnitID, &li.VariantID, &li.Quantity,
			&li.UnitPriceCents, &li.TotalPriceCents); err != nil {
			return nil, err
		}
		if i, ok := byUnit[li.UnitID]; ok {
			d.Units[i].Items = append(d.Units[i].Items, li)
		}
	}
	if err := irows.Err(); err != nil {
		return nil, err
	}

	srows, err := q.Query(ctx, `
		SELECT s.unit_id, s.tracking_number, s.carrier_name, s.shipped_at, s.estimated_delivery
		FROM shipments s
		JOIN fulfillment_units u ON u.id = s.unit_id
		WHERE u.order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var s Shipment
		if err := srows.Scan(&s.UnitID, &s.TrackingNumber, &s.CarrierName, &s.ShippedAt, &s.EstimatedDelivery); err != nil {
			return nil, err
		}
		if i, ok := byUnit[s.UnitID]; ok {
			sh := s
			d.Units[i].Shipment = &sh
		}
	}
	return &d, srows.Err()
}

func (r *Repo) ListOrders(ctx context.Context, buyerID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, external_id, buyer_id, total_cents, currency, status,
		       shipping_address, billing_address, created_at, updated_at
		FROM orders WHERE buyer_id=$1 ORDER BY created_at DESC`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.ExternalID, &o.BuyerID, &o.TotalCents, &o.Currency, &o.Status,
			&o.ShippingAddress, &o.BillingAddress, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) ListUnits(ctx context.Context, sellerID string) ([]FulfillmentUnit, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, seller_id, total_cents, commission_cents, status, created_at, updated_at
		FROM fulfillment_units WHERE seller_id=$1 ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FulfillmentUnit
	for rows.Next() {
		var u FulfillmentUnit
		if err := rows.Scan(&u.ID, &u.OrderID, &u.SellerID, &u.TotalCents, &u.CommissionCents,
			&u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repo) ListVariants(ctx context.Context) ([]Variant, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, product_id, seller_id, sku, name, price_cents, stock, created_at, updated_at
		FROM variants ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.SellerID, &v.SKU, &v.Name,
			&v.PriceCents, &v.Stock, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
