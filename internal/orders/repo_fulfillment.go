package orders

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

type ShipmentInput struct {
	TrackingNumber    string
	CarrierName       string
	EstimatedDelivery *time.Time
}

// lockedUnit is a unit row read FOR UPDATE together with its parent's buyer.
type lockedUnit struct {
	FulfillmentUnit
	BuyerID string
}

func authorize(e Ownable, entity, id string, actor Actor) error {
	if e.OwnerID() != actor.ID {
		return &ForbiddenError{ActorID: actor.ID, Entity: entity, ID: id}
	}
	return nil
}

func lockUnit(ctx context.Context, tx pgx.Tx, unitID string) (*lockedUnit, error) {
	var u lockedUnit
	err := tx.QueryRow(ctx, `
		SELECT u.id, u.order_id, u.seller_id, u.total_cents, u.commission_cents, u.status, o.buyer_id
		FROM fulfillment_units u
		JOIN orders o ON o.id = u.order_id
		WHERE u.id=$1
		FOR UPDATE OF u`, unitID,
	).Scan(&u.ID, &u.OrderID, &u.SellerID, &u.TotalCents, &u.CommissionCents, &u.Status, &u.BuyerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "fulfillment unit", ID: unitID}
	} else if err != nil {
		return nil, err
	}
	return &u, nil
}

func setUnitStatus(ctx context.Context, tx pgx.Tx, unitID string, to UnitStatus) error {
	_, err := tx.Exec(ctx,
		`UPDATE fulfillment_units SET status=$2, updated_at=now() WHERE id=$1`, unitID, to)
	return err
}

// syncOrderStatus re-derives and persists the parent status from its units'
// statuses, inside the same transaction as the unit change.
func syncOrderStatus(ctx context.Context, tx pgx.Tx, orderID string) error {
	rows, err := tx.Query(ctx,
		`SELECT status FROM fulfillment_units WHERE order_id=$1`, orderID)
	if err != nil {
		return err
	}
	var statuses []UnitStatus
	for rows.Next() {
		var s UnitStatus
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return err
		}
		statuses = append(statuses, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`,
		orderID, DeriveOrderStatus(statuses))
	return err
}

// releaseStock is the compensation step: add each (variant, qty) back,
// ascending variant id, within the caller's transaction. Callers release
// exactly once per compensated line item.
func releaseStock(ctx context.Context, tx pgx.Tx, items []ItemQty) error {
	sorted := make([]ItemQty, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VariantID < sorted[j].VariantID })
	for _, it := range sorted {
		if _, err := tx.Exec(ctx,
			`UPDATE variants SET stock = stock + $2, updated_at = now() WHERE id=$1`,
			it.VariantID, it.Qty); err != nil {
			return err
		}
	}
	return nil
}

func unitItems(ctx context.Context, tx pgx.Tx, unitID string) ([]ItemQty, error) {
	rows, err := tx.Query(ctx,
		`SELECT variant_id, qty FROM line_items WHERE unit_id=$1`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ItemQty
	for rows.Next() {
		var it ItemQty
		if err := rows.Scan(&it.VariantID, &it.Qty); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) unitEnvelope(eventType string, u *lockedUnit, actor Actor, mut func(*UnitEventPayload)) Envelope {
	p := UnitEventPayload{
		UnitID:   u.ID,
		OrderID:  u.OrderID,
		SellerID: u.SellerID,
		BuyerID:  u.BuyerID,
		ActorID:  actor.ID,
	}
	if mut != nil {
		mut(&p)
	}
	return NewEnvelope(eventType, r.Service, u.ID, p)
}

// ConfirmUnit moves a unit from WAITING_CONFIRMATION to PROCESSING on behalf
// of its seller.
func (r *Repo) ConfirmUnit(ctx context.Context, unitID string, actor Actor) ([]Envelope, error) {
	var evs []Envelope
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		u, err := lockUnit(ctx, tx, unitID)
		if err != nil {
			return err
		}
		if err := authorize(u, "fulfillment unit", u.ID, actor); err != nil {
			return err
		}
		if !CanTransition(u.Status, UnitProcessing) {
			return &InvalidTransitionError{From: string(u.Status), Action: "confirm"}
		}
		if err := setUnitStatus(ctx, tx, u.ID, UnitProcessing); err != nil {
			return err
		}
		if err := syncOrderStatus(ctx, tx, u.OrderID); err != nil {
			return err
		}
		evs = []Envelope{r.unitEnvelope(EventUnitConfirmed, u, actor, nil)}
		return nil
	})
	return evs, err
}

// RejectUnit moves a unit from WAITING_CONFIRMATION to CANCELLED and restores
// the stock of every line item in the same transaction.
func (r *Repo) RejectUnit(ctx context.Context, unitID string, actor Actor) ([]Envelope, error) {
	var evs []Envelope
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		u, err := lockUnit(ctx, tx, unitID)
		if err != nil {
			return err
		}
		if err := authorize(u, "fulfillment unit", u.ID, actor); err != nil {
			return err
		}
		if u.Status != UnitWaitingConfirmation {
			return &InvalidTransitionError{From: string(u.Status), Action: "reject"}
		}
		items, err := unitItems(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		if err := setUnitStatus(ctx, tx, u.ID, UnitCancelled); err != nil {
			return err
		}
		if err := releaseStock(ctx, tx, items); err != nil {
			return err
		}
		if err := syncOrderStatus(ctx, tx, u.OrderID); err != nil {
			return err
		}
		evs = []Envelope{r.unitEnvelope(EventUnitRejected, u, actor, func(p *UnitEventPayload) {
			p.Restocked = items
		})}
		return nil
	})
	return evs, err
}

// ShipUnit creates the unit's shipment and moves it to SHIPPED. Allowed from
// WAITING_CONFIRMATION or PROCESSING; tracking number and carrier are
// mandatory.
func (r *Repo) ShipUnit(ctx context.Context, unitID string, actor Actor, in ShipmentInput) ([]Envelope, error) {
	if in.TrackingNumber == "" {
		return nil, &ValidationError{Field: "tracking_number", Reason: "required"}
	}
	if in.CarrierName == "" {
		return nil, &ValidationError{Field: "carrier_name", Reason: "required"}
	}
	var evs []Envelope
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		u, err := lockUnit(ctx, tx, unitID)
		if err != nil {
			return err
		}
		if err := authorize(u, "fulfillment unit", u.ID, actor); err != nil {
			return err
		}
		if !CanTransition(u.Status, UnitShipped) {
			return &InvalidTransitionError{From: string(u.Status), Action: "ship"}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO shipments(unit_id, tracking_number, carrier_name, estimated_delivery)
			VALUES ($1,$2,$3,$4)`,
			u.ID, in.TrackingNumber, in.CarrierName, in.EstimatedDelivery); err != nil {
			return err
		}
		if err := setUnitStatus(ctx, tx, u.ID, UnitShipped); err != nil {
			return err
		}
		if err := syncOrderStatus(ctx, tx, u.OrderID); err != nil {
			return err
		}
		evs = []Envelope{r.unitEnvelope(EventUnitShipped, u, actor, func(p *UnitEventPayload) {
			p.TrackingNumber = in.TrackingNumber
			p.CarrierName = in.CarrierName
		})}
		return nil
	})
	return evs, err
}

// DeliverUnit is the buyer acknowledging receipt: SHIPPED -> DELIVERED.
func (r *Repo) DeliverUnit(ctx context.Context, unitID string, actor Actor) ([]Envelope, error) {
	return r.buyerUnitTransition(ctx, unitID, actor, UnitDelivered, "deliver", EventUnitDelivered)
}

// ReturnUnit marks a shipped unit as returned: SHIPPED -> RETURNED.
func (r *Repo) ReturnUnit(ctx context.Context, unitID string, actor Actor) ([]Envelope, error) {
	return r.buyerUnitTransition(ctx, unitID, actor, UnitReturned, "return", EventUnitReturned)
}

func (r *Repo) buyerUnitTransition(ctx context.Context, unitID string, actor Actor, to UnitStatus, action, eventType string) ([]Envelope, error) {
	var evs []Envelope
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		u, err := lockUnit(ctx, tx, unitID)
		if err != nil {
			return err
		}
		// the buyer of the parent order owns these transitions
		if u.BuyerID != actor.ID {
			return &ForbiddenError{ActorID: actor.ID, Entity: "fulfillment unit", ID: u.ID}
		}
		if !CanTransition(u.Status, to) {
			return &InvalidTransitionError{From: string(u.Status), Action: action}
		}
		if err := setUnitStatus(ctx, tx, u.ID, to); err != nil {
			return err
		}
		if err := syncOrderStatus(ctx, tx, u.OrderID); err != nil {
			return err
		}
		evs = []Envelope{r.unitEnvelope(eventType, u, actor, nil)}
		return nil
	})
	return evs, err
}

// CancelOrder is the buyer-initiated whole-order cancellation. It locks every
// sibling unit, refuses outright if any unit has shipped or delivered, then
// cascades CANCELLED to every non-terminal unit, releasing its stock, and
// marks the order CANCELLED.
func (r *Repo) CancelOrder(ctx context.Context, orderID string, actor Actor) ([]Envelope, error) {
	var evs []Envelope
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var o Order
		err := tx.QueryRow(ctx,
			`SELECT id, buyer_id, status FROM orders WHERE id=$1 FOR UPDATE`, orderID,
		).Scan(&o.ID, &o.BuyerID, &o.Status)
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{Entity: "order", ID: orderID}
		} else if err != nil {
			return err
		}
		if err := authorize(&o, "order", o.ID, actor); err != nil {
			return err
		}
		if o.Status == OrderCompleted || o.Status == OrderCancelled {
			return &InvalidTransitionError{From: string(o.Status), Action: "cancel"}
		}

		rows, err := tx.Query(ctx, `
			SELECT u.id, u.order_id, u.seller_id, u.total_cents, u.commission_cents, u.status
			FROM fulfillment_units u
			WHERE u.order_id=$1 ORDER BY u.id FOR UPDATE`, orderID)
		if err != nil {
			return err
		}
		var units []lockedUnit
		for rows.Next() {
			u := lockedUnit{BuyerID: o.BuyerID}
			if err := rows.Scan(&u.ID, &u.OrderID, &u.SellerID, &u.TotalCents, &u.CommissionCents, &u.Status); err != nil {
				rows.Close()
				return err
			}
			units = append(units, u)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// no partial cancel: one progressed unit blocks the whole order
		for _, u := range units {
			if u.Status == UnitShipped || u.Status == UnitDelivered {
				return &InvalidTransitionError{From: string(u.Status), Action: "cancel"}
			}
		}

		var cancelled []string
		var restock []ItemQty
		for i := range units {
			u := &units[i]
			if u.Status.Terminal() {
				continue
			}
			items, err := unitItems(ctx, tx, u.ID)
			if err != nil {
				return err
			}
			if err := setUnitStatus(ctx, tx, u.ID, UnitCancelled); err != nil {
				return err
			}
			cancelled = append(cancelled, u.ID)
			restock = append(restock, items...)
			evs = append(evs, r.unitEnvelope(EventUnitCancelled, u, actor, func(p *UnitEventPayload) {
				p.Restocked = items
			}))
		}
		if err := releaseStock(ctx, tx, restock); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`,
			orderID, OrderCancelled); err != nil {
			return err
		}
		evs = append(evs, NewEnvelope(EventOrderCancelled, r.Service, orderID, OrderCancelledPayload{
			OrderID:        orderID,
			BuyerID:        o.BuyerID,
			CancelledUnits: cancelled,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evs, nil
}

func (r *Repo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
