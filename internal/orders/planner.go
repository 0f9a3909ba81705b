package orders

import "sort"

// PlanItem is one cart request resolved to a concrete variant read under lock.
type PlanItem struct {
	Variant  Variant
	Quantity int
}

type PlannedLine struct {
	VariantID       string
	Quantity        int
	UnitPriceCents  int64
	TotalPriceCents int64
}

// SellerBucket groups the planned lines of one seller; it becomes a
// fulfillment unit when the aggregate is built.
type SellerBucket struct {
	SellerID   string
	Lines      []PlannedLine
	TotalCents int64
}

// Plan validates stock and splits the cart into per-seller buckets, keeping
// sellers in first-appearance order. Quantities for repeated variants are
// checked cumulatively against the locked stock reading, so a cart cannot
// pass by splitting one oversized request into several. Any shortage fails
// the whole plan; the caller's transaction discards earlier work.
func Plan(items []PlanItem) ([]SellerBucket, int64, error) {
	buckets := make([]SellerBucket, 0, len(items))
	index := make(map[string]int, len(items))
	taken := make(map[string]int, len(items))

	var grandTotal int64
	for _, it := range items {
		v := it.Variant
		need := taken[v.ID] + it.Quantity
		if need > v.Stock {
			return nil, 0, &InsufficientStockError{
				VariantID: v.ID,
				Requested: need,
				Available: v.Stock,
			}
		}
		taken[v.ID] = need

		line := PlannedLine{
			VariantID:       v.ID,
			Quantity:        it.Quantity,
			UnitPriceCents:  v.PriceCents,
			TotalPriceCents: v.PriceCents * int64(it.Quantity),
		}
		grandTotal += line.TotalPriceCents

		i, ok := index[v.SellerID]
		if !ok {
			i = len(buckets)
			index[v.SellerID] = i
			buckets = append(buckets, SellerBucket{SellerID: v.SellerID})
		}
		buckets[i].Lines = append(buckets[i].Lines, line)
		buckets[i].TotalCents += line.TotalPriceCents
	}
	return buckets, grandTotal, nil
}

// Decrements flattens the plan's cumulative per-variant quantities in
// ascending variant id order, the same order locks were taken in.
func Decrements(items []PlanItem) []ItemQty {
	taken := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := taken[it.Variant.ID]; !ok {
			order = append(order, it.Variant.ID)
		}
		taken[it.Variant.ID] += it.Quantity
	}
	sort.Strings(order)
	out := make([]ItemQty, 0, len(order))
	for _, id := range order {
		out = append(out, ItemQty{VariantID: id, Qty: taken[id]})
	}
	return out
}
