package redisx

import "time"

const (
	// Idempotent checkout: idem:checkout:{external_id} -> order_id
	KeyIdemCheckout = "idem:checkout:%s"

	// Cache of the full order detail payload: order:detail:{order_id}
	KeyOrderDetail = "order:detail:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDetailCache = 2 * time.Minute
	TTLDedup       = 48 * time.Hour
)
