package orders

const (
	TopicFulfillment = "marketplace.fulfillment"
)

// Partition key = unit id, so all events of one unit keep their order.
func PartitionKey(id string) []byte { return []byte(id) }
