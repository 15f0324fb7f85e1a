package saga

const (
	TopicOrderCreated = "order.created"
	TopicWalletOK     = "order.wallet.ok"
	TopicStockOK      = "order.stock.ok"
	TopicRollback     = "order.rollback"
	TopicCancelOrder  = "order.cancel"
	TopicTracking     = "order.tracking"
)

// Partition key = order_id, so every event for one order stays ordered
// within its topic. Cross-topic ordering is not guaranteed anywhere.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
