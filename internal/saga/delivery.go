package saga

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryDelivering DeliveryStatus = "DELIVERING"
	DeliveryDelivered  DeliveryStatus = "DELIVERED"
	DeliveryCancelled  DeliveryStatus = "CANCELLED"
)

type DeliveryLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// Delivery is one warehouse's share of an order, created by the warehouse at
// reservation time and advanced by the delivery simulator once the order is
// paid.
type Delivery struct {
	ID          string         `json:"id"`
	OrderID     string         `json:"order_id"`
	WarehouseID string         `json:"warehouse_id"`
	Status      DeliveryStatus `json:"status"`
	Lines       []DeliveryLine `json:"lines"`
}
