package warehouse

import "time"

type Product struct {
	ID         string
	Name       string
	PriceCents int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Stock is the available quantity of one product in one warehouse. The alarm
// threshold marks the level below which a reservation is worth flagging.
type Stock struct {
	ProductID      string
	WarehouseID    string
	Qty            int
	AlarmThreshold int
}

type ItemQty struct {
	ProductID string
	Qty       int
}

// ItemAllocation is one item's share taken from one warehouse during greedy
// allocation.
type ItemAllocation struct {
	ProductID   string
	WarehouseID string
	Qty         int
}

type Shortfall struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type Alarm struct {
	ProductID   string
	WarehouseID string
	Qty         int
	Threshold   int
}
