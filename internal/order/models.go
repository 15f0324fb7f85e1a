package order

import "time"

type Purchase struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type Order struct {
	ID         string
	UserID     string
	Status     Status
	Address    string
	Purchases  []Purchase
	TotalCents int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Total sums qty x unit price over the purchases.
func Total(ps []Purchase) int64 {
	var t int64
	for _, p := range ps {
		t += int64(p.Qty) * p.PriceCents
	}
	return t
}
