package saga

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventFundsReserved  = "FundsReserved"
	EventStockReserved  = "StockReserved"
	EventRollback       = "OrderRollback"
	EventOrderCancelled = "OrderCancelled"
	EventOrderTracking  = "OrderTracking"
)

// Rollback reasons carried on the rollback topic.
const (
	ReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
	ReasonWalletNotFound    = "WALLET_NOT_FOUND"
	ReasonOutOfStock        = "OUT_OF_STOCK"
	ReasonUnknownOrder      = "UNKNOWN_ORDER"
	ReasonUserCancelled     = "USER_CANCELLED"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload in a v1 envelope correlated to an order.
func NewEnvelope(eventType, producer, traceID, orderID string, payload any) Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       b,
	}
}

// ---- payloads ----

type PurchaseLine struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type OrderCreatedPayload struct {
	OrderID    string         `json:"order_id"`
	UserID     string         `json:"user_id"`
	Address    string         `json:"address"`
	Purchases  []PurchaseLine `json:"purchases"`
	TotalCents int64          `json:"total_cents"`
}

type FundsReservedPayload struct {
	OrderID string `json:"order_id"`
}

type StockReservedPayload struct {
	OrderID    string     `json:"order_id"`
	Deliveries []Delivery `json:"deliveries"`
}

type RollbackPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type CancelPayload struct {
	OrderID string `json:"order_id"`
}

type TrackingPayload struct {
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
