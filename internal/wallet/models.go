package wallet

import "time"

type TxStatus string

const (
	TxPending  TxStatus = "PENDING"
	TxAccepted TxStatus = "ACCEPTED"
	TxRefused  TxStatus = "REFUSED"
	TxRefunded TxStatus = "REFUNDED"
)

type Wallet struct {
	UserID       string
	BalanceCents int64
	UpdatedAt    time.Time
}

// Transaction records one balance movement. OrderID is the causal key: a
// compensation looks its reservation up by order id, never by amount.
type Transaction struct {
	ID          string
	UserID      string
	OrderID     string // empty for recharges
	AmountCents int64
	Status      TxStatus
	CreatedAt   time.Time
}
