package saga

import "errors"

var (
	ErrDuplicateOrder      = errors.New("order already exists")
	ErrOrderNotFound       = errors.New("order not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrOrderNotCancellable = errors.New("order not cancellable")
)
