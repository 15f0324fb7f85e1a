package saga

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Leg is one of the two reservation steps an order needs before it is paid.
type Leg int

const (
	LegFunds Leg = iota
	LegStock
)

func (l Leg) String() string {
	if l == LegFunds {
		return "funds"
	}
	return "stock"
}

type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "PENDING"
	LedgerFundsDone LedgerStatus = "FUNDS_LEG_DONE"
	LedgerStockDone LedgerStatus = "STOCK_LEG_DONE"
	LedgerPaid      LedgerStatus = "PAID"
)

// Resolution is the outcome of recording a leg against the ledger.
type Resolution int

const (
	// ResolutionFirstLeg: the other leg has not reported yet; keep waiting.
	ResolutionFirstLeg Resolution = iota
	// ResolutionPaid: both legs are done; the order transitions to PAID.
	ResolutionPaid
	// ResolutionDuplicate: this leg was already recorded; no-op.
	ResolutionDuplicate
	// ResolutionUnknown: no ledger entry exists; the order must roll back.
	ResolutionUnknown
)

// Resolve computes the next ledger status for a completed leg. The guard is
// equality against the one status in which the *other* leg is already done;
// anything else for a known entry is either a first leg or a duplicate.
func Resolve(cur LedgerStatus, leg Leg) (LedgerStatus, Resolution) {
	switch cur {
	case LedgerPending:
		if leg == LegFunds {
			return LedgerFundsDone, ResolutionFirstLeg
		}
		return LedgerStockDone, ResolutionFirstLeg
	case LedgerFundsDone:
		if leg == LegStock {
			return LedgerPaid, ResolutionPaid
		}
		return LedgerFundsDone, ResolutionDuplicate
	case LedgerStockDone:
		if leg == LegFunds {
			return LedgerPaid, ResolutionPaid
		}
		return LedgerStockDone, ResolutionDuplicate
	default:
		return cur, ResolutionUnknown
	}
}

// Ledger persists saga progress per order. RecordLeg is the only place the
// PAID decision is made, under a row lock, so duplicate completion events for
// the second leg cannot re-trigger it.
type Ledger struct{ DB *pgxpool.Pool }

func (l *Ledger) Create(ctx context.Context, orderID string) error {
	_, err := l.DB.Exec(ctx, `
		INSERT INTO saga_ledger(order_id, status) VALUES ($1, $2)`,
		orderID, LedgerPending)
	return err
}

func (l *Ledger) RecordLeg(ctx context.Context, orderID string, leg Leg) (Resolution, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ResolutionUnknown, err
	}
	defer tx.Rollback(ctx)

	var cur LedgerStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM saga_ledger WHERE order_id=$1 FOR UPDATE`,
		orderID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return ResolutionUnknown, nil
	}
	if err != nil {
		return ResolutionUnknown, err
	}

	next, res := Resolve(cur, leg)
	switch res {
	case ResolutionPaid:
		// Clear on PAID so a later duplicate for this order resolves as
		// unknown instead of re-paying.
		if _, err := tx.Exec(ctx, `DELETE FROM saga_ledger WHERE order_id=$1`, orderID); err != nil {
			return ResolutionUnknown, err
		}
	case ResolutionFirstLeg:
		if _, err := tx.Exec(ctx,
			`UPDATE saga_ledger SET status=$2, updated_at=now() WHERE order_id=$1`,
			orderID, next); err != nil {
			return ResolutionUnknown, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ResolutionUnknown, err
	}
	return res, nil
}

func (l *Ledger) Status(ctx context.Context, orderID string) (LedgerStatus, bool, error) {
	var s LedgerStatus
	err := l.DB.QueryRow(ctx,
		`SELECT status FROM saga_ledger WHERE order_id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

func (l *Ledger) Clear(ctx context.Context, orderID string) error {
	_, err := l.DB.Exec(ctx, `DELETE FROM saga_ledger WHERE order_id=$1`, orderID)
	return err
}
