package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagashop/orderflow/internal/saga"
)

// Repo serializes all mutations per wallet with a row lock on the wallet row,
// so a concurrent reservation and compensation cannot interleave.
type Repo struct{ DB *pgxpool.Pool }

// Reserve debits the wallet if it can cover the amount, recording an ACCEPTED
// or REFUSED transaction keyed by the order. Balance change and transaction
// commit together. A refusal surfaces as ErrInsufficientFunds after the
// REFUSED transaction is committed. Redelivered orders short-circuit to the
// recorded outcome.
func (r *Repo) Reserve(ctx context.Context, userID, orderID string, amount int64) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var prior TxStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM wallet_transactions WHERE order_id=$1`, orderID).Scan(&prior)
	if err == nil {
		if prior == TxAccepted {
			return nil
		}
		return saga.ErrInsufficientFunds
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT balance_cents FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return saga.ErrWalletNotFound
	}
	if err != nil {
		return err
	}

	status := TxAccepted
	if balance < amount {
		status = TxRefused
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE wallets SET balance_cents = balance_cents - $2, updated_at=now()
			WHERE user_id=$1`, userID, amount); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions(id, user_id, order_id, amount_cents, status)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), userID, orderID, amount, status); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if status == TxRefused {
		return saga.ErrInsufficientFunds
	}
	return nil
}

// Release refunds the reservation identified by its causal order key. No-op
// when no transaction exists or it is already REFUSED/REFUNDED.
func (r *Repo) Release(ctx context.Context, orderID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var (
		txID   string
		userID string
		amount int64
		status TxStatus
	)
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, amount_cents, status FROM wallet_transactions
		WHERE order_id=$1 FOR UPDATE`, orderID).
		Scan(&txID, &userID, &amount, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if status != TxAccepted && status != TxPending {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE wallets SET balance_cents = balance_cents + $2, updated_at=now()
		WHERE user_id=$1`, userID, amount); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE wallet_transactions SET status=$2 WHERE id=$1`, txID, TxRefunded); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Recharge credits the wallet outside any saga, creating it on first use.
func (r *Repo) Recharge(ctx context.Context, userID string, amount int64) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets(user_id, balance_cents) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance_cents = wallets.balance_cents + EXCLUDED.balance_cents, updated_at=now()`,
		userID, amount); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions(id, user_id, order_id, amount_cents, status)
		VALUES ($1, $2, NULL, $3, $4)`,
		uuid.NewString(), userID, amount, TxAccepted); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, userID string) (Wallet, error) {
	var w Wallet
	err := r.DB.QueryRow(ctx, `
		SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id=$1`, userID).
		Scan(&w.UserID, &w.BalanceCents, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, saga.ErrWalletNotFound
	}
	return w, err
}
