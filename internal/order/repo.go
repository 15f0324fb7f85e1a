package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagashop/orderflow/internal/saga"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Create(ctx context.Context, o Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, total_cents, address)
		VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.UserID, o.Status, o.TotalCents, o.Address)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return saga.ErrDuplicateOrder
		}
		return err
	}

	for _, p := range o.Purchases {
		if _, err := tx.Exec(ctx, `
			INSERT INTO purchases(order_id, product_id, name, qty, price_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, p.ProductID, p.Name, p.Qty, p.PriceCents); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, status, total_cents, address, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.Address, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, saga.ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, name, qty, price_cents FROM purchases WHERE order_id=$1`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Purchase
		if err := rows.Scan(&p.ProductID, &p.Name, &p.Qty, &p.PriceCents); err != nil {
			return Order{}, err
		}
		o.Purchases = append(o.Purchases, p)
	}
	return o, rows.Err()
}

func (r *Repo) ByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, user_id, status, total_cents, address, created_at, updated_at
		FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.Address, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateStatus is a compare-and-set: the row moves from -> to only if it is
// still in `from`. Returns false when the guard did not hold.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, from, to Status) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`,
		orderID, from, to)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

type DeliveryRepo struct{ DB *pgxpool.Pool }

// CreateAll persists delivery assignments. Re-delivery of the same stock-leg
// event re-sends the same delivery ids, so conflicts are ignored.
func (r *DeliveryRepo) CreateAll(ctx context.Context, ds []saga.Delivery) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, d := range ds {
		if _, err := tx.Exec(ctx, `
			INSERT INTO deliveries(id, order_id, warehouse_id, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			d.ID, d.OrderID, d.WarehouseID, d.Status); err != nil {
			return err
		}
		for _, ln := range d.Lines {
			if _, err := tx.Exec(ctx, `
				INSERT INTO delivery_lines(delivery_id, product_id, qty)
				VALUES ($1, $2, $3)
				ON CONFLICT (delivery_id, product_id) DO NOTHING`,
				d.ID, ln.ProductID, ln.Qty); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (r *DeliveryRepo) ByOrder(ctx context.Context, orderID string) ([]saga.Delivery, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, warehouse_id, status FROM deliveries WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []saga.Delivery
	for rows.Next() {
		var d saga.Delivery
		if err := rows.Scan(&d.ID, &d.OrderID, &d.WarehouseID, &d.Status); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		lrows, err := r.DB.Query(ctx, `
			SELECT product_id, qty FROM delivery_lines WHERE delivery_id=$1`, out[i].ID)
		if err != nil {
			return nil, err
		}
		for lrows.Next() {
			var ln saga.DeliveryLine
			if err := lrows.Scan(&ln.ProductID, &ln.Qty); err != nil {
				lrows.Close()
				return nil, err
			}
			out[i].Lines = append(out[i].Lines, ln)
		}
		if err := lrows.Err(); err != nil {
			lrows.Close()
			return nil, err
		}
		lrows.Close()
	}
	return out, nil
}

func (r *DeliveryRepo) SetStatus(ctx context.Context, deliveryID string, st saga.DeliveryStatus) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE deliveries SET status=$2, updated_at=now() WHERE id=$1`, deliveryID, st)
	return err
}

// CancelUndelivered marks every delivery for the order that has not reached a
// terminal state as CANCELLED.
func (r *DeliveryRepo) CancelUndelivered(ctx context.Context, orderID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE deliveries SET status=$2, updated_at=now()
		WHERE order_id=$1 AND status IN ($3, $4)`,
		orderID, saga.DeliveryCancelled, saga.DeliveryPending, saga.DeliveryDelivering)
	return err
}
