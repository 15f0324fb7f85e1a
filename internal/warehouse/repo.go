package warehouse

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagashop/orderflow/internal/saga"
)

type ReserveResult struct {
	Deliveries []saga.Delivery
	Shortfalls []Shortfall
	Alarms     []Alarm
}


// Repo mutates stock under row locks per (product, warehouse) pair. All rows
// a reservation touches are locked in a stable order (product, then
// warehouse id) before any quantity changes.
type Repo struct{ DB *pgxpool.Pool }

type stockRow struct {
	warehouseID string
	qty         int
	threshold   int
}

// Reserve allocates every item's quantity greedily across warehouses in
// ascending warehouse-id order, splitting an item over several warehouses
// when one cannot cover it. Nothing is committed on any shortfall.
// Redelivered orders return the previously assembled deliveries.
func (r *Repo) Reserve(ctx context.Context, orderID string, items []ItemQty) (ReserveResult, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReserveResult{}, err
	}
	defer tx.Rollback(ctx)

	prior, err := r.existing(ctx, tx, orderID)
	if err != nil {
		return ReserveResult{}, err
	}
	if len(prior) > 0 {
		return ReserveResult{Deliveries: prior}, nil
	}

	// lock + availability check across all warehouses
	locked := make(map[string][]stockRow, len(items))
	var shortfalls []Shortfall
	for _, it := range items {
		rows, err := tx.Query(ctx, `
			SELECT warehouse_id, qty, alarm_threshold FROM warehouse_stock
			WHERE product_id=$1 ORDER BY warehouse_id FOR UPDATE`, it.ProductID)
		if err != nil {
			return ReserveResult{}, err
		}
		var stocks []stockRow
		available := 0
		for rows.Next() {
			var s stockRow
			if err := rows.Scan(&s.warehouseID, &s.qty, &s.threshold); err != nil {
				rows.Close()
				return ReserveResult{}, err
			}
			stocks = append(stocks, s)
			available += s.qty
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return ReserveResult{}, err
		}
		rows.Close()

		if available < it.Qty {
			shortfalls = append(shortfalls, Shortfall{ProductID: it.ProductID, Required: it.Qty, Available: available})
			continue
		}
		locked[it.ProductID] = stocks
	}
	if len(shortfalls) > 0 {
		// rollback via defer, nothing mutated
		return ReserveResult{Shortfalls: shortfalls},
			fmt.Errorf("%w: %d products short", saga.ErrInsufficientStock, len(shortfalls))
	}

	allocs, alarms := allocate(items, locked)
	for _, a := range allocs {
		if _, err := tx.Exec(ctx, `
			UPDATE warehouse_stock SET qty = qty - $3
			WHERE product_id=$1 AND warehouse_id=$2`,
			a.ProductID, a.WarehouseID, a.Qty); err != nil {
			return ReserveResult{}, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, warehouse_id, qty, status)
			VALUES ($1, $2, $3, $4, 'RESERVED')`,
			orderID, a.ProductID, a.WarehouseID, a.Qty); err != nil {
			return ReserveResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, err
	}
	return ReserveResult{Deliveries: buildDeliveries(orderID, allocs), Alarms: alarms}, nil
}

// allocate walks each item's stock rows (already sorted by warehouse id) and
// takes from one warehouse at a time until the quantity is satisfied. The
// snapshot is consumed as it is walked, so a product listed on more than one
// line can never draw the same units twice. Callers with merged items and
// verified availability never come up short.
func allocate(items []ItemQty, stocks map[string][]stockRow) ([]ItemAllocation, []Alarm) {
	var (
		allocs []ItemAllocation
		alarms []Alarm
	)
	for _, it := range items {
		remaining := it.Qty
		rows := stocks[it.ProductID]
		for i := range rows {
			if remaining == 0 {
				break
			}
			s := &rows[i]
			take := remaining
			if take > s.qty {
				take = s.qty
			}
			if take == 0 {
				continue
			}
			s.qty -= take
			allocs = append(allocs, ItemAllocation{
				ProductID: it.ProductID, WarehouseID: s.warehouseID, Qty: take,
			})
			if s.qty < s.threshold {
				alarms = append(alarms, Alarm{
					ProductID: it.ProductID, WarehouseID: s.warehouseID,
					Qty: s.qty, Threshold: s.threshold,
				})
			}
			remaining -= take
		}
	}
	return allocs, alarms
}

// buildDeliveries groups allocations into one delivery per warehouse touched,
// in first-touched order.
func buildDeliveries(orderID string, allocs []ItemAllocation) []saga.Delivery {
	byWarehouse := map[string][]saga.DeliveryLine{}
	var order []string
	for _, a := range allocs {
		if _, seen := byWarehouse[a.WarehouseID]; !seen {
			order = append(order, a.WarehouseID)
		}
		byWarehouse[a.WarehouseID] = append(byWarehouse[a.WarehouseID],
			saga.DeliveryLine{ProductID: a.ProductID, Qty: a.Qty})
	}
	ds := make([]saga.Delivery, 0, len(order))
	for _, w := range order {
		ds = append(ds, saga.Delivery{
			ID:          deliveryID(orderID, w),
			OrderID:     orderID,
			WarehouseID: w,
			Status:      saga.DeliveryPending,
			Lines:       byWarehouse[w],
		})
	}
	return ds
}

// Delivery ids are derived from (order, warehouse) so a redelivered
// reservation emits the same assignments.
func deliveryID(orderID, warehouseID string) string {
	return fmt.Sprintf("%s:%s", orderID, warehouseID)
}

func (r *Repo) existing(ctx context.Context, tx pgx.Tx, orderID string) ([]saga.Delivery, error) {
	rows, err := tx.Query(ctx, `
		SELECT product_id, warehouse_id, qty FROM reservations
		WHERE order_id=$1 ORDER BY warehouse_id, product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byWarehouse := map[string][]saga.DeliveryLine{}
	var order []string
	for rows.Next() {
		var pid, wid string
		var qty int
		if err := rows.Scan(&pid, &wid, &qty); err != nil {
			return nil, err
		}
		if _, seen := byWarehouse[wid]; !seen {
			order = append(order, wid)
		}
		byWarehouse[wid] = append(byWarehouse[wid], saga.DeliveryLine{ProductID: pid, Qty: qty})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ds := make([]saga.Delivery, 0, len(order))
	for _, w := range order {
		ds = append(ds, saga.Delivery{
			ID:          deliveryID(orderID, w),
			OrderID:     orderID,
			WarehouseID: w,
			Status:      saga.DeliveryPending,
			Lines:       byWarehouse[w],
		})
	}
	return ds, nil
}

// Restore credits reserved quantities back, flipping each reservation to
// RELEASED so a reprocessed cancellation cannot double-credit.
func (r *Repo) Restore(ctx context.Context, orderID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT product_id, warehouse_id, qty FROM reservations
		WHERE order_id=$1 AND status='RESERVED' FOR UPDATE`, orderID)
	if err != nil {
		return err
	}
	type rec struct {
		pid, wid string
		qty      int
	}
	var recs []rec
	for rows.Next() {
		var x rec
		if err := rows.Scan(&x.pid, &x.wid, &x.qty); err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, x)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, x := range recs {
		if _, err := tx.Exec(ctx, `
			UPDATE warehouse_stock SET qty = qty + $3
			WHERE product_id=$1 AND warehouse_id=$2`, x.pid, x.wid, x.qty); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET status='RELEASED'
		WHERE order_id=$1 AND status='RESERVED'`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Availability sums a product's quantity across all warehouses.
func (r *Repo) Availability(ctx context.Context, productID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(qty), 0) FROM warehouse_stock WHERE product_id=$1`,
		productID).Scan(&n)
	return n, err
}

func (r *Repo) InsertProduct(ctx context.Context, p Product) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO products(id, name, price_cents) VALUES ($1, $2, $3)`,
		p.ID, p.Name, p.PriceCents)
	return p.ID, err
}

func (r *Repo) UpdateProduct(ctx context.Context, p Product) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE products SET name=$2, price_cents=$3, updated_at=now() WHERE id=$1`,
		p.ID, p.Name, p.PriceCents)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("product not found: %s", p.ID)
	}
	return nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price_cents, created_at, updated_at FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertStock(ctx context.Context, s Stock) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO warehouse_stock(product_id, warehouse_id, qty, alarm_threshold)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, warehouse_id) DO UPDATE
		SET qty = EXCLUDED.qty, alarm_threshold = EXCLUDED.alarm_threshold`,
		s.ProductID, s.WarehouseID, s.Qty, s.AlarmThreshold)
	return err
}
