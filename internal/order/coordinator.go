package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/sagashop/orderflow/internal/kafka"
	"github.com/sagashop/orderflow/internal/saga"
)

type OrderStore interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, orderID string) (Order, error)
	ByUser(ctx context.Context, userID string) ([]Order, error)
	UpdateStatus(ctx context.Context, orderID string, from, to Status) (bool, error)
}

type LedgerStore interface {
	Create(ctx context.Context, orderID string) error
	RecordLeg(ctx context.Context, orderID string, leg saga.Leg) (saga.Resolution, error)
	Clear(ctx context.Context, orderID string) error
}

type DeliveryStore interface {
	CreateAll(ctx context.Context, ds []saga.Delivery) error
	ByOrder(ctx context.Context, orderID string) ([]saga.Delivery, error)
	SetStatus(ctx context.Context, deliveryID string, st saga.DeliveryStatus) error
	CancelUndelivered(ctx context.Context, orderID string) error
}

// Coordinator originates the saga and settles it from the two legs' completion
// events. All race resolution goes through the ledger, never through the
// order's own status.
type Coordinator struct {
	Log        *slog.Logger
	Orders     OrderStore
	Ledger     LedgerStore
	Deliveries DeliveryStore
	Rollback   Publisher
	Cancel     Publisher
	Notifier   *Notifier
	Service    string
	SimTick    time.Duration
}

// CreateOrder records a submitted order as PENDING with a fresh ledger entry.
func (c *Coordinator) CreateOrder(ctx context.Context, p saga.OrderCreatedPayload) error {
	o := Order{
		ID:         p.OrderID,
		UserID:     p.UserID,
		Status:     StatusPending,
		Address:    p.Address,
		Purchases:  purchasesFromLines(p.Purchases),
		TotalCents: p.TotalCents,
	}
	if o.TotalCents == 0 {
		o.TotalCents = Total(o.Purchases)
	}
	if err := c.Orders.Create(ctx, o); err != nil {
		return err
	}
	if err := c.Ledger.Create(ctx, o.ID); err != nil {
		return fmt.Errorf("create ledger entry: %w", err)
	}
	c.Log.Info("order created", "order_id", o.ID, "user_id", o.UserID, "total_cents", o.TotalCents)
	return nil
}

func (c *Coordinator) OnFundsLegDone(ctx context.Context, orderID string) error {
	res, err := c.Ledger.RecordLeg(ctx, orderID, saga.LegFunds)
	if err != nil {
		return err
	}
	switch res {
	case saga.ResolutionFirstLeg:
		c.Log.Info("funds leg done, waiting for stock", "order_id", orderID)
		return nil
	case saga.ResolutionPaid:
		return c.finalizePaid(ctx, orderID)
	case saga.ResolutionDuplicate:
		return nil
	default:
		c.emitRollback(orderID, saga.ReasonUnknownOrder)
		return nil
	}
}

func (c *Coordinator) OnStockLegDone(ctx context.Context, orderID string, ds []saga.Delivery) error {
	res, err := c.Ledger.RecordLeg(ctx, orderID, saga.LegStock)
	if err != nil {
		return err
	}
	switch res {
	case saga.ResolutionFirstLeg:
		c.Log.Info("stock leg done, waiting for funds", "order_id", orderID)
		return c.Deliveries.CreateAll(ctx, ds)
	case saga.ResolutionPaid:
		if err := c.Deliveries.CreateAll(ctx, ds); err != nil {
			return err
		}
		return c.finalizePaid(ctx, orderID)
	case saga.ResolutionDuplicate:
		return nil
	default:
		c.emitRollback(orderID, saga.ReasonUnknownOrder)
		return nil
	}
}

// finalizePaid runs at most once per order: the ledger hands out
// ResolutionPaid exactly once, and the status CAS backs that up.
func (c *Coordinator) finalizePaid(ctx context.Context, orderID string) error {
	ok, err := c.Orders.UpdateStatus(ctx, orderID, StatusPending, StatusPaid)
	if err != nil {
		return err
	}
	if !ok {
		c.Log.Warn("order not pending at payment time", "order_id", orderID)
		return nil
	}
	o, err := c.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	c.Notifier.Notify(o.UserID, orderID, StatusPaid, "payment confirmed, your order is being prepared")
	c.Log.Info("order paid", "order_id", orderID)

	sim := &Simulator{
		Log:        c.Log,
		Orders:     c.Orders,
		Deliveries: c.Deliveries,
		OrderID:    orderID,
		Tick:       c.SimTick,
	}
	go sim.Run(ctx)
	return nil
}

// OnRollback resolves the saga to FAILED. Safe under re-delivery: clearing an
// absent ledger entry and failing an already-failed order are both no-ops.
func (c *Coordinator) OnRollback(ctx context.Context, orderID, reason string) error {
	if err := c.Ledger.Clear(ctx, orderID); err != nil {
		return err
	}
	o, err := c.Orders.Get(ctx, orderID)
	if errors.Is(err, saga.ErrOrderNotFound) {
		c.Log.Warn("rollback for unknown order", "order_id", orderID, "reason", reason)
		return nil
	}
	if err != nil {
		return err
	}
	for _, from := range []Status{StatusPending, StatusPaid} {
		ok, err := c.Orders.UpdateStatus(ctx, orderID, from, StatusFailed)
		if err != nil {
			return err
		}
		if ok {
			c.Notifier.Notify(o.UserID, orderID, StatusFailed, failureMessage(reason))
			c.Log.Info("order rolled back", "order_id", orderID, "reason", reason)
			return nil
		}
	}
	return nil
}

// CancelOrder is only honoured while the order is PAID and not yet moving.
// Compensation fans out to both participants over the cancel topic.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID string) error {
	o, err := c.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPaid {
		return fmt.Errorf("%w: status %s", saga.ErrOrderNotCancellable, o.Status)
	}
	ok, err := c.Orders.UpdateStatus(ctx, orderID, StatusPaid, StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order moved concurrently", saga.ErrOrderNotCancellable)
	}
	if err := c.Ledger.Clear(ctx, orderID); err != nil {
		return err
	}

	ev := saga.NewEnvelope(saga.EventOrderCancelled, c.Service, "", orderID, saga.CancelPayload{OrderID: orderID})
	c.Cancel.Publish(saga.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(saga.EventOrderCancelled)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	c.Notifier.Notify(o.UserID, orderID, StatusCancelled, "order cancelled, your payment will be refunded")
	c.Log.Info("order cancelled", "order_id", orderID)
	return nil
}

func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return c.Orders.Get(ctx, orderID)
}

func (c *Coordinator) OrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	return c.Orders.ByUser(ctx, userID)
}

func (c *Coordinator) emitRollback(orderID, reason string) {
	ev := saga.NewEnvelope(saga.EventRollback, c.Service, "", orderID, saga.RollbackPayload{
		OrderID: orderID,
		Reason:  reason,
	})
	c.Rollback.Publish(saga.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(saga.EventRollback)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func failureMessage(reason string) string {
	switch reason {
	case saga.ReasonInsufficientFunds:
		return "order failed: insufficient funds, recharge your wallet and retry"
	case saga.ReasonOutOfStock:
		return "order failed: some items are out of stock"
	default:
		return "order failed, please retry"
	}
}

func purchasesFromLines(lines []saga.PurchaseLine) []Purchase {
	out := make([]Purchase, 0, len(lines))
	for _, l := range lines {
		out = append(out, Purchase{ProductID: l.ProductID, Name: l.Name, Qty: l.Qty, PriceCents: l.PriceCents})
	}
	return out
}
