package order

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sagashop/orderflow/internal/saga"
)

// Simulator advances one paid order's deliveries in the background. A single
// instance exists per order, started by the coordinator on the PAID
// transition. Cancellation of the order is observed on the next tick, not
// preemptively.
type Simulator struct {
	Log        *slog.Logger
	Orders     OrderStore
	Deliveries DeliveryStore
	OrderID    string
	Tick       time.Duration
}

func (s *Simulator) Run(ctx context.Context) {
	t := time.NewTicker(s.Tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			done, err := s.tick(ctx)
			if err != nil {
				s.Log.Error("simulator tick failed", "order_id", s.OrderID, "err", err)
				continue
			}
			if done {
				return
			}
		}
	}
}

func (s *Simulator) tick(ctx context.Context) (bool, error) {
	o, err := s.Orders.Get(ctx, s.OrderID)
	if errors.Is(err, saga.ErrOrderNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	switch o.Status {
	case StatusFailed, StatusCancelled:
		if err := s.Deliveries.CancelUndelivered(ctx, s.OrderID); err != nil {
			return false, err
		}
		s.Log.Info("deliveries cancelled", "order_id", s.OrderID, "order_status", o.Status)
		return true, nil
	case StatusPending:
		// saga not settled yet, skip this tick
		return false, nil
	}

	ds, err := s.Deliveries.ByOrder(ctx, s.OrderID)
	if err != nil {
		return false, err
	}
	var pending []saga.Delivery
	for _, d := range ds {
		if d.Status == saga.DeliveryPending {
			pending = append(pending, d)
		}
	}
	if len(pending) == 0 {
		return true, nil
	}

	pick := pending[rand.Intn(len(pending))]
	if err := s.Deliveries.SetStatus(ctx, pick.ID, saga.DeliveryDelivering); err != nil {
		return false, err
	}
	if o.Status == StatusPaid {
		if _, err := s.Orders.UpdateStatus(ctx, s.OrderID, StatusPaid, StatusDelivering); err != nil {
			return false, err
		}
	}
	s.Log.Info("delivery advanced", "order_id", s.OrderID, "delivery_id", pick.ID)
	return false, nil
}
