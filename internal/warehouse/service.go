package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/sagashop/orderflow/internal/kafka"
	"github.com/sagashop/orderflow/internal/saga"
)

type Store interface {
	Reserve(ctx context.Context, orderID string, items []ItemQty) (ReserveResult, error)
	Restore(ctx context.Context, orderID string) error
	Availability(ctx context.Context, productID string) (int, error)
	InsertProduct(ctx context.Context, p Product) (string, error)
	UpdateProduct(ctx context.Context, p Product) error
	ListProducts(ctx context.Context) ([]Product, error)
	UpsertStock(ctx context.Context, s Stock) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Deduper tracks which event ids this consumer has fully processed.
type Deduper interface {
	Seen(ctx context.Context, eventID string) bool
	MarkSeen(ctx context.Context, eventID string)
}

// Service is the stock leg of the order saga.
type Service struct {
	Log              *slog.Logger
	Store            Store
	Dedup            Deduper
	ProducerOK       Publisher // order.stock.ok
	ProducerRollback Publisher // order.rollback
	ServiceName      string
}

// CheckAvailability reports, per purchase, whether the summed stock over all
// warehouses covers the required quantity.
func (s *Service) CheckAvailability(ctx context.Context, items []ItemQty) ([]Shortfall, error) {
	var short []Shortfall
	for _, it := range mergeItems(items) {
		avail, err := s.Store.Availability(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		if avail < it.Qty {
			short = append(short, Shortfall{ProductID: it.ProductID, Required: it.Qty, Available: avail})
		}
	}
	return short, nil
}

func (s *Service) ReserveStock(ctx context.Context, p saga.OrderCreatedPayload) error {
	items := make([]ItemQty, 0, len(p.Purchases))
	for _, l := range p.Purchases {
		items = append(items, ItemQty{ProductID: l.ProductID, Qty: l.Qty})
	}
	items = mergeItems(items)

	res, err := s.Store.Reserve(ctx, p.OrderID, items)
	if errors.Is(err, saga.ErrInsufficientStock) {
		s.Log.Info("stock refused", "order_id", p.OrderID, "shortfalls", len(res.Shortfalls))
		s.publishRollback(p.OrderID, saga.ReasonOutOfStock)
		return nil
	}
	if err != nil {
		return err
	}
	for _, a := range res.Alarms {
		s.Log.Warn("stock below alarm threshold",
			"product_id", a.ProductID, "warehouse_id", a.WarehouseID,
			"qty", a.Qty, "threshold", a.Threshold)
	}

	ev := saga.NewEnvelope(saga.EventStockReserved, s.ServiceName, "", p.OrderID,
		saga.StockReservedPayload{OrderID: p.OrderID, Deliveries: res.Deliveries})
	s.ProducerOK.Publish(saga.PartitionKey(p.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(saga.EventStockReserved)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	s.Log.Info("stock reserved", "order_id", p.OrderID, "deliveries", len(res.Deliveries))
	return nil
}

func (s *Service) RestoreStock(ctx context.Context, orderID string) error {
	if err := s.Store.Restore(ctx, orderID); err != nil {
		return err
	}
	s.Log.Info("stock restored", "order_id", orderID)
	return nil
}

// mergeItems folds lines that list the same product into one entry, summing
// quantities. The allocator and the availability check both assume one entry
// per product.
func mergeItems(items []ItemQty) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	idx := make(map[string]int, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

func (s *Service) publishRollback(orderID, reason string) {
	ev := saga.NewEnvelope(saga.EventRollback, s.ServiceName, "", orderID,
		saga.RollbackPayload{OrderID: orderID, Reason: reason})
	s.ProducerRollback.Publish(saga.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(saga.EventRollback)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	var env saga.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != saga.EventOrderCreated {
		return nil
	}
	if s.Dedup.Seen(ctx, env.EventID) {
		return nil
	}
	p, err := kafkax.Unwrap[saga.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}
	if err := s.ReserveStock(ctx, p); err != nil {
		return err
	}
	s.Dedup.MarkSeen(ctx, env.EventID)
	return nil
}

// HandleCompensation restores stock for rollback and cancel events alike.
func (s *Service) HandleCompensation(ctx context.Context, m kafkago.Message) error {
	var env saga.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	var orderID string
	switch env.EventType {
	case saga.EventRollback:
		p, err := kafkax.Unwrap[saga.RollbackPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID = p.OrderID
	case saga.EventOrderCancelled:
		p, err := kafkax.Unwrap[saga.CancelPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID = p.OrderID
	default:
		return nil
	}
	if s.Dedup.Seen(ctx, env.EventID) {
		return nil
	}
	if err := s.RestoreStock(ctx, orderID); err != nil {
		return err
	}
	s.Dedup.MarkSeen(ctx, env.EventID)
	return nil
}
