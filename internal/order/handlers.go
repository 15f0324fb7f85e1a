package order

import (
	"context"
	"encoding/json"
	"errors"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/sagashop/orderflow/internal/kafka"
	"github.com/sagashop/orderflow/internal/saga"
)

// Deduper tracks which event ids this consumer has fully processed.
type Deduper interface {
	Seen(ctx context.Context, eventID string) bool
	MarkSeen(ctx context.Context, eventID string)
}

// Consumers glues the coordinator to its subscribed topics. Every handler
// checks the dedup cache first and marks the event only after it was handled,
// so a failed message is retried on redelivery; the ledger catches whatever
// the dedup window misses.
type Consumers struct {
	Coordinator *Coordinator
	Dedup       Deduper
}

func (h *Consumers) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	var env saga.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != saga.EventOrderCreated {
		return nil
	}
	if h.Dedup.Seen(ctx, env.EventID) {
		return nil
	}
	p, err := kafkax.Unwrap[saga.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}
	err = h.Coordinator.CreateOrder(ctx, p)
	if errors.Is(err, saga.ErrDuplicateOrder) {
		h.Coordinator.Log.Warn("duplicate order submission", "order_id", p.OrderID)
		h.Dedup.MarkSeen(ctx, env.EventID)
		return nil
	}
	if err != nil {
		return err
	}
	h.Dedup.MarkSeen(ctx, env.EventID)
	return nil
}

func (h *Consumers) HandleWalletOK(ctx context.Context, m kafkago.Message) error {
	var env saga.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != saga.EventFundsReserved {
		return nil
	}
	if h.Dedup.Seen(ctx, env.EventID) {
		return nil
	}
	p, err := kafkax.Unwrap[saga.FundsReservedPayload](env.Payload)
	if err != nil {
		return err
	}
	if err := h.Coordinator.OnFundsLegDone(ctx, p.OrderID); err != nil {
		return err
	}
	h.Dedup.MarkSeen(ctx, env.EventID)
	return nil
}

func (h *Consumers) HandleStockOK(ctx context.Context, m kafkago.Message) error {
	var env saga.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != saga.EventStockReserved {
		return nil
	}
	if h.Dedup.Seen(ctx, env.EventID) {
		return nil
	}
	p, err := kafkax.Unwrap[saga.StockReservedPayload](env.Payload)
	if err != nil {
		return err
	}
	if err := h.Coordinator.OnStockLegDone(ctx, p.OrderID, p.Deliveries); err != nil {
		return err
	}
	h.Dedup.MarkSeen(ctx, env.EventID)
	return nil
}

func (h *Consumers) HandleRollback(ctx context.Context, m kafkago.Message) error {
	var env saga.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != saga.EventRollback {
		return nil
	}
	if h.Dedup.Seen(ctx, env.EventID) {
		return nil
	}
	p, err := kafkax.Unwrap[saga.RollbackPayload](env.Payload)
	if err != nil {
		return err
	}
	if err := h.Coordinator.OnRollback(ctx, p.OrderID, p.Reason); err != nil {
		return err
	}
	h.Dedup.MarkSeen(ctx, env.EventID)
	return nil
}
