package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/sagashop/orderflow/internal/kafka"
	"github.com/sagashop/orderflow/internal/saga"
)

type Store interface {
	Reserve(ctx context.Context, userID, orderID string, amount int64) error
	Release(ctx context.Context, orderID string) error
	Recharge(ctx context.Context, userID string, amount int64) error
	Get(ctx context.Context, userID string) (Wallet, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Deduper tracks which event ids this consumer has fully processed.
type Deduper interface {
	Seen(ctx context.Context, eventID string) bool
	MarkSeen(ctx context.Context, eventID string)
}

// Service is the funds leg of the order saga: it reserves on order.created
// and releases on rollback or cancel.
type Service struct {
	Log              *slog.Logger
	Store            Store
	Dedup            Deduper
	ProducerOK       Publisher // order.wallet.ok
	ProducerRollback Publisher // order.rollback
	ServiceName      string
}

func (s *Service) ReserveFunds(ctx context.Context, p saga.OrderCreatedPayload) error {
	total := p.TotalCents
	if total == 0 {
		for _, l := range p.Purchases {
			total += int64(l.Qty) * l.PriceCents
		}
	}

	err := s.Store.Reserve(ctx, p.UserID, p.OrderID, total)
	switch {
	case errors.Is(err, saga.ErrWalletNotFound):
		s.Log.Warn("no wallet for buyer", "order_id", p.OrderID, "user_id", p.UserID)
		s.publishRollback(p.OrderID, saga.ReasonWalletNotFound, "")
		return nil
	case errors.Is(err, saga.ErrInsufficientFunds):
		s.Log.Info("funds refused", "order_id", p.OrderID, "total_cents", total)
		s.publishRollback(p.OrderID, saga.ReasonInsufficientFunds, "")
		return nil
	case err != nil:
		return err
	}

	ev := saga.NewEnvelope(saga.EventFundsReserved, s.ServiceName, "", p.OrderID,
		saga.FundsReservedPayload{OrderID: p.OrderID})
	s.ProducerOK.Publish(saga.PartitionKey(p.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(saga.EventFundsReserved)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	s.Log.Info("funds reserved", "order_id", p.OrderID, "total_cents", total)
	return nil
}

func (s *Service) ReleaseFunds(ctx context.Context, orderID string) error {
	if err := s.Store.Release(ctx, orderID); err != nil {
		return err
	}
	s.Log.Info("funds released", "order_id", orderID)
	return nil
}

func (s *Service) Recharge(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("invalid recharge amount %d", amount)
	}
	return s.Store.Recharge(ctx, userID, amount)
}

func (s *Service) publishRollback(orderID, reason, trace string) {
	ev := saga.NewEnvelope(saga.EventRollback, s.ServiceName, trace, orderID,
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
	if err := s.ReserveFunds(ctx, p); err != nil {
		return err
	}
	s.Dedup.MarkSeen(ctx, env.EventID)
	return nil
}

// HandleCompensation serves both the rollback and cancel topics: either way
// the reservation keyed by the order is refunded, idempotently.
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
	if err := s.ReleaseFunds(ctx, orderID); err != nil {
		return err
	}
	s.Dedup.MarkSeen(ctx, env.EventID)
	return nil
}
