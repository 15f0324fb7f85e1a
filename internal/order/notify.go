package order

import (
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/sagashop/orderflow/internal/kafka"
	"github.com/sagashop/orderflow/internal/saga"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Notifier publishes customer-facing tracking events. Fire-and-forget: the
// saga never waits on the notification sink.
type Notifier struct {
	Producer Publisher
	Service  string
}

func (n *Notifier) Notify(userID, orderID string, st Status, msg string) {
	ev := saga.NewEnvelope(saga.EventOrderTracking, n.Service, "", orderID, saga.TrackingPayload{
		UserID:  userID,
		OrderID: orderID,
		Status:  string(st),
		Message: msg,
	})
	n.Producer.Publish(saga.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(saga.EventOrderTracking)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
