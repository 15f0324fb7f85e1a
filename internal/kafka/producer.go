package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer owns one topic. Publishes go through an inbox channel drained by a
// single goroutine so callers never block on the broker. The inbox is closed
// only by Close, which the owning main calls after its HTTP server has
// drained, so an in-flight handler can never hit a closed channel.
type Producer struct {
	w      *kafka.Writer
	log    *slog.Logger
	inbox  chan kafka.Message
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewProducer(log *slog.Logger, brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		log:   log.With("topic", topic),
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

// Start drains the inbox until Close; whatever was accepted before Close is
// flushed before the writer shuts down.
func (p *Producer) Start() {
	go func() {
		for m := range p.inbox {
			p.write(m)
		}
		_ = p.w.Close()
		close(p.done)
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka write failed", "key", string(m.Key), "err", err)
	}
}

// Publish enqueues the message, or drops it with a log line once the producer
// is closed. The read lock is held across the send, so Close cannot close the
// inbox underneath an accepted publish.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Warn("message dropped, producer closed", "key", string(key))
		return
	}
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops accepting messages. Safe to call more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the flush loop has exited.
func (p *Producer) WaitClosed() { <-p.done }
