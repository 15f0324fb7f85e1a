package kafka

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

// Close must be safe against concurrent Publish calls: accepted messages land
// in the inbox, later ones are dropped, and nothing panics on a closed
// channel. The drain goroutine is deliberately not started so the inbox holds
// whatever was accepted.
func TestProducerCloseConcurrentWithPublish(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewProducer(log, []string{"broker:9092"}, "t", 1024)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.Publish([]byte("k"), []byte("v"))
			}
		}()
	}
	p.Close()
	p.Close() // idempotent
	wg.Wait()

	// dropped, not panicking
	p.Publish([]byte("late"), []byte("v"))
}

func TestProducerFlushesAcceptedOnClose(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewProducer(log, []string{"broker:9092"}, "t", 8)

	p.Publish([]byte("k1"), []byte("v1"))
	p.Publish([]byte("k2"), []byte("v2"))
	p.Close()

	// the inbox still carries both accepted messages for the drain loop
	if got := len(p.inbox); got != 2 {
		t.Fatalf("inbox holds %d messages after close, want 2", got)
	}
}
