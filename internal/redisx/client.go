package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Dedup tracks processed event ids for one consuming service. Seen is checked
// before handling; MarkSeen runs only after the handler succeeded, so a failed
// message stays unmarked and is processed again on redelivery.
type Dedup struct {
	C       *redis.Client
	Service string
}

func (d *Dedup) Seen(ctx context.Context, eventID string) bool {
	n, err := d.C.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		// cache down: reprocess, downstream handling is idempotent
		return false
	}
	return n > 0
}

func (d *Dedup) MarkSeen(ctx context.Context, eventID string) {
	_ = d.C.Set(ctx, d.key(eventID), "1", TTLDedup).Err()
}

func (d *Dedup) key(eventID string) string {
	return fmt.Sprintf(KeyDedup, d.Service, eventID)
}

// Store is the coordinator's submission-idempotency and order-status cache.
type Store struct{ C *redis.Client }

// ClaimSubmission registers orderID under the client's idempotency key and
// returns the order id the key resolves to. A replayed submission gets the
// original order id back instead of minting a new order.
func (s *Store) ClaimSubmission(ctx context.Context, key, orderID string) (string, error) {
	k := fmt.Sprintf(KeyIdemOrderSubmit, key)
	ok, err := s.C.SetNX(ctx, k, orderID, TTLIdempotency).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return orderID, nil
	}
	return s.C.Get(ctx, k).Result()
}

func (s *Store) CacheStatus(ctx context.Context, orderID, body string) {
	_ = s.C.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), body, TTLStatusCache).Err()
}

func (s *Store) CachedStatus(ctx context.Context, orderID string) (string, bool) {
	v, err := s.C.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}
