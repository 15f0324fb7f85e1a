package httpx

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/sagashop/orderflow/internal/saga"
)

type fakeCache struct {
	mu     sync.Mutex
	claims map[string]string
	status map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{claims: map[string]string{}, status: map[string]string{}}
}

func (f *fakeCache) ClaimSubmission(ctx context.Context, key, orderID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prior, ok := f.claims[key]; ok {
		return prior, nil
	}
	f.claims[key] = orderID
	return orderID, nil
}

func (f *fakeCache) CacheStatus(ctx context.Context, orderID, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[orderID] = body
}

func (f *fakeCache) CachedStatus(ctx context.Context, orderID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.status[orderID]
	return v, ok
}

type fakePublisher struct {
	mu     sync.Mutex
	events []saga.Envelope
}

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	var env saga.Envelope
	_ = json.Unmarshal(value, &env)
	f.mu.Lock()
	f.events = append(f.events, env)
	f.mu.Unlock()
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newOrdersHandler() (*OrdersHandler, *fakePublisher, *fakeCache) {
	pub := &fakePublisher{}
	cache := newFakeCache()
	return &OrdersHandler{Producer: pub, Cache: cache, Service: "test"}, pub, cache
}

func postOrder(h *OrdersHandler, body, idemKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/orders", strings.NewReader(body))
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	w := httptest.NewRecorder()
	h.placeOrder(w, req)
	return w
}

// Resubmitting under the same idempotency key returns the original order
// without publishing a second event.
func TestPlaceOrderIdempotencyReplay(t *testing.T) {
	h, pub, _ := newOrdersHandler()
	body := `{"user_id":"u1","items":[{"product_id":"p1","qty":2,"price_cents":4000}]}`

	first := postOrder(h, body, "req-42")
	if first.Code != 202 {
		t.Fatalf("first submit = %d, want 202", first.Code)
	}
	var r1 PlaceOrderResp
	_ = json.Unmarshal(first.Body.Bytes(), &r1)

	second := postOrder(h, body, "req-42")
	if second.Code != 200 {
		t.Fatalf("replay = %d, want 200", second.Code)
	}
	var r2 PlaceOrderResp
	_ = json.Unmarshal(second.Body.Bytes(), &r2)

	if r1.OrderID == "" || r1.OrderID != r2.OrderID {
		t.Fatalf("order ids differ: %q vs %q", r1.OrderID, r2.OrderID)
	}
	if pub.count() != 1 {
		t.Fatalf("published %d events, want 1", pub.count())
	}
}

func TestPlaceOrderDistinctKeysMintDistinctOrders(t *testing.T) {
	h, pub, _ := newOrdersHandler()
	body := `{"user_id":"u1","items":[{"product_id":"p1","qty":1,"price_cents":100}]}`

	var r1, r2 PlaceOrderResp
	_ = json.Unmarshal(postOrder(h, body, "k1").Body.Bytes(), &r1)
	_ = json.Unmarshal(postOrder(h, body, "k2").Body.Bytes(), &r2)
	if r1.OrderID == r2.OrderID {
		t.Fatalf("distinct keys produced the same order %q", r1.OrderID)
	}
	if pub.count() != 2 {
		t.Fatalf("published %d events, want 2", pub.count())
	}
}

// Lines repeating a product are folded into one before the event is published.
func TestPlaceOrderMergesDuplicateLines(t *testing.T) {
	h, pub, _ := newOrdersHandler()
	body := `{"user_id":"u1","items":[
		{"product_id":"p1","qty":3,"price_cents":1000},
		{"product_id":"p1","qty":3,"price_cents":1000}]}`

	w := postOrder(h, body, "")
	if w.Code != 202 {
		t.Fatalf("code = %d body=%s", w.Code, w.Body.String())
	}
	var resp PlaceOrderResp
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.TotalCents != 6000 {
		t.Fatalf("total = %d, want 6000", resp.TotalCents)
	}

	var p saga.OrderCreatedPayload
	_ = json.Unmarshal(pub.events[0].Payload, &p)
	if len(p.Purchases) != 1 || p.Purchases[0].Qty != 6 {
		t.Fatalf("published purchases = %+v, want one line of 6", p.Purchases)
	}
}

func TestPlaceOrderRejectsConflictingPrices(t *testing.T) {
	h, pub, _ := newOrdersHandler()
	body := `{"user_id":"u1","items":[
		{"product_id":"p1","qty":1,"price_cents":1000},
		{"product_id":"p1","qty":1,"price_cents":900}]}`

	w := postOrder(h, body, "")
	if w.Code != 400 {
		t.Fatalf("code = %d, want 400", w.Code)
	}
	if pub.count() != 0 {
		t.Fatal("rejected submission was published")
	}
}
