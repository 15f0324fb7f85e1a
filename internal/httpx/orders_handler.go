package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/sagashop/orderflow/internal/kafka"
	"github.com/sagashop/orderflow/internal/order"
	"github.com/sagashop/orderflow/internal/saga"
)

type PlaceOrderReq struct {
	UserID  string              `json:"user_id"`
	Address string              `json:"address"`
	Items   []saga.PurchaseLine `json:"items"`
}

type PlaceOrderResp struct {
	OrderID    string `json:"order_id"`
	TotalCents int64  `json:"total_cents"`
}

// OrderCache is the coordinator's submission-idempotency and status cache.
type OrderCache interface {
	ClaimSubmission(ctx context.Context, key, orderID string) (string, error)
	CacheStatus(ctx context.Context, orderID, body string)
	CachedStatus(ctx context.Context, orderID string) (string, bool)
}

// OrdersHandler accepts order submissions and read/cancel requests. A
// submission only publishes the placed order; the coordinator and both
// participants consume it independently.
type OrdersHandler struct {
	Coordinator *order.Coordinator
	Producer    order.Publisher // order.created
	Cache       OrderCache
	Service     string
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/users/{id}/orders", h.ordersByUser)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}
	for _, it := range req.Items {
		if it.ProductID == "" || it.Qty <= 0 || it.PriceCents < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid item %s", it.ProductID))
			return
		}
	}
	items, err := mergeLines(req.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID := uuid.NewString()
	var total int64
	for _, it := range items {
		total += int64(it.Qty) * it.PriceCents
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" {
		claimed, err := h.Cache.ClaimSubmission(ctx, key, orderID)
		if err == nil && claimed != orderID {
			// replayed submission: hand back the order it already created
			writeJSON(w, http.StatusOK, PlaceOrderResp{OrderID: claimed, TotalCents: total})
			return
		}
	}
	h.Cache.CacheStatus(ctx, orderID, `{"status":"PENDING"}`)

	ev := saga.NewEnvelope(saga.EventOrderCreated, h.Service, r.Header.Get("X-Request-Id"), orderID,
		saga.OrderCreatedPayload{
			OrderID:    orderID,
			UserID:     req.UserID,
			Address:    req.Address,
			Purchases:  items,
			TotalCents: total,
		})
	h.Producer.Publish(saga.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(saga.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)

	writeJSON(w, http.StatusAccepted, PlaceOrderResp{OrderID: orderID, TotalCents: total})
}

// mergeLines folds lines listing the same product into one, summing
// quantities. Conflicting prices for one product reject the submission.
func mergeLines(items []saga.PurchaseLine) ([]saga.PurchaseLine, error) {
	out := make([]saga.PurchaseLine, 0, len(items))
	idx := make(map[string]int, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			if out[i].PriceCents != it.PriceCents {
				return nil, fmt.Errorf("conflicting prices for product %s", it.ProductID)
			}
			out[i].Qty += it.Qty
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if body, ok := h.Cache.CachedStatus(ctx, orderID); ok {
		writeJSON(w, http.StatusOK, json.RawMessage(body))
		return
	}

	o, err := h.Coordinator.GetOrder(ctx, orderID)
	if errors.Is(err, saga.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body := map[string]any{"status": o.Status, "order_id": o.ID, "total_cents": o.TotalCents}
	b, _ := json.Marshal(body)
	h.Cache.CacheStatus(ctx, orderID, string(b))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Coordinator.CancelOrder(ctx, orderID)
	switch {
	case errors.Is(err, saga.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return
	case errors.Is(err, saga.ErrOrderNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Cache.CacheStatus(ctx, orderID, `{"status":"CANCELLED"}`)
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": "CANCELLED"})
}

func (h *OrdersHandler) ordersByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	os, err := h.Coordinator.OrdersByUser(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(os))
	for _, o := range os {
		out = append(out, map[string]any{
			"order_id": o.ID, "status": o.Status, "total_cents": o.TotalCents,
			"created_at": o.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
