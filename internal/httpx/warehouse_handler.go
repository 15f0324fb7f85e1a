package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sagashop/orderflow/internal/warehouse"
)

type ProductReq struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type StockReq struct {
	WarehouseID    string `json:"warehouse_id"`
	Qty            int    `json:"qty"`
	AlarmThreshold int    `json:"alarm_threshold"`
}

type WarehouseHandler struct {
	Service *warehouse.Service
}

func (h *WarehouseHandler) Register(r *chi.Mux) {
	r.Post("/products", h.insertProduct)
	r.Put("/products/{id}", h.updateProduct)
	r.Get("/products", h.listProducts)
	r.Put("/products/{id}/stock", h.upsertStock)
	r.Get("/products/{id}/availability", h.availability)
}

func (h *WarehouseHandler) insertProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" || req.PriceCents < 0 {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id, err := h.Service.Store.InsertProduct(ctx, warehouse.Product{
		ID: req.ID, Name: req.Name, PriceCents: req.PriceCents,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *WarehouseHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Service.Store.UpdateProduct(ctx, warehouse.Product{
		ID: id, Name: req.Name, PriceCents: req.PriceCents,
	}); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *WarehouseHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Service.Store.ListProducts(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *WarehouseHandler) upsertStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req StockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.WarehouseID == "" || req.Qty < 0 {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Service.Store.UpsertStock(ctx, warehouse.Stock{
		ProductID: id, WarehouseID: req.WarehouseID,
		Qty: req.Qty, AlarmThreshold: req.AlarmThreshold,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"product_id": id, "warehouse_id": req.WarehouseID})
}

func (h *WarehouseHandler) availability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	n, err := h.Service.Store.Availability(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "available": n})
}
