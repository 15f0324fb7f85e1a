package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sagashop/orderflow/internal/saga"
	"github.com/sagashop/orderflow/internal/wallet"
)

type RechargeReq struct {
	AmountCents int64 `json:"amount_cents"`
}

type WalletHandler struct {
	Service *wallet.Service
}

func (h *WalletHandler) Register(r *chi.Mux) {
	r.Post("/wallets/{user}/recharge", h.recharge)
	r.Get("/wallets/{user}", h.getWallet)
}

func (h *WalletHandler) recharge(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	var req RechargeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Service.Recharge(ctx, userID, req.AmountCents); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	wl, err := h.Service.Store.Get(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance_cents": wl.BalanceCents})
}

func (h *WalletHandler) getWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	wl, err := h.Service.Store.Get(ctx, userID)
	if errors.Is(err, saga.ErrWalletNotFound) {
		writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": wl.UserID, "balance_cents": wl.BalanceCents})
}
