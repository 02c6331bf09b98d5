package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/channel-market.git/internal/cart"
	"github.com/ariefcatur/channel-market.git/internal/ledger"
	"github.com/ariefcatur/channel-market.git/internal/phonepe"
	"github.com/ariefcatur/channel-market.git/internal/redisx"
	"github.com/ariefcatur/channel-market.git/internal/settlement"
)

type PaymentHandler struct {
	Settlement *settlement.Service
	Ledger     *ledger.Repo
	Redis      *redis.Client
	Log        *zap.Logger
}

// Isi order diambil dari cart user di server, bukan dari body request.
type CreateOrderReq struct {
	Amount float64 `json:"amount"`
}

func (h *PaymentHandler) Register(r *chi.Mux) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/orders", h.createOrder)
		r.Get("/status/{transactionId}", h.checkStatus)
		r.Get("/transactions", h.listTransactions)
		r.Get("/transactions/{transactionId}", h.getTransaction)
	})
}

func (h *PaymentHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	res, err := h.Settlement.CreateOrder(ctx, settlement.User{ID: uid, Phone: userPhone(r)}, req.Amount)
	if err != nil {
		var conflict *settlement.SoldConflictError
		switch {
		case errors.Is(err, settlement.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "Invalid amount")
		case errors.Is(err, settlement.ErrEmptyCart):
			writeError(w, http.StatusBadRequest, "Cart is empty")
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success":      false,
				"message":      "Some channels in your cart have already been sold",
				"code":         "CHANNELS_ALREADY_SOLD",
				"soldChannels": conflict.Items,
			})
		case errors.Is(err, phonepe.ErrTransport):
			writeError(w, http.StatusBadGateway, "Payment gateway unreachable, try again")
		default:
			h.Log.Error("create_order_failed", zap.String("user_id", uid), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to create payment order")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"transactionId": res.TransactionID,
			"code":          res.Gateway.Code,
			"gateway":       json.RawMessage(res.Gateway.Raw),
		},
	})
}

func (h *PaymentHandler) checkStatus(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "transactionId")
	if txID == "" {
		writeError(w, http.StatusBadRequest, "missing transaction id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	res, err := h.Settlement.CheckStatus(ctx, txID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			writeError(w, http.StatusNotFound, "Transaction not found")
		case errors.Is(err, phonepe.ErrTransport):
			writeError(w, http.StatusBadGateway, "Failed to check payment status after multiple attempts")
		default:
			h.Log.Error("check_status_failed", zap.String("transaction_id", txID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Error checking payment status")
		}
		return
	}

	// cache ringan buat listing; kebenaran tetap di DB
	key := fmt.Sprintf(redisx.KeyTxStatus, txID)
	_ = h.Redis.Set(ctx, key, string(res.Status), redisx.TTLStatusCache).Err()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"transactionId": txID,
			"status":        res.Status,
			"details":       res.Details,
		},
	})
}

type transactionView struct {
	TransactionID         string              `json:"transactionId"`
	MerchantTransactionID string              `json:"merchantTransactionId"`
	Amount                float64             `json:"amount"`
	Currency              string              `json:"currency"`
	Status                ledger.Status       `json:"status"`
	CartItems             []cart.SnapshotItem `json:"cartItems"`
	CreatedAt             time.Time           `json:"createdAt"`
	UpdatedAt             time.Time           `json:"updatedAt"`
}

// detail instrumen pembayaran dari gateway sengaja tidak diikutkan di response
func toView(t ledger.Transaction) transactionView {
	return transactionView{
		TransactionID:         t.TransactionID,
		MerchantTransactionID: t.MerchantTransactionID,
		Amount:                t.Amount,
		Currency:              t.Currency,
		Status:                t.Status,
		CartItems:             t.Metadata.CartItems,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
}

func (h *PaymentHandler) listTransactions(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	txs, err := h.Ledger.ListByUser(ctx, uid)
	if err != nil {
		h.Log.Error("list_transactions_failed", zap.String("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch transactions")
		return
	}

	views := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		views = append(views, toView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": views})
}

func (h *PaymentHandler) getTransaction(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}
	txID := chi.URLParam(r, "transactionId")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	tx, err := h.Ledger.FindByID(ctx, txID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		h.Log.Error("get_transaction_failed", zap.String("transaction_id", txID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch transaction details")
		return
	}
	// transaksi milik user lain diperlakukan seperti tidak ada
	if tx.UserID != uid {
		writeError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": toView(*tx)})
}
