package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/channel-market.git/internal/cart"
	"github.com/ariefcatur/channel-market.git/internal/channels"
)

type CartHandler struct {
	Carts *cart.Repo
	Log   *zap.Logger
}

func (h *CartHandler) Register(r *chi.Mux) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Post("/add", h.addToCart)
		r.Put("/update/{channelId}", h.updateItem)
		r.Delete("/remove/{channelId}", h.removeItem)
		r.Delete("/clear", h.clearCart)
	})
}

func (h *CartHandler) getCart(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	views, err := h.Carts.Get(ctx, uid)
	if err != nil {
		h.Log.Error("get_cart_failed", zap.String("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch cart")
		return
	}
	if views == nil {
		views = []cart.View{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels":     views,
		"channelCount": len(views),
	})
}

type addToCartReq struct {
	ChannelID string `json:"channel_id"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandler) addToCart(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	var req addToCartReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Carts.Add(ctx, uid, req.ChannelID, req.Quantity)
	switch {
	case errors.Is(err, channels.ErrNotFound):
		writeError(w, http.StatusNotFound, "Channel not found")
	case errors.Is(err, cart.ErrChannelSold):
		writeError(w, http.StatusBadRequest, "Channel already sold")
	case err != nil:
		h.Log.Error("add_to_cart_failed", zap.String("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to add item to cart")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

type updateItemReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}
	channelID := chi.URLParam(r, "channelId")

	var req updateItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Carts.UpdateQuantity(ctx, uid, channelID, req.Quantity)
	switch {
	case errors.Is(err, cart.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "item not in cart")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}
	channelID := chi.URLParam(r, "channelId")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Carts.Remove(ctx, uid, channelID)
	switch {
	case errors.Is(err, cart.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "item not in cart")
	case err != nil:
		h.Log.Error("remove_from_cart_failed", zap.String("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to remove item")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// clearCart: dipanggil eksplisit oleh client setelah settlement dikonfirmasi.
// Checkout sendiri tidak pernah mengosongkan cart: payment gagal tidak boleh
// menghilangkan isi cart user.
func (h *CartHandler) clearCart(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Carts.Clear(ctx, uid); err != nil {
		h.Log.Error("clear_cart_failed", zap.String("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to clear cart")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
