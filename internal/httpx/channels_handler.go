package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/channel-market.git/internal/channels"
)

// ChannelsHandler cuma expose read: listing CRUD/search diurus service lain,
// endpoint ini dipakai cart & checkout UI.
type ChannelsHandler struct {
	Channels *channels.Repo
	Log      *zap.Logger
}

func (h *ChannelsHandler) Register(r *chi.Mux) {
	r.Get("/channels", h.list)
	r.Get("/channels/{id}", h.get)
}

func (h *ChannelsHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := channels.Status(r.URL.Query().Get("status"))

	out, err := h.Channels.List(ctx, status, limit)
	if err != nil {
		h.Log.Error("list_channels_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch channels")
		return
	}
	if out == nil {
		out = []channels.Channel{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out})
}

func (h *ChannelsHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ch, err := h.Channels.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, channels.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Channel not found")
			return
		}
		h.Log.Error("get_channel_failed", zap.String("channel_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch channel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": ch})
}
