package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(Identity)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"success": false, "message": message})
}

type ctxKey string

const (
	ctxUserID    ctxKey = "user_id"
	ctxUserPhone ctxKey = "user_phone"
)

// Identity: auth/penerbitan token di luar scope service ini; gateway di depan
// sudah memverifikasi dan meneruskan identitas lewat header.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-User-Id"); id != "" {
			ctx = context.WithValue(ctx, ctxUserID, id)
		}
		if phone := r.Header.Get("X-User-Phone"); phone != "" {
			ctx = context.WithValue(ctx, ctxUserPhone, phone)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserID).(string)
	return id
}

func userPhone(r *http.Request) string {
	phone, _ := r.Context().Value(ctxUserPhone).(string)
	return phone
}
