package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/tweetbridge/internal/middleware"
	"github.com/hitoshi/tweetbridge/internal/model"
	"github.com/hitoshi/tweetbridge/internal/repository"
)

// HealthHandler はストアへの疎通を確認するヘルスチェックハンドラー。
type HealthHandler struct {
	pinger repository.Pinger
	driver string
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(pinger repository.Pinger, driver string) *HealthHandler {
	return &HealthHandler{pinger: pinger, driver: driver}
}

// ServeHTTP はストアに到達できれば200、できなければ503を返す。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.pinger.PingContext(ctx); err != nil {
		slog.Error("health check failed",
			slog.String("store", h.driver),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewUnavailableError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"store":  h.driver,
	})
}
