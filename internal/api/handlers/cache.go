// cache.go — HTTP handlers справочников и управления кэшем.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/inventory-module/internal/api/errors"
	"github.com/bigkaa/goartstore/inventory-module/internal/cache"
	"github.com/bigkaa/goartstore/inventory-module/internal/database"
	"github.com/bigkaa/goartstore/inventory-module/internal/domain/model"
)

// warmupTimeout — предел времени ручного прогрева кэша.
const warmupTimeout = 30 * time.Second

type catalogResponse struct {
	Data   *model.Catalog `json:"data"`
	Cached bool           `json:"cached"`
}

type cacheStatsResponse struct {
	Cache    cache.Stats      `json:"cache"`
	Database *database.Health `json:"database,omitempty"`
}

// invalidateRequest — шаблон ключей или координация.
type invalidateRequest struct {
	Pattern        string `json:"pattern"`
	CoordinationID *int64 `json:"coordination_id"`
}

type invalidateResponse struct {
	DeletedKeys int `json:"deleted_keys"`
}

type warmupResponse struct {
	Warmed int    `json:"warmed"`
	Error  string `json:"error,omitempty"`
}

// GetCatalog обрабатывает GET /api/v1/catalogs/{kind}.
func (h *APIHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, cached, err := h.svc.Catalog(r.Context(), chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalogResponse{Data: catalog, Cached: cached})
}

// GetCacheStats обрабатывает GET /api/v1/cache/stats.
// Вместе со статистикой кэша возвращает состояние базы данных и пула.
func (h *APIHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	resp := cacheStatsResponse{Cache: h.svc.CacheStats(r.Context())}
	if h.db != nil {
		health := h.db.HealthCheck(r.Context())
		resp.Database = &health
	}
	writeJSON(w, http.StatusOK, resp)
}

// InvalidateCache обрабатывает DELETE /api/v1/cache/invalidate.
func (h *APIHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		errors.FromError(w, err)
		return
	}

	n, err := h.svc.InvalidateCache(r.Context(), req.Pattern, req.CoordinationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invalidateResponse{DeletedKeys: n})
}

// WarmupCache обрабатывает POST /api/v1/cache/warmup.
// Частичный прогрев — 200 с текстом ошибки.
func (h *APIHandler) WarmupCache(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), warmupTimeout)
	defer cancel()

	warmed, err := h.svc.Warmup(ctx)
	resp := warmupResponse{Warmed: warmed}
	if err != nil {
		if warmed == 0 {
			h.writeError(w, r, err)
			return
		}
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
