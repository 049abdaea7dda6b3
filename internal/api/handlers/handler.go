// handler.go — основной обработчик API Inventory Module.
// Объединяет health, инвентарь, справочники и управление кэшем;
// маршруты регистрируются в Routes.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/inventory-module/internal/cache"
	"github.com/bigkaa/goartstore/inventory-module/internal/database"
	"github.com/bigkaa/goartstore/inventory-module/internal/domain/model"
	"github.com/bigkaa/goartstore/inventory-module/internal/repository"
	"github.com/bigkaa/goartstore/inventory-module/internal/service"
)

// Ограничения размера тела запроса.
const (
	maxBodyBytes     = 1 << 20
	maxBulkBodyBytes = 32 << 20
)

// InventoryService — операции сервисного слоя, используемые обработчиками.
type InventoryService interface {
	GetItem(ctx context.Context, id int64) (*model.Item, bool, error)
	ListItems(ctx context.Context, p service.ListParams) (*repository.Page[model.Item], bool, error)
	CreateItem(ctx context.Context, in model.ItemInput) (*model.Item, error)
	UpdateItem(ctx context.Context, id, expectedVersion int64, patch model.ItemPatch) (*model.Item, error)
	DeleteItem(ctx context.Context, id int64, expectedVersion *int64) error
	BulkImport(ctx context.Context, items []model.ItemInput, upsert bool) (*repository.BulkResult, error)
	CoordinationStats(ctx context.Context, coordinationID int64) (*model.CoordinationStats, bool, error)
	GlobalStats(ctx context.Context) (*model.InventoryStats, bool, error)
	CreateCoordination(ctx context.Context, name string) (*model.Coordination, error)
	Catalog(ctx context.Context, kind string) (*model.Catalog, bool, error)
	Warmup(ctx context.Context) (int, error)
	CacheStats(ctx context.Context) cache.Stats
	InvalidateCache(ctx context.Context, pattern string, coordinationID *int64) (int, error)
}

// DatabaseHealth — состояние базы данных для статистики кэша.
type DatabaseHealth interface {
	HealthCheck(ctx context.Context) database.Health
}

// APIHandler — основной обработчик API Inventory Module.
type APIHandler struct {
	health *HealthHandler
	svc    InventoryService
	db     DatabaseHealth
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	svc InventoryService,
	db DatabaseHealth,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health: health,
		svc:    svc,
		db:     db,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты на роутере.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Post("/bulk", h.BulkImport)
			r.Get("/stats", h.GetInventoryStats)
			r.Get("/stats/coordination/{id}", h.GetCoordinationStats)
			r.Get("/{id}", h.GetItem)
			r.Patch("/{id}", h.UpdateItem)
			r.Delete("/{id}", h.DeleteItem)
		})
		r.Post("/coordinations", h.CreateCoordination)
		r.Get("/catalogs/{kind}", h.GetCatalog)
		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", h.GetCacheStats)
			r.Delete("/invalidate", h.InvalidateCache)
			r.Post("/warmup", h.WarmupCache)
		})
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса. Неизвестные поля отклоняются.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: некорректное тело запроса: %s", service.ErrValidation, err.Error())
	}
	return nil
}

// pathID извлекает положительный числовой параметр пути.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: некорректный %s", service.ErrValidation, name)
	}
	return id, nil
}

// queryInt64 читает необязательный числовой параметр запроса.
func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: параметр %s должен быть числом", service.ErrValidation, name)
	}
	return &v, nil
}
