// inventory.go — HTTP handlers элементов инвентаря:
// список с keyset-пагинацией, получение, создание, обновление и удаление
// с проверкой версии, пакетная загрузка, сводки и координации.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/inventory-module/internal/api/errors"
	"github.com/bigkaa/goartstore/inventory-module/internal/domain/model"
	"github.com/bigkaa/goartstore/inventory-module/internal/repository"
	"github.com/bigkaa/goartstore/inventory-module/internal/service"
)

// paginationResponse — блок пагинации списка.
type paginationResponse struct {
	HasNextPage bool   `json:"has_next_page"`
	NextCursor  string `json:"next_cursor,omitempty"`
	Limit       int    `json:"limit"`
}

type listResponse struct {
	Data       []model.Item       `json:"data"`
	Pagination paginationResponse `json:"pagination"`
	Cached     bool               `json:"cached"`
}

type itemResponse struct {
	Data   *model.Item `json:"data"`
	Cached bool        `json:"cached"`
}

type updateResponse struct {
	Data       *model.Item `json:"data"`
	NewVersion int64       `json:"new_version"`
}

// updateRequest — тело PATCH: ожидаемая версия и изменяемые поля.
type updateRequest struct {
	Version *int64 `json:"version"`
	model.ItemPatch
}

type bulkRequest struct {
	Items  []model.ItemInput `json:"items"`
	Upsert bool              `json:"upsert"`
}

type bulkRowError struct {
	BatchIndex int    `json:"batch_index"`
	RowIndex   int    `json:"row_index"`
	Message    string `json:"message"`
}

type bulkResponse struct {
	Success        bool           `json:"success"`
	ImportID       uuid.UUID      `json:"import_id"`
	Inserted       int            `json:"inserted"`
	TotalProcessed int            `json:"total_processed"`
	Errors         []bulkRowError `json:"errors"`
}

type statsResponse struct {
	Data   *model.CoordinationStats `json:"data"`
	Cached bool                     `json:"cached"`
}

type globalStatsResponse struct {
	Data   *model.InventoryStats `json:"data"`
	Cached bool                  `json:"cached"`
}

type coordinationRequest struct {
	Name string `json:"name"`
}

type coordinationResponse struct {
	Data *model.Coordination `json:"data"`
}

// ListItems обрабатывает GET /api/v1/inventory.
// Параметры: cursor, limit, coordination_id, status, stage, search.
func (h *APIHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	coordID, err := queryInt64(r, "coordination_id")
	if err != nil {
		errors.FromError(w, err)
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			errors.ValidationError(w, fmt.Sprintf("limit должен быть числом от 1 до %d", repository.MaxPageLimit))
			return
		}
	}

	page, cached, err := h.svc.ListItems(r.Context(), service.ListParams{
		Filter: model.ItemFilter{
			CoordinationID: coordID,
			Status:         q.Get("status"),
			Stage:          q.Get("stage"),
			Search:         q.Get("search"),
		},
		Cursor: q.Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data := page.Data
	if data == nil {
		data = []model.Item{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data: data,
		Pagination: paginationResponse{
			HasNextPage: page.HasNextPage,
			NextCursor:  page.NextCursor,
			Limit:       page.Limit,
		},
		Cached: cached,
	})
}

// GetItem обрабатывает GET /api/v1/inventory/{id}.
func (h *APIHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		errors.FromError(w, err)
		return
	}

	item, cached, err := h.svc.GetItem(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemResponse{Data: item, Cached: cached})
}

// CreateItem обрабатывает POST /api/v1/inventory.
func (h *APIHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var in model.ItemInput
	if err := decodeJSON(w, r, maxBodyBytes, &in); err != nil {
		errors.FromError(w, err)
		return
	}

	item, err := h.svc.CreateItem(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, itemResponse{Data: item})
}

// UpdateItem обрабатывает PATCH /api/v1/inventory/{id}.
// version в теле обязателен; несовпадение версии — 409 с current_version.
func (h *APIHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		errors.FromError(w, err)
		return
	}

	var req updateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		errors.FromError(w, err)
		return
	}
	if req.Version == nil || *req.Version < 1 {
		errors.ValidationError(w, "Поле 'version' обязательно")
		return
	}

	item, err := h.svc.UpdateItem(r.Context(), id, *req.Version, req.ItemPatch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{Data: item, NewVersion: item.Version})
}

// BulkImport обрабатывает POST /api/v1/inventory/bulk.
// Отклонённые строки не прерывают загрузку и возвращаются в errors
// с индексом строки во входном списке.
func (h *APIHandler) BulkImport(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(w, r, maxBulkBodyBytes, &req); err != nil {
		errors.FromError(w, err)
		return
	}

	res, err := h.svc.BulkImport(r.Context(), req.Items, req.Upsert)
	if err != nil {
		if res != nil {
			h.logger.Warn("Пакетная загрузка прервана",
				slog.String("import_id", res.ImportID.String()),
				slog.Int("inserted", res.Inserted),
				slog.Int("total_processed", res.TotalProcessed),
			)
		}
		h.writeError(w, r, err)
		return
	}

	resp := bulkResponse{
		Success:        len(res.Errors) == 0,
		ImportID:       res.ImportID,
		Inserted:       res.Inserted,
		TotalProcessed: res.TotalProcessed,
		Errors:         make([]bulkRowError, len(res.Errors)),
	}
	for i, e := range res.Errors {
		resp.Errors[i] = bulkRowError{BatchIndex: e.BatchIndex, RowIndex: e.RowIndex, Message: e.Err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCoordinationStats обрабатывает GET /api/v1/inventory/stats/coordination/{id}.
func (h *APIHandler) GetCoordinationStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		errors.FromError(w, err)
		return
	}

	stats, cached, err := h.svc.CoordinationStats(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Data: stats, Cached: cached})
}

// DeleteItem обрабатывает DELETE /api/v1/inventory/{id}.
// Необязательный параметр version включает проверку версии.
func (h *APIHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		errors.FromError(w, err)
		return
	}
	version, err := queryInt64(r, "version")
	if err != nil {
		errors.FromError(w, err)
		return
	}
	if version != nil && *version < 1 {
		errors.ValidationError(w, "Параметр 'version' должен быть положительным")
		return
	}

	if err := h.svc.DeleteItem(r.Context(), id, version); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetInventoryStats обрабатывает GET /api/v1/inventory/stats.
func (h *APIHandler) GetInventoryStats(w http.ResponseWriter, r *http.Request) {
	stats, cached, err := h.svc.GlobalStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, globalStatsResponse{Data: stats, Cached: cached})
}

// CreateCoordination обрабатывает POST /api/v1/coordinations.
func (h *APIHandler) CreateCoordination(w http.ResponseWriter, r *http.Request) {
	var req coordinationRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		errors.FromError(w, err)
		return
	}

	coord, err := h.svc.CreateCoordination(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, coordinationResponse{Data: coord})
}

// writeError логирует неожиданные ошибки и записывает ответ.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rec := &statusRecorder{ResponseWriter: w}
	errors.FromError(rec, err)
	if rec.status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// statusRecorder запоминает статус ответа.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
