// Пакет errors — ответы с ошибками в едином формате Inventory Module.
// Формат: {"error": {"code": "...", "message": "...", "current_version": N}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromError.
package errors //nolint:revive // конфликт имени со stdlib, как в остальных модулях

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/inventory-module/internal/database"
	"github.com/bigkaa/goartstore/inventory-module/internal/repository"
	"github.com/bigkaa/goartstore/inventory-module/internal/service"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError        = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidCursor          = "INVALID_CURSOR"
	CodeVersionConflict        = "VERSION_CONFLICT"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeConflict               = "CONFLICT"
	CodeInvalidReference       = "INVALID_REFERENCE"
	CodeConstraintViolation    = "CONSTRAINT_VIOLATION"
	CodePoolExhausted          = "POOL_EXHAUSTED"
	CodeTimedOut               = "TIMED_OUT"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternalError          = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	CurrentVersion *int64 `json:"current_version,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeBody(w, statusCode, errorDetail{Code: code, Message: message})
}

func writeBody(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// FromError записывает ответ по ошибке сервисного слоя.
// Конфликты версий содержат текущую версию записи; нарушения ограничений
// целостности отдаются как ошибки клиента без текста PostgreSQL;
// неизвестные ошибки отдаются как 500 без текста исходной ошибки.
func FromError(w http.ResponseWriter, err error) {
	err = repository.ClassifyConstraint(err)

	var (
		ve *repository.VersionError
		ce *repository.ConstraintError
	)
	switch {
	case stderrors.As(err, &ve):
		code := CodeVersionConflict
		if stderrors.Is(ve.Err, repository.ErrConcurrentModification) {
			code = CodeConcurrentModification
		}
		current := ve.Current
		writeBody(w, http.StatusConflict, errorDetail{
			Code:           code,
			Message:        err.Error(),
			CurrentVersion: &current,
		})
	case stderrors.Is(err, service.ErrNotFound), stderrors.Is(err, repository.ErrNotFound):
		NotFound(w, err.Error())
	case stderrors.Is(err, repository.ErrInvalidCursor):
		WriteError(w, http.StatusBadRequest, CodeInvalidCursor, err.Error())
	case stderrors.Is(err, service.ErrValidation),
		stderrors.Is(err, repository.ErrEmptyPatch),
		stderrors.Is(err, repository.ErrInvalidColumn):
		ValidationError(w, err.Error())
	case stderrors.As(err, &ce):
		switch {
		case stderrors.Is(ce.Err, repository.ErrInvalidReference):
			WriteError(w, http.StatusUnprocessableEntity, CodeInvalidReference, ce.Error())
		case stderrors.Is(ce.Err, repository.ErrCheckViolation):
			WriteError(w, http.StatusUnprocessableEntity, CodeConstraintViolation, ce.Error())
		default:
			WriteError(w, http.StatusConflict, CodeConflict, ce.Error())
		}
	case stderrors.Is(err, repository.ErrConflict):
		WriteError(w, http.StatusConflict, CodeConflict, err.Error())
	case stderrors.Is(err, database.ErrPoolExhausted):
		WriteError(w, http.StatusServiceUnavailable, CodePoolExhausted, "Нет свободных соединений с базой данных")
	case stderrors.Is(err, database.ErrSessionClosed):
		WriteError(w, http.StatusServiceUnavailable, CodeServiceUnavailable, "Сервис останавливается")
	case stderrors.Is(err, database.ErrTimedOut):
		WriteError(w, http.StatusGatewayTimeout, CodeTimedOut, "Превышено время выполнения запроса")
	default:
		InternalError(w, "Внутренняя ошибка сервера")
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
