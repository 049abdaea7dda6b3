// Пакет model — доменные модели Inventory Module.
// Item — маппинг таблицы inventory_items, Coordination — таблицы coordinations.
// JSON-теги используются и HTTP-слоем, и кэшем (значения хранятся в JSON).
package model

import (
	"slices"
	"time"
)

// Статусы элемента инвентаря.
const (
	StatusAvailable   = "disponible"
	StatusInUse       = "en_uso"
	StatusMaintenance = "mantenimiento"
	StatusRetired     = "baja"
)

// Этапы учёта элемента инвентаря.
const (
	StageFiscal        = "FISCAL"
	StageInTransit     = "EN_TRANSITO"
	StagePhysical      = "FISICO"
	StageComplete      = "COMPLETO"
	StagePendingFiscal = "PENDIENTE_FISCAL"
	StagePending       = "PENDIENTE"
)

// Statuses — допустимые статусы в порядке отображения.
var Statuses = []string{StatusAvailable, StatusInUse, StatusMaintenance, StatusRetired}

// Stages — допустимые этапы в порядке отображения.
var Stages = []string{StageFiscal, StageInTransit, StagePhysical, StageComplete, StagePendingFiscal, StagePending}

// IsValidStatus проверяет значение статуса.
func IsValidStatus(s string) bool {
	return slices.Contains(Statuses, s)
}

// IsValidStage проверяет значение этапа.
func IsValidStage(s string) bool {
	return slices.Contains(Stages, s)
}

// Item — элемент инвентаря.
type Item struct {
	// ID — суррогатный ключ (identity)
	ID int64 `json:"id"`
	// InventoryNumber — инвентарный номер, уникален
	InventoryNumber string `json:"inventory_number"`
	// SerialNumber — серийный номер производителя
	SerialNumber *string `json:"serial_number,omitempty"`
	Description  string  `json:"description"`
	Brand        *string `json:"brand,omitempty"`
	Model        *string `json:"model,omitempty"`
	// Cost — стоимость, NUMERIC(12,2)
	Cost float64 `json:"cost"`
	// CoordinationID — родительская координация (nil — без координации)
	CoordinationID *int64  `json:"coordination_id,omitempty"`
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	Location       *string `json:"location,omitempty"`
	// Version — счётчик оптимистической блокировки, растёт на каждой записи
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemInput — данные нового элемента (одиночное создание и bulk-импорт).
// Пустые Status/Stage заменяются значениями по умолчанию из схемы.
type ItemInput struct {
	InventoryNumber string  `json:"inventory_number"`
	SerialNumber    *string `json:"serial_number,omitempty"`
	Description     string  `json:"description"`
	Brand           *string `json:"brand,omitempty"`
	Model           *string `json:"model,omitempty"`
	Cost            float64 `json:"cost"`
	CoordinationID  *int64  `json:"coordination_id,omitempty"`
	Status          string  `json:"status,omitempty"`
	Stage           string  `json:"stage,omitempty"`
	Location        *string `json:"location,omitempty"`
}

// WithDefaults возвращает копию с заполненными Status и Stage.
func (in ItemInput) WithDefaults() ItemInput {
	if in.Status == "" {
		in.Status = StatusAvailable
	}
	if in.Stage == "" {
		in.Stage = StagePending
	}
	return in
}

// NullableItemFields — поля, которые патч может очистить через Clear.
var NullableItemFields = []string{"serial_number", "brand", "model", "coordination_id", "location"}

// ItemPatch — частичное обновление элемента. nil-поле (в JSON — отсутствующее
// или null) не изменяется; очистка nullable-поля задаётся списком Clear.
type ItemPatch struct {
	SerialNumber   *string  `json:"serial_number,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Brand          *string  `json:"brand,omitempty"`
	Model          *string  `json:"model,omitempty"`
	Cost           *float64 `json:"cost,omitempty"`
	CoordinationID *int64   `json:"coordination_id,omitempty"`
	Status         *string  `json:"status,omitempty"`
	Stage          *string  `json:"stage,omitempty"`
	Location       *string  `json:"location,omitempty"`
	// Clear — поля из NullableItemFields, которым присваивается NULL
	Clear []string `json:"clear,omitempty"`
}

// IsEmpty возвращает true, если патч ничего не меняет.
func (p ItemPatch) IsEmpty() bool {
	return p.SerialNumber == nil && p.Description == nil && p.Brand == nil &&
		p.Model == nil && p.Cost == nil && p.CoordinationID == nil &&
		p.Status == nil && p.Stage == nil && p.Location == nil && len(p.Clear) == 0
}

// Sets возвращает true, если патч присваивает значение полю field.
func (p ItemPatch) Sets(field string) bool {
	switch field {
	case "serial_number":
		return p.SerialNumber != nil
	case "brand":
		return p.Brand != nil
	case "model":
		return p.Model != nil
	case "coordination_id":
		return p.CoordinationID != nil
	case "location":
		return p.Location != nil
	}
	return false
}

// ItemFilter — фильтры списка элементов.
type ItemFilter struct {
	CoordinationID *int64
	Status         string
	Stage          string
	// Search — подстрока по инвентарному номеру, описанию, марке и модели
	Search string
}
