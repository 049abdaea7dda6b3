package model

import "time"

// Coordination — координация, родительская группировка элементов.
type Coordination struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CoordinationStats — агрегат по элементам одной координации.
type CoordinationStats struct {
	CoordinationID int64            `json:"coordination_id"`
	TotalItems     int64            `json:"total_items"`
	TotalCost      float64          `json:"total_cost"`
	ByStatus       map[string]int64 `json:"by_status"`
	ByStage        map[string]int64 `json:"by_stage"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// LocationCount — число элементов в одном местоположении.
type LocationCount struct {
	Location string `json:"location"`
	Count    int64  `json:"count"`
}

// InventoryStats — сводка по всему инвентарю.
type InventoryStats struct {
	TotalItems int64            `json:"total_items"`
	TotalCost  float64          `json:"total_cost"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByStage    map[string]int64 `json:"by_stage"`
	// TopLocations — самые заполненные местоположения, по убыванию
	TopLocations []LocationCount `json:"top_locations"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// Виды справочников.
const (
	CatalogCoordinations = "coordinations"
	CatalogStatuses      = "statuses"
	CatalogStages        = "stages"
)

// CatalogKinds — все виды справочников (для прогрева кэша).
var CatalogKinds = []string{CatalogCoordinations, CatalogStatuses, CatalogStages}

// CatalogEntry — элемент справочника.
type CatalogEntry struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Catalog — справочник одного вида.
type Catalog struct {
	Kind    string         `json:"kind"`
	Entries []CatalogEntry `json:"entries"`
}
