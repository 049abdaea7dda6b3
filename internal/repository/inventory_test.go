package repository

import (
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/inventory-module/internal/domain/model"
)

func TestBuildItemFilter_Empty(t *testing.T) {
	conditions, args := buildItemFilter(model.ItemFilter{})
	if len(conditions) != 0 || len(args) != 0 {
		t.Errorf("ожидались пустые условия: %v %v", conditions, args)
	}
}

func TestBuildItemFilter_All(t *testing.T) {
	coord := int64(4)
	conditions, args := buildItemFilter(model.ItemFilter{
		CoordinationID: &coord,
		Status:         "en_uso",
		Stage:          "FISICO",
		Search:         "50%_off",
	})

	if len(conditions) != 4 || len(args) != 4 {
		t.Fatalf("условий %d, аргументов %d, ожидалось 4 и 4", len(conditions), len(args))
	}
	if conditions[0] != "coordination_id = $1" || conditions[2] != "stage = $3" {
		t.Errorf("условия: %v", conditions)
	}
	if strings.Count(conditions[3], "$4") != 4 {
		t.Errorf("поиск должен использовать $4 для всех столбцов: %q", conditions[3])
	}
	if args[3] != `%50\%\_off%` {
		t.Errorf("шаблон поиска = %v, ожидались экранированные %% и _", args[3])
	}
}

func TestItemInsertValues_Defaults(t *testing.T) {
	vals := itemInsertValues(model.ItemInput{InventoryNumber: "INV-1", Description: "Silla"})
	if len(vals) != len(itemInsertColumns) {
		t.Fatalf("значений %d, столбцов %d", len(vals), len(itemInsertColumns))
	}
	if vals[7] != model.StatusAvailable || vals[8] != model.StagePending {
		t.Errorf("status/stage по умолчанию: %v / %v", vals[7], vals[8])
	}
}
