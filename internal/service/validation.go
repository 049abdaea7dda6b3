package service

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/bigkaa/goartstore/inventory-module/internal/domain/model"
)

func validateFilter(f model.ItemFilter) error {
	if f.Status != "" && !model.IsValidStatus(f.Status) {
		return fmt.Errorf("%w: неизвестный статус %q", ErrValidation, f.Status)
	}
	if f.Stage != "" && !model.IsValidStage(f.Stage) {
		return fmt.Errorf("%w: неизвестный этап %q", ErrValidation, f.Stage)
	}
	return nil
}

func validateInput(in model.ItemInput) error {
	if strings.TrimSpace(in.InventoryNumber) == "" {
		return fmt.Errorf("%w: inventory_number обязателен", ErrValidation)
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: description обязателен", ErrValidation)
	}
	if in.Cost < 0 {
		return fmt.Errorf("%w: cost не может быть отрицательным", ErrValidation)
	}
	if in.Status != "" && !model.IsValidStatus(in.Status) {
		return fmt.Errorf("%w: неизвестный статус %q", ErrValidation, in.Status)
	}
	if in.Stage != "" && !model.IsValidStage(in.Stage) {
		return fmt.Errorf("%w: неизвестный этап %q", ErrValidation, in.Stage)
	}
	return nil
}

func validatePatch(p model.ItemPatch) error {
	if p.IsEmpty() {
		return fmt.Errorf("%w: нет полей для обновления", ErrValidation)
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return fmt.Errorf("%w: description не может быть пустым", ErrValidation)
	}
	if p.Cost != nil && *p.Cost < 0 {
		return fmt.Errorf("%w: cost не может быть отрицательным", ErrValidation)
	}
	if p.Status != nil && !model.IsValidStatus(*p.Status) {
		return fmt.Errorf("%w: неизвестный статус %q", ErrValidation, *p.Status)
	}
	if p.Stage != nil && !model.IsValidStage(*p.Stage) {
		return fmt.Errorf("%w: неизвестный этап %q", ErrValidation, *p.Stage)
	}
	for i, field := range p.Clear {
		if !slices.Contains(model.NullableItemFields, field) {
			return fmt.Errorf("%w: поле %q нельзя очистить", ErrValidation, field)
		}
		if p.Sets(field) || slices.Contains(p.Clear[:i], field) {
			return fmt.Errorf("%w: поле %q указано дважды", ErrValidation, field)
		}
	}
	return nil
}

// maxCoordinationName — предел длины имени координации в символах.
const maxCoordinationName = 200

func validateCoordinationName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name обязателен", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxCoordinationName {
		return fmt.Errorf("%w: name длиннее %d символов", ErrValidation, maxCoordinationName)
	}
	return nil
}
