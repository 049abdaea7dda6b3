package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyConstraint(t *testing.T) {
	plain := errors.New("connection reset")

	tests := []struct {
		name       string
		err        error
		want       error
		constraint string
	}{
		{"уникальность", &pgconn.PgError{Code: "23505", ConstraintName: "inventory_items_inventory_number_key"}, ErrConflict, "inventory_items_inventory_number_key"},
		{"внешний ключ", fmt.Errorf("обновление: %w", &pgconn.PgError{Code: "23503", ConstraintName: "inventory_items_coordination_id_fkey"}), ErrInvalidReference, "inventory_items_coordination_id_fkey"},
		{"check", &pgconn.PgError{Code: "23514", ConstraintName: "inventory_items_cost_check"}, ErrCheckViolation, "inventory_items_cost_check"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyConstraint(tt.err)
			var ce *ConstraintError
			if !errors.As(got, &ce) {
				t.Fatalf("ожидалась *ConstraintError, получено %T: %v", got, got)
			}
			if !errors.Is(got, tt.want) || ce.Constraint != tt.constraint {
				t.Errorf("получено %v (%s), ожидалось %v (%s)", ce.Err, ce.Constraint, tt.want, tt.constraint)
			}
		})
	}

	t.Run("прочие ошибки без изменений", func(t *testing.T) {
		if got := ClassifyConstraint(plain); got != plain {
			t.Errorf("ошибка изменена: %v", got)
		}
		timeout := &pgconn.PgError{Code: "57014"}
		if got := ClassifyConstraint(timeout); got != error(timeout) {
			t.Errorf("57014 не должна классифицироваться: %v", got)
		}
	})

	t.Run("повторная классификация", func(t *testing.T) {
		once := fmt.Errorf("создание: %w", ClassifyConstraint(&pgconn.PgError{Code: "23503"}))
		if got := ClassifyConstraint(once); got != once {
			t.Errorf("уже классифицированная ошибка изменена: %v", got)
		}
	})
}
