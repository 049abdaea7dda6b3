package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/inventory-module/internal/database"
)

func TestBuildInsertSQL(t *testing.T) {
	cols, err := quoteColumns([]string{"a", "b"})
	if err != nil {
		t.Fatalf("quoteColumns ошибка: %v", err)
	}
	rows := [][]any{{1, "x"}, {2, "y"}, {3, "z"}}

	sql, args := buildInsertSQL("items", cols, rows, "")
	want := `INSERT INTO "items" ("a", "b") VALUES ($1, $2), ($3, $4), ($5, $6) RETURNING id`
	if sql != want {
		t.Errorf("sql = %q\nожидалось %q", sql, want)
	}
	if len(args) != 6 || args[4] != 3 || args[5] != "z" {
		t.Errorf("args = %v", args)
	}

	sql, _ = buildInsertSQL("items", cols, rows[:1], "ON CONFLICT (a) DO NOTHING")
	if !strings.HasSuffix(sql, "($1, $2) ON CONFLICT (a) DO NOTHING RETURNING id") {
		t.Errorf("sql = %q, ожидался ON CONFLICT перед RETURNING", sql)
	}
}

func TestEffectiveBatchSize(t *testing.T) {
	tests := []struct {
		batch, cols, want int
	}{
		{1000, 10, 1000},
		{10000, 10, 6553},
		{1000, 100, 655},
		{5, 0, 5},
		{1000, 70000, 1},
	}
	for _, tt := range tests {
		if got := effectiveBatchSize(tt.batch, tt.cols); got != tt.want {
			t.Errorf("effectiveBatchSize(%d, %d) = %d, ожидалось %d", tt.batch, tt.cols, got, tt.want)
		}
	}
}

func TestQuoteColumns_Empty(t *testing.T) {
	if _, err := quoteColumns(nil); !errors.Is(err, ErrInvalidColumn) {
		t.Errorf("ожидалась ErrInvalidColumn, получено %v", err)
	}
}

func TestBulkResult_Err(t *testing.T) {
	res := &BulkResult{TotalProcessed: 3}
	if err := res.Err(); err != nil {
		t.Errorf("без ошибок строк ожидался nil, получено %v", err)
	}

	rowErr := errors.New("нарушение ограничения")
	res.Errors = append(res.Errors, BatchError{BatchIndex: 0, RowIndex: 1, Err: rowErr})
	err := res.Err()
	if !errors.Is(err, ErrPartialBatchFailure) {
		t.Errorf("ожидалась ErrPartialBatchFailure, получено %v", err)
	}
	if !errors.Is(res.Errors[0], rowErr) {
		t.Error("BatchError должен разворачиваться в ошибку строки")
	}
	if !strings.Contains(res.Errors[0].Error(), "строка 1") {
		t.Errorf("BatchError.Error() = %q", res.Errors[0].Error())
	}
}

func TestIsInfrastructureError(t *testing.T) {
	ctx := context.Background()
	canceled, cancel := context.WithCancel(ctx)
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{"ошибка строки", ctx, errors.New("23505"), false},
		{"таймаут выражения", ctx, database.ErrTimedOut, false},
		{"исчерпание пула", ctx, fmt.Errorf("обёртка: %w", database.ErrPoolExhausted), true},
		{"сессия закрыта", ctx, database.ErrSessionClosed, true},
		{"отменённый контекст", canceled, errors.New("любая"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isInfrastructureError(tt.ctx, tt.err); got != tt.want {
				t.Errorf("isInfrastructureError = %v, ожидалось %v", got, tt.want)
			}
		})
	}
}
