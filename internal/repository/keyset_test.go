package repository

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultPageLimit},
		{-5, DefaultPageLimit},
		{1, 1},
		{50, 50},
		{100, 100},
		{101, MaxPageLimit},
	}
	for _, tt := range tests {
		if got := NormalizeLimit(tt.in); got != tt.want {
			t.Errorf("NormalizeLimit(%d) = %d, ожидалось %d", tt.in, got, tt.want)
		}
	}
}

func TestBuildKeysetSQL_FirstPage(t *testing.T) {
	q := KeysetQuery{
		Select:     "SELECT id, created_at FROM inventory_items",
		SortColumn: "created_at",
		IDColumn:   "id",
	}
	sql, args, err := buildKeysetSQL(q, nil, 20)
	if err != nil {
		t.Fatalf("buildKeysetSQL ошибка: %v", err)
	}

	want := `SELECT id, created_at FROM inventory_items ORDER BY "created_at" DESC, "id" DESC LIMIT $1`
	if sql != want {
		t.Errorf("sql = %q\nожидалось %q", sql, want)
	}
	if len(args) != 1 || args[0] != 21 {
		t.Errorf("args = %v, ожидалось [21]", args)
	}
}

func TestBuildKeysetSQL_WithCursorAndFilters(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := KeysetQuery{
		Select:     "SELECT * FROM inventory_items i",
		Conditions: []string{"i.coordination_id = $1", "i.status = $2"},
		Args:       []any{int64(3), "en_uso"},
		SortColumn: "i.created_at",
		IDColumn:   "i.id",
	}
	sql, args, err := buildKeysetSQL(q, &Cursor{Timestamp: ts, ID: 99}, 10)
	if err != nil {
		t.Fatalf("buildKeysetSQL ошибка: %v", err)
	}

	if !strings.Contains(sql, `WHERE i.coordination_id = $1 AND i.status = $2 AND ("i"."created_at", "i"."id") < ($3, $4)`) {
		t.Errorf("sql = %q, ожидалось условие курсора после фильтров", sql)
	}
	if !strings.HasSuffix(sql, `ORDER BY "i"."created_at" DESC, "i"."id" DESC LIMIT $5`) {
		t.Errorf("sql = %q, ожидался ORDER BY ... LIMIT $5", sql)
	}
	if len(args) != 5 {
		t.Fatalf("args count = %d, ожидалось 5", len(args))
	}
	if args[2] != ts || args[3] != int64(99) || args[4] != 11 {
		t.Errorf("args = %v", args)
	}
	// Аргументы вызывающего не изменены
	if len(q.Args) != 2 || len(q.Conditions) != 2 {
		t.Error("buildKeysetSQL изменил входной KeysetQuery")
	}
}

func TestBuildKeysetSQL_QuotesColumns(t *testing.T) {
	q := KeysetQuery{
		Select:     "SELECT * FROM t",
		SortColumn: `created_at"; DROP TABLE t; --`,
		IDColumn:   "id",
	}
	sql, _, err := buildKeysetSQL(q, nil, 5)
	if err != nil {
		t.Fatalf("buildKeysetSQL ошибка: %v", err)
	}
	if !strings.Contains(sql, `"created_at""; DROP TABLE t; --"`) {
		t.Errorf("имя столбца не экранировано: %q", sql)
	}

	q.IDColumn = ""
	if _, _, err := buildKeysetSQL(q, nil, 5); !errors.Is(err, ErrInvalidColumn) {
		t.Errorf("ожидалась ErrInvalidColumn для пустого столбца, получено %v", err)
	}
}

type row struct {
	id int64
	ts time.Time
}

func rowKey(r row) Cursor { return Cursor{Timestamp: r.ts, ID: r.id} }

func makeRows(n int) []row {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]row, n)
	for i := range rows {
		rows[i] = row{id: int64(n - i), ts: base.Add(time.Duration(n-i) * time.Minute)}
	}
	return rows
}

func TestTrimPage(t *testing.T) {
	t.Run("пусто", func(t *testing.T) {
		p := trimPage[row](nil, 2, rowKey)
		if p.HasNextPage || p.NextCursor != "" || p.Data == nil || len(p.Data) != 0 {
			t.Errorf("пустая страница: %+v", p)
		}
	})

	t.Run("ровно limit", func(t *testing.T) {
		p := trimPage(makeRows(2), 2, rowKey)
		if p.HasNextPage || p.NextCursor != "" || len(p.Data) != 2 {
			t.Errorf("страница без продолжения: %+v", p)
		}
	})

	t.Run("limit+1", func(t *testing.T) {
		rows := makeRows(3)
		p := trimPage(rows, 2, rowKey)
		if !p.HasNextPage || len(p.Data) != 2 {
			t.Fatalf("ожидалось 2 строки и продолжение: %+v", p)
		}
		c, err := DecodeCursor(p.NextCursor)
		if err != nil {
			t.Fatalf("NextCursor не декодируется: %v", err)
		}
		if c.ID != rows[1].id || !c.Timestamp.Equal(rows[1].ts) {
			t.Errorf("курсор = %v, ожидалась последняя выданная строка %v", c, rows[1])
		}
	})
}
