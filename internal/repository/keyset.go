package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Границы размера страницы.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// KeysetQuery — описание выборки для keyset-пагинации.
// Conditions нумеруют параметры $1..$len(Args); условие курсора
// добавляется после них.
type KeysetQuery struct {
	// Select — SELECT ... FROM ... без WHERE и ORDER BY
	Select     string
	Conditions []string
	Args       []any
	// SortColumn — столбец времени сортировки (например, created_at)
	SortColumn string
	// IDColumn — уникальный столбец-разрешитель равенства (например, id)
	IDColumn string
}

// Page — страница результатов keyset-пагинации.
type Page[T any] struct {
	Data        []T
	HasNextPage bool
	// NextCursor — пустой, если следующей страницы нет
	NextCursor string
	Limit      int
}

// NormalizeLimit приводит размер страницы к [1, MaxPageLimit], 0 — по умолчанию.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return limit
	}
}

// QueryKeyset выполняет выборку одной страницы в порядке
// (SortColumn DESC, IDColumn DESC), начиная строго после курсора.
// Пустой token — первая страница. Запрашивается limit+1 строк: лишняя
// строка означает наличие следующей страницы и отбрасывается.
func QueryKeyset[T any](
	ctx context.Context,
	db DBTX,
	q KeysetQuery,
	token string,
	limit int,
	scan pgx.RowToFunc[T],
	key func(T) Cursor,
) (*Page[T], error) {
	var after *Cursor
	if token != "" {
		c, err := DecodeCursor(token)
		if err != nil {
			return nil, err
		}
		after = &c
	}

	limit = NormalizeLimit(limit)
	sql, args, err := buildKeysetSQL(q, after, limit)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка keyset-выборки: %w", err)
	}
	items, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения страницы: %w", err)
	}

	return trimPage(items, limit, key), nil
}

// buildKeysetSQL строит запрос страницы.
func buildKeysetSQL(q KeysetQuery, after *Cursor, limit int) (string, []any, error) {
	sortCol, err := quoteColumn(q.SortColumn)
	if err != nil {
		return "", nil, err
	}
	idCol, err := quoteColumn(q.IDColumn)
	if err != nil {
		return "", nil, err
	}

	conditions := append([]string(nil), q.Conditions...)
	args := append([]any(nil), q.Args...)
	argNum := len(args) + 1

	// Сравнение по значению: удалённая граничная строка не ломает курсор
	if after != nil {
		conditions = append(conditions,
			fmt.Sprintf("(%s, %s) < ($%d, $%d)", sortCol, idCol, argNum, argNum+1))
		args = append(args, after.Timestamp, after.ID)
		argNum += 2
	}

	var b strings.Builder
	b.WriteString(q.Select)
	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC, %s DESC LIMIT $%d", sortCol, idCol, argNum)
	args = append(args, limit+1)

	return b.String(), args, nil
}

// trimPage отрезает строку-признак и вычисляет курсор следующей страницы.
func trimPage[T any](items []T, limit int, key func(T) Cursor) *Page[T] {
	page := &Page[T]{Data: items, Limit: limit}
	if len(items) > limit {
		page.Data = items[:limit]
		page.HasNextPage = true
		page.NextCursor = key(page.Data[limit-1]).Encode()
	}
	if page.Data == nil {
		page.Data = []T{}
	}
	return page
}

// quoteColumn экранирует имя столбца, допуская квалификатор таблицы (t.col).
func quoteColumn(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: пустое имя", ErrInvalidColumn)
	}
	return pgx.Identifier(strings.Split(name, ".")).Sanitize(), nil
}
