package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var versionConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "im_version_conflicts_total",
	Help: "Количество отказов оптимистической блокировки.",
}, []string{"kind"})

// Assignment — присваивание столбцу в SET.
type Assignment struct {
	Column string
	Value  any
}

// VersionedTable — описание таблицы с оптимистической блокировкой.
// Таблица обязана иметь столбцы id, version и updated_at.
type VersionedTable[T any] struct {
	Table string
	// Returning — список столбцов, читаемых Scan
	Returning string
	// Mutable — whitelist столбцов, которые разрешено менять
	Mutable []string
	// ScopeColumn — столбец группировки, чьё прежнее значение нужно
	// для инвалидации кэша (опционально)
	ScopeColumn string
	Scan        pgx.RowToFunc[T]
}

// MutationResult — результат успешного обновления.
type MutationResult[T any] struct {
	Record T
	// PreviousScope — значение ScopeColumn до обновления
	PreviousScope *int64
}

// VersionedMutator выполняет обновления по схеме compare-and-swap на version.
type VersionedMutator[T any] struct {
	db      TxRunner
	table   VersionedTable[T]
	mutable map[string]struct{}
}

// NewVersionedMutator создаёт мутатор для таблицы.
func NewVersionedMutator[T any](db TxRunner, table VersionedTable[T]) *VersionedMutator[T] {
	mutable := make(map[string]struct{}, len(table.Mutable))
	for _, c := range table.Mutable {
		mutable[c] = struct{}{}
	}
	return &VersionedMutator[T]{db: db, table: table, mutable: mutable}
}

// UpdateWithVersion применяет set к записи id, только если её версия равна
// expected. В одной транзакции: чтение текущей версии, сравнение, условный
// UPDATE с version = version + 1. Ошибки:
//   - ErrNotFound — записи нет;
//   - *VersionError{ErrVersionConflict} — версия не совпала до записи;
//   - *VersionError{ErrConcurrentModification} — условный UPDATE не затронул
//     строк: параллельный писатель успел раньше.
func (m *VersionedMutator[T]) UpdateWithVersion(
	ctx context.Context, id, expected int64, set []Assignment,
) (*MutationResult[T], error) {
	updateSQL, updateArgs, err := m.buildUpdateSQL(id, expected, set)
	if err != nil {
		return nil, err
	}

	var result *MutationResult[T]
	err = m.db.InTx(ctx, func(tx pgx.Tx) error {
		current, scope, err := m.readVersion(ctx, tx, id)
		if err != nil {
			return err
		}
		if current != expected {
			versionConflictsTotal.WithLabelValues("version_conflict").Inc()
			return &VersionError{Err: ErrVersionConflict, ID: id, Expected: expected, Current: current}
		}

		rows, err := tx.Query(ctx, updateSQL, updateArgs...)
		if err != nil {
			return fmt.Errorf("ошибка обновления записи: %w", err)
		}
		record, err := pgx.CollectExactlyOneRow(rows, m.table.Scan)
		if errors.Is(err, pgx.ErrNoRows) {
			// Версию изменили между чтением и записью
			current, _, rerr := m.readVersion(ctx, tx, id)
			if rerr != nil {
				return rerr
			}
			versionConflictsTotal.WithLabelValues("concurrent_modification").Inc()
			return &VersionError{Err: ErrConcurrentModification, ID: id, Expected: expected, Current: current}
		}
		if err != nil {
			return fmt.Errorf("ошибка обновления записи: %w", ClassifyConstraint(err))
		}

		result = &MutationResult[T]{Record: record, PreviousScope: scope}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteWithVersion удаляет запись id и возвращает её значение ScopeColumn.
// Если expected задан, удаление выполняется только при совпадении версии,
// с теми же ошибками, что у UpdateWithVersion. Без expected удаление
// безусловно; отсутствующая запись — ErrNotFound.
func (m *VersionedMutator[T]) DeleteWithVersion(ctx context.Context, id int64, expected *int64) (*int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, pgx.Identifier{m.table.Table}.Sanitize())
	args := []any{id}
	if expected != nil {
		query += ` AND version = $2`
		args = append(args, *expected)
	}
	query += ` RETURNING ` + m.scopeExpr()

	var scope *int64
	err := m.db.InTx(ctx, func(tx pgx.Tx) error {
		current, _, err := m.readVersion(ctx, tx, id)
		if err != nil {
			return err
		}
		if expected != nil && current != *expected {
			versionConflictsTotal.WithLabelValues("version_conflict").Inc()
			return &VersionError{Err: ErrVersionConflict, ID: id, Expected: *expected, Current: current}
		}

		err = tx.QueryRow(ctx, query, args...).Scan(&scope)
		if errors.Is(err, pgx.ErrNoRows) {
			// Запись изменена или удалена между чтением и удалением
			current, _, rerr := m.readVersion(ctx, tx, id)
			if rerr != nil {
				return rerr
			}
			versionConflictsTotal.WithLabelValues("concurrent_modification").Inc()
			var want int64
			if expected != nil {
				want = *expected
			}
			return &VersionError{Err: ErrConcurrentModification, ID: id, Expected: want, Current: current}
		}
		if err != nil {
			return fmt.Errorf("ошибка удаления записи: %w", ClassifyConstraint(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scope, nil
}

// scopeExpr — выражение ScopeColumn для SELECT и RETURNING.
func (m *VersionedMutator[T]) scopeExpr() string {
	if m.table.ScopeColumn == "" {
		return "NULL::bigint"
	}
	return pgx.Identifier{m.table.ScopeColumn}.Sanitize()
}

// readVersion читает текущую версию и значение ScopeColumn.
func (m *VersionedMutator[T]) readVersion(ctx context.Context, db DBTX, id int64) (int64, *int64, error) {
	query := fmt.Sprintf(`SELECT version, %s FROM %s WHERE id = $1`,
		m.scopeExpr(), pgx.Identifier{m.table.Table}.Sanitize())

	var (
		version int64
		scope   *int64
	)
	if err := db.QueryRow(ctx, query, id).Scan(&version, &scope); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, fmt.Errorf("ошибка чтения версии: %w", err)
	}
	return version, scope, nil
}

// buildUpdateSQL строит условный UPDATE. $1 — id, $2 — ожидаемая версия,
// далее значения присваиваний в порядке set.
func (m *VersionedMutator[T]) buildUpdateSQL(id, expected int64, set []Assignment) (string, []any, error) {
	if len(set) == 0 {
		return "", nil, ErrEmptyPatch
	}

	assignments := make([]string, 0, len(set)+2)
	args := make([]any, 0, len(set)+2)
	args = append(args, id, expected)
	seen := make(map[string]struct{}, len(set))

	for i, a := range set {
		if _, ok := m.mutable[a.Column]; !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidColumn, a.Column)
		}
		if _, dup := seen[a.Column]; dup {
			return "", nil, fmt.Errorf("%w: %q указан дважды", ErrInvalidColumn, a.Column)
		}
		seen[a.Column] = struct{}{}
		assignments = append(assignments,
			fmt.Sprintf("%s = $%d", pgx.Identifier{a.Column}.Sanitize(), i+3))
		args = append(args, a.Value)
	}
	assignments = append(assignments, "version = version + 1", "updated_at = now()")

	query := fmt.Sprintf(
		`UPDATE %s SET %s WHERE id = $1 AND version = $2 RETURNING %s`,
		pgx.Identifier{m.table.Table}.Sanitize(), strings.Join(assignments, ", "), m.table.Returning,
	)
	return query, args, nil
}
