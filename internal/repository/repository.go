// Пакет repository — слой доступа к данным PostgreSQL для Inventory Module:
// keyset-пагинация, обновление с оптимистической блокировкой и пакетная загрузка.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrVersionConflict — ожидаемая версия не совпала с текущей до записи.
	ErrVersionConflict = errors.New("конфликт версий")
	// ErrConcurrentModification — версия совпала при чтении, но запись
	// успел изменить параллельный писатель.
	ErrConcurrentModification = errors.New("запись изменена параллельно")
	// ErrInvalidCursor — курсор повреждён или не распознан.
	ErrInvalidCursor = errors.New("некорректный курсор")
	// ErrPartialBatchFailure — часть строк пакетной загрузки отклонена.
	ErrPartialBatchFailure = errors.New("часть строк пакета не загружена")
	// ErrEmptyPatch — обновление без изменяемых полей.
	ErrEmptyPatch = errors.New("нет полей для обновления")
	// ErrInvalidColumn — столбец вне разрешённого списка.
	ErrInvalidColumn = errors.New("недопустимый столбец")
	// ErrConflict — нарушение ограничения уникальности.
	ErrConflict = errors.New("запись с таким ключом уже существует")
	// ErrInvalidReference — ссылка на несуществующую запись (внешний ключ).
	ErrInvalidReference = errors.New("ссылка на несуществующую запись")
	// ErrCheckViolation — значение нарушает ограничение CHECK.
	ErrCheckViolation = errors.New("значение нарушает ограничение")
)

// ConstraintError — нарушение ограничения целостности входными данными.
// Err — ErrConflict, ErrInvalidReference или ErrCheckViolation.
type ConstraintError struct {
	Err        error
	Constraint string
}

func (e *ConstraintError) Error() string {
	if e.Constraint == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (%s)", e.Err, e.Constraint)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// ClassifyConstraint заменяет ошибку PostgreSQL о нарушении ограничения
// на *ConstraintError. Прочие ошибки возвращаются без изменений.
func ClassifyConstraint(err error) error {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &ConstraintError{Err: ErrConflict, Constraint: pgErr.ConstraintName}
	case pgerrcode.ForeignKeyViolation:
		return &ConstraintError{Err: ErrInvalidReference, Constraint: pgErr.ConstraintName}
	case pgerrcode.CheckViolation:
		return &ConstraintError{Err: ErrCheckViolation, Constraint: pgErr.ConstraintName}
	}
	return err
}

// VersionError — ошибка оптимистической блокировки.
// Err — ErrVersionConflict или ErrConcurrentModification.
type VersionError struct {
	Err      error
	ID       int64
	Expected int64
	// Current — версия записи на момент обнаружения конфликта
	Current int64
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s: id=%d, ожидалась версия %d, текущая %d", e.Err, e.ID, e.Expected, e.Current)
}

func (e *VersionError) Unwrap() error {
	return e.Err
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как database.Session, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner — источник транзакций: одна транзакция на вызов fn,
// откат на любом пути кроме успешного коммита.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// SessionDB — DBTX с поддержкой транзакций (database.Session).
type SessionDB interface {
	DBTX
	TxRunner
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
