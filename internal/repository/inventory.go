package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/inventory-module/internal/domain/model"
)

const itemsTable = "inventory_items"

// topLocationsLimit — число местоположений в сводке.
const topLocationsLimit = 10

// itemColumns — столбцы inventory_items для SELECT и RETURNING.
const itemColumns = `id, inventory_number, serial_number, description, brand, model,
	cost, coordination_id, status, stage, location, version, created_at, updated_at`

// itemMutableColumns — столбцы, которые разрешено менять через UpdateWithVersion.
var itemMutableColumns = []string{
	"serial_number", "description", "brand", "model", "cost",
	"coordination_id", "status", "stage", "location",
}

// itemInsertColumns — порядок столбцов вставки (см. itemInsertValues).
var itemInsertColumns = []string{
	"inventory_number", "serial_number", "description", "brand", "model",
	"cost", "coordination_id", "status", "stage", "location",
}

// upsertClause — при совпадении инвентарного номера запись обновляется
// и её версия увеличивается, как при любой другой записи.
const upsertClause = `ON CONFLICT (inventory_number) DO UPDATE SET
	serial_number = EXCLUDED.serial_number,
	description = EXCLUDED.description,
	brand = EXCLUDED.brand,
	model = EXCLUDED.model,
	cost = EXCLUDED.cost,
	coordination_id = EXCLUDED.coordination_id,
	status = EXCLUDED.status,
	stage = EXCLUDED.stage,
	location = EXCLUDED.location,
	version = inventory_items.version + 1,
	updated_at = now()`

// itemVersionedTable — inventory_items для VersionedMutator.
var itemVersionedTable = VersionedTable[model.Item]{
	Table:       itemsTable,
	Returning:   itemColumns,
	Mutable:     itemMutableColumns,
	ScopeColumn: "coordination_id",
	Scan:        scanItem,
}

// InventoryRepository — доступ к элементам инвентаря и координациям.
type InventoryRepository interface {
	// GetByID возвращает элемент или ErrNotFound.
	GetByID(ctx context.Context, id int64) (*model.Item, error)
	// List возвращает страницу элементов в порядке (created_at DESC, id DESC).
	List(ctx context.Context, filter model.ItemFilter, cursor string, limit int) (*Page[model.Item], error)
	// Create создаёт элемент с версией 1. Дубликат номера — ErrConflict.
	Create(ctx context.Context, in model.ItemInput) (*model.Item, error)
	// UpdateWithVersion применяет патч с оптимистической блокировкой.
	UpdateWithVersion(ctx context.Context, id, expected int64, patch model.ItemPatch) (*MutationResult[model.Item], error)
	// Delete удаляет элемент и возвращает его координацию. expected —
	// ожидаемая версия (nil — без проверки). Нет элемента — ErrNotFound.
	Delete(ctx context.Context, id int64, expected *int64) (*int64, error)
	// BulkImport загружает элементы под-пакетами; upsert — обновлять по инвентарному номеру.
	BulkImport(ctx context.Context, items []model.ItemInput, upsert bool) (*BulkResult, error)
	// CoordinationStats возвращает агрегат по координации или ErrNotFound.
	CoordinationStats(ctx context.Context, coordinationID int64) (*model.CoordinationStats, error)
	// GlobalStats возвращает сводку по всем элементам.
	GlobalStats(ctx context.Context) (*model.InventoryStats, error)
	// ListCoordinations возвращает справочник координаций.
	ListCoordinations(ctx context.Context) ([]model.Coordination, error)
	// CreateCoordination создаёт координацию. Дубликат имени — ErrConflict.
	CreateCoordination(ctx context.Context, name string) (*model.Coordination, error)
}

// inventoryRepo — реализация InventoryRepository через pgx.
type inventoryRepo struct {
	db       SessionDB
	mutator  *VersionedMutator[model.Item]
	ingestor *BulkIngestor
}

// NewInventoryRepository создаёт репозиторий инвентаря.
func NewInventoryRepository(db SessionDB, batchSize int, logger *slog.Logger) InventoryRepository {
	return &inventoryRepo{
		db:       db,
		mutator:  NewVersionedMutator(db, itemVersionedTable),
		ingestor: NewBulkIngestor(db, itemsTable, batchSize, logger),
	}
}

// GetByID возвращает элемент по id или ErrNotFound.
func (r *inventoryRepo) GetByID(ctx context.Context, id int64) (*model.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM inventory_items WHERE id = $1`, itemColumns)

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения элемента: %w", err)
	}
	item, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения элемента: %w", err)
	}
	return &item, nil
}

// List возвращает страницу элементов с фильтрами.
func (r *inventoryRepo) List(ctx context.Context, filter model.ItemFilter, cursor string, limit int) (*Page[model.Item], error) {
	conditions, args := buildItemFilter(filter)
	return QueryKeyset(ctx, r.db, KeysetQuery{
		Select:     fmt.Sprintf(`SELECT %s FROM inventory_items`, itemColumns),
		Conditions: conditions,
		Args:       args,
		SortColumn: "created_at",
		IDColumn:   "id",
	}, cursor, limit, scanItem, itemCursor)
}

// Create создаёт элемент.
func (r *inventoryRepo) Create(ctx context.Context, in model.ItemInput) (*model.Item, error) {
	query := fmt.Sprintf(`
		INSERT INTO inventory_items (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING %s`, strings.Join(itemInsertColumns, ", "), itemColumns)

	rows, err := r.db.Query(ctx, query, itemInsertValues(in)...)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания элемента: %w", err)
	}
	item, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: инвентарный номер %q", ErrConflict, in.InventoryNumber)
		}
		return nil, fmt.Errorf("ошибка создания элемента: %w", ClassifyConstraint(err))
	}
	return &item, nil
}

// UpdateWithVersion применяет патч к элементу с проверкой версии.
func (r *inventoryRepo) UpdateWithVersion(
	ctx context.Context, id, expected int64, patch model.ItemPatch,
) (*MutationResult[model.Item], error) {
	return r.mutator.UpdateWithVersion(ctx, id, expected, patchAssignments(patch))
}

// Delete удаляет элемент, при expected != nil — с проверкой версии.
func (r *inventoryRepo) Delete(ctx context.Context, id int64, expected *int64) (*int64, error) {
	return r.mutator.DeleteWithVersion(ctx, id, expected)
}

// BulkImport загружает элементы.
func (r *inventoryRepo) BulkImport(ctx context.Context, items []model.ItemInput, upsert bool) (*BulkResult, error) {
	req := BulkRequest{
		Columns: itemInsertColumns,
		Rows:    make([][]any, len(items)),
	}
	for i, in := range items {
		req.Rows[i] = itemInsertValues(in)
	}
	if upsert {
		req.OnConflict = upsertClause
	}
	return r.ingestor.BulkInsert(ctx, req)
}

// CoordinationStats считает элементы координации по статусам и этапам.
func (r *inventoryRepo) CoordinationStats(ctx context.Context, coordinationID int64) (*model.CoordinationStats, error) {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coordinations WHERE id = $1)`, coordinationID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("ошибка проверки координации: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	b, err := r.breakdown(ctx, `WHERE coordination_id = $1`, coordinationID)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации координации: %w", err)
	}
	return &model.CoordinationStats{
		CoordinationID: coordinationID,
		TotalItems:     b.total,
		TotalCost:      b.cost,
		ByStatus:       b.byStatus,
		ByStage:        b.byStage,
		GeneratedAt:    time.Now().UTC(),
	}, nil
}

// GlobalStats считает сводку по всему инвентарю. Распределение и
// местоположения читаются параллельно на разных соединениях.
func (r *inventoryRepo) GlobalStats(ctx context.Context) (*model.InventoryStats, error) {
	stats := &model.InventoryStats{GeneratedAt: time.Now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := r.breakdown(gctx, "")
		if err != nil {
			return fmt.Errorf("ошибка агрегации инвентаря: %w", err)
		}
		stats.TotalItems = b.total
		stats.TotalCost = b.cost
		stats.ByStatus = b.byStatus
		stats.ByStage = b.byStage
		return nil
	})
	g.Go(func() error {
		rows, err := r.db.Query(gctx, `
			SELECT location, COUNT(*)
			FROM inventory_items
			WHERE location IS NOT NULL
			GROUP BY location
			ORDER BY COUNT(*) DESC, location
			LIMIT $1`, topLocationsLimit)
		if err != nil {
			return fmt.Errorf("ошибка агрегации местоположений: %w", err)
		}
		locations, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.LocationCount])
		if err != nil {
			return fmt.Errorf("ошибка чтения местоположений: %w", err)
		}
		stats.TopLocations = locations
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// breakdown — распределение элементов по статусам и этапам.
type breakdown struct {
	total    int64
	cost     float64
	byStatus map[string]int64
	byStage  map[string]int64
}

// breakdown агрегирует inventory_items с условием where (может быть пустым).
func (r *inventoryRepo) breakdown(ctx context.Context, where string, args ...any) (*breakdown, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, stage, COUNT(*), COALESCE(SUM(cost), 0)::float8
		FROM inventory_items `+where+`
		GROUP BY status, stage`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	b := &breakdown{
		byStatus: make(map[string]int64),
		byStage:  make(map[string]int64),
	}
	for rows.Next() {
		var (
			status, stage string
			count         int64
			cost          float64
		)
		if err := rows.Scan(&status, &stage, &count, &cost); err != nil {
			return nil, fmt.Errorf("ошибка сканирования агрегата: %w", err)
		}
		b.total += count
		b.cost += cost
		b.byStatus[status] += count
		b.byStage[stage] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации агрегата: %w", err)
	}
	return b, nil
}

// ListCoordinations возвращает все координации по имени.
func (r *inventoryRepo) ListCoordinations(ctx context.Context) ([]model.Coordination, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, created_at FROM coordinations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения координаций: %w", err)
	}
	result, err := pgx.CollectRows(rows, scanCoordination)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения координаций: %w", err)
	}
	return result, nil
}

// CreateCoordination создаёт координацию.
func (r *inventoryRepo) CreateCoordination(ctx context.Context, name string) (*model.Coordination, error) {
	rows, err := r.db.Query(ctx,
		`INSERT INTO coordinations (name) VALUES ($1) RETURNING id, name, created_at`, name)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания координации: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoordination)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: координация %q", ErrConflict, name)
		}
		return nil, fmt.Errorf("ошибка создания координации: %w", ClassifyConstraint(err))
	}
	return &c, nil
}

// --- Вспомогательные функции ---

func scanItem(row pgx.CollectableRow) (model.Item, error) {
	var it model.Item
	err := row.Scan(
		&it.ID, &it.InventoryNumber, &it.SerialNumber, &it.Description, &it.Brand, &it.Model,
		&it.Cost, &it.CoordinationID, &it.Status, &it.Stage, &it.Location, &it.Version,
		&it.CreatedAt, &it.UpdatedAt,
	)
	return it, err
}

func scanCoordination(row pgx.CollectableRow) (model.Coordination, error) {
	var c model.Coordination
	err := row.Scan(&c.ID, &c.Name, &c.CreatedAt)
	return c, err
}

func itemCursor(it model.Item) Cursor {
	return Cursor{Timestamp: it.CreatedAt, ID: it.ID}
}

// itemInsertValues — значения в порядке itemInsertColumns.
func itemInsertValues(in model.ItemInput) []any {
	in = in.WithDefaults()
	return []any{
		in.InventoryNumber, in.SerialNumber, in.Description, in.Brand, in.Model,
		in.Cost, in.CoordinationID, in.Status, in.Stage, in.Location,
	}
}

// patchAssignments превращает патч в присваивания в фиксированном порядке.
func patchAssignments(p model.ItemPatch) []Assignment {
	var set []Assignment
	add := func(col string, v any) {
		set = append(set, Assignment{Column: col, Value: v})
	}
	if p.SerialNumber != nil {
		add("serial_number", *p.SerialNumber)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Brand != nil {
		add("brand", *p.Brand)
	}
	if p.Model != nil {
		add("model", *p.Model)
	}
	if p.Cost != nil {
		add("cost", *p.Cost)
	}
	if p.CoordinationID != nil {
		add("coordination_id", *p.CoordinationID)
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.Stage != nil {
		add("stage", *p.Stage)
	}
	if p.Location != nil {
		add("location", *p.Location)
	}
	for _, col := range p.Clear {
		add(col, nil)
	}
	return set
}

// buildItemFilter строит условия фильтра списка, нумеруя параметры с $1.
func buildItemFilter(f model.ItemFilter) (conditions []string, args []any) {
	argNum := 1

	if f.CoordinationID != nil {
		conditions = append(conditions, fmt.Sprintf("coordination_id = $%d", argNum))
		args = append(args, *f.CoordinationID)
		argNum++
	}
	if f.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, f.Status)
		argNum++
	}
	if f.Stage != "" {
		conditions = append(conditions, fmt.Sprintf("stage = $%d", argNum))
		args = append(args, f.Stage)
		argNum++
	}
	if f.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(inventory_number ILIKE $%[1]d OR description ILIKE $%[1]d OR brand ILIKE $%[1]d OR model ILIKE $%[1]d)",
			argNum))
		args = append(args, "%"+escapeLike(f.Search)+"%")
	}
	return conditions, args
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
