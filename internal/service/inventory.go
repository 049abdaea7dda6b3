// Пакет service — бизнес-логика Inventory Module.
// InventoryService связывает репозиторий и координатор кэша: чтение через
// кэш, запись через оптимистическую блокировку и пакетную загрузку,
// инвалидация кэша до возврата результата вызывающему.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/inventory-module/internal/cache"
	"github.com/bigkaa/goartstore/inventory-module/internal/domain/model"
	"github.com/bigkaa/goartstore/inventory-module/internal/repository"
)

// Ошибки сервисного слоя.
var (
	// ErrNotFound — элемент или координация не найдены.
	ErrNotFound = errors.New("не найдено")
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("ошибка валидации")
)

// MaxBulkItems — предел строк одной пакетной загрузки.
const MaxBulkItems = 10000

var mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "im_inventory_mutations_total",
	Help: "Количество операций записи элементов инвентаря по результату.",
}, []string{"operation", "result"})

// ListParams — параметры списка элементов.
type ListParams struct {
	Filter model.ItemFilter
	Cursor string
	Limit  int
}

// listShape — параметры, определяющие ключ кэша страницы.
type listShape struct {
	CoordinationID *int64 `json:"c,omitempty"`
	Status         string `json:"st,omitempty"`
	Stage          string `json:"sg,omitempty"`
	Search         string `json:"q,omitempty"`
	Cursor         string `json:"cur,omitempty"`
	Limit          int    `json:"l"`
}

// InventoryService — сервис элементов инвентаря.
type InventoryService struct {
	repo   repository.InventoryRepository
	cache  *cache.Coordinator
	logger *slog.Logger
}

// NewInventoryService создаёт сервис инвентаря.
func NewInventoryService(
	repo repository.InventoryRepository,
	cacheCoord *cache.Coordinator,
	logger *slog.Logger,
) *InventoryService {
	return &InventoryService{
		repo:   repo,
		cache:  cacheCoord,
		logger: logger.With(slog.String("component", "inventory_service")),
	}
}

// GetItem возвращает элемент. Второе значение — результат взят из кэша.
func (s *InventoryService) GetItem(ctx context.Context, id int64) (*model.Item, bool, error) {
	item, cached, err := cache.GetOrLoad(ctx, s.cache, cache.ItemKey(id), s.cache.TTL().Item,
		func(ctx context.Context) (*model.Item, error) {
			return s.repo.GetByID(ctx, id)
		})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: элемент %d", ErrNotFound, id)
		}
		return nil, false, fmt.Errorf("получение элемента: %w", err)
	}
	return item, cached, nil
}

// ListItems возвращает страницу элементов.
func (s *InventoryService) ListItems(ctx context.Context, p ListParams) (*repository.Page[model.Item], bool, error) {
	if err := validateFilter(p.Filter); err != nil {
		return nil, false, err
	}
	// Некорректный курсор отклоняется до обращения к кэшу
	if p.Cursor != "" {
		if _, err := repository.DecodeCursor(p.Cursor); err != nil {
			return nil, false, err
		}
	}
	limit := repository.NormalizeLimit(p.Limit)

	key, err := cache.SearchKey(p.Filter.CoordinationID, listShape{
		CoordinationID: p.Filter.CoordinationID,
		Status:         p.Filter.Status,
		Stage:          p.Filter.Stage,
		Search:         p.Filter.Search,
		Cursor:         p.Cursor,
		Limit:          limit,
	})
	if err != nil {
		return nil, false, err
	}

	page, cached, err := cache.GetOrLoad(ctx, s.cache, key, s.cache.TTL().Search,
		func(ctx context.Context) (*repository.Page[model.Item], error) {
			return s.repo.List(ctx, p.Filter, p.Cursor, limit)
		})
	if err != nil {
		return nil, false, fmt.Errorf("список элементов: %w", err)
	}
	return page, cached, nil
}

// CreateItem создаёт элемент.
func (s *InventoryService) CreateItem(ctx context.Context, in model.ItemInput) (*model.Item, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	item, err := s.repo.Create(ctx, in)
	if err != nil {
		mutationsTotal.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("создание элемента: %w", err)
	}
	mutationsTotal.WithLabelValues("create", "ok").Inc()

	s.invalidateItem(ctx, item.ID, item.CoordinationID)
	s.logger.Info("Элемент создан",
		slog.Int64("id", item.ID),
		slog.String("inventory_number", item.InventoryNumber),
	)
	return item, nil
}

// UpdateItem применяет патч при совпадении версии. После успешной записи
// запись элемента в кэше удаляется до возврата, вместе с агрегатами и
// списками прежней и новой координации.
func (s *InventoryService) UpdateItem(
	ctx context.Context, id, expectedVersion int64, patch model.ItemPatch,
) (*model.Item, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	res, err := s.repo.UpdateWithVersion(ctx, id, expectedVersion, patch)
	if err != nil {
		return nil, s.mutationError("update", id, err)
	}
	mutationsTotal.WithLabelValues("update", "ok").Inc()

	s.invalidateItem(ctx, id, res.PreviousScope, res.Record.CoordinationID)
	return &res.Record, nil
}

// DeleteItem удаляет элемент. expectedVersion — необязательная проверка
// версии. Кэш элемента, его координации и сводок сбрасывается до возврата.
func (s *InventoryService) DeleteItem(ctx context.Context, id int64, expectedVersion *int64) error {
	scope, err := s.repo.Delete(ctx, id, expectedVersion)
	if err != nil {
		return s.mutationError("delete", id, err)
	}
	mutationsTotal.WithLabelValues("delete", "ok").Inc()

	s.invalidateItem(ctx, id, scope)
	s.logger.Info("Элемент удалён", slog.Int64("id", id))
	return nil
}

// mutationError учитывает отказ записи и приводит ошибку репозитория
// к ошибке сервиса. Конфликт версий возвращается как есть.
func (s *InventoryService) mutationError(op string, id int64, err error) error {
	var ve *repository.VersionError
	switch {
	case errors.As(err, &ve):
		mutationsTotal.WithLabelValues(op, "conflict").Inc()
		s.logger.Info("Конфликт версий",
			slog.String("operation", op),
			slog.Int64("id", id),
			slog.Int64("expected", ve.Expected),
			slog.Int64("current", ve.Current),
			slog.String("kind", ve.Err.Error()),
		)
		return err
	case errors.Is(err, repository.ErrNotFound):
		mutationsTotal.WithLabelValues(op, "not_found").Inc()
		return fmt.Errorf("%w: элемент %d", ErrNotFound, id)
	default:
		mutationsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%s элемента %d: %w", mutationVerbs[op], id, err)
	}
}

// mutationVerbs — названия операций записи для текста ошибок.
var mutationVerbs = map[string]string{
	"update": "обновление",
	"delete": "удаление",
}

// BulkImport загружает элементы. Отклонённые строки возвращаются в
// BulkResult.Errors; ошибка возвращается только при прерванной загрузке
// (вместе с частичным результатом).
func (s *InventoryService) BulkImport(
	ctx context.Context, items []model.ItemInput, upsert bool,
) (*repository.BulkResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: пустой список элементов", ErrValidation)
	}
	if len(items) > MaxBulkItems {
		return nil, fmt.Errorf("%w: не более %d элементов за загрузку", ErrValidation, MaxBulkItems)
	}

	res, err := s.repo.BulkImport(ctx, items, upsert)
	if res != nil && len(res.AffectedIDs) > 0 {
		if _, cerr := s.cache.InvalidateItems(ctx, res.AffectedIDs); cerr != nil {
			s.logger.Warn("Ошибка инвалидации кэша после загрузки",
				slog.String("import_id", res.ImportID.String()),
				slog.String("error", cerr.Error()),
			)
		}
	}
	if err != nil {
		mutationsTotal.WithLabelValues("bulk", "error").Inc()
		return res, fmt.Errorf("пакетная загрузка: %w", err)
	}

	result := "ok"
	if res.Err() != nil {
		result = "partial"
	}
	mutationsTotal.WithLabelValues("bulk", result).Inc()
	return res, nil
}

// CoordinationStats возвращает агрегат по координации.
func (s *InventoryService) CoordinationStats(ctx context.Context, coordinationID int64) (*model.CoordinationStats, bool, error) {
	stats, cached, err := cache.GetOrLoad(ctx, s.cache, cache.StatsKey(coordinationID), s.cache.TTL().Stats,
		func(ctx context.Context) (*model.CoordinationStats, error) {
			return s.repo.CoordinationStats(ctx, coordinationID)
		})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: координация %d", ErrNotFound, coordinationID)
		}
		return nil, false, fmt.Errorf("статистика координации: %w", err)
	}
	return stats, cached, nil
}

// GlobalStats возвращает сводку по всему инвентарю.
func (s *InventoryService) GlobalStats(ctx context.Context) (*model.InventoryStats, bool, error) {
	stats, cached, err := cache.GetOrLoad(ctx, s.cache, cache.GlobalStatsKey(), s.cache.TTL().Stats, s.repo.GlobalStats)
	if err != nil {
		return nil, false, fmt.Errorf("сводка инвентаря: %w", err)
	}
	return stats, cached, nil
}

// CreateCoordination создаёт координацию и сбрасывает справочник координаций.
func (s *InventoryService) CreateCoordination(ctx context.Context, name string) (*model.Coordination, error) {
	if err := validateCoordinationName(name); err != nil {
		return nil, err
	}

	coord, err := s.repo.CreateCoordination(ctx, strings.TrimSpace(name))
	if err != nil {
		mutationsTotal.WithLabelValues("create_coordination", "error").Inc()
		return nil, fmt.Errorf("создание координации: %w", err)
	}
	mutationsTotal.WithLabelValues("create_coordination", "ok").Inc()

	if _, err := s.cache.InvalidateCatalog(ctx, model.CatalogCoordinations); err != nil {
		s.logger.Warn("Ошибка инвалидации справочника координаций",
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("Координация создана",
		slog.Int64("id", coord.ID),
		slog.String("name", coord.Name),
	)
	return coord, nil
}

// Catalog возвращает справочник.
func (s *InventoryService) Catalog(ctx context.Context, kind string) (*model.Catalog, bool, error) {
	if !isCatalogKind(kind) {
		return nil, false, fmt.Errorf("%w: неизвестный справочник %q", ErrNotFound, kind)
	}
	catalog, cached, err := cache.GetOrLoad(ctx, s.cache, cache.CatalogKey(kind), s.cache.TTL().Catalog,
		func(ctx context.Context) (*model.Catalog, error) {
			return s.loadCatalog(ctx, kind)
		})
	if err != nil {
		return nil, false, fmt.Errorf("справочник %s: %w", kind, err)
	}
	return catalog, cached, nil
}

// Warmup заполняет кэш справочников.
func (s *InventoryService) Warmup(ctx context.Context) (int, error) {
	tasks := make([]cache.WarmupTask, 0, len(model.CatalogKinds))
	for _, kind := range model.CatalogKinds {
		tasks = append(tasks, cache.WarmupTask{
			Key: cache.CatalogKey(kind),
			TTL: s.cache.TTL().Catalog,
			Load: func(ctx context.Context) (any, error) {
				return s.loadCatalog(ctx, kind)
			},
		})
	}
	return s.cache.Warmup(ctx, tasks)
}

// CacheStats возвращает статистику кэша.
func (s *InventoryService) CacheStats(ctx context.Context) cache.Stats {
	return s.cache.Stats(ctx)
}

// InvalidateCache удаляет ключи по координации или шаблону.
// Координация имеет приоритет над шаблоном.
func (s *InventoryService) InvalidateCache(ctx context.Context, pattern string, coordinationID *int64) (int, error) {
	var (
		n   int
		err error
	)
	switch {
	case coordinationID != nil:
		n, err = s.cache.InvalidateScope(ctx, *coordinationID)
	case pattern != "":
		n, err = s.cache.InvalidatePattern(ctx, pattern)
	default:
		return 0, fmt.Errorf("%w: требуется pattern или coordination_id", ErrValidation)
	}
	if err != nil {
		return n, err
	}

	s.logger.Info("Кэш инвалидирован вручную",
		slog.String("pattern", pattern),
		slog.Int("deleted_keys", n),
	)
	return n, nil
}

// invalidateItem сбрасывает кэш элемента и его координаций. Ошибка кэша
// не отменяет уже зафиксированную запись и только логируется.
func (s *InventoryService) invalidateItem(ctx context.Context, id int64, scopes ...*int64) {
	coordIDs := make([]int64, 0, len(scopes))
	for _, sc := range scopes {
		if sc != nil {
			coordIDs = append(coordIDs, *sc)
		}
	}
	if _, err := s.cache.InvalidateItem(ctx, id, coordIDs...); err != nil {
		s.logger.Warn("Ошибка инвалидации кэша элемента",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *InventoryService) loadCatalog(ctx context.Context, kind string) (*model.Catalog, error) {
	catalog := &model.Catalog{Kind: kind}
	switch kind {
	case model.CatalogCoordinations:
		coords, err := s.repo.ListCoordinations(ctx)
		if err != nil {
			return nil, err
		}
		catalog.Entries = make([]model.CatalogEntry, len(coords))
		for i, c := range coords {
			catalog.Entries[i] = model.CatalogEntry{Code: strconv.FormatInt(c.ID, 10), Name: c.Name}
		}
	case model.CatalogStatuses:
		catalog.Entries = codeEntries(model.Statuses)
	case model.CatalogStages:
		catalog.Entries = codeEntries(model.Stages)
	}
	return catalog, nil
}

func codeEntries(codes []string) []model.CatalogEntry {
	entries := make([]model.CatalogEntry, len(codes))
	for i, c := range codes {
		entries[i] = model.CatalogEntry{Code: c, Name: c}
	}
	return entries
}

func isCatalogKind(kind string) bool {
	return slices.Contains(model.CatalogKinds, kind)
}
