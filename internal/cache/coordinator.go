package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_cache_hits_total",
		Help: "Общее количество попаданий в кэш.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_cache_misses_total",
		Help: "Общее количество промахов кэша.",
	})
	cacheInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "im_cache_invalidated_keys_total",
		Help: "Количество инвалидированных ключей кэша.",
	}, []string{"kind"})
	cacheErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_cache_errors_total",
		Help: "Количество ошибок хранилища кэша.",
	})
)

// warmupConcurrency — число одновременно выполняемых задач прогрева.
const warmupConcurrency = 4

// TTLs — сроки жизни по видам ключей.
type TTLs struct {
	Item    time.Duration
	Stats   time.Duration
	Search  time.Duration
	Catalog time.Duration
}

// Stats — статистика кэша.
type Stats struct {
	Backend   string  `json:"backend"`
	Healthy   bool    `json:"healthy"`
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Deletes   int64   `json:"deletes"`
	Errors    int64   `json:"errors"`
	HitRate   float64 `json:"hit_rate"`
	LastError string  `json:"last_error,omitempty"`
}

// WarmupTask — ключ, который нужно заполнить при прогреве.
type WarmupTask struct {
	Key  string
	TTL  time.Duration
	Load func(ctx context.Context) (any, error)
}

// Coordinator — единая точка работы с кэшем. Ошибки хранилища при чтении
// превращаются в промах: чтение данных не зависит от доступности кэша.
// Параллельные промахи по одному ключу могут вычислить значение дважды.
type Coordinator struct {
	store  Store
	ttl    TTLs
	logger *slog.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errs    atomic.Int64
}

// NewCoordinator создаёт координатор поверх хранилища.
func NewCoordinator(store Store, ttl TTLs, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "cache")),
	}
}

// TTL возвращает сроки жизни ключей.
func (c *Coordinator) TTL() TTLs {
	return c.ttl
}

// Close закрывает хранилище.
func (c *Coordinator) Close() error {
	return c.store.Close()
}

// GetOrLoad читает значение по ключу; при промахе вызывает load и сохраняет
// результат. Второе значение — признак попадания в кэш.
// Ошибки load возвращаются, ошибки кэша только логируются.
// Если ключ инвалидирован, пока выполнялся load, результат не кэшируется.
func GetOrLoad[T any](
	ctx context.Context,
	c *Coordinator,
	key string,
	ttl time.Duration,
	load func(ctx context.Context) (T, error),
) (T, bool, error) {
	var value T
	if found, err := c.get(ctx, key, &value); err == nil && found {
		return value, true, nil
	}

	gen, genOK := c.generation(ctx, key)
	value, err := load(ctx)
	if err != nil {
		return value, false, err
	}
	if genOK {
		c.setIfGeneration(ctx, key, value, ttl, gen)
	}
	return value, false, nil
}

// get читает и декодирует значение. Повреждённое значение удаляется.
func (c *Coordinator) get(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.fail("чтение", key, err)
		c.miss()
		return false, err
	}
	if !ok {
		c.miss()
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.fail("декодирование", key, err)
		_, _ = c.store.Delete(ctx, key)
		c.miss()
		return false, err
	}
	c.hits.Add(1)
	cacheHitsTotal.Inc()
	return true, nil
}

// generation читается до загрузки значения. Без поколения запись
// пропускается: защитить её от устаревания нечем.
func (c *Coordinator) generation(ctx context.Context, key string) (int64, bool) {
	gen, err := c.store.Generation(ctx, key)
	if err != nil {
		c.fail("чтение поколения", key, err)
		return 0, false
	}
	return gen, true
}

func (c *Coordinator) setIfGeneration(ctx context.Context, key string, value any, ttl time.Duration, gen int64) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.fail("сериализация", key, err)
		return
	}
	stored, err := c.store.SetIfGeneration(ctx, key, raw, ttl, gen)
	if err != nil {
		c.fail("запись", key, err)
		return
	}
	if !stored {
		c.logger.Debug("Ключ инвалидирован во время загрузки, запись пропущена",
			slog.String("key", key),
		)
		return
	}
	c.sets.Add(1)
}

func (c *Coordinator) miss() {
	c.misses.Add(1)
	cacheMissesTotal.Inc()
}

func (c *Coordinator) fail(op, key string, err error) {
	c.errs.Add(1)
	cacheErrorsTotal.Inc()
	c.logger.Warn("Ошибка кэша",
		slog.String("operation", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// InvalidateItem удаляет запись элемента и зависящие от него агрегаты
// и страницы списков: по каждой из координаций (прежней и новой),
// а также списки без фильтра и глобальный агрегат.
func (c *Coordinator) InvalidateItem(ctx context.Context, id int64, coordinationIDs ...int64) (int, error) {
	keys := []string{ItemKey(id), GlobalStatsKey()}
	patterns := []string{searchAllPattern()}
	seen := make(map[int64]struct{}, len(coordinationIDs))
	for _, cid := range coordinationIDs {
		if _, dup := seen[cid]; dup {
			continue
		}
		seen[cid] = struct{}{}
		keys = append(keys, StatsKey(cid))
		patterns = append(patterns, scopePatterns(cid)...)
	}

	deleted, err := c.invalidateKeys(ctx, "item", keys)
	if err != nil {
		return 0, fmt.Errorf("ошибка инвалидации элемента %d: %w", id, err)
	}
	n, err := c.deletePatterns(ctx, "scope", patterns...)
	return deleted + n, err
}

// InvalidateItems удаляет записи набора элементов (после пакетной загрузки)
// и все агрегаты и страницы списков: координации строк пакета неизвестны.
func (c *Coordinator) InvalidateItems(ctx context.Context, ids []int64) (int, error) {
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, ItemKey(id))
	}
	keys = append(keys, GlobalStatsKey())

	deleted := 0
	var errs []error
	for start := 0; start < len(keys); start += scanBatch {
		n, err := c.invalidateKeys(ctx, "item", keys[start:min(start+scanBatch, len(keys))])
		deleted += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	n, err := c.deletePatterns(ctx, "scope", "stats:*", "search:*")
	if err != nil {
		errs = append(errs, err)
	}
	return deleted + n, errors.Join(errs...)
}

// InvalidateScope удаляет агрегаты и страницы списков координации.
func (c *Coordinator) InvalidateScope(ctx context.Context, coordinationID int64) (int, error) {
	deleted, err := c.invalidateKeys(ctx, "scope", []string{StatsKey(coordinationID), GlobalStatsKey()})
	if err != nil {
		return deleted, fmt.Errorf("ошибка инвалидации координации %d: %w", coordinationID, err)
	}
	n, err := c.deletePatterns(ctx, "scope", append(scopePatterns(coordinationID), searchAllPattern())...)
	return deleted + n, err
}

// InvalidateCatalog удаляет справочник.
func (c *Coordinator) InvalidateCatalog(ctx context.Context, kind string) (int, error) {
	return c.invalidateKeys(ctx, "catalog", []string{CatalogKey(kind)})
}

// InvalidateSearch удаляет все страницы списков.
func (c *Coordinator) InvalidateSearch(ctx context.Context) (int, error) {
	return c.deletePatterns(ctx, "search", "search:*")
}

// InvalidatePattern удаляет ключи по произвольному шаблону.
func (c *Coordinator) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	return c.deletePatterns(ctx, "pattern", pattern)
}

// invalidateKeys меняет поколение ключей и удаляет их. Поколение
// меняется и при ошибке удаления: загрузки, начатые до инвалидации,
// не перезапишут ключ.
func (c *Coordinator) invalidateKeys(ctx context.Context, kind string, keys []string) (int, error) {
	var errs []error
	if err := c.store.BumpGeneration(ctx, keys...); err != nil {
		c.fail("смена поколения", keys[0], err)
		errs = append(errs, err)
	}
	deleted, err := c.store.Delete(ctx, keys...)
	if err != nil {
		c.fail("инвалидация", keys[0], err)
		errs = append(errs, err)
	}
	c.count(kind, deleted)
	return deleted, errors.Join(errs...)
}

func (c *Coordinator) deletePatterns(ctx context.Context, kind string, patterns ...string) (int, error) {
	total := 0
	var errs []error
	for _, p := range patterns {
		n, err := c.store.DeletePattern(ctx, p)
		total += n
		if err != nil {
			c.fail("инвалидация", p, err)
			errs = append(errs, err)
		}
	}
	c.count(kind, total)
	if len(errs) > 0 {
		return total, fmt.Errorf("ошибка инвалидации кэша: %w", errors.Join(errs...))
	}
	return total, nil
}

func (c *Coordinator) count(kind string, n int) {
	c.deletes.Add(int64(n))
	cacheInvalidationsTotal.WithLabelValues(kind).Add(float64(n))
}

// Warmup заполняет ключи задач параллельно. Ошибка одной задачи не
// отменяет остальные; возвращается число заполненных ключей и
// объединённая ошибка.
func (c *Coordinator) Warmup(ctx context.Context, tasks []WarmupTask) (int, error) {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		warmed int
		errs   []error
	)
	g.SetLimit(warmupConcurrency)

	for _, task := range tasks {
		g.Go(func() error {
			gen, genOK := c.generation(ctx, task.Key)
			value, err := task.Load(ctx)
			if err == nil && genOK {
				c.setIfGeneration(ctx, task.Key, value, task.TTL, gen)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", task.Key, err))
				return nil
			}
			warmed++
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("Прогрев кэша завершён",
		slog.Int("warmed", warmed),
		slog.Int("failed", len(errs)),
	)
	return warmed, errors.Join(errs...)
}

// Stats возвращает статистику кэша и состояние хранилища.
func (c *Coordinator) Stats(ctx context.Context) Stats {
	s := Stats{
		Backend: c.store.Backend(),
		Healthy: true,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errs.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}

	if err := c.store.Ping(ctx); err != nil {
		s.Healthy = false
		s.LastError = err.Error()
		return s
	}
	if n, err := c.store.Len(ctx); err == nil {
		s.Entries = n
	}
	return s
}

// CheckReady проверяет хранилище кэша для проверки готовности.
// Кэш не критичен: недоступность даёт "degraded", а не "fail".
func (c *Coordinator) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		return "degraded", err.Error()
	}
	return "ok", c.store.Backend() + " доступен"
}
