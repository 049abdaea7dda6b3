// main.go — точка входа Inventory Module.
// Порядок запуска: конфигурация, логгер, миграции, пул и Session Manager,
// кэш, репозиторий и сервис, прогрев, topologymetrics, HTTP-сервер.
// Остановка — в обратном порядке.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/inventory-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/inventory-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/inventory-module/internal/cache"
	"github.com/bigkaa/goartstore/inventory-module/internal/config"
	"github.com/bigkaa/goartstore/inventory-module/internal/database"
	"github.com/bigkaa/goartstore/inventory-module/internal/repository"
	"github.com/bigkaa/goartstore/inventory-module/internal/server"
	"github.com/bigkaa/goartstore/inventory-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Inventory Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("cache_backend", cfg.CacheBackend),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Inventory Module завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Inventory Module остановлен")
}

// run владеет всеми ресурсами процесса; defer закрывает их в обратном порядке.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}

	// 4. Пул соединений и Session Manager
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	session := database.NewSession(pool, database.SessionOptions{
		AcquireTimeout:     cfg.DBAcquireTimeout,
		SlowQueryThreshold: cfg.DBSlowQueryThreshold,
	}, logger)
	defer session.Close()

	// 5. Хранилище кэша и координатор
	store, err := newCacheStore(ctx, cfg)
	if err != nil {
		return err
	}
	cacheCoord := cache.NewCoordinator(store, cache.TTLs{
		Item:    cfg.CacheTTLItem,
		Stats:   cfg.CacheTTLStats,
		Search:  cfg.CacheTTLSearch,
		Catalog: cfg.CacheTTLCatalog,
	}, logger)
	defer func() {
		if err := cacheCoord.Close(); err != nil {
			logger.Warn("Ошибка закрытия кэша", slog.String("error", err.Error()))
		}
	}()
	logger.Info("Кэш инициализирован", slog.String("backend", store.Backend()))

	// 6. Репозиторий и сервис
	repo := repository.NewInventoryRepository(session, cfg.BulkBatchSize, logger)
	inventorySvc := service.NewInventoryService(repo, cacheCoord, logger)

	// 7. Прогрев справочников
	if cfg.CacheWarmupOnStart {
		if _, err := inventorySvc.Warmup(ctx); err != nil {
			logger.Warn("Прогрев кэша выполнен частично", slog.String("error", err.Error()))
		}
	}

	// 8. topologymetrics — мониторинг PostgreSQL через существующий пул,
	// что позволяет обнаружить его исчерпание
	pgDB := stdlib.OpenDBFromPool(session.Pool())
	defer pgDB.Close()

	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "inventory-module",
		Group:         cfg.DephealthGroup,
		PgConnURL:     cfg.DatabaseURL(),
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 9. HTTP-сервер
	healthHandler := handlers.NewHealthHandler(session, cacheCoord)
	apiHandler := handlers.NewAPIHandler(healthHandler, inventorySvc, session, logger)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.Actor(),
		middleware.RequestLogger(logger),
	)

	// Блокирует до сигнала завершения
	return srv.Run()
}

// newCacheStore создаёт хранилище кэша по IM_CACHE_BACKEND.
func newCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if cfg.CacheBackend == config.CacheBackendRedis {
		store, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	// Предел жизни записи в LRU — наибольший из TTL
	maxTTL := max(cfg.CacheTTLItem, cfg.CacheTTLStats, cfg.CacheTTLSearch, cfg.CacheTTLCatalog)
	return cache.NewMemoryStore(cfg.CacheMaxEntries, maxTTL), nil
}
