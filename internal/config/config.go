// Пакет config — загрузка и валидация конфигурации Inventory Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды кэша.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config содержит все параметры конфигурации Inventory Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Пул соединений ---

	// Минимальное количество соединений в пуле
	DBPoolMin int
	// Максимальное количество соединений в пуле
	DBPoolMax int
	// Максимальное время ожидания свободного соединения (после — PoolExhausted)
	DBAcquireTimeout time.Duration
	// Таймаут одного SQL-выражения (statement_timeout)
	DBStatementTimeout time.Duration
	// Время простоя соединения до закрытия
	DBIdleTimeout time.Duration
	// Порог медленного запроса для WARN-лога
	DBSlowQueryThreshold time.Duration

	// --- Пакетная загрузка ---

	// Размер под-пакета bulk insert
	BulkBatchSize int

	// --- Кэш ---

	// Бэкенд кэша: memory, redis
	CacheBackend string
	// Максимальное количество записей in-memory кэша
	CacheMaxEntries int
	// Адрес Redis (host:port)
	RedisAddr string
	// Пароль Redis (опционально)
	RedisPassword string
	// Номер базы Redis
	RedisDB int
	// TTL записи одного элемента
	CacheTTLItem time.Duration
	// TTL агрегатов (статистика по координации)
	CacheTTLStats time.Duration
	// TTL страниц поиска/списков
	CacheTTLSearch time.Duration
	// TTL справочников
	CacheTTLCatalog time.Duration
	// Прогрев справочников при старте
	CacheWarmupOnStart bool

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:cyclop,funlen // линейная последовательность переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// IM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("IM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("IM_PORT: %w", err)
	}
	if cfg.Port < 8040 || cfg.Port > 8049 {
		return nil, fmt.Errorf("IM_PORT: значение %d вне допустимого диапазона 8040-8049", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("IM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("IM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("IM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("IM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	// IM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("IM_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("IM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("IM_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("IM_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("IM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("IM_DB_SSL_MODE", "disable")
	switch cfg.DBSSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("IM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Пул соединений ---

	// IM_DB_POOL_MIN — минимальный размер пула (по умолчанию 5)
	cfg.DBPoolMin, err = getEnvInt("IM_DB_POOL_MIN", 5)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_POOL_MIN: %w", err)
	}
	// IM_DB_POOL_MAX — максимальный размер пула (по умолчанию 20)
	cfg.DBPoolMax, err = getEnvInt("IM_DB_POOL_MAX", 20)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_POOL_MAX: %w", err)
	}
	if cfg.DBPoolMin < 0 || cfg.DBPoolMax < 1 || cfg.DBPoolMin > cfg.DBPoolMax {
		return nil, fmt.Errorf("IM_DB_POOL_MIN/IM_DB_POOL_MAX: некорректный диапазон %d..%d", cfg.DBPoolMin, cfg.DBPoolMax)
	}
	cfg.DBAcquireTimeout, err = getEnvDurationPositive("IM_DB_ACQUIRE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_ACQUIRE_TIMEOUT: %w", err)
	}
	cfg.DBStatementTimeout, err = getEnvDurationPositive("IM_DB_STATEMENT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_STATEMENT_TIMEOUT: %w", err)
	}
	cfg.DBIdleTimeout, err = getEnvDurationPositive("IM_DB_IDLE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_IDLE_TIMEOUT: %w", err)
	}
	cfg.DBSlowQueryThreshold, err = getEnvDuration("IM_DB_SLOW_QUERY", time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_SLOW_QUERY: %w", err)
	}

	// --- Пакетная загрузка ---

	cfg.BulkBatchSize, err = getEnvInt("IM_BULK_BATCH_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("IM_BULK_BATCH_SIZE: %w", err)
	}
	if cfg.BulkBatchSize < 1 || cfg.BulkBatchSize > 10000 {
		return nil, fmt.Errorf("IM_BULK_BATCH_SIZE: значение %d вне допустимого диапазона 1-10000", cfg.BulkBatchSize)
	}

	// --- Кэш ---

	cfg.CacheBackend = getEnvDefault("IM_CACHE_BACKEND", CacheBackendMemory)
	if cfg.CacheBackend != CacheBackendMemory && cfg.CacheBackend != CacheBackendRedis {
		return nil, fmt.Errorf("IM_CACHE_BACKEND: недопустимое значение %q, допустимые: memory, redis", cfg.CacheBackend)
	}
	cfg.CacheMaxEntries, err = getEnvInt("IM_CACHE_MAX_ENTRIES", 10000)
	if err != nil {
		return nil, fmt.Errorf("IM_CACHE_MAX_ENTRIES: %w", err)
	}
	if cfg.CacheMaxEntries < 1 {
		return nil, fmt.Errorf("IM_CACHE_MAX_ENTRIES: значение должно быть > 0")
	}
	cfg.RedisAddr = getEnvDefault("IM_REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvDefault("IM_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("IM_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("IM_REDIS_DB: %w", err)
	}

	// TTL подобраны по волатильности: поиск — коротко, справочники — долго
	cfg.CacheTTLItem, err = getEnvDurationPositive("IM_CACHE_TTL_ITEM", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_CACHE_TTL_ITEM: %w", err)
	}
	cfg.CacheTTLStats, err = getEnvDurationPositive("IM_CACHE_TTL_STATS", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_CACHE_TTL_STATS: %w", err)
	}
	cfg.CacheTTLSearch, err = getEnvDurationPositive("IM_CACHE_TTL_SEARCH", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_CACHE_TTL_SEARCH: %w", err)
	}
	cfg.CacheTTLCatalog, err = getEnvDurationPositive("IM_CACHE_TTL_CATALOG", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("IM_CACHE_TTL_CATALOG: %w", err)
	}
	cfg.CacheWarmupOnStart, err = getEnvBool("IM_CACHE_WARMUP_ON_START", true)
	if err != nil {
		return nil, fmt.Errorf("IM_CACHE_WARMUP_ON_START: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("IM_DEPHEALTH_GROUP", "inventory")
	cfg.DephealthCheckInterval, err = getEnvDuration("IM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("IM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL.
// Используется golang-migrate и topologymetrics (только для лейблов).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationPositive — как getEnvDuration, но значение обязано быть > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
