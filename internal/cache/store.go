// Пакет cache — координатор кэша Inventory Module: семантические ключи,
// read-through чтение, инвалидация по ключу и шаблону, статистика.
// Хранилище — in-memory LRU (golang-lru/v2/expirable) или Redis (go-redis/v9).
package cache

import (
	"context"
	"time"
)

// Store — хранилище сериализованных значений с TTL.
// Шаблоны DeletePattern — glob в стиле Redis (*, ?, [...]).
type Store interface {
	// Get возвращает значение и признак попадания. Промах — не ошибка.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete удаляет ключи и возвращает число удалённых.
	Delete(ctx context.Context, keys ...string) (int, error)
	// DeletePattern удаляет ключи по шаблону и возвращает их число.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	// Len — текущее число записей.
	Len(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
	// Backend — имя бэкенда для статистики (memory, redis).
	Backend() string

	// Generation — текущее поколение ключа; 0, если ключ не инвалидировался.
	Generation(ctx context.Context, key string) (int64, error)
	// BumpGeneration меняет поколение ключей.
	BumpGeneration(ctx context.Context, keys ...string) error
	// SetIfGeneration записывает значение, только если поколение ключа
	// всё ещё равно gen. Проверка и запись атомарны относительно
	// BumpGeneration. Возвращает признак записи.
	SetIfGeneration(ctx context.Context, key string, value []byte, ttl time.Duration, gen int64) (bool, error)
}

// generationTTL — срок хранения поколения ключа. Должен превышать
// время любой загрузки значения из БД.
const generationTTL = time.Hour
