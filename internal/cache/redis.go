package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch — размер страницы SCAN и пакета DEL.
const scanBatch = 500

// RedisStore — общий для всех экземпляров сервиса кэш в Redis.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions — параметры подключения к Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore подключается к Redis и проверяет доступность.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis DEL: %w", err)
	}
	return int(n), nil
}

// DeletePattern обходит ключи через SCAN (без блокирующего KEYS)
// и удаляет их пакетами.
func (s *RedisStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	deleted := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		n, err := s.Delete(ctx, batch...)
		deleted += n
		batch = batch[:0]
		return err
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis SCAN %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// generationKey — ключ счётчика поколения. Префикс gen: не пересекается
// с шаблонами инвалидации (item:*, stats:*, search:*, catalog:*).
func generationKey(key string) string {
	return "gen:" + key
}

func (s *RedisStore) Generation(ctx context.Context, key string) (int64, error) {
	gen, err := s.client.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis GET %s: %w", generationKey(key), err)
	}
	return gen, nil
}

// BumpGeneration выполняет INCR счётчиков ключей в одной транзакции
// и продлевает их срок жизни.
func (s *RedisStore) BumpGeneration(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Incr(ctx, generationKey(k))
			p.Expire(ctx, generationKey(k), generationTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis INCR: %w", err)
	}
	return nil
}

// SetIfGeneration записывает значение под WATCH счётчика поколения:
// INCR между проверкой и EXEC отменяет транзакцию.
func (s *RedisStore) SetIfGeneration(
	ctx context.Context, key string, value []byte, ttl time.Duration, gen int64,
) (bool, error) {
	genKey := generationKey(key)
	stored := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, value, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis SET %s: %w", key, err)
	}
	return stored, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis DBSIZE: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Backend() string {
	return "redis"
}
