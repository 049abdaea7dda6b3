package cache

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// memoryEntry — значение с собственным сроком жизни: у expirable.LRU
// один TTL на весь кэш, поэтому он задаётся как максимальный, а срок
// конкретной записи проверяется при чтении.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore — in-memory хранилище на LRU с вытеснением по размеру.
// Каждый экземпляр сервиса имеет собственный кэш.
type MemoryStore struct {
	lru    *expirable.LRU[string, memoryEntry]
	maxTTL time.Duration
	now    func() time.Time

	// mu упорядочивает BumpGeneration и SetIfGeneration
	mu   sync.Mutex
	gens *expirable.LRU[string, int64]
	seq  int64
}

// NewMemoryStore создаёт хранилище на maxEntries записей.
// maxTTL — верхняя граница TTL записей; больший TTL урезается.
func NewMemoryStore(maxEntries int, maxTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		lru:    expirable.NewLRU[string, memoryEntry](maxEntries, nil, maxTTL),
		maxTTL: maxTTL,
		now:    time.Now,
		gens:   expirable.NewLRU[string, int64](maxEntries, nil, generationTTL),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	s.lru.Add(key, memoryEntry{value: value, expiresAt: s.now().Add(ttl)})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	deleted := 0
	for _, k := range keys {
		if s.lru.Remove(k) {
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) DeletePattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, pattern); err != nil {
		return 0, fmt.Errorf("некорректный шаблон %q: %w", pattern, err)
	}
	deleted := 0
	for _, k := range s.lru.Keys() {
		if ok, _ := path.Match(pattern, k); ok && s.lru.Remove(k) {
			deleted++
		}
	}
	return deleted, nil
}

// Generation возвращает поколение ключа. Поколения хранятся отдельно от
// значений и не затрагиваются Delete и DeletePattern.
func (s *MemoryStore) Generation(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, _ := s.gens.Get(key)
	return gen, nil
}

// BumpGeneration присваивает ключам новое значение общего счётчика:
// поколение ключа никогда не возвращается к прежнему значению.
func (s *MemoryStore) BumpGeneration(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.seq++
		s.gens.Add(k, s.seq)
	}
	return nil
}

func (s *MemoryStore) SetIfGeneration(ctx context.Context, key string, value []byte, ttl time.Duration, gen int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, _ := s.gens.Get(key); cur != gen {
		return false, nil
	}
	return true, s.Set(ctx, key, value, ttl)
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	return s.lru.Len(), nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close очищает кэш.
func (s *MemoryStore) Close() error {
	s.lru.Purge()
	s.gens.Purge()
	return nil
}

func (s *MemoryStore) Backend() string {
	return "memory"
}
