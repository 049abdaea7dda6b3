package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(100, time.Hour)

	if _, ok, err := s.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("ожидался промах для нового ключа: ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "k", []byte(`"v"`), time.Minute); err != nil {
		t.Fatalf("Set ошибка: %v", err)
	}
	got, ok, _ := s.Get(ctx, "k")
	if !ok || string(got) != `"v"` {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	n, _ := s.Delete(ctx, "k", "absent")
	if n != 1 {
		t.Errorf("Delete = %d, ожидалось 1", n)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("ожидался промах после Delete")
	}
}

// TestMemoryStore_PerEntryTTL — запись с коротким TTL истекает раньше общего.
func TestMemoryStore_PerEntryTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(100, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "short", []byte("1"), 2*time.Minute)
	_ = s.Set(ctx, "long", []byte("2"), 30*time.Minute)

	now = now.Add(3 * time.Minute)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Error("запись с TTL 2m должна истечь через 3m")
	}
	if _, ok, _ := s.Get(ctx, "long"); !ok {
		t.Error("запись с TTL 30m не должна истечь через 3m")
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("Len = %d, ожидалось 1 (истёкшая запись удалена при чтении)", n)
	}
}

func TestMemoryStore_TTLClampedToMax(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10, time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "k", []byte("1"), 24*time.Hour)
	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("TTL больше максимального должен урезаться до максимального")
	}
}

func TestMemoryStore_DeletePattern(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(100, time.Hour)
	for _, k := range []string{
		"search:coordination:1:aaa",
		"search:coordination:1:bbb",
		"search:coordination:12:ccc",
		"stats:coordination:1:summary",
		"item:inventory:1:details",
	} {
		_ = s.Set(ctx, k, []byte("x"), time.Minute)
	}

	n, err := s.DeletePattern(ctx, "search:coordination:1:*")
	if err != nil {
		t.Fatalf("DeletePattern ошибка: %v", err)
	}
	if n != 2 {
		t.Errorf("удалено %d, ожидалось 2 (координация 12 не должна совпадать)", n)
	}
	if _, ok, _ := s.Get(ctx, "search:coordination:12:ccc"); !ok {
		t.Error("ключ координации 12 удалён ошибочно")
	}

	if _, err := s.DeletePattern(ctx, "search:[1"); err == nil {
		t.Error("ожидалась ошибка для некорректного шаблона")
	}
}

func TestMemoryStore_Eviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, time.Hour)
	_ = s.Set(ctx, "a", []byte("1"), time.Minute)
	_ = s.Set(ctx, "b", []byte("2"), time.Minute)
	_ = s.Set(ctx, "c", []byte("3"), time.Minute)

	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Error("самая старая запись должна быть вытеснена")
	}
	if n, _ := s.Len(ctx); n != 2 {
		t.Errorf("Len = %d, ожидалось 2", n)
	}
}

func TestMemoryStore_SetIfGeneration(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(100, time.Hour)

	gen, err := s.Generation(ctx, "k")
	if err != nil || gen != 0 {
		t.Fatalf("Generation = %d, %v; ожидался 0", gen, err)
	}
	if ok, err := s.SetIfGeneration(ctx, "k", []byte("1"), time.Minute, gen); !ok || err != nil {
		t.Fatalf("запись с актуальным поколением: ok=%v err=%v", ok, err)
	}

	if err := s.BumpGeneration(ctx, "k", "other"); err != nil {
		t.Fatalf("BumpGeneration ошибка: %v", err)
	}
	if ok, _ := s.SetIfGeneration(ctx, "k", []byte("2"), time.Minute, gen); ok {
		t.Error("запись с устаревшим поколением должна быть отклонена")
	}
	if got, _, _ := s.Get(ctx, "k"); string(got) != "1" {
		t.Errorf("значение = %q, ожидалось прежнее", got)
	}

	// Удаление значений не сбрасывает поколение
	_, _ = s.DeletePattern(ctx, "*")
	next, _ := s.Generation(ctx, "k")
	if next == gen {
		t.Errorf("поколение не изменилось: %d", next)
	}
	if ok, _ := s.SetIfGeneration(ctx, "k", []byte("3"), time.Minute, next); !ok {
		t.Error("запись с новым поколением должна пройти")
	}
}
