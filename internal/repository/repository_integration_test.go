package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/inventory-module/internal/database"
	"github.com/bigkaa/goartstore/inventory-module/internal/domain/model"
	"github.com/bigkaa/goartstore/inventory-module/internal/testutil"
)

// setupRepo поднимает PostgreSQL с миграциями и возвращает сессию и репозиторий.
func setupRepo(t *testing.T, batchSize int) (*database.Session, InventoryRepository) {
	t.Helper()
	cfg := testutil.StartPostgres(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() ошибка: %v", err)
	}
	pool, err := database.Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Connect() ошибка: %v", err)
	}
	session := database.NewSession(pool, database.SessionOptions{AcquireTimeout: cfg.DBAcquireTimeout}, logger)
	t.Cleanup(session.Close)

	return session, NewInventoryRepository(session, batchSize, logger)
}

func mustCreate(t *testing.T, repo InventoryRepository, number string) *model.Item {
	t.Helper()
	item, err := repo.Create(context.Background(), model.ItemInput{InventoryNumber: number, Description: "Elemento " + number})
	if err != nil {
		t.Fatalf("Create(%s) ошибка: %v", number, err)
	}
	return item
}

func ids(items []model.Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

// TestIntegration_KeysetScenario — вставка между страницами не вызывает
// ни пропусков, ни повторов.
func TestIntegration_KeysetScenario(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	ctx := context.Background()

	a := mustCreate(t, repo, "A")
	b := mustCreate(t, repo, "B")
	c := mustCreate(t, repo, "C")

	first, err := repo.List(ctx, model.ItemFilter{}, "", 2)
	if err != nil {
		t.Fatalf("List(первая страница) ошибка: %v", err)
	}
	if got := ids(first.Data); len(got) != 2 || got[0] != c.ID || got[1] != b.ID {
		t.Fatalf("первая страница = %v, ожидалось [C B]", got)
	}
	if !first.HasNextPage || first.NextCursor == "" {
		t.Fatal("ожидалось продолжение после первой страницы")
	}

	// Новая запись и удаление граничной строки между запросами
	mustCreate(t, repo, "D")
	if _, err := repo.Delete(ctx, b.ID, nil); err != nil {
		t.Fatalf("удаление B: %v", err)
	}

	second, err := repo.List(ctx, model.ItemFilter{}, first.NextCursor, 2)
	if err != nil {
		t.Fatalf("List(вторая страница) ошибка: %v", err)
	}
	if got := ids(second.Data); len(got) != 1 || got[0] != a.ID {
		t.Fatalf("вторая страница = %v, ожидалось [A]", got)
	}
	if second.HasNextPage || second.NextCursor != "" {
		t.Error("после последней страницы не ожидалось продолжения")
	}
}

// TestIntegration_KeysetMonotonic — при совпадающих created_at страницы
// строго убывают по (created_at, id) и покрывают все строки ровно один раз.
func TestIntegration_KeysetMonotonic(t *testing.T) {
	session, repo := setupRepo(t, 1000)
	ctx := context.Background()

	const total = 25
	for i := range total {
		mustCreate(t, repo, fmt.Sprintf("INV-%03d", i))
	}
	// Половина строк получает одинаковый created_at — проверка разрешителя по id
	if _, err := session.Exec(ctx,
		`UPDATE inventory_items SET created_at = '2024-01-01T00:00:00Z' WHERE id % 2 = 0`); err != nil {
		t.Fatalf("подготовка created_at: %v", err)
	}

	seen := make(map[int64]bool)
	var prev *model.Item
	cursor := ""
	for pages := 0; ; pages++ {
		if pages > total {
			t.Fatal("пагинация не завершилась")
		}
		page, err := repo.List(ctx, model.ItemFilter{}, cursor, 7)
		if err != nil {
			t.Fatalf("List ошибка: %v", err)
		}
		for i := range page.Data {
			it := page.Data[i]
			if seen[it.ID] {
				t.Fatalf("id %d выдан повторно", it.ID)
			}
			seen[it.ID] = true
			if prev != nil {
				less := it.CreatedAt.Before(prev.CreatedAt) ||
					(it.CreatedAt.Equal(prev.CreatedAt) && it.ID < prev.ID)
				if !less {
					t.Fatalf("нарушен порядок: (%v,%d) после (%v,%d)", it.CreatedAt, it.ID, prev.CreatedAt, prev.ID)
				}
			}
			prev = &it
		}
		if !page.HasNextPage {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != total {
		t.Errorf("выдано %d строк, ожидалось %d", len(seen), total)
	}
}

func TestIntegration_InvalidCursor(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	_, err := repo.List(context.Background(), model.ItemFilter{}, "garbage!", 10)
	if !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("ожидалась ErrInvalidCursor, получено %v", err)
	}
}

// TestIntegration_VersionSequence — версия 3 → 4, повтор с версией 3 — конфликт
// без изменения строки.
func TestIntegration_VersionSequence(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	ctx := context.Background()
	item := mustCreate(t, repo, "V-1")

	loc := func(s string) model.ItemPatch { return model.ItemPatch{Location: &s} }

	for v := int64(1); v <= 3; v++ {
		res, err := repo.UpdateWithVersion(ctx, item.ID, v, loc(fmt.Sprintf("L%d", v)))
		if err != nil {
			t.Fatalf("обновление с версией %d: %v", v, err)
		}
		if res.Record.Version != v+1 {
			t.Fatalf("версия после обновления = %d, ожидалось %d", res.Record.Version, v+1)
		}
	}

	_, err := repo.UpdateWithVersion(ctx, item.ID, 3, loc("stale"))
	var ve *VersionError
	if !errors.As(err, &ve) || !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("ожидалась ErrVersionConflict, получено %v", err)
	}
	if ve.Current != 4 {
		t.Errorf("Current = %d, ожидалось 4", ve.Current)
	}

	got, err := repo.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID ошибка: %v", err)
	}
	if got.Version != 4 || got.Location == nil || *got.Location != "L3" {
		t.Errorf("строка изменена устаревшим обновлением: version=%d location=%v", got.Version, got.Location)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("updated_at %v раньше created_at %v", got.UpdatedAt, got.CreatedAt)
	}
}

// TestIntegration_ConcurrentUpdate — из N писателей с одной версией
// побеждает ровно один.
func TestIntegration_ConcurrentUpdate(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	ctx := context.Background()
	item := mustCreate(t, repo, "C-1")

	const writers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			brand := fmt.Sprintf("brand-%d", i)
			_, err := repo.UpdateWithVersion(ctx, item.ID, 1, model.ItemPatch{Brand: &brand})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrConcurrentModification):
				conflicts++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != writers-1 {
		t.Errorf("успехов %d, конфликтов %d; ожидалось 1 и %d", successes, conflicts, writers-1)
	}
	got, err := repo.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID ошибка: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("итоговая версия = %d, ожидалось 2", got.Version)
	}
}

func TestIntegration_UpdateNotFound(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	status := model.StatusRetired
	_, err := repo.UpdateWithVersion(context.Background(), 999999, 1, model.ItemPatch{Status: &status})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestIntegration_BulkRowFailure — отклонённая строка k не мешает
// фиксации остальных N-1 строк.
func TestIntegration_BulkRowFailure(t *testing.T) {
	_, repo := setupRepo(t, 2)
	ctx := context.Background()
	mustCreate(t, repo, "DUP")

	inputs := []model.ItemInput{
		{InventoryNumber: "B-0", Description: "uno"},
		{InventoryNumber: "B-1", Description: "dos"},
		{InventoryNumber: "DUP", Description: "duplicado"},
		{InventoryNumber: "B-3", Description: "cuatro"},
		{InventoryNumber: "B-4", Description: "cinco"},
	}
	res, err := repo.BulkImport(ctx, inputs, false)
	if err != nil {
		t.Fatalf("BulkImport ошибка: %v", err)
	}

	if res.Inserted != len(inputs)-1 || len(res.AffectedIDs) != len(inputs)-1 {
		t.Errorf("Inserted = %d, AffectedIDs = %d, ожидалось %d", res.Inserted, len(res.AffectedIDs), len(inputs)-1)
	}
	if res.TotalProcessed != len(inputs) {
		t.Errorf("TotalProcessed = %d, ожидалось %d", res.TotalProcessed, len(inputs))
	}
	if len(res.Errors) != 1 || res.Errors[0].RowIndex != 2 || res.Errors[0].BatchIndex != 1 {
		t.Fatalf("Errors = %+v, ожидалась одна ошибка строки 2 пакета 1", res.Errors)
	}
	if !errors.Is(res.Errors[0].Err, ErrConflict) {
		t.Errorf("ошибка строки = %v, ожидалась ErrConflict", res.Errors[0].Err)
	}
	if !errors.Is(res.Err(), ErrPartialBatchFailure) {
		t.Errorf("Err() = %v, ожидалась ErrPartialBatchFailure", res.Err())
	}

	page, err := repo.List(ctx, model.ItemFilter{}, "", 100)
	if err != nil {
		t.Fatalf("List ошибка: %v", err)
	}
	if len(page.Data) != len(inputs) {
		t.Errorf("строк в таблице %d, ожидалось %d (4 новых + DUP)", len(page.Data), len(inputs))
	}
}

func TestIntegration_BulkUpsertBumpsVersion(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	ctx := context.Background()
	existing := mustCreate(t, repo, "U-1")

	res, err := repo.BulkImport(ctx, []model.ItemInput{
		{InventoryNumber: "U-1", Description: "actualizado", Status: model.StatusInUse},
		{InventoryNumber: "U-2", Description: "nuevo"},
	}, true)
	if err != nil || res.Err() != nil {
		t.Fatalf("BulkImport ошибка: %v / %v", err, res.Err())
	}
	if res.Inserted != 2 {
		t.Errorf("Inserted = %d, ожидалось 2", res.Inserted)
	}

	got, err := repo.GetByID(ctx, existing.ID)
	if err != nil {
		t.Fatalf("GetByID ошибка: %v", err)
	}
	if got.Version != 2 || got.Description != "actualizado" || got.Status != model.StatusInUse {
		t.Errorf("upsert не применился: %+v", got)
	}
}

func TestIntegration_CoordinationStats(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	ctx := context.Background()

	coord, err := repo.CreateCoordination(ctx, "Norte")
	if err != nil {
		t.Fatalf("CreateCoordination ошибка: %v", err)
	}
	if _, err := repo.CreateCoordination(ctx, "Norte"); !errors.Is(err, ErrConflict) {
		t.Errorf("дубликат координации: ожидалась ErrConflict, получено %v", err)
	}

	for i, status := range []string{model.StatusAvailable, model.StatusAvailable, model.StatusInUse} {
		_, err := repo.Create(ctx, model.ItemInput{
			InventoryNumber: fmt.Sprintf("S-%d", i),
			Description:     "x",
			Cost:            100,
			CoordinationID:  &coord.ID,
			Status:          status,
		})
		if err != nil {
			t.Fatalf("Create ошибка: %v", err)
		}
	}

	stats, err := repo.CoordinationStats(ctx, coord.ID)
	if err != nil {
		t.Fatalf("CoordinationStats ошибка: %v", err)
	}
	if stats.TotalItems != 3 || stats.TotalCost != 300 {
		t.Errorf("итоги = %d / %v, ожидалось 3 / 300", stats.TotalItems, stats.TotalCost)
	}
	if stats.ByStatus[model.StatusAvailable] != 2 || stats.ByStage[model.StagePending] != 3 {
		t.Errorf("разбивка: %v %v", stats.ByStatus, stats.ByStage)
	}

	if _, err := repo.CoordinationStats(ctx, 424242); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}

	coords, err := repo.ListCoordinations(ctx)
	if err != nil || len(coords) != 1 {
		t.Errorf("ListCoordinations = %v, %v", coords, err)
	}
}

func TestIntegration_CreateConflict(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	mustCreate(t, repo, "X-1")
	_, err := repo.Create(context.Background(), model.ItemInput{InventoryNumber: "X-1", Description: "otra"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ожидалась ErrConflict, получено %v", err)
	}
}

// TestIntegration_DeleteBoundaryWithVersion — удаление граничной строки
// страницы с проверкой версии; обход продолжается по курсору.
func TestIntegration_DeleteBoundaryWithVersion(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	ctx := context.Background()

	coord, err := repo.CreateCoordination(ctx, "Sur")
	if err != nil {
		t.Fatalf("CreateCoordination ошибка: %v", err)
	}
	var created []*model.Item
	for i := range 5 {
		item, err := repo.Create(ctx, model.ItemInput{
			InventoryNumber: fmt.Sprintf("D-%d", i),
			Description:     "x",
			CoordinationID:  &coord.ID,
		})
		if err != nil {
			t.Fatalf("Create ошибка: %v", err)
		}
		created = append(created, item)
	}

	first, err := repo.List(ctx, model.ItemFilter{}, "", 2)
	if err != nil {
		t.Fatalf("List ошибка: %v", err)
	}
	boundary := first.Data[len(first.Data)-1]

	stale := boundary.Version + 1
	_, err = repo.Delete(ctx, boundary.ID, &stale)
	var ve *VersionError
	if !errors.As(err, &ve) || !errors.Is(err, ErrVersionConflict) || ve.Current != boundary.Version {
		t.Fatalf("удаление с неверной версией: %v", err)
	}

	scope, err := repo.Delete(ctx, boundary.ID, &boundary.Version)
	if err != nil {
		t.Fatalf("Delete ошибка: %v", err)
	}
	if scope == nil || *scope != coord.ID {
		t.Errorf("координация удалённой строки = %v, ожидалась %d", scope, coord.ID)
	}
	if _, err := repo.Delete(ctx, boundary.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrNotFound, получено %v", err)
	}

	// Курсор указывает на удалённую строку: продолжение без пропусков и повторов
	seen := ids(first.Data)
	cursor := first.NextCursor
	for cursor != "" {
		page, err := repo.List(ctx, model.ItemFilter{}, cursor, 2)
		if err != nil {
			t.Fatalf("List(%s) ошибка: %v", cursor, err)
		}
		seen = append(seen, ids(page.Data)...)
		cursor = page.NextCursor
	}
	if len(seen) != len(created) {
		t.Fatalf("обход вернул %v, ожидалось %d строк", seen, len(created))
	}
	for i, want := range []int64{created[4].ID, created[3].ID, created[2].ID, created[1].ID, created[0].ID} {
		if seen[i] != want {
			t.Fatalf("обход = %v, ожидался порядок убывания id", seen)
		}
	}
}

func TestIntegration_GlobalStats(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	ctx := context.Background()

	empty, err := repo.GlobalStats(ctx)
	if err != nil {
		t.Fatalf("GlobalStats ошибка: %v", err)
	}
	if empty.TotalItems != 0 || empty.TopLocations == nil {
		t.Errorf("пустой инвентарь: %+v", empty)
	}

	almacen, oficina := "Almacén", "Oficina"
	for i, loc := range []*string{&almacen, &almacen, &oficina, nil} {
		_, err := repo.Create(ctx, model.ItemInput{
			InventoryNumber: fmt.Sprintf("G-%d", i),
			Description:     "x",
			Cost:            50,
			Location:        loc,
		})
		if err != nil {
			t.Fatalf("Create ошибка: %v", err)
		}
	}

	stats, err := repo.GlobalStats(ctx)
	if err != nil {
		t.Fatalf("GlobalStats ошибка: %v", err)
	}
	if stats.TotalItems != 4 || stats.TotalCost != 200 {
		t.Errorf("итоги = %d / %v, ожидалось 4 / 200", stats.TotalItems, stats.TotalCost)
	}
	if stats.ByStatus[model.StatusAvailable] != 4 || stats.ByStage[model.StagePending] != 4 {
		t.Errorf("разбивка: %v %v", stats.ByStatus, stats.ByStage)
	}
	want := []model.LocationCount{{Location: almacen, Count: 2}, {Location: oficina, Count: 1}}
	if len(stats.TopLocations) != 2 || stats.TopLocations[0] != want[0] || stats.TopLocations[1] != want[1] {
		t.Errorf("местоположения = %+v, ожидалось %+v", stats.TopLocations, want)
	}
}

// TestIntegration_ConstraintViolations — нарушения внешнего ключа и CHECK
// возвращаются как ошибки входных данных.
func TestIntegration_ConstraintViolations(t *testing.T) {
	_, repo := setupRepo(t, 1000)
	ctx := context.Background()

	missing := int64(424242)
	_, err := repo.Create(ctx, model.ItemInput{InventoryNumber: "FK-1", Description: "x", CoordinationID: &missing})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("Create с несуществующей координацией: ожидалась ErrInvalidReference, получено %v", err)
	}

	item := mustCreate(t, repo, "FK-2")
	_, err = repo.UpdateWithVersion(ctx, item.ID, item.Version, model.ItemPatch{CoordinationID: &missing})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("обновление координации: ожидалась ErrInvalidReference, получено %v", err)
	}

	negative := -1.0
	_, err = repo.UpdateWithVersion(ctx, item.ID, item.Version, model.ItemPatch{Cost: &negative})
	var ce *ConstraintError
	if !errors.Is(err, ErrCheckViolation) || !errors.As(err, &ce) || ce.Constraint == "" {
		t.Errorf("отрицательная стоимость: ожидалась ErrCheckViolation с именем ограничения, получено %v", err)
	}

	got, err := repo.GetByID(ctx, item.ID)
	if err != nil || got.Version != item.Version {
		t.Errorf("отклонённые обновления изменили запись: %+v, %v", got, err)
	}
}

// interleavedRunner выполняет транзакции сессии, вызывая between один раз
// сразу после первого чтения строки внутри транзакции.
type interleavedRunner struct {
	session *database.Session
	between func()
	once    sync.Once
}

func (r *interleavedRunner) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.session.InTx(ctx, func(tx pgx.Tx) error {
		return fn(interleavedTx{Tx: tx, after: func() { r.once.Do(r.between) }})
	})
}

type interleavedTx struct {
	pgx.Tx
	after func()
}

func (tx interleavedTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return interleavedRow{Row: tx.Tx.QueryRow(ctx, sql, args...), after: tx.after}
}

type interleavedRow struct {
	pgx.Row
	after func()
}

func (r interleavedRow) Scan(dest ...any) error {
	err := r.Row.Scan(dest...)
	r.after()
	return err
}

// TestIntegration_ConcurrentModification — другое соединение фиксирует
// новую версию между проверкой версии и условной записью.
func TestIntegration_ConcurrentModification(t *testing.T) {
	session, repo := setupRepo(t, 1000)
	ctx := context.Background()

	bumpVersion := func(id int64) func() {
		return func() {
			if _, err := session.Exec(ctx,
				`UPDATE inventory_items SET version = version + 1, location = 'ganador' WHERE id = $1`, id); err != nil {
				t.Errorf("параллельная запись: %v", err)
			}
		}
	}

	t.Run("обновление", func(t *testing.T) {
		item := mustCreate(t, repo, "CM-1")
		mutator := NewVersionedMutator(&interleavedRunner{session: session, between: bumpVersion(item.ID)}, itemVersionedTable)

		_, err := mutator.UpdateWithVersion(ctx, item.ID, item.Version, []Assignment{
			{Column: "status", Value: model.StatusRetired},
		})
		var ve *VersionError
		if !errors.As(err, &ve) || !errors.Is(err, ErrConcurrentModification) {
			t.Fatalf("ожидалась ErrConcurrentModification, получено %v", err)
		}
		if ve.Expected != item.Version || ve.Current != item.Version+1 {
			t.Errorf("версии в ошибке: ожидалась %d, текущая %d; нужно %d и %d",
				ve.Expected, ve.Current, item.Version, item.Version+1)
		}

		got, err := repo.GetByID(ctx, item.ID)
		if err != nil {
			t.Fatalf("GetByID ошибка: %v", err)
		}
		if got.Status != model.StatusAvailable || got.Location == nil || *got.Location != "ganador" {
			t.Errorf("запись изменена проигравшим писателем: status=%s location=%v", got.Status, got.Location)
		}
		if got.Version != item.Version+1 {
			t.Errorf("версия = %d, ожидалась %d", got.Version, item.Version+1)
		}
	})

	t.Run("удаление", func(t *testing.T) {
		item := mustCreate(t, repo, "CM-2")
		mutator := NewVersionedMutator(&interleavedRunner{session: session, between: bumpVersion(item.ID)}, itemVersionedTable)

		_, err := mutator.DeleteWithVersion(ctx, item.ID, &item.Version)
		var ve *VersionError
		if !errors.As(err, &ve) || !errors.Is(err, ErrConcurrentModification) || ve.Current != item.Version+1 {
			t.Fatalf("ожидалась ErrConcurrentModification с версией %d, получено %v", item.Version+1, err)
		}
		if _, err := repo.GetByID(ctx, item.ID); err != nil {
			t.Errorf("строка удалена проигравшим писателем: %v", err)
		}
	})
}
