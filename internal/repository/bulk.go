package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/inventory-module/internal/database"
)

// maxBindParams — предел числа параметров одного выражения в протоколе PostgreSQL.
const maxBindParams = 65535

var bulkRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "im_bulk_rows_total",
	Help: "Количество строк пакетной загрузки по результату.",
}, []string{"result"})

// BulkRequest — строки для пакетной вставки.
type BulkRequest struct {
	Columns []string
	// Rows — значения в порядке Columns
	Rows [][]any
	// OnConflict — необязательное ON CONFLICT ... (upsert или DO NOTHING)
	OnConflict string
}

// BatchError — отклонённая строка.
type BatchError struct {
	// BatchIndex — номер под-пакета
	BatchIndex int
	// RowIndex — индекс строки во входных данных
	RowIndex int
	Err      error
}

func (e BatchError) Error() string {
	return fmt.Sprintf("пакет %d, строка %d: %v", e.BatchIndex, e.RowIndex, e.Err)
}

func (e BatchError) Unwrap() error {
	return e.Err
}

// BulkResult — итог пакетной загрузки.
type BulkResult struct {
	// ImportID — идентификатор загрузки для корреляции логов
	ImportID uuid.UUID
	// Inserted — число строк, вернувших id (вставленных или обновлённых upsert)
	Inserted       int
	TotalProcessed int
	Errors         []BatchError
	// AffectedIDs — id зафиксированных строк
	AffectedIDs []int64
}

// Err возвращает ошибку, оборачивающую ErrPartialBatchFailure, если
// хотя бы одна строка отклонена.
func (r *BulkResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("%w: отклонено %d из %d", ErrPartialBatchFailure, len(r.Errors), r.TotalProcessed)
}

// BulkIngestor выполняет пакетную вставку под-пакетами.
// Каждый под-пакет — отдельная транзакция. Если под-пакет отклонён,
// его строки повторяются по одной, каждая в своей транзакции: фиксируются
// ровно допустимые строки, каждая недопустимая попадает в Errors.
type BulkIngestor struct {
	db        TxRunner
	table     string
	batchSize int
	logger    *slog.Logger
}

// NewBulkIngestor создаёт загрузчик для таблицы с первичным ключом id.
func NewBulkIngestor(db TxRunner, table string, batchSize int, logger *slog.Logger) *BulkIngestor {
	if batchSize < 1 {
		batchSize = 1000
	}
	return &BulkIngestor{
		db:        db,
		table:     table,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "bulk_ingestor")),
	}
}

// BulkInsert загружает строки. Ошибки строк не прерывают загрузку и
// возвращаются в BulkResult.Errors. Инфраструктурные сбои (исчерпание
// пула, отмена контекста) прерывают загрузку: возвращается частичный
// результат и ошибка.
func (b *BulkIngestor) BulkInsert(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	cols, err := quoteColumns(req.Columns)
	if err != nil {
		return nil, err
	}

	res := &BulkResult{ImportID: uuid.New()}
	log := b.logger.With(slog.String("import_id", res.ImportID.String()))
	size := effectiveBatchSize(b.batchSize, len(req.Columns))

	log.Info("Пакетная загрузка начата",
		slog.Int("rows", len(req.Rows)),
		slog.Int("batch_size", size),
	)

	for batchIdx, start := 0, 0; start < len(req.Rows); batchIdx, start = batchIdx+1, start+size {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := min(start+size, len(req.Rows))
		if err := b.ingestBatch(ctx, log, req, cols, batchIdx, start, end, res); err != nil {
			log.Error("Пакетная загрузка прервана",
				slog.Int("batch", batchIdx),
				slog.Int("inserted", res.Inserted),
				slog.String("error", err.Error()),
			)
			return res, err
		}
	}

	log.Info("Пакетная загрузка завершена",
		slog.Int("inserted", res.Inserted),
		slog.Int("failed", len(res.Errors)),
		slog.Int("total", res.TotalProcessed),
	)
	return res, nil
}

// ingestBatch загружает строки [start, end) одной транзакцией, при отказе —
// построчно. Возвращает ошибку только для инфраструктурных сбоев.
//
//nolint:funlen // две фазы одного под-пакета
func (b *BulkIngestor) ingestBatch(
	ctx context.Context,
	log *slog.Logger,
	req BulkRequest,
	cols []string,
	batchIdx, start, end int,
	res *BulkResult,
) error {
	defer func() { res.TotalProcessed += end - start }()

	indexes := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		if len(req.Rows[i]) != len(cols) {
			res.Errors = append(res.Errors, BatchError{
				BatchIndex: batchIdx,
				RowIndex:   i,
				Err:        fmt.Errorf("ожидалось %d значений, получено %d", len(cols), len(req.Rows[i])),
			})
			bulkRowsTotal.WithLabelValues("failed").Inc()
			continue
		}
		indexes = append(indexes, i)
	}
	if len(indexes) == 0 {
		return nil
	}

	batchRows := make([][]any, len(indexes))
	for j, i := range indexes {
		batchRows[j] = req.Rows[i]
	}

	ids, err := b.insert(ctx, cols, batchRows, req.OnConflict)
	if err == nil {
		b.commit(res, ids)
		return nil
	}
	if isInfrastructureError(ctx, err) {
		return err
	}

	log.Warn("Под-пакет отклонён, построчный повтор",
		slog.Int("batch", batchIdx),
		slog.Int("rows", len(indexes)),
		slog.String("error", err.Error()),
	)

	for j, i := range indexes {
		ids, err := b.insert(ctx, cols, batchRows[j:j+1], req.OnConflict)
		if err == nil {
			b.commit(res, ids)
			continue
		}
		if isInfrastructureError(ctx, err) {
			return err
		}
		res.Errors = append(res.Errors, BatchError{BatchIndex: batchIdx, RowIndex: i, Err: ClassifyConstraint(err)})
		bulkRowsTotal.WithLabelValues("failed").Inc()
	}
	return nil
}

func (b *BulkIngestor) commit(res *BulkResult, ids []int64) {
	res.Inserted += len(ids)
	res.AffectedIDs = append(res.AffectedIDs, ids...)
	bulkRowsTotal.WithLabelValues("inserted").Add(float64(len(ids)))
}

// insert вставляет строки одной транзакцией и возвращает id.
func (b *BulkIngestor) insert(ctx context.Context, cols []string, rows [][]any, onConflict string) ([]int64, error) {
	query, args := buildInsertSQL(b.table, cols, rows, onConflict)

	var ids []int64
	err := b.db.InTx(ctx, func(tx pgx.Tx) error {
		r, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(r, pgx.RowTo[int64])
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// buildInsertSQL строит многострочный INSERT ... RETURNING id.
// cols уже экранированы.
func buildInsertSQL(table string, cols []string, rows [][]any, onConflict string) (string, []any) {
	args := make([]any, 0, len(rows)*len(cols))
	values := make([]string, 0, len(rows))

	argNum := 1
	for _, row := range rows {
		placeholders := make([]string, len(row))
		for i := range row {
			placeholders[i] = fmt.Sprintf("$%d", argNum)
			argNum++
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args, row...)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES %s",
		pgx.Identifier{table}.Sanitize(), strings.Join(cols, ", "), strings.Join(values, ", "))
	if onConflict != "" {
		sb.WriteString(" ")
		sb.WriteString(onConflict)
	}
	sb.WriteString(" RETURNING id")
	return sb.String(), args
}

// effectiveBatchSize ограничивает размер под-пакета пределом параметров.
func effectiveBatchSize(batchSize, columns int) int {
	if columns < 1 {
		return batchSize
	}
	return max(1, min(batchSize, maxBindParams/columns))
}

func quoteColumns(columns []string) ([]string, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: пустой список столбцов", ErrInvalidColumn)
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		q, err := quoteColumn(c)
		if err != nil {
			return nil, err
		}
		quoted[i] = q
	}
	return quoted, nil
}

// isInfrastructureError — сбой, при котором продолжать загрузку бессмысленно.
func isInfrastructureError(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, database.ErrPoolExhausted) ||
		errors.Is(err, database.ErrSessionClosed)
}
