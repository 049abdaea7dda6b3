// session.go — Session Manager: ограниченная выдача соединений из пула,
// гарантированный возврат соединения на любом пути выхода, классификация
// таймаутов и отчёт о состоянии пула.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ошибки Session Manager.
var (
	// ErrPoolExhausted — свободное соединение не получено за AcquireTimeout.
	ErrPoolExhausted = errors.New("пул соединений исчерпан")
	// ErrTimedOut — выражение превысило statement_timeout или дедлайн контекста.
	ErrTimedOut = errors.New("превышено время выполнения запроса")
	// ErrSessionClosed — сессия уже закрыта.
	ErrSessionClosed = errors.New("сессия базы данных закрыта")
)

// Prometheus-метрики Session Manager.
var (
	acquireDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "im_db_acquire_duration_seconds",
		Help:    "Время ожидания соединения из пула.",
		Buckets: prometheus.DefBuckets,
	})
	poolExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_db_pool_exhausted_total",
		Help: "Количество отказов из-за исчерпания пула соединений.",
	})
	statementTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_db_statement_timeouts_total",
		Help: "Количество выражений, прерванных по таймауту.",
	})
	slowQueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_db_slow_queries_total",
		Help: "Количество медленных SQL-выражений.",
	})
)

// SessionOptions — параметры Session Manager.
type SessionOptions struct {
	// AcquireTimeout — сколько вызывающий ждёт соединение сверх MaxConns.
	AcquireTimeout time.Duration
	// SlowQueryThreshold — порог WARN-лога медленного выражения (0 — выключено).
	SlowQueryThreshold time.Duration
}

// Session — владелец пула соединений PostgreSQL.
// Реализует repository.DBTX, поэтому репозитории работают как через
// сессию, так и внутри транзакции. Создаётся явно в main и закрывается Close.
type Session struct {
	pool    *pgxpool.Pool
	opts    SessionOptions
	logger  *slog.Logger
	waiting atomic.Int64
	closed  atomic.Bool
}

// NewSession создаёт Session Manager поверх готового пула.
// Владение пулом переходит к сессии: Close закрывает пул.
func NewSession(pool *pgxpool.Pool, opts SessionOptions, logger *slog.Logger) *Session {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 10 * time.Second
	}
	return &Session{
		pool:   pool,
		opts:   opts,
		logger: logger.With(slog.String("component", "db_session")),
	}
}

// Pool возвращает нижележащий пул (для адаптера stdlib в topologymetrics).
func (s *Session) Pool() *pgxpool.Pool {
	return s.pool
}

// Close закрывает пул. Повторный вызов — no-op.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.pool.Close()
		s.logger.Info("Пул соединений PostgreSQL закрыт")
	}
}

// Exec выполняет выражение без результата на выделенном соединении.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	conn, actorSet, err := s.acquire(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer s.release(conn, actorSet)

	start := time.Now()
	tag, err := conn.Exec(ctx, sql, args...)
	s.observe(sql, start)
	if err != nil {
		return tag, classifyError(ctx, err)
	}
	return tag, nil
}

// Query выполняет запрос. Соединение возвращается в пул при Close результата
// (или когда Next вернул false), а при ошибке — немедленно.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	conn, actorSet, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		s.release(conn, actorSet)
		return nil, classifyError(ctx, err)
	}

	return &sessionRows{
		Rows: rows,
		ctx:  ctx,
		release: func() {
			s.observe(sql, start)
			s.release(conn, actorSet)
		},
	}, nil
}

// QueryRow выполняет запрос, возвращающий не более одной строки.
// Соединение возвращается в пул внутри Scan.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, err := s.Query(ctx, sql, args...)
	return &sessionRow{rows: rows, err: err}
}

// InTx выполняет fn внутри одной транзакции на одном соединении.
// Ошибка fn или коммита — полный откат; вложенные транзакции не используются.
func (s *Session) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	conn, err := s.acquireConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", classifyError(ctx, err))
	}
	// Откат после коммита — no-op; при отменённом ctx откат всё равно должен дойти до сервера
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // откат после коммита — no-op

	// Контекст вызывающего живёт только внутри транзакции (is_local = true)
	if actor, ok := ActorFromContext(ctx); ok {
		if _, err := tx.Exec(ctx, setActorSQL, actor, true); err != nil {
			return fmt.Errorf("ошибка установки контекста пользователя: %w", classifyError(ctx, err))
		}
	}

	if err := fn(tx); err != nil {
		return classifyError(ctx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка коммита транзакции: %w", classifyError(ctx, err))
	}
	return nil
}

// --- Выдача соединений ---

// acquireConn получает соединение, ожидая не дольше AcquireTimeout.
func (s *Session) acquireConn(ctx context.Context) (*pgxpool.Conn, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	acquireCtx, cancel := context.WithTimeout(ctx, s.opts.AcquireTimeout)
	defer cancel()

	start := time.Now()
	s.waiting.Add(1)
	conn, err := s.pool.Acquire(acquireCtx)
	s.waiting.Add(-1)
	acquireDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		// Дедлайн ожидания истёк, а контекст вызывающего жив — пул исчерпан
		if ctx.Err() == nil && errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
			poolExhaustedTotal.Inc()
			s.logger.Warn("Пул соединений исчерпан",
				slog.Duration("acquire_timeout", s.opts.AcquireTimeout),
				slog.Int64("waiting", s.waiting.Load()),
			)
			return nil, fmt.Errorf("%w: нет свободного соединения за %s", ErrPoolExhausted, s.opts.AcquireTimeout)
		}
		return nil, fmt.Errorf("ошибка получения соединения: %w", classifyError(ctx, err))
	}
	return conn, nil
}

// acquire получает соединение и, если в ctx есть пользователь,
// устанавливает контекст на уровне сессии соединения.
func (s *Session) acquire(ctx context.Context) (conn *pgxpool.Conn, actorSet bool, err error) {
	conn, err = s.acquireConn(ctx)
	if err != nil {
		return nil, false, err
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		return conn, false, nil
	}
	if _, err := conn.Exec(ctx, setActorSQL, actor, false); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("ошибка установки контекста пользователя: %w", classifyError(ctx, err))
	}
	return conn, true, nil
}

// release сбрасывает контекст пользователя и возвращает соединение в пул.
// Если сброс не удался, соединение закрывается, чтобы контекст не достался
// следующему вызывающему.
func (s *Session) release(conn *pgxpool.Conn, actorSet bool) {
	if actorSet {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if _, err := conn.Exec(ctx, setActorSQL, "", false); err != nil {
			s.logger.Warn("Не удалось сбросить контекст пользователя, соединение закрывается",
				slog.String("error", err.Error()),
			)
			_ = conn.Conn().Close(ctx)
		}
		cancel()
	}
	conn.Release()
}

// observe логирует медленные выражения.
func (s *Session) observe(sql string, start time.Time) {
	if s.opts.SlowQueryThreshold <= 0 {
		return
	}
	duration := time.Since(start)
	if duration <= s.opts.SlowQueryThreshold {
		return
	}
	slowQueriesTotal.Inc()
	s.logger.Warn("Медленный запрос",
		slog.String("query", truncateSQL(sql, 100)),
		slog.Duration("duration", duration),
	)
}

// --- Классификация ошибок ---

// classifyError превращает таймауты в ErrTimedOut, остальное оставляет как есть.
// Отмена контекста вызывающим не считается таймаутом.
func classifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimedOut) || errors.Is(err, ErrPoolExhausted) {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.QueryCanceled {
		statementTimeoutsTotal.Inc()
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		statementTimeoutsTotal.Inc()
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	return err
}

// truncateSQL обрезает текст запроса для логов.
func truncateSQL(sql string, limit int) string {
	if len(sql) <= limit {
		return sql
	}
	return sql[:limit] + "..."
}

// --- Обёртки результатов ---

// sessionRows возвращает соединение в пул ровно один раз.
type sessionRows struct {
	pgx.Rows
	ctx     context.Context
	release func()
	once    sync.Once
}

func (r *sessionRows) Next() bool {
	if r.Rows.Next() {
		return true
	}
	r.Close()
	return false
}

func (r *sessionRows) Close() {
	r.Rows.Close()
	r.once.Do(r.release)
}

func (r *sessionRows) Err() error {
	return classifyError(r.ctx, r.Rows.Err())
}

// sessionRow — аналог pgx.Row поверх sessionRows.
type sessionRow struct {
	rows pgx.Rows
	err  error
}

func (r *sessionRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	rows := r.rows
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return pgx.ErrNoRows
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}
