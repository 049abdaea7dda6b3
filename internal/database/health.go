package database

import (
	"context"
	"time"
)

// Статусы проверки состояния базы данных.
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
)

// ConnectionStats — снимок состояния пула.
type ConnectionStats struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
	Waiting  int64 `json:"waiting"`
	Max      int32 `json:"max"`
}

// Health — результат проверки состояния базы данных.
type Health struct {
	Status      string          `json:"status"`
	LatencyMs   int64           `json:"latency_ms"`
	Connections ConnectionStats `json:"connections"`
	Error       string          `json:"error,omitempty"`
}

// Stats возвращает текущую статистику пула.
func (s *Session) Stats() ConnectionStats {
	st := s.pool.Stat()
	return ConnectionStats{
		Total:    st.TotalConns(),
		Idle:     st.IdleConns(),
		Acquired: st.AcquiredConns(),
		Waiting:  s.waiting.Load(),
		Max:      st.MaxConns(),
	}
}

// HealthCheck выполняет SELECT 1 через обычный путь выдачи соединения
// и возвращает задержку и статистику пула. Ошибка не возвращается:
// недоступность базы отражается в Status и Error.
func (s *Session) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	var one int
	err := s.QueryRow(ctx, "SELECT 1").Scan(&one)
	h := Health{
		Status:      HealthStatusHealthy,
		LatencyMs:   time.Since(start).Milliseconds(),
		Connections: s.Stats(),
	}
	if err != nil {
		h.Status = HealthStatusUnhealthy
		h.Error = err.Error()
	}
	return h
}

// CheckReady проверяет доступность PostgreSQL для проверки готовности.
// Возвращает статус ("ok" или "fail") и сообщение.
func (s *Session) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	h := s.HealthCheck(ctx)
	if h.Status != HealthStatusHealthy {
		return "fail", h.Error
	}
	return "ok", "PostgreSQL доступен"
}
