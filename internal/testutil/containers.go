// Пакет testutil — общие хелперы интеграционных тестов:
// PostgreSQL и Redis в Docker-контейнерах через testcontainers.
// Тесты запускаются только при установленной TEST_INTEGRATION.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/inventory-module/internal/config"
)

// SkipUnlessIntegration пропускает тест без TEST_INTEGRATION.
func SkipUnlessIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}
}

// StartPostgres запускает PostgreSQL в контейнере и возвращает
// конфигурацию, указывающую на него. Контейнер останавливается в t.Cleanup.
func StartPostgres(t *testing.T) *config.Config {
	t.Helper()
	SkipUnlessIntegration(t)

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("inventory_test"),
		postgres.WithUsername("inventory"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("IM_DB_HOST", host)
	t.Setenv("IM_DB_PORT", port.Port())
	t.Setenv("IM_DB_NAME", "inventory_test")
	t.Setenv("IM_DB_USER", "inventory")
	t.Setenv("IM_DB_PASSWORD", "test-password")
	t.Setenv("IM_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// StartRedis запускает Redis в контейнере и возвращает адрес host:port.
func StartRedis(t *testing.T) string {
	t.Helper()
	SkipUnlessIntegration(t)

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "docker.io/redis:7-alpine")
	if err != nil {
		t.Fatalf("Не удалось запустить Redis контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}
	return host + ":" + port.Port()
}
