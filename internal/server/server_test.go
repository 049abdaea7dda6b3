package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/inventory-module/internal/config"
)

type pingRoutes struct{}

func (pingRoutes) Routes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestNew_AppliesMiddlewaresInOrder(t *testing.T) {
	cfg := &config.Config{
		Port:             8045,
		HTTPReadTimeout:  time.Second,
		HTTPWriteTimeout: time.Second,
		HTTPIdleTimeout:  time.Second,
		ShutdownTimeout:  time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	srv := New(cfg, logger, pingRoutes{}, mw("metrics"), mw("logging"))
	if srv.httpServer.Addr != ":8045" {
		t.Errorf("Addr = %s, ожидался :8045", srv.httpServer.Addr)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("статус = %d, ожидался 204", rec.Code)
	}
	if len(order) != 2 || order[0] != "metrics" || order[1] != "logging" {
		t.Errorf("порядок middleware: %v", order)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("неизвестный путь: статус = %d, ожидался 404", rec.Code)
	}
}
