package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDephealthService_NoDependencies(t *testing.T) {
	_, err := NewDephealthServiceWithRegisterer(
		"xg-server", "xg", nil, "", "", time.Second, false, testLogger(), prometheus.NewRegistry(),
	)
	if !errors.Is(err, ErrNoDependencies) {
		t.Errorf("ожидалась ErrNoDependencies, получено %v", err)
	}
}

func TestDephealthService_PrometheusHealthy(t *testing.T) {
	var probed atomic.Value
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probed.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Prometheus Server is Healthy.\n"))
	}))
	defer mockServer.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ds, err := NewDephealthServiceWithRegisterer(
		"xg-server", "xg", nil, "", mockServer.URL, time.Second, true, logger, prometheus.NewRegistry(),
	)
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ds.Start(ctx); err != nil {
		t.Fatalf("Ошибка запуска: %v", err)
	}
	defer ds.Stop()

	// Даём время на первую проверку (интервал 1s + запас)
	time.Sleep(3 * time.Second)

	found := false
	for key, val := range ds.Health() {
		if strings.HasPrefix(key, "prometheus:") {
			found = true
			if !val {
				t.Errorf("prometheus health = false для ключа %q, ожидалось true", key)
			}
		}
	}
	if !found {
		t.Errorf("Нет записи для prometheus в Health(): %v", ds.Health())
	}
	if got, _ := probed.Load().(string); got != prometheusHealthPath {
		t.Errorf("проверялся путь %q, ожидался %q", got, prometheusHealthPath)
	}
}
