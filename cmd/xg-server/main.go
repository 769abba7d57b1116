// Точка входа XG — серверной части менеджера загрузок XDCC.
// Загружает конфигурацию, при наличии PostgreSQL применяет миграции и
// восстанавливает граф объектов, создаёт сервисы поиска и графиков,
// подключает приём IRC-событий из NATS, запускает рассылку изменений
// веб-клиентам, HTTP-сервер и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sahwar/xdcc-grabscher/internal/api/handlers"
	"github.com/sahwar/xdcc-grabscher/internal/api/middleware"
	"github.com/sahwar/xdcc-grabscher/internal/broadcast"
	"github.com/sahwar/xdcc-grabscher/internal/catalogclient"
	"github.com/sahwar/xdcc-grabscher/internal/config"
	"github.com/sahwar/xdcc-grabscher/internal/database"
	"github.com/sahwar/xdcc-grabscher/internal/graph"
	"github.com/sahwar/xdcc-grabscher/internal/ingest"
	"github.com/sahwar/xdcc-grabscher/internal/parser"
	"github.com/sahwar/xdcc-grabscher/internal/repository"
	"github.com/sahwar/xdcc-grabscher/internal/server"
	"github.com/sahwar/xdcc-grabscher/internal/service"
	"github.com/sahwar/xdcc-grabscher/internal/tsdb"
)

const serviceID = "xg-server"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("XG запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Граф объектов
	g := graph.New(cfg.EventBuffer, cfg.NotificationLimit)

	// 4. PostgreSQL (необязательно): миграции, пул, восстановление графа
	var (
		pool      *pgxpool.Pool
		pgDB      *sql.DB
		persister *service.Persister
		pgChecker handlers.ReadinessChecker
	)
	if cfg.DatabaseEnabled() {
		logger.Info("Применение миграций БД...")
		version, err := database.Migrate(cfg, logger)
		if err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Схема БД готова", slog.Uint64("version", uint64(version)))

		pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		persister = service.NewPersister(repository.NewObjectStore(pool), cfg.PersistInterval, logger)
		if err := persister.Restore(ctx, g); err != nil {
			logger.Error("Ошибка восстановления графа", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Граф восстановлен из PostgreSQL", slog.Int("objects", g.Len()))
		pgChecker = database.NewReadinessChecker(pool)
	} else {
		logger.Warn("XG_DB_HOST не задан, состояние не сохраняется между рестартами")
	}

	// 5. Метрики состояния графа для графиков (xg_snapshot)
	prometheus.MustRegister(service.NewSnapshotCollector(g))

	// 6. Сервисы поиска и графиков
	searchEngine := service.NewSearchEngine(g)
	externalSearch := service.NewExternalSearchService(
		catalogclient.New(cfg.ExternalSearchURL, config.Version, cfg.ExternalSearchTimeout, logger),
		service.NewCacheService(cfg.SearchCacheSize, cfg.SearchCacheTTL),
		cfg.ExternalSearchPageSize,
		logger,
	)
	tsdbClient := tsdb.New(cfg.PrometheusURL, cfg.PrometheusTimeout, logger)
	if !tsdbClient.IsConfigured() {
		logger.Warn("XG_PROMETHEUS_URL не задан, графики будут пустыми")
	}
	snapshots := service.NewSnapshotProjector(tsdbClient, cfg.SnapshotStep, logger)

	// 7. Рассылка изменений графа; persister получает события первым
	router := broadcast.NewRouter(g, searchEngine, cfg.WSClientQueue, logger)
	if persister != nil {
		router.AddObserver(persister)
		persister.Start(ctx)
	}
	router.Start(ctx)

	// 8. Приём IRC-событий из NATS (необязательно)
	var (
		subscriber *ingest.Subscriber
		commands   handlers.Commander
	)
	if cfg.NATSURL != "" {
		ingestHandler := ingest.NewHandler(g, parser.New(g, logger), logger)
		subscriber = ingest.NewSubscriber(cfg.NATSURL, cfg.NATSEventsSubject, cfg.NATSCommandsSubject, ingestHandler, logger)
		if err := subscriber.Start(ctx); err != nil {
			logger.Error("Ошибка подключения к NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		commands = subscriber
	} else {
		logger.Warn("XG_NATS_URL не задан, приём IRC-событий отключён")
	}

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL + Prometheus)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		serviceID,
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL("postgres"),
		cfg.PrometheusURL,
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 10. Обработчики запросов веб-клиентов
	secret := cfg.ExpectedSecret()
	dispatcher := handlers.NewDispatcher(g, searchEngine, externalSearch, snapshots, commands, secret, logger)
	wsHandler := handlers.NewWebSocketHandler(router, dispatcher, cfg.WSAllowedOrigins, logger)
	healthHandler := handlers.NewHealthHandler(pgChecker, router)

	// 11. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, healthHandler, wsHandler,
		middleware.MetricsMiddleware(server.PathLive, server.PathReady, server.PathMetrics, cfg.WSPath),
		middleware.RequestLogger(logger),
	)
	exitCode := 0
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		exitCode = 1
	}

	// 12. Остановка фоновых задач: сначала источники событий, затем потребители
	logger.Info("Останавливаем фоновые задачи...")
	if subscriber != nil {
		subscriber.Stop()
	}
	router.Stop()
	if persister != nil {
		persister.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	g.Close()

	logger.Info("XG остановлен")
	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}
