// Пакет database — хранилище состояния XG в PostgreSQL: пул pgx,
// встроенные миграции схемы объектного графа и проверка готовности
// для /health/ready.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahwar/xdcc-grabscher/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// maxConns — в базу пишет только persister, читает только восстановление
	// при старте и проверка готовности.
	maxConns = 4
	// readyTimeout — предел одной проверки готовности.
	readyTimeout = 3 * time.Second
	// migrationsTable — таблица версий golang-migrate.
	migrationsTable = "schema_migrations"
)

// ErrDirtySchema — предыдущая миграция прервана, схема требует ручного исправления.
var ErrDirtySchema = errors.New("схема БД в состоянии dirty")

// Tables — таблицы объектного графа, создаваемые миграциями.
var Tables = []string{"servers", "channels", "bots", "packets", "files", "searches"}

// Connect открывает пул к базе состояния и проверяет её доступность.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("разбор DSN: %w", err)
	}
	poolCfg.MaxConns = maxConns
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "xg-server"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("создание пула: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL %s:%d недоступен: %w", cfg.DBHost, cfg.DBPort, err)
	}

	logger.Info("Хранилище состояния подключено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", maxConns),
	)
	return pool, nil
}

// Migrate доводит схему до последней встроенной версии и возвращает её.
// Схема в состоянии dirty не трогается: возвращается ErrDirtySchema.
func Migrate(cfg *config.Config, logger *slog.Logger) (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("источник миграций: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.DatabaseURL("pgx5"))
	if err != nil {
		return 0, fmt.Errorf("инициализация миграций: %w", err)
	}
	defer m.Close()

	before, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("чтение версии схемы: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return 0, fmt.Errorf("версия %d: %w", dirty.Version, ErrDirtySchema)
		}
		return 0, fmt.Errorf("применение миграций: %w", err)
	}

	after, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("чтение версии схемы: %w", err)
	}
	if after != before {
		logger.Info("Схема БД обновлена", slog.Uint64("from", uint64(before)), slog.Uint64("to", uint64(after)))
	} else {
		logger.Debug("Схема БД актуальна", slog.Uint64("version", uint64(after)))
	}
	return after, nil
}

// ReadinessChecker проверяет, что база отвечает и схема не испорчена.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности хранилища.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady реализует handlers.ReadinessChecker.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	var (
		version int64
		dirty   bool
	)
	err := c.pool.QueryRow(ctx, "SELECT version, dirty FROM "+migrationsTable+" LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	if dirty {
		return "fail", fmt.Sprintf("схема v%d в состоянии dirty", version)
	}
	return "ok", fmt.Sprintf("схема v%d", version)
}
