// Пакет config — загрузка и валидация конфигурации XG-сервера
// из переменных окружения (префикс XG_).
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации XG-сервера.
type Config struct {
	// --- Сервер ---

	// Порт HTTP/websocket-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Доступ клиентов ---

	// Пароль веб-клиента (в открытом виде)
	Password string
	// Соль; клиент присылает hex(sha256(salt+password+salt))
	PasswordSalt string

	// --- Websocket ---

	WSPath           string
	WSAllowedOrigins []string
	// Ёмкость очереди сообщений одного клиента
	WSClientQueue int
	// Ёмкость канала событий графа
	EventBuffer int
	// Максимум хранимых уведомлений
	NotificationLimit int

	// --- PostgreSQL (необязательно) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Интервал сброса изменений графа в БД
	PersistInterval time.Duration

	// --- Prometheus (хранилище рядов для графиков) ---

	PrometheusURL     string
	PrometheusTimeout time.Duration
	SnapshotStep      time.Duration

	// --- Внешний каталог ---

	ExternalSearchURL      string
	ExternalSearchPageSize int
	ExternalSearchTimeout  time.Duration
	SearchCacheSize        int
	SearchCacheTTL         time.Duration

	// --- NATS (события IRC-стороны) ---

	NATSURL             string
	NATSEventsSubject   string
	NATSCommandsSubject string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку с именем переменной, если значение некорректно.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("XG_PORT", 5556)
	if err != nil {
		return nil, fmt.Errorf("XG_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("XG_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("XG_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("XG_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("XG_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("XG_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	if cfg.HTTPReadTimeout, err = getEnvDuration("XG_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("XG_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("XG_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("XG_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("XG_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("XG_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("XG_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("XG_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Доступ клиентов ---

	cfg.Password, err = getEnvRequired("XG_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.PasswordSalt = os.Getenv("XG_PASSWORD_SALT")

	// --- Websocket ---

	cfg.WSPath = getEnvDefault("XG_WS_PATH", "/ws")
	if !strings.HasPrefix(cfg.WSPath, "/") {
		return nil, fmt.Errorf("XG_WS_PATH: путь должен начинаться с '/': %q", cfg.WSPath)
	}
	cfg.WSAllowedOrigins = parseCSV(os.Getenv("XG_WS_ALLOWED_ORIGINS"))

	if cfg.WSClientQueue, err = getEnvPositiveInt("XG_WS_CLIENT_QUEUE", 1024); err != nil {
		return nil, fmt.Errorf("XG_WS_CLIENT_QUEUE: %w", err)
	}
	if cfg.EventBuffer, err = getEnvPositiveInt("XG_EVENT_BUFFER", 4096); err != nil {
		return nil, fmt.Errorf("XG_EVENT_BUFFER: %w", err)
	}
	if cfg.NotificationLimit, err = getEnvPositiveInt("XG_NOTIFICATION_LIMIT", 1000); err != nil {
		return nil, fmt.Errorf("XG_NOTIFICATION_LIMIT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = os.Getenv("XG_DB_HOST")
	if cfg.DBPort, err = getEnvInt("XG_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("XG_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("XG_DB_NAME", "xg")
	cfg.DBUser = getEnvDefault("XG_DB_USER", "xg")
	cfg.DBPassword = os.Getenv("XG_DB_PASSWORD")
	cfg.DBSSLMode = getEnvDefault("XG_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("XG_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	if cfg.PersistInterval, err = getEnvPositiveDuration("XG_PERSIST_INTERVAL", 5*time.Second); err != nil {
		return nil, fmt.Errorf("XG_PERSIST_INTERVAL: %w", err)
	}

	// --- Prometheus ---

	cfg.PrometheusURL = strings.TrimRight(os.Getenv("XG_PROMETHEUS_URL"), "/")
	if cfg.PrometheusURL != "" {
		if err := validateURL(cfg.PrometheusURL); err != nil {
			return nil, fmt.Errorf("XG_PROMETHEUS_URL: %w", err)
		}
	}
	if cfg.PrometheusTimeout, err = getEnvPositiveDuration("XG_PROMETHEUS_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("XG_PROMETHEUS_TIMEOUT: %w", err)
	}
	if cfg.SnapshotStep, err = getEnvPositiveDuration("XG_SNAPSHOT_STEP", time.Minute); err != nil {
		return nil, fmt.Errorf("XG_SNAPSHOT_STEP: %w", err)
	}

	// --- Внешний каталог ---

	cfg.ExternalSearchURL = getEnvDefault("XG_EXTERNAL_SEARCH_URL", "http://xg.bitpir.at/index.php")
	if err := validateURL(cfg.ExternalSearchURL); err != nil {
		return nil, fmt.Errorf("XG_EXTERNAL_SEARCH_URL: %w", err)
	}
	if cfg.ExternalSearchPageSize, err = getEnvPositiveInt("XG_EXTERNAL_SEARCH_PAGE_SIZE", 25); err != nil {
		return nil, fmt.Errorf("XG_EXTERNAL_SEARCH_PAGE_SIZE: %w", err)
	}
	if cfg.ExternalSearchTimeout, err = getEnvPositiveDuration("XG_EXTERNAL_SEARCH_TIMEOUT", 15*time.Second); err != nil {
		return nil, fmt.Errorf("XG_EXTERNAL_SEARCH_TIMEOUT: %w", err)
	}
	if cfg.SearchCacheSize, err = getEnvPositiveInt("XG_SEARCH_CACHE_SIZE", 256); err != nil {
		return nil, fmt.Errorf("XG_SEARCH_CACHE_SIZE: %w", err)
	}
	if cfg.SearchCacheTTL, err = getEnvPositiveDuration("XG_SEARCH_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("XG_SEARCH_CACHE_TTL: %w", err)
	}

	// --- NATS ---

	cfg.NATSURL = os.Getenv("XG_NATS_URL")
	cfg.NATSEventsSubject = getEnvDefault("XG_NATS_EVENTS_SUBJECT", "xg.irc.events")
	cfg.NATSCommandsSubject = getEnvDefault("XG_NATS_COMMANDS_SUBJECT", "xg.irc.commands")

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("XG_DEPHEALTH_GROUP", "xg")
	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("XG_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("XG_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	if cfg.DephealthIsEntry, err = getEnvBool("XG_DEPHEALTH_ISENTRY", false); err != nil {
		return nil, fmt.Errorf("XG_DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseEnabled сообщает, настроено ли хранение в PostgreSQL.
func (c *Config) DatabaseEnabled() bool {
	return c.DBHost != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения (для golang-migrate и меток dephealth).
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// ExpectedSecret возвращает секрет, который должен присылать клиент.
func (c *Config) ExpectedSecret() string {
	sum := sha256.Sum256([]byte(c.PasswordSalt + c.Password + c.PasswordSalt))
	return hex.EncodeToString(sum[:])
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvPositiveInt — getEnvInt со значением > 0.
func getEnvPositiveInt(key string, defaultVal int) (int, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration со значением > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// validateURL проверяет, что значение — абсолютный http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ожидается схема http или https: %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("в URL не указан хост: %q", raw)
	}
	return nil
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пустые элементы пропускаются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
