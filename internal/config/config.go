// Пакет config — загрузка и валидация конфигурации Archiver Module
// из переменных окружения.
package config

import (
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

// Config содержит все параметры конфигурации Archiver Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут чтения запроса
	HTTPReadTimeout time.Duration
	// Таймаут записи ответа (должен покрывать рендеринг + архивирование)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя keep-alive соединения
	HTTPIdleTimeout time.Duration

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Renderer (pdfgen) ---

	// Базовый URL сервиса рендеринга
	RenderURL string
	// Таймаут одного запроса рендеринга
	RenderTimeout time.Duration
	// Таймаут установки TCP-соединения
	RenderConnectTimeout time.Duration
	// Количество повторов при сетевой ошибке или 5xx
	RenderMaxRetries int
	// Пауза между повторами
	RenderRetryDelay time.Duration

	// --- Archive (journalpost API) ---

	// Базовый URL системы архивирования
	ArchiveURL string
	// OAuth scope для on-behalf-of обмена токена
	ArchiveScope string
	// Таймаут запроса создания записи
	ArchiveTimeout time.Duration

	// --- Distribution ---

	// Базовый URL сервиса распространения
	DistributionURL string
	// OAuth scope для on-behalf-of обмена токена
	DistributionScope string
	// Таймаут запроса распространения
	DistributionTimeout time.Duration

	// --- Azure AD (выпуск токенов) ---

	// Client ID приложения
	AzureClientID string
	// Client Secret приложения
	AzureClientSecret string
	// Token endpoint (https://login.microsoftonline.com/<tenant>/oauth2/v2.0/token)
	AzureTokenEndpoint string
	// Размер LRU-кэша on-behalf-of токенов
	TokenCacheSize int

	// --- JWT (входящие токены) ---

	// URL JWKS endpoint
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Ожидаемая audience (пусто — не проверяется)
	JWTAudience string
	// Claim с идентификатором сотрудника
	JWTIdentityClaim string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS (загрузка ключей и readiness)
	JWKSClientTimeout time.Duration

	// --- Preview cache ---

	// Время жизни кэшированного превью
	PreviewTTL time.Duration
	// Интервал фоновой очистки устаревших превью
	PreviewSweepInterval time.Duration

	// --- topologymetrics ---

	// Группа сервиса в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// AR_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("AR_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("AR_PORT: %w", err)
	}
	if cfg.Port < 8040 || cfg.Port > 8049 {
		return nil, fmt.Errorf("AR_PORT: значение %d вне допустимого диапазона 8040-8049", cfg.Port)
	}

	// AR_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AR_LOG_LEVEL: %w", err)
	}

	// AR_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("AR_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("AR_HTTP_WRITE_TIMEOUT", 3*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AR_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("AR_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("AR_DB_HOST"); err != nil {
		return nil, err
	}

	// AR_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("AR_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("AR_DB_PORT: %w", err)
	}

	if cfg.DBName, err = getEnvRequired("AR_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("AR_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("AR_DB_PASSWORD"); err != nil {
		return nil, err
	}

	// AR_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("AR_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("AR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Renderer ---

	if cfg.RenderURL, err = getEnvURL("AR_RENDER_URL"); err != nil {
		return nil, err
	}
	cfg.RenderTimeout, err = getEnvDuration("AR_RENDER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_RENDER_TIMEOUT: %w", err)
	}
	cfg.RenderConnectTimeout, err = getEnvDuration("AR_RENDER_CONNECT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_RENDER_CONNECT_TIMEOUT: %w", err)
	}

	// AR_RENDER_MAX_RETRIES — число повторов (по умолчанию 2, т.е. до 3 попыток)
	cfg.RenderMaxRetries, err = getEnvInt("AR_RENDER_MAX_RETRIES", 2)
	if err != nil {
		return nil, fmt.Errorf("AR_RENDER_MAX_RETRIES: %w", err)
	}
	if cfg.RenderMaxRetries < 0 || cfg.RenderMaxRetries > 10 {
		return nil, fmt.Errorf("AR_RENDER_MAX_RETRIES: значение %d вне допустимого диапазона 0-10", cfg.RenderMaxRetries)
	}
	cfg.RenderRetryDelay, err = getEnvDuration("AR_RENDER_RETRY_DELAY", 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("AR_RENDER_RETRY_DELAY: %w", err)
	}

	// --- Archive ---

	if cfg.ArchiveURL, err = getEnvURL("AR_ARCHIVE_URL"); err != nil {
		return nil, err
	}
	if cfg.ArchiveScope, err = getEnvRequired("AR_ARCHIVE_SCOPE"); err != nil {
		return nil, err
	}
	cfg.ArchiveTimeout, err = getEnvDuration("AR_ARCHIVE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_ARCHIVE_TIMEOUT: %w", err)
	}

	// --- Distribution ---

	if cfg.DistributionURL, err = getEnvURL("AR_DISTRIBUTION_URL"); err != nil {
		return nil, err
	}
	if cfg.DistributionScope, err = getEnvRequired("AR_DISTRIBUTION_SCOPE"); err != nil {
		return nil, err
	}
	cfg.DistributionTimeout, err = getEnvDuration("AR_DISTRIBUTION_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_DISTRIBUTION_TIMEOUT: %w", err)
	}

	// --- Azure AD ---

	if cfg.AzureClientID, err = getEnvRequired("AR_AZURE_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.AzureClientSecret, err = getEnvRequired("AR_AZURE_CLIENT_SECRET"); err != nil {
		return nil, err
	}
	if cfg.AzureTokenEndpoint, err = getEnvURL("AR_AZURE_TOKEN_ENDPOINT"); err != nil {
		return nil, err
	}

	// AR_TOKEN_CACHE_SIZE — размер кэша OBO-токенов (по умолчанию 1000)
	cfg.TokenCacheSize, err = getEnvInt("AR_TOKEN_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("AR_TOKEN_CACHE_SIZE: %w", err)
	}
	if cfg.TokenCacheSize < 1 || cfg.TokenCacheSize > 100000 {
		return nil, fmt.Errorf("AR_TOKEN_CACHE_SIZE: значение %d вне допустимого диапазона 1-100000", cfg.TokenCacheSize)
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvURL("AR_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("AR_JWT_ISSUER", "")
	cfg.JWTAudience = getEnvDefault("AR_JWT_AUDIENCE", "")

	// AR_JWT_IDENTITY_CLAIM — claim идентификатора сотрудника (по умолчанию NAVident)
	cfg.JWTIdentityClaim = getEnvDefault("AR_JWT_IDENTITY_CLAIM", "NAVident")

	cfg.JWTLeeway, err = getEnvDuration("AR_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("AR_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AR_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("AR_JWKS_CLIENT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// --- Preview cache ---

	// AR_PREVIEW_TTL — время жизни превью (по умолчанию 5m)
	cfg.PreviewTTL, err = getEnvDuration("AR_PREVIEW_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AR_PREVIEW_TTL: %w", err)
	}
	if cfg.PreviewTTL <= 0 {
		return nil, fmt.Errorf("AR_PREVIEW_TTL: значение должно быть положительным")
	}

	// AR_PREVIEW_SWEEP_INTERVAL — интервал очистки (по умолчанию 1m)
	cfg.PreviewSweepInterval, err = getEnvDuration("AR_PREVIEW_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AR_PREVIEW_SWEEP_INTERVAL: %w", err)
	}
	if cfg.PreviewSweepInterval <= 0 {
		return nil, fmt.Errorf("AR_PREVIEW_SWEEP_INTERVAL: значение должно быть положительным")
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("AR_DEPHEALTH_GROUP", "goartstore")
	cfg.DephealthCheckInterval, err = getEnvDuration("AR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// AR_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("AR_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля — для лейблов topologymetrics.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
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

// getEnvURL возвращает обязательный абсолютный http(s) URL без trailing slash.
func getEnvURL(key string) (string, error) {
	val, err := getEnvRequired(key)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(val)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%s: некорректный URL %q", key, val)
	}
	return strings.TrimRight(val, "/"), nil
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
