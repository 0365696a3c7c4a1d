// Точка входа Archiver Module — сервис архивирования плана активностей и диалогов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт клиенты pdfgen, архива и распространения, сервисный слой и API handlers,
// запускает фоновую очистку кэша превью и topologymetrics,
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/archiver-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/archiver-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/archiver-module/internal/archiveclient"
	"github.com/bigkaa/goartstore/archiver-module/internal/azure"
	"github.com/bigkaa/goartstore/archiver-module/internal/config"
	"github.com/bigkaa/goartstore/archiver-module/internal/database"
	"github.com/bigkaa/goartstore/archiver-module/internal/distclient"
	"github.com/bigkaa/goartstore/archiver-module/internal/renderclient"
	"github.com/bigkaa/goartstore/archiver-module/internal/repository"
	"github.com/bigkaa/goartstore/archiver-module/internal/server"
	"github.com/bigkaa/goartstore/archiver-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Archiver Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("AR_DEPHEALTH_GROUP") == "" {
		logger.Warn("AR_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	journalRepo := repository.NewJournalRepository(pool)
	previewRepo := repository.NewPreviewCacheRepository(pool)

	// 6. Azure AD — on-behalf-of обмен токенов для архива и распространения
	azureClient := azure.New(azure.Options{
		TokenEndpoint: cfg.AzureTokenEndpoint,
		ClientID:      cfg.AzureClientID,
		ClientSecret:  cfg.AzureClientSecret,
		CacheSize:     cfg.TokenCacheSize,
	}, nil, logger)

	// 7. Клиенты внешних систем
	renderer := renderclient.New(renderclient.Options{
		BaseURL:        cfg.RenderURL,
		Timeout:        cfg.RenderTimeout,
		ConnectTimeout: cfg.RenderConnectTimeout,
		MaxRetries:     cfg.RenderMaxRetries,
		RetryDelay:     cfg.RenderRetryDelay,
	}, logger)

	archive := archiveclient.New(archiveclient.Options{
		BaseURL: cfg.ArchiveURL,
		Scope:   cfg.ArchiveScope,
		Timeout: cfg.ArchiveTimeout,
	}, azureClient, logger)

	distributor := distclient.New(distclient.Options{
		BaseURL: cfg.DistributionURL,
		Scope:   cfg.DistributionScope,
		Timeout: cfg.DistributionTimeout,
	}, azureClient, logger)

	logger.Info("Клиенты внешних систем созданы",
		slog.String("render_url", cfg.RenderURL),
		slog.String("archive_url", cfg.ArchiveURL),
		slog.String("distribution_url", cfg.DistributionURL),
	)

	// 8. Services
	archivalSvc := service.NewArchivalService(renderer, archive, distributor, journalRepo, previewRepo, logger)
	sweeper := service.NewPreviewSweeper(previewRepo, cfg.PreviewTTL, cfg.PreviewSweepInterval, logger)

	// 9. Readiness checkers (PostgreSQL + JWKS)
	pgChecker := database.NewReadinessChecker(pool)
	jwksChecker := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSClientTimeout)
	healthHandler := handlers.NewHealthHandler(pgChecker, jwksChecker)

	// 10. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, archivalSvc, logger)

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		middleware.AuthOptions{
			Issuer:        cfg.JWTIssuer,
			Audience:      cfg.JWTAudience,
			IdentityClaim: cfg.JWTIdentityClaim,
			Leeway:        cfg.JWTLeeway,
		},
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
		slog.String("identity_claim", cfg.JWTIdentityClaim),
	)

	// 12. Запуск фоновых задач
	sweeper.Start(ctx)

	// 12.1 topologymetrics — мониторинг зависимостей (PostgreSQL + JWKS + pdfgen)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"archiver-module",
		cfg.DephealthGroup,
		service.DependencyTargets{
			DB:          pgDB,
			PostgresURL: cfg.DatabaseURL(),
			JWKSURL:     cfg.JWTJWKSURL,
			RendererURL: cfg.RenderURL,
		},
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	sweeper.Stop()

	logger.Info("Archiver Module остановлен")
}
