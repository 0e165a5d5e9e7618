package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/ekaya-inc/ledger-engine/pkg/auth"
	"github.com/ekaya-inc/ledger-engine/pkg/config"
	"github.com/ekaya-inc/ledger-engine/pkg/database"
	"github.com/ekaya-inc/ledger-engine/pkg/handlers"
	"github.com/ekaya-inc/ledger-engine/pkg/middleware"
	"github.com/ekaya-inc/ledger-engine/pkg/repositories"
	"github.com/ekaya-inc/ledger-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.Int("audited_entity_types", len(cfg.Capture.EntityTypes)))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MinConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	// Repositories
	ledgerRepo := repositories.NewLedgerRepository()
	entityRepo := repositories.NewEntityRepository()
	allocator := repositories.NewVersionAllocator()

	// Services
	registry := services.NewRegistry(cfg.Capture.EntityTypes)
	txRunner := database.NewTxRunner(cfg.Capture.LockTimeout())
	access := auth.NewClaimsAccessChecker()
	captureService := services.NewCaptureService(registry, allocator, ledgerRepo, logger)
	entityService := services.NewEntityService(entityRepo, captureService, txRunner, logger)
	ledgerService := services.NewLedgerService(ledgerRepo, access, logger)
	rollbackService := services.NewRollbackService(ledgerRepo, entityRepo, entityService, registry, access, logger)

	// HTTP surface
	authMiddleware := auth.NewMiddleware(cfg.Auth, logger)
	tenantMiddleware := handlers.TenantMiddleware(
		middleware.TenantScope(database.NewTenantScopeProvider(db), logger))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg).RegisterRoutes(mux)
	handlers.NewLedgerHandler(ledgerService, rollbackService, cfg, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewEntityHandler(entityService, access, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting ledger-engine", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
