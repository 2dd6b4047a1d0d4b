package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
	_ "github.com/metriq-io/semantic-engine/pkg/adapters/warehouse/mssql"
	_ "github.com/metriq-io/semantic-engine/pkg/adapters/warehouse/postgres"
	"github.com/metriq-io/semantic-engine/pkg/config"
	"github.com/metriq-io/semantic-engine/pkg/crypto"
	"github.com/metriq-io/semantic-engine/pkg/database"
	"github.com/metriq-io/semantic-engine/pkg/handlers"
	"github.com/metriq-io/semantic-engine/pkg/middleware"
	"github.com/metriq-io/semantic-engine/pkg/repositories"
	"github.com/metriq-io/semantic-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("bind_addr", cfg.BindAddr),
		zap.String("port", cfg.Port),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Database),
	)

	// Engine store connection pool
	ctx := context.Background()
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Migrations run over database/sql; the pgx stdlib driver shares the
	// connection settings with the pool above.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	// Credential encryptor for warehouse connection configs at rest.
	// Refusing to start without a key beats silently storing plaintext.
	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Invalid CREDENTIALS_KEY", zap.Error(err))
	}

	// Warehouse connection manager with TTL-based pool expiry
	connMgr := warehouse.NewConnectionManager(warehouse.ConnectionManagerConfig{
		TTLMinutes:   cfg.Warehouse.ConnectionTTLMinutes,
		MaxPools:     cfg.Warehouse.MaxPools,
		PoolMaxConns: cfg.Warehouse.PoolMaxConns,
		PoolMinConns: cfg.Warehouse.PoolMinConns,
	}, logger)
	defer connMgr.Close()

	adapterFactory := warehouse.NewAdapterFactory(connMgr)

	// Repositories
	connectionRepo := repositories.NewConnectionRepository(db)
	modelRepo := repositories.NewModelRepository(db)
	transformRepo := repositories.NewTransformRepository(db)

	// Services
	connectionService := services.NewConnectionService(connectionRepo, encryptor, adapterFactory, logger)
	catalogService := services.NewCatalogService(transformRepo, adapterFactory, logger)
	resolverService := services.NewResolverService(catalogService, logger)
	modelService := services.NewModelService(modelRepo, connectionService, catalogService, resolverService, logger)
	exportService := services.NewExportService(modelRepo, logger)
	previewService := services.NewPreviewService(modelRepo, connectionService, resolverService, adapterFactory, &cfg.Preview, logger)

	mux := http.NewServeMux()

	// Register handlers
	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	modelsHandler := handlers.NewModelsHandler(modelService, exportService, previewService, logger)
	modelsHandler.RegisterRoutes(mux)

	sourcesHandler := handlers.NewSourcesHandler(connectionService, catalogService, logger)
	sourcesHandler.RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
		logger.Info("Starting semantic-engine (TLS)",
			zap.String("addr", addr),
			zap.String("version", cfg.Version))
		err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		logger.Info("Starting semantic-engine",
			zap.String("addr", addr),
			zap.String("version", cfg.Version))
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// newLogger builds the process logger for the given environment. Local
// development gets the console encoder, everything else structured JSON.
func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
