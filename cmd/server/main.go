package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"season-planner/backend/internal/api"
	"season-planner/backend/internal/auth"
	"season-planner/backend/internal/config"
	"season-planner/backend/internal/logging"
	"season-planner/backend/internal/mcp"
	"season-planner/backend/internal/orchestrator"
	"season-planner/backend/internal/repository"
	"season-planner/backend/internal/services"
	seltls "season-planner/backend/internal/tls"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "season-planner",
		Short: "Season-planning workflow orchestration service",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

func run(configPath string) error {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Info("Starting Season Planning Service",
		"environment", cfg.Environment,
		"store_driver", cfg.Store.Driver,
	)

	// Workflow store
	var store repository.WorkflowStore
	var pool *pgxpool.Pool
	switch cfg.Store.Driver {
	case "memory":
		store = repository.NewMemoryWorkflowStore()
		logger.Warn("Using in-memory workflow store; workflows will not survive a restart")
	default:
		pool, err = initDatabase(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer pool.Close()

		pgStore := repository.NewPostgresWorkflowStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		store = pgStore
		logger.Info("Database connected")
	}

	// Service layer
	agentClient := services.NewHTTPAgentClient(cfg.Agents.URL)
	agents := services.AgentClients{
		Forecaster: agentClient,
		Allocator:  agentClient,
		Pricing:    agentClient,
		Extractor:  agentClient,
	}
	broadcaster := services.NewBroadcaster(cfg.Orchestrator.EventBufferSize)
	defer broadcaster.Close()
	handoffs := services.NewHandoffManager(services.HandoffConfig{
		MaxAttempts: cfg.Orchestrator.HandoffMaxAttempts,
		BaseDelay:   cfg.HandoffBaseDelay(),
		Timeout:     cfg.HandoffTimeout(),
	}, broadcaster, logger)
	variance := services.NewVarianceMonitor(cfg.Orchestrator.VarianceThresholdPct)

	orch := orchestrator.New(store, agents, handoffs, variance, broadcaster, logger)

	logger.Info("Service layer initialized")

	// Pick up workflows interrupted by the previous process.
	if err := orch.Resume(ctx); err != nil {
		logger.Error("resume of interrupted workflows failed", "error", err)
	}

	// Optional approval expiry sweeper
	sweeperCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if ttl := cfg.ApprovalTTL(); ttl > 0 {
		go runApprovalSweeper(sweeperCtx, orch, ttl, logger)
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("season-planner"))

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize auth: %w", err)
	}

	apiServer := api.NewServer(orch, store, broadcaster, agentClient, logger)
	e.GET("/healthz", apiServer.HandleHealth)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(authz.RequireAuth)
	apiServer.RegisterRoutes(apiGroup)

	logger.Info("REST API handlers mounted")

	// MCP protocol handlers
	mcpServer := mcp.NewServer(orch, store)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	addr := cfg.Server.Addr
	if cfg.TLS.Enable {
		addr = cfg.Server.TLSAddr
	}
	server := &http.Server{
		Addr:        addr,
		Handler:     e,
		ReadTimeout: 15 * time.Second,
		// Write timeout stays unset so SSE streams are not cut off.
		IdleTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				serverErrors <- fmt.Errorf("tls enabled but cert/key file not configured")
				return
			}
			if err := seltls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
				serverErrors <- fmt.Errorf("ensure tls certificate: %w", err)
				return
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())
		stopSweeper()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")
	}
	return nil
}

// runApprovalSweeper periodically expires pending approvals older than ttl.
func runApprovalSweeper(ctx context.Context, orch *orchestrator.Orchestrator, ttl time.Duration, logger *logging.Logger) {
	interval := ttl / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	logger.Info("Approval expiry sweeper running", "ttl", ttl.String(), "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			orch.SweepExpiredApprovals(ctx, ttl)
		}
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
