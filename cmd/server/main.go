package main

import (
	"context"
	"errors"
	"fmt"
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

	"stepgate/backend/internal/api"
	"stepgate/backend/internal/auth"
	"stepgate/backend/internal/config"
	"stepgate/backend/internal/engine"
	"stepgate/backend/internal/executor"
	"stepgate/backend/internal/judges"
	"stepgate/backend/internal/llm"
	"stepgate/backend/internal/logging"
	"stepgate/backend/internal/mcp"
	"stepgate/backend/internal/messaging"
	"stepgate/backend/internal/planner"
	"stepgate/backend/internal/registry"
	"stepgate/backend/internal/repository"
	"stepgate/backend/internal/services"
	"stepgate/backend/internal/tls"
	"stepgate/backend/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "stepgate-server",
		Short:         "Run the supervised workflow execution service",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (default: config.yaml in . or ./config)")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	logger := logging.NewLogger(cfg.Log.Level)
	logger.Info("Starting stepgate",
		"version", api.Version,
		"environment", cfg.Environment,
		"db", cfg.DB.Enabled,
		"judges", cfg.Judges.Enabled,
		"planner", cfg.Planner.Enabled,
		"gate_policy", cfg.Engine.GatePolicy,
	)

	// Registry, optionally backed by Postgres
	var regOpts []registry.Option
	regOpts = append(regOpts, registry.WithLogger(logger))
	var dbPool *pgxpool.Pool
	if cfg.DB.Enabled {
		dbPool, err = initDatabase(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("database initialization failed: %w", err)
		}
		defer dbPool.Close()

		store := repository.NewPostgresWorkflowStore(dbPool)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare schema: %w", err)
		}
		regOpts = append(regOpts, registry.WithStore(store))
	}
	reg := registry.New(regOpts...)
	if cfg.DB.Enabled {
		restored, err := reg.Restore(ctx)
		if err != nil {
			return fmt.Errorf("failed to restore workflows: %w", err)
		}
		logger.Info("Workflows restored", "count", restored)
	}

	gate, err := newGate(cfg, logger)
	if err != nil {
		return err
	}

	var plan services.Planner
	if cfg.Planner.Enabled {
		client, err := llm.NewClient(llm.Config{APIKey: cfg.Planner.APIKey, BaseURL: cfg.Planner.BaseURL, Model: cfg.Planner.Model})
		if err != nil {
			return fmt.Errorf("planner initialization failed: %w", err)
		}
		plan = planner.NewOpenAIPlanner(client)
	}

	exec := executor.NewPTYExecutor(cfg.Executor.Shell, cfg.Executor.WorkDir, cfg.Executor.MaxOutputBytes)

	// Messaging. Control handlers close over svc, which is set below.
	var svc *services.AutomationService
	control := func(ctx context.Context, req models.ControlRequest) (bool, error) {
		return svc.HandleWorkflowControl(ctx, req)
	}
	hub := messaging.NewHub(logger)
	hub.SetControlHandler(control)
	messengers := messaging.Fanout{hub}
	if cfg.Telegram.Token != "" {
		notifier, err := messaging.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, control, logger)
		if err != nil {
			return fmt.Errorf("telegram initialization failed: %w", err)
		}
		messengers = append(messengers, notifier)
		go notifier.Start(ctx)
		logger.Info("Telegram notifications enabled", "chat_id", cfg.Telegram.ChatID)
	}

	eng := engine.New(reg, gate, exec, messengers,
		engine.WithStepDelay(cfg.Engine.StepDelay),
		engine.WithStepDeadlines(cfg.Engine.EnforceStepTimeout),
		engine.WithLogger(logger),
	)
	svc = services.NewAutomationService(reg, eng, plan, logger)

	logger.Info("Service layer initialized")

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(otelecho.Middleware("stepgate"))

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}
	requireAuth := echo.WrapMiddleware(authz.RequireAuth)

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiHandler := api.NewHandler(svc, hub, logger)
	apiHandler.SetCheck("store", enabled(cfg.DB.Enabled))
	apiHandler.SetCheck("judges", enabled(gate.Enabled()))
	apiHandler.SetCheck("planner", enabled(plan != nil))
	e.GET("/healthz", apiHandler.HandleHealth)

	apiGroup := e.Group("/api/v1", requireAuth)
	api.RegisterHandlers(apiGroup, apiHandler)

	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(svc, api.Version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers), requireAuth)

	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", api.SpecHandler(cfg.Auth.OIDCIssuer))
	e.GET("/docs", api.SwaggerHandler(cfg.Auth.OIDCIssuer, cfg.Auth.ClientID))
	e.GET("/docs/oauth2-redirect.html", api.OAuthRedirectHandler)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			created, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				serverErrors <- err
				return
			}
			if created {
				logger.Warn("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Engine shutdown incomplete", "error", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func newGate(cfg *config.Config, logger *logging.Logger) (*judges.Gate, error) {
	policy, err := judges.ParsePolicy(cfg.Engine.GatePolicy)
	if err != nil {
		return nil, err
	}
	opts := []judges.Option{
		judges.WithTimeout(cfg.Engine.JudgeTimeout),
		judges.WithPolicy(policy),
		judges.WithLogger(logger),
	}
	if !cfg.Judges.Enabled {
		logger.Warn("Safety judges disabled; every step proceeds to approval unreviewed")
		return judges.NewGate(nil, nil, opts...), nil
	}

	workflowClient, err := llm.NewClient(llm.Config{APIKey: cfg.Judges.APIKey, BaseURL: cfg.Judges.BaseURL, Model: cfg.Judges.WorkflowModel})
	if err != nil {
		return nil, fmt.Errorf("workflow judge initialization failed: %w", err)
	}
	securityClient, err := llm.NewClient(llm.Config{APIKey: cfg.Judges.APIKey, BaseURL: cfg.Judges.BaseURL, Model: cfg.Judges.SecurityModel})
	if err != nil {
		return nil, fmt.Errorf("security judge initialization failed: %w", err)
	}
	return judges.NewGate(
		judges.NewOpenAIJudge(judges.KindWorkflow, workflowClient),
		judges.NewOpenAIJudge(judges.KindSecurity, securityClient),
		opts...,
	), nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
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

	logger.Info("Database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)
	return pool, nil
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
