// Castor server — account-driven auto-publish core. Hosts the HTTP API,
// trigger evaluation, monitor pollers, the pipeline worker pool, and the
// publish scheduler.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/castorhq/castor/pkg/api"
	"github.com/castorhq/castor/pkg/cleanup"
	"github.com/castorhq/castor/pkg/config"
	"github.com/castorhq/castor/pkg/database"
	"github.com/castorhq/castor/pkg/events"
	"github.com/castorhq/castor/pkg/monitor"
	"github.com/castorhq/castor/pkg/pipeline"
	"github.com/castorhq/castor/pkg/publish"
	"github.com/castorhq/castor/pkg/queue"
	"github.com/castorhq/castor/pkg/services"
	castorslack "github.com/castorhq/castor/pkg/slack"
	"github.com/castorhq/castor/pkg/transport"
	"github.com/castorhq/castor/pkg/trigger"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

// buildTransport selects the upload transport per config.
func buildTransport(cfg *config.TransportConfig) (transport.Transport, error) {
	if cfg.Mode == "mock" {
		slog.Warn("Using mock upload transport — uploads will not reach any platform")
		return transport.NewMockTransport(), nil
	}
	return transport.NewGRPCTransport(cfg)
}

// buildSlack constructs the notification service, or nil when disabled or
// unconfigured.
func buildSlack(cfg *config.SystemConfig) *castorslack.Service {
	sc := cfg.Slack
	if sc == nil || (sc.Enabled != nil && !*sc.Enabled) {
		return nil
	}
	tokenEnv := sc.TokenEnv
	if tokenEnv == "" {
		tokenEnv = "SLACK_BOT_TOKEN"
	}
	return castorslack.NewService(castorslack.ServiceConfig{
		Token:        os.Getenv(tokenEnv),
		Channel:      sc.Channel,
		DashboardURL: cfg.DashboardURL,
	})
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := resolvePodID()

	slog.Info("Starting Castor",
		"http_port", httpPort,
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Domain services
	accountService := services.NewAccountService(dbClient.Client)
	groupService := services.NewGroupService(dbClient.Client)
	configService := services.NewConfigService(dbClient.Client)
	slotService := services.NewSlotService(dbClient.Client, groupService)
	strategyService := services.NewStrategyService(dbClient.Client)
	monitorService := services.NewMonitorService(dbClient.Client)
	pipelineService := services.NewPipelineService(dbClient.Client)
	taskService := services.NewTaskService(dbClient.Client, slotService, configService)
	publishService := services.NewPublishService(dbClient.Client)
	overviewService := services.NewOverviewService(dbClient.Client, publishService)
	slog.Info("Services initialized")

	// 4. Upload transport and notifications
	uploadTransport, err := buildTransport(cfg.Transport)
	if err != nil {
		slog.Error("Failed to initialize upload transport", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := uploadTransport.Close(); err != nil {
			slog.Error("Error closing upload transport", "error", err)
		}
	}()
	slog.Info("Upload transport initialized", "mode", cfg.Transport.Mode)

	slackService := buildSlack(cfg.System)
	if slackService != nil {
		slog.Info("Slack notifications enabled", "channel", cfg.System.Slack.Channel)
	}

	// 5. Publish scheduler and queue-change events
	publishScheduler := publish.NewScheduler(cfg.Publisher, publishService, uploadTransport, slackService)
	if err := publishScheduler.Start(ctx); err != nil {
		slog.Error("Failed to start publish scheduler", "error", err)
		os.Exit(1)
	}

	eventPublisher := events.NewPublisher(dbClient.DB())
	notifyListener := events.NewNotifyListener(dbConfig.DSN(), func(_ []byte) {
		publishScheduler.Wake()
	})
	if err := notifyListener.Start(ctx); err != nil {
		slog.Error("Failed to start NOTIFY listener", "error", err)
		os.Exit(1)
	}
	defer notifyListener.Stop(ctx)

	// 6. Pipeline registry and task executor
	registry := pipeline.NewRegistry(pipelineService)
	httpInvoker := pipeline.NewHTTPInvoker()
	for _, tag := range strings.Split(getEnv("HTTP_PIPELINE_TYPE_TAGS", "http"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			registry.RegisterInvoker(tag, httpInvoker)
		}
	}

	executor := queue.NewRealTaskExecutor(
		cfg.Executor, registry, configService, groupService, strategyService,
		taskService, slotService, publishService, publishScheduler, slackService)

	// 7. One-time startup recovery of tasks orphaned by a previous crash
	if err := queue.CleanupStartupTasks(ctx, dbClient.Client, podID, executor.RecoverStale); err != nil {
		slog.Error("Startup task cleanup failed", "error", err)
		// Non-fatal — the stale scanner covers the remainder
	}

	// 8. Worker pool (before HTTP server)
	workerPool := queue.NewWorkerPool(podID, dbClient.Client, cfg.Executor, executor)
	workerPool.SetStaleRecovery(executor.RecoverStale)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 9. Trigger evaluator, monitor runner, retention cleanup
	evaluator := trigger.NewEvaluator(cfg.Trigger, configService, taskService)
	evaluator.Start(ctx)

	feedSource := monitor.NewHTTPSource(getEnv("MONITOR_FEED_URL", "http://localhost:8090"))
	monitorRunner := monitor.NewRunner(feedSource, monitorService, configService, taskService)
	if err := monitorRunner.Start(ctx); err != nil {
		slog.Error("Failed to start monitor runner", "error", err)
		os.Exit(1)
	}

	cleanupService := cleanup.NewService(cfg.Retention, taskService, monitorService)
	cleanupService.Start(ctx)

	// 10. HTTP server
	httpServer := api.NewServer(api.Deps{
		DB:            dbClient,
		Pipelines:     pipelineService,
		Accounts:      accountService,
		Groups:        groupService,
		Configs:       configService,
		Slots:         slotService,
		Strategies:    strategyService,
		Monitors:      monitorService,
		Tasks:         taskService,
		Publishes:     publishService,
		Overview:      overviewService,
		Pool:          workerPool,
		Scheduler:     publishScheduler,
		MonitorRunner: monitorRunner,
		Events:        eventPublisher,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Castor started successfully",
		"pod_id", podID,
		"workers", cfg.Executor.WorkerCount)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: stop producers first, then the pools, then HTTP
	evaluator.Stop()
	monitorRunner.Stop()
	cleanupService.Stop()

	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Executor.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — incomplete tasks will be stale-recovered")
	}

	publishScheduler.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
