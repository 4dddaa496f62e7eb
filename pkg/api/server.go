// Package api implements the HTTP control surface: CRUD for pipelines,
// accounts, groups, configs, strategies and monitors, task and publish
// queue management, executor control, and the health/metrics endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/castorhq/castor/pkg/database"
	"github.com/castorhq/castor/pkg/events"
	"github.com/castorhq/castor/pkg/monitor"
	"github.com/castorhq/castor/pkg/publish"
	"github.com/castorhq/castor/pkg/queue"
	"github.com/castorhq/castor/pkg/services"
	"github.com/castorhq/castor/pkg/version"
)

// Deps collects everything the HTTP layer talks to. Background components
// (pool, scheduler, monitor runner, events) may be nil in tests; handlers
// that need them degrade to their store-only behavior.
type Deps struct {
	DB            *database.Client
	Pipelines     *services.PipelineService
	Accounts      *services.AccountService
	Groups        *services.GroupService
	Configs       *services.ConfigService
	Slots         *services.SlotService
	Strategies    *services.StrategyService
	Monitors      *services.MonitorService
	Tasks         *services.TaskService
	Publishes     *services.PublishService
	Overview      *services.OverviewService
	Pool          *queue.WorkerPool
	Scheduler     *publish.Scheduler
	MonitorRunner *monitor.Runner
	Events        *events.Publisher
}

// Server is the HTTP API server.
type Server struct {
	db            *database.Client
	pipelines     *services.PipelineService
	accounts      *services.AccountService
	groups        *services.GroupService
	configs       *services.ConfigService
	slots         *services.SlotService
	strategies    *services.StrategyService
	monitors      *services.MonitorService
	tasks         *services.TaskService
	publishes     *services.PublishService
	overview      *services.OverviewService
	pool          *queue.WorkerPool
	scheduler     *publish.Scheduler
	monitorRunner *monitor.Runner
	events        *events.Publisher

	echo       *echo.Echo
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		db:            deps.DB,
		pipelines:     deps.Pipelines,
		accounts:      deps.Accounts,
		groups:        deps.Groups,
		configs:       deps.Configs,
		slots:         deps.Slots,
		strategies:    deps.Strategies,
		monitors:      deps.Monitors,
		tasks:         deps.Tasks,
		publishes:     deps.Publishes,
		overview:      deps.Overview,
		pool:          deps.Pool,
		scheduler:     deps.Scheduler,
		monitorRunner: deps.MonitorRunner,
		events:        deps.Events,
		logger:        slog.Default().With("component", "api"),
	}

	e := echo.New()
	e.HTTPErrorHandler = httpErrorHandler
	e.Use(securityHeaders())
	e.Use(requestLogger())
	s.registerRoutes(e)
	s.echo = e
	return s
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/health", s.healthHandler)
	e.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	v1 := e.Group("/api/v1")

	v1.POST("/pipelines", s.registerPipelineHandler)
	v1.GET("/pipelines", s.listPipelinesHandler)
	v1.GET("/pipelines/:id", s.getPipelineHandler)
	v1.PUT("/pipelines/:id", s.updatePipelineHandler)
	v1.DELETE("/pipelines/:id", s.deletePipelineHandler)

	v1.POST("/accounts", s.createAccountHandler)
	v1.GET("/accounts", s.listAccountsHandler)
	v1.PUT("/accounts/:id", s.updateAccountHandler)

	v1.POST("/account-groups", s.createGroupHandler)
	v1.GET("/account-groups", s.listGroupsHandler)
	v1.GET("/account-groups/:id", s.getGroupHandler)
	v1.PUT("/account-groups/:id", s.updateGroupHandler)
	v1.DELETE("/account-groups/:id", s.deleteGroupHandler)
	v1.POST("/account-groups/:id/members", s.addGroupMembersHandler)
	v1.DELETE("/account-groups/:id/members/:accountID", s.removeGroupMemberHandler)

	v1.POST("/publish-configs", s.createConfigHandler)
	v1.GET("/publish-configs", s.listConfigsHandler)
	v1.GET("/publish-configs/:id", s.getConfigHandler)
	v1.PUT("/publish-configs/:id", s.updateConfigHandler)
	v1.DELETE("/publish-configs/:id", s.deleteConfigHandler)
	v1.POST("/publish-configs/:id/toggle", s.toggleConfigHandler)
	v1.GET("/publish-configs/:id/next-fire", s.nextFireHandler)

	v1.POST("/schedule/generate-slots", s.generateSlotsHandler)
	v1.GET("/schedule/slots", s.listSlotsHandler)

	v1.POST("/strategies", s.createStrategyHandler)
	v1.GET("/strategies", s.listStrategiesHandler)
	v1.GET("/strategies/:id", s.getStrategyHandler)
	v1.PUT("/strategies/:id", s.updateStrategyHandler)
	v1.DELETE("/strategies/:id", s.deleteStrategyHandler)
	v1.POST("/strategies/:id/assignments", s.addAssignmentHandler)
	v1.GET("/strategies/:id/assignments", s.listAssignmentsHandler)
	v1.DELETE("/strategies/:id/assignments/:assignmentID", s.removeAssignmentHandler)

	v1.POST("/monitors", s.createMonitorHandler)
	v1.GET("/monitors", s.listMonitorsHandler)
	v1.GET("/monitors/:id", s.getMonitorHandler)
	v1.PUT("/monitors/:id", s.updateMonitorHandler)
	v1.DELETE("/monitors/:id", s.deleteMonitorHandler)
	v1.POST("/monitors/:id/start", s.startMonitorHandler)
	v1.POST("/monitors/:id/stop", s.stopMonitorHandler)

	v1.GET("/auto-publish/tasks", s.listTasksHandler)
	v1.GET("/auto-publish/tasks/:id", s.getTaskHandler)
	v1.POST("/auto-publish/tasks/:id/retry", s.retryTaskHandler)
	v1.POST("/auto-publish/tasks/:id/cancel", s.cancelTaskHandler)

	v1.POST("/publish/schedule", s.schedulePublishHandler)
	v1.GET("/publish/tasks", s.listPublishesHandler)
	v1.GET("/publish/scheduler/queue", s.schedulerQueueHandler)
	v1.DELETE("/publish/scheduler/:publishID", s.cancelPublishHandler)
	v1.POST("/publish/scheduler/reschedule/:publishID", s.reschedulePublishHandler)
	v1.POST("/publish/tasks/:id/retry", s.retryPublishHandler)

	v1.POST("/executor/start", s.startExecutorHandler)
	v1.POST("/executor/stop", s.stopExecutorHandler)
	v1.GET("/executor/status", s.executorStatusHandler)

	v1.GET("/overview", s.overviewHandler)
}

// Start begins serving on addr. It blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server starting", "addr", addr, "version", version.Full())
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	dbHealth, err := database.Health(c.Request().Context(), s.db.DB())
	resp := &HealthResponse{
		Status:   "ok",
		Version:  version.Full(),
		Database: dbHealth,
	}
	if err != nil || dbHealth.Status != database.StatusHealthy {
		resp.Status = "degraded"
	}
	if s.pool != nil {
		resp.WorkerPool = s.pool.Health()
		if !resp.WorkerPool.IsHealthy {
			resp.Status = "degraded"
		}
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, &Envelope{OK: resp.Status == "ok", Data: resp})
}

// notifyQueueChanged publishes a queue-change event so other pods' publish
// schedulers wake up early. Best effort: the poll tick catches missed ones.
func (s *Server) notifyQueueChanged(ctx context.Context, kind, publishID string, at time.Time) {
	if s.events == nil {
		return
	}
	err := s.events.NotifyQueueChanged(ctx, events.QueueEvent{Kind: kind, PublishID: publishID, At: at})
	if err != nil {
		s.logger.Warn("Queue change notify failed", "error", err, "publish_id", publishID)
	}
}
