package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/patrickmn/go-cache"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
// A short-lived dedupe cache keeps retry storms from flooding the channel
// with identical failure messages.
type Service struct {
	client       *Client
	dashboardURL string
	dedupe       *cache.Cache
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		dedupe:       cache.New(10*time.Minute, 30*time.Minute),
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		dedupe:       cache.New(10*time.Minute, 30*time.Minute),
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyTaskFailed sends a terminal pipeline failure notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyTaskFailed(ctx context.Context, task *ent.AutoPublishTask, errMsg string) {
	if s == nil || task == nil {
		return
	}
	if !s.shouldSend("task:" + task.ID) {
		return
	}

	blocks := BuildTaskFailedMessage(task.ID, task.PipelineID, errMsg, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("Failed to send task failure notification",
			"task_id", task.ID,
			"error", err)
	}
}

// NotifyPublishResult sends a publish outcome notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyPublishResult(ctx context.Context, p *ent.PublishTask, success bool) {
	if s == nil || p == nil {
		return
	}
	if !s.shouldSend("publish:" + p.ID) {
		return
	}

	platformURL := ""
	if p.PlatformURL != nil {
		platformURL = *p.PlatformURL
	}
	errMsg := ""
	if p.ErrorMessage != nil {
		errMsg = *p.ErrorMessage
	}
	blocks := BuildPublishResultMessage(p.ID, p.AccountID, p.Title, platformURL, errMsg, success, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("Failed to send publish notification",
			"publish_id", p.ID,
			"error", err)
	}
}

// shouldSend records the key and reports whether it was already sent
// within the dedupe window.
func (s *Service) shouldSend(key string) bool {
	if _, seen := s.dedupe.Get(key); seen {
		return false
	}
	s.dedupe.Set(key, struct{}{}, cache.DefaultExpiration)
	return true
}
