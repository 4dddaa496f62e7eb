package config

import (
	"fmt"
	"time"
)

// validate checks cross-field constraints the type system cannot express.
func validate(cfg *Config) error {
	if cfg.Executor.WorkerCount < 1 {
		return fmt.Errorf("executor.worker_count must be at least 1, got %d", cfg.Executor.WorkerCount)
	}
	if cfg.Executor.PipelineTimeout <= 0 {
		return fmt.Errorf("executor.pipeline_timeout must be positive")
	}
	if cfg.Executor.StaleThreshold <= cfg.Executor.HeartbeatInterval {
		return fmt.Errorf("executor.stale_threshold (%v) must exceed heartbeat_interval (%v)",
			cfg.Executor.StaleThreshold, cfg.Executor.HeartbeatInterval)
	}
	if cfg.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor.max_retries must not be negative")
	}

	if cfg.Publisher.UploadConcurrency < 1 {
		return fmt.Errorf("publisher.upload_concurrency must be at least 1, got %d", cfg.Publisher.UploadConcurrency)
	}
	if cfg.Publisher.BatchSize < 1 {
		return fmt.Errorf("publisher.batch_size must be at least 1, got %d", cfg.Publisher.BatchSize)
	}
	if cfg.Publisher.PollInterval <= 0 || cfg.Publisher.PollInterval > time.Minute {
		return fmt.Errorf("publisher.poll_interval must be in (0s, 1m], got %v", cfg.Publisher.PollInterval)
	}

	if cfg.Trigger.EvaluationInterval <= 0 || cfg.Trigger.EvaluationInterval > time.Minute {
		return fmt.Errorf("trigger.evaluation_interval must be in (0s, 1m], got %v", cfg.Trigger.EvaluationInterval)
	}

	switch cfg.Transport.Mode {
	case "grpc", "mock":
	default:
		return fmt.Errorf("transport.mode must be grpc or mock, got %q", cfg.Transport.Mode)
	}
	if cfg.Transport.Mode == "grpc" && cfg.Transport.Endpoint == "" {
		return fmt.Errorf("transport.endpoint is required in grpc mode")
	}

	if cfg.Retention.TaskRetentionDays < 1 {
		return fmt.Errorf("retention.task_retention_days must be at least 1")
	}

	return nil
}
