package config

import "time"

// ExecutorConfig controls the pipeline execution worker pool.
// These values control how auto-publish tasks are polled, claimed, and run.
type ExecutorConfig struct {
	// WorkerCount is the number of concurrent pipeline executions per pod.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for checking due tasks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// PipelineTimeout is the per-invocation deadline for a pipeline run.
	PipelineTimeout time.Duration `yaml:"pipeline_timeout"`

	// HeartbeatInterval is how often a worker refreshes last_heartbeat_at
	// on its running task.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// GracefulShutdownTimeout is the max time to wait for active pipeline
	// runs to complete during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// MaxRetries caps retry spawns for failed pipeline runs.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoffUnit is the base unit for exponential retry backoff:
	// delay = 2^retry_count * unit.
	RetryBackoffUnit time.Duration `yaml:"retry_backoff_unit"`

	// StaleThreshold is how long a running task can go without a heartbeat
	// before the stale scanner fails it.
	StaleThreshold time.Duration `yaml:"stale_threshold"`

	// StaleScanInterval is how often the stale scanner runs.
	StaleScanInterval time.Duration `yaml:"stale_scan_interval"`
}

// DefaultExecutorConfig returns the built-in executor defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		WorkerCount:             3,
		PollInterval:            5 * time.Second,
		PollIntervalJitter:      1 * time.Second,
		PipelineTimeout:         30 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		GracefulShutdownTimeout: 30 * time.Minute,
		MaxRetries:              3,
		RetryBackoffUnit:        60 * time.Second,
		StaleThreshold:          1 * time.Hour,
		StaleScanInterval:       2 * time.Minute,
	}
}
