package config

import "time"

// PublisherConfig controls the publish scheduler and upload dispatch pool.
type PublisherConfig struct {
	// UploadConcurrency is the number of concurrent upload dispatches.
	UploadConcurrency int `yaml:"upload_concurrency"`

	// PollInterval bounds how long the scheduler loop sleeps when the heap
	// is empty or the head is far away. The loop also wakes on NOTIFY and
	// on heap mutations, so this is a safety net, not the dispatch latency.
	PollInterval time.Duration `yaml:"poll_interval"`

	// BatchSize caps how many due publish tasks one pop claims.
	BatchSize int `yaml:"batch_size"`

	// UploadTimeout is the per-dispatch deadline for the upload transport.
	UploadTimeout time.Duration `yaml:"upload_timeout"`

	// MaxRetries caps retry spawns for failed uploads.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoffUnit is the base unit for exponential retry backoff.
	RetryBackoffUnit time.Duration `yaml:"retry_backoff_unit"`
}

// DefaultPublisherConfig returns the built-in publisher defaults.
func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		UploadConcurrency: 5,
		PollInterval:      30 * time.Second,
		BatchSize:         10,
		UploadTimeout:     10 * time.Minute,
		MaxRetries:        3,
		RetryBackoffUnit:  60 * time.Second,
	}
}

// TriggerConfig controls the scheduled-trigger evaluation loop.
type TriggerConfig struct {
	// EvaluationInterval is the cadence of the trigger evaluator.
	// Must be at most one minute, or fire instants can be skipped past.
	EvaluationInterval time.Duration `yaml:"evaluation_interval"`
}

// DefaultTriggerConfig returns the built-in trigger defaults.
func DefaultTriggerConfig() *TriggerConfig {
	return &TriggerConfig{
		EvaluationInterval: 30 * time.Second,
	}
}

// TransportConfig selects and tunes the upload transport.
type TransportConfig struct {
	// Mode selects the transport implementation: "grpc" or "mock".
	Mode string `yaml:"mode"`

	// Endpoint is the uploader service address for grpc mode.
	Endpoint string `yaml:"endpoint"`

	// RetryAttempts is the in-call retry count for transient transport errors.
	RetryAttempts int `yaml:"retry_attempts"`

	// CallTimeout is the per-RPC deadline. Bounded above by the publisher's
	// UploadTimeout.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultTransportConfig returns the built-in transport defaults.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		Mode:          "grpc",
		Endpoint:      "localhost:50061",
		RetryAttempts: 3,
		CallTimeout:   10 * time.Minute,
	}
}
