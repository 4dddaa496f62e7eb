package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// TaskRetentionDays is how many days to keep terminal auto-publish tasks
	// before soft-deleting them (setting deleted_at).
	TaskRetentionDays int `yaml:"task_retention_days"`

	// MonitorResultTTL is the maximum age of processed monitor results
	// before deletion.
	MonitorResultTTL time.Duration `yaml:"monitor_result_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		TaskRetentionDays: 180,
		MonitorResultTTL:  7 * 24 * time.Hour,
		CleanupInterval:   12 * time.Hour,
	}
}
