package models

import "time"

// Overview aggregates core state for the dashboard endpoint.
type Overview struct {
	TaskCounts    map[string]int   `json:"task_counts"`
	PublishCounts map[string]int   `json:"publish_counts"`
	ErrorCounts   map[string]int   `json:"error_counts"`
	RecentTasks   []TaskSummary    `json:"recent_tasks"`
	TopAccounts   []AccountMetric  `json:"top_accounts"`
	ActiveConfigs int              `json:"active_configs"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// TaskSummary is a compact auto-publish task view for listings.
type TaskSummary struct {
	TaskID         string    `json:"task_id"`
	ConfigID       string    `json:"config_id"`
	PipelineID     string    `json:"pipeline_id"`
	AccountID      string    `json:"account_id,omitempty"`
	PipelineStatus string    `json:"pipeline_status"`
	PublishStatus  string    `json:"publish_status"`
	RetryCount     int       `json:"retry_count"`
	ScheduledTime  time.Time `json:"scheduled_time"`
	CreatedAt      time.Time `json:"created_at"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// AccountMetric ranks accounts by successful publishes.
type AccountMetric struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name,omitempty"`
	Successes   int    `json:"successes"`
}
