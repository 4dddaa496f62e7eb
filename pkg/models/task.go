package models

import "time"

// CreateTaskRequest creates an auto-publish task. Triggers and the retry
// endpoint are the normal producers; ScheduledTime is the target fire time.
type CreateTaskRequest struct {
	ConfigID       string
	GroupID        string
	PipelineID     string
	AccountID      string // optional; set when slot-bound
	SlotID         string // optional
	StrategyID     string // optional
	Priority       int
	ScheduledTime  time.Time
	PipelineParams map[string]any // trigger-provided overrides
	RetriedFromID  string         // set on retry spawns
	RetryCount     int
}

// TaskListParams filters and pages auto-publish task listings.
type TaskListParams struct {
	ConfigID       string
	PipelineStatus string
	PublishStatus  string
	Page           int
	PageSize       int
}

// PublishPolicy controls when fan-out publish tasks fire relative to
// pipeline completion. The zero value means immediate.
type PublishPolicy struct {
	Mode         string `json:"mode,omitempty"` // immediate | fixed_delay | slot
	DelaySeconds int    `json:"delay_seconds,omitempty"`
}

// PublishPolicyModes.
const (
	PublishModeImmediate  = "immediate"
	PublishModeFixedDelay = "fixed_delay"
	PublishModeSlot       = "slot"
)

// PublishPolicyFromJSON decodes a publish_policy JSON object.
func PublishPolicyFromJSON(raw map[string]any) PublishPolicy {
	p := PublishPolicy{Mode: PublishModeImmediate}
	if raw == nil {
		return p
	}
	if m, ok := raw["mode"].(string); ok && m != "" {
		p.Mode = m
	}
	switch d := raw["delay_seconds"].(type) {
	case float64:
		p.DelaySeconds = int(d)
	case int:
		p.DelaySeconds = d
	}
	return p
}
