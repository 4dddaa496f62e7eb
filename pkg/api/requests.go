package api

// Request bodies for the write endpoints. Create/update pairs share field
// names; pointer fields on updates distinguish "absent" from zero values.

type createAccountRequest struct {
	AccountID   string `json:"account_id,omitempty"`
	DisplayName string `json:"display_name"`
	Platform    string `json:"platform"`
	ProfileRef  string `json:"profile_ref"`
}

type updateAccountRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	ProfileRef  *string `json:"profile_ref,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type createGroupRequest struct {
	Name        string `json:"name"`
	GroupType   string `json:"group_type"`
	Description string `json:"description,omitempty"`
}

type updateGroupRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type addMembersRequest struct {
	AccountIDs []string `json:"account_ids"`
	Role       string   `json:"role,omitempty"`
}

type createConfigRequest struct {
	Name           string         `json:"name"`
	GroupID        string         `json:"group_id"`
	PipelineID     string         `json:"pipeline_id"`
	TriggerKind    string         `json:"trigger_kind"`
	TriggerConfig  map[string]any `json:"trigger_config"`
	StrategyID     string         `json:"strategy_id,omitempty"`
	Priority       *int           `json:"priority,omitempty"`
	PipelineParams map[string]any `json:"pipeline_params,omitempty"`
	PublishPolicy  map[string]any `json:"publish_policy,omitempty"`
}

type updateConfigRequest struct {
	Name           *string        `json:"name,omitempty"`
	GroupID        *string        `json:"group_id,omitempty"`
	PipelineID     *string        `json:"pipeline_id,omitempty"`
	TriggerConfig  map[string]any `json:"trigger_config,omitempty"`
	StrategyID     *string        `json:"strategy_id,omitempty"`
	Priority       *int           `json:"priority,omitempty"`
	PipelineParams map[string]any `json:"pipeline_params,omitempty"`
	PublishPolicy  map[string]any `json:"publish_policy,omitempty"`
}

type generateSlotsRequest struct {
	ConfigID   string `json:"config_id"`
	TargetDate string `json:"target_date"` // YYYY-MM-DD
	StartHour  int    `json:"start_hour"`
	EndHour    int    `json:"end_hour"`
	Strategy   string `json:"strategy,omitempty"`
}

type createStrategyRequest struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	StartDate  string         `json:"start_date,omitempty"` // RFC3339
	EndDate    string         `json:"end_date,omitempty"`
}

type updateStrategyRequest struct {
	Name       *string        `json:"name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Active     *bool          `json:"active,omitempty"`
	StartDate  string         `json:"start_date,omitempty"`
	EndDate    string         `json:"end_date,omitempty"`
}

type addAssignmentRequest struct {
	GroupID     string         `json:"group_id"`
	VariantName string         `json:"variant_name"`
	Payload     map[string]any `json:"payload,omitempty"`
	Weight      *float64       `json:"weight,omitempty"`
	IsControl   bool           `json:"is_control,omitempty"`
}

type createMonitorRequest struct {
	Name                 string         `json:"name"`
	Platform             string         `json:"platform"`
	MonitorType          string         `json:"monitor_type"`
	TargetIdentifier     string         `json:"target_identifier"`
	CheckIntervalSeconds *int           `json:"check_interval_seconds,omitempty"`
	Config               map[string]any `json:"config,omitempty"`
}

type updateMonitorRequest struct {
	Name                 *string        `json:"name,omitempty"`
	TargetIdentifier     *string        `json:"target_identifier,omitempty"`
	CheckIntervalSeconds *int           `json:"check_interval_seconds,omitempty"`
	Active               *bool          `json:"active,omitempty"`
	Config               map[string]any `json:"config,omitempty"`
}

type schedulePublishRequest struct {
	TaskID        string   `json:"task_id"`
	AccountIDs    []string `json:"account_ids"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	ThumbnailRef  string   `json:"thumbnail_ref,omitempty"`
	Privacy       string   `json:"privacy,omitempty"`
	ScheduledTime string   `json:"scheduled_time,omitempty"` // RFC3339; empty = now
}

type rescheduleRequest struct {
	NewTime string `json:"new_time"` // RFC3339
}
