package services

import (
	"context"
	"fmt"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/publishconfig"
	"github.com/castorhq/castor/pkg/models"
	"github.com/google/uuid"
)

// ConfigService manages publish configs, the recipes binding a pipeline to
// a group, a trigger, and a publish policy.
//
// Schedule semantics of trigger_config are owned by pkg/trigger; this
// service only enforces structural validity so the evaluator never sees a
// config without the fields its kind requires.
type ConfigService struct {
	client *ent.Client
}

// NewConfigService creates a new ConfigService.
func NewConfigService(client *ent.Client) *ConfigService {
	if client == nil {
		panic("ConfigService requires a non-nil ent client")
	}
	return &ConfigService{client: client}
}

// CreateConfigInput holds fields for config creation.
type CreateConfigInput struct {
	Name           string
	GroupID        string
	PipelineID     string
	TriggerKind    string
	TriggerConfig  map[string]any
	StrategyID     string
	Priority       *int
	PipelineParams map[string]any
	PublishPolicy  map[string]any
}

// Create registers a new publish config.
func (s *ConfigService) Create(ctx context.Context, in CreateConfigInput) (*ent.PublishConfig, error) {
	if in.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if in.GroupID == "" {
		return nil, NewValidationError("group_id", "required")
	}
	if in.PipelineID == "" {
		return nil, NewValidationError("pipeline_id", "required")
	}
	kind := publishconfig.TriggerKind(in.TriggerKind)
	if err := publishconfig.TriggerKindValidator(kind); err != nil {
		return nil, NewValidationError("trigger_kind", "must be scheduled or monitor")
	}
	if err := validateTriggerConfig(kind, in.TriggerConfig); err != nil {
		return nil, err
	}
	if err := validatePublishPolicy(in.PublishPolicy); err != nil {
		return nil, err
	}

	create := s.client.PublishConfig.Create().
		SetID(uuid.New().String()).
		SetName(in.Name).
		SetGroupID(in.GroupID).
		SetPipelineID(in.PipelineID).
		SetTriggerKind(kind).
		SetTriggerConfig(in.TriggerConfig)
	if in.StrategyID != "" {
		create.SetStrategyID(in.StrategyID)
	}
	if in.Priority != nil {
		create.SetPriority(*in.Priority)
	}
	if in.PipelineParams != nil {
		create.SetPipelineParams(in.PipelineParams)
	}
	if in.PublishPolicy != nil {
		create.SetPublishPolicy(in.PublishPolicy)
	}
	created, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	return created, nil
}

// Get returns one config by id.
func (s *ConfigService) Get(ctx context.Context, configID string) (*ent.PublishConfig, error) {
	cfg, err := s.client.PublishConfig.Get(ctx, configID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	return cfg, nil
}

// List returns configs, optionally filtered by trigger kind and active flag.
func (s *ConfigService) List(ctx context.Context, triggerKind string, activeOnly bool) ([]*ent.PublishConfig, error) {
	q := s.client.PublishConfig.Query()
	if triggerKind != "" {
		q = q.Where(publishconfig.TriggerKindEQ(publishconfig.TriggerKind(triggerKind)))
	}
	if activeOnly {
		q = q.Where(publishconfig.ActiveEQ(true))
	}
	configs, err := q.Order(ent.Desc(publishconfig.FieldCreatedAt)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	return configs, nil
}

// UpdateConfigInput holds optional config mutations. Trigger kind is
// immutable; delete and recreate to change it.
type UpdateConfigInput struct {
	Name           *string
	GroupID        *string
	PipelineID     *string
	TriggerConfig  map[string]any
	StrategyID     *string // empty string clears
	Priority       *int
	PipelineParams map[string]any
	PublishPolicy  map[string]any
}

// Update mutates a config's mutable fields.
func (s *ConfigService) Update(ctx context.Context, configID string, in UpdateConfigInput) (*ent.PublishConfig, error) {
	existing, err := s.Get(ctx, configID)
	if err != nil {
		return nil, err
	}
	if in.TriggerConfig != nil {
		if err := validateTriggerConfig(existing.TriggerKind, in.TriggerConfig); err != nil {
			return nil, err
		}
	}
	if in.PublishPolicy != nil {
		if err := validatePublishPolicy(in.PublishPolicy); err != nil {
			return nil, err
		}
	}

	update := existing.Update()
	if in.Name != nil {
		update.SetName(*in.Name)
	}
	if in.GroupID != nil {
		update.SetGroupID(*in.GroupID)
	}
	if in.PipelineID != nil {
		update.SetPipelineID(*in.PipelineID)
	}
	if in.TriggerConfig != nil {
		update.SetTriggerConfig(in.TriggerConfig)
	}
	if in.StrategyID != nil {
		if *in.StrategyID == "" {
			update.ClearStrategyID()
		} else {
			update.SetStrategyID(*in.StrategyID)
		}
	}
	if in.Priority != nil {
		update.SetPriority(*in.Priority)
	}
	if in.PipelineParams != nil {
		update.SetPipelineParams(in.PipelineParams)
	}
	if in.PublishPolicy != nil {
		update.SetPublishPolicy(in.PublishPolicy)
	}
	updated, err := update.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to update config: %w", err)
	}
	return updated, nil
}

// Delete removes a config. Slots and pending tasks cascade via FKs.
func (s *ConfigService) Delete(ctx context.Context, configID string) error {
	err := s.client.PublishConfig.DeleteOneID(configID).Exec(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}

// Toggle flips a config's active flag and returns the new state.
// Deactivation stops future fires only; in-flight tasks are unaffected.
func (s *ConfigService) Toggle(ctx context.Context, configID string) (*ent.PublishConfig, error) {
	existing, err := s.Get(ctx, configID)
	if err != nil {
		return nil, err
	}
	updated, err := existing.Update().SetActive(!existing.Active).Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle config: %w", err)
	}
	return updated, nil
}

// ListActiveScheduled returns every active config with a scheduled trigger.
// The trigger evaluator calls this once per tick.
func (s *ConfigService) ListActiveScheduled(ctx context.Context) ([]*ent.PublishConfig, error) {
	configs, err := s.client.PublishConfig.Query().
		Where(
			publishconfig.TriggerKindEQ(publishconfig.TriggerKindScheduled),
			publishconfig.ActiveEQ(true),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled configs: %w", err)
	}
	return configs, nil
}

// ListActiveMonitorFor returns the active monitor-kind configs whose
// trigger_config references the given monitor.
func (s *ConfigService) ListActiveMonitorFor(ctx context.Context, monitorID string) ([]*ent.PublishConfig, error) {
	configs, err := s.client.PublishConfig.Query().
		Where(
			publishconfig.TriggerKindEQ(publishconfig.TriggerKindMonitor),
			publishconfig.ActiveEQ(true),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitor configs: %w", err)
	}
	var matched []*ent.PublishConfig
	for _, cfg := range configs {
		if id, _ := cfg.TriggerConfig["monitor_id"].(string); id == monitorID {
			matched = append(matched, cfg)
		}
	}
	return matched, nil
}

// RecordFire advances last_fire_at to the fire instant. Once-schedules
// deactivate in the same write so they can never fire twice.
func (s *ConfigService) RecordFire(ctx context.Context, tx *ent.Tx, configID string, firedAt time.Time, deactivate bool) error {
	update := tx.PublishConfig.UpdateOneID(configID).
		SetLastFireAt(firedAt.UTC())
	if deactivate {
		update.SetActive(false)
	}
	if _, err := update.Save(ctx); err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to record fire: %w", err)
	}
	return nil
}

// validateTriggerConfig enforces the structural shape each trigger kind
// requires. Full schedule parsing belongs to pkg/trigger and runs at the
// API boundary.
func validateTriggerConfig(kind publishconfig.TriggerKind, raw map[string]any) error {
	if raw == nil {
		return NewValidationError("trigger_config", "required")
	}
	switch kind {
	case publishconfig.TriggerKindScheduled:
		if st, _ := raw["schedule_type"].(string); st == "" {
			return NewValidationError("trigger_config", "scheduled configs require schedule_type")
		}
	case publishconfig.TriggerKindMonitor:
		if id, _ := raw["monitor_id"].(string); id == "" {
			return NewValidationError("trigger_config", "monitor configs require monitor_id")
		}
	}
	return nil
}

func validatePublishPolicy(raw map[string]any) error {
	if raw == nil {
		return nil
	}
	policy := models.PublishPolicyFromJSON(raw)
	switch policy.Mode {
	case models.PublishModeImmediate, models.PublishModeSlot:
	case models.PublishModeFixedDelay:
		if policy.DelaySeconds <= 0 {
			return NewValidationError("publish_policy", "fixed_delay requires positive delay_seconds")
		}
	default:
		return NewValidationError("publish_policy", "mode must be immediate, fixed_delay, or slot")
	}
	return nil
}
