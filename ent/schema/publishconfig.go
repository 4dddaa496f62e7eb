package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// PublishConfig holds the schema definition for the PublishConfig entity.
// A config is the recipe for how, when, and with which group a pipeline's
// output is published.
type PublishConfig struct {
	ent.Schema
}

// Fields of the PublishConfig.
func (PublishConfig) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("config_id").
			Unique().
			Immutable(),
		field.String("name").
			Unique(),
		field.String("group_id"),
		field.String("pipeline_id"),
		field.Enum("trigger_kind").
			Values("scheduled", "monitor"),
		field.JSON("trigger_config", map[string]interface{}{}).
			Comment("Tagged by schedule_type for scheduled configs; {monitor_id} for monitor configs"),
		field.String("strategy_id").
			Optional().
			Nillable(),
		field.Int("priority").
			Default(50),
		field.Bool("active").
			Default(true),
		field.JSON("pipeline_params", map[string]interface{}{}).
			Optional().
			Comment("Param overrides bound at invocation time"),
		field.JSON("publish_policy", map[string]interface{}{}).
			Optional().
			Comment("{mode: immediate|fixed_delay|slot, delay_seconds?}"),
		field.Time("last_fire_at").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the PublishConfig.
func (PublishConfig) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("trigger_kind", "active"),
		index.Fields("group_id"),
		index.Fields("pipeline_id"),
	}
}
