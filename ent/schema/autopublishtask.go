package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AutoPublishTask holds the schema definition for the AutoPublishTask entity.
// A task ties one pipeline invocation to a config, a group, and a target
// time. The pipeline and publish status fields are independent state
// machines run in sequence.
type AutoPublishTask struct {
	ent.Schema
}

// Fields of the AutoPublishTask.
func (AutoPublishTask) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("task_id").
			Unique().
			Immutable(),
		field.String("config_id"),
		field.String("group_id"),
		field.String("pipeline_id"),
		field.String("account_id").
			Optional().
			Nillable().
			Comment("Set when the task is bound to a ring slot"),
		field.String("slot_id").
			Optional().
			Nillable(),
		field.String("strategy_id").
			Optional().
			Nillable(),
		field.String("variant_name").
			Optional().
			Nillable(),
		field.Enum("pipeline_status").
			Values("pending", "running", "completed", "failed", "cancelled").
			Default("pending"),
		field.Enum("publish_status").
			Values("pending", "scheduled", "published", "failed", "cancelled").
			Default("pending"),
		field.JSON("pipeline_result", map[string]interface{}{}).
			Optional(),
		field.JSON("publish_result", map[string]interface{}{}).
			Optional(),
		field.JSON("pipeline_params", map[string]interface{}{}).
			Optional().
			Comment("Trigger-provided params; overlaid onto config params at invocation"),
		field.Int("priority").
			Default(50),
		field.Int("retry_count").
			Default(0),
		field.String("retried_from_id").
			Optional().
			Nillable().
			Comment("Audit link to the task this one retries"),
		field.String("error_message").
			Optional().
			Nillable(),
		field.String("error_code").
			Optional().
			Nillable(),
		field.String("pod_id").
			Optional().
			Nillable().
			Comment("For multi-replica coordination"),
		field.Time("scheduled_time"),
		field.Time("created_at").
			Default(time.Now),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.Time("last_heartbeat_at").
			Optional().
			Nillable().
			Comment("For stale-task detection"),
		field.Time("deleted_at").
			Optional().
			Nillable().
			Comment("Soft delete for retention policy"),
	}
}

// Indexes of the AutoPublishTask.
func (AutoPublishTask) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("pipeline_status", "scheduled_time"),
		index.Fields("pipeline_status", "last_heartbeat_at"),
		index.Fields("config_id", "created_at"),
		index.Fields("publish_status"),
		index.Fields("deleted_at").
			Annotations(entsql.IndexWhere("deleted_at IS NOT NULL")),
	}
}
