package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// PublishTask holds the schema definition for the PublishTask entity.
// One row per (task, account) upload with fully resolved metadata.
// Status transitions are strictly monotonic; a retry creates a new row.
type PublishTask struct {
	ent.Schema
}

// Fields of the PublishTask.
func (PublishTask) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("publish_id").
			Unique().
			Immutable(),
		field.String("task_id"),
		field.String("account_id"),
		field.String("title"),
		field.Text("description").
			Optional(),
		field.JSON("tags", []string{}).
			Optional(),
		field.String("thumbnail_ref").
			Optional().
			Nillable(),
		field.String("privacy").
			Default("public"),
		field.String("video_ref"),
		field.Enum("status").
			Values("pending", "scheduled", "uploading", "success", "failed", "cancelled").
			Default("pending"),
		field.Time("scheduled_time"),
		field.Bool("is_scheduled").
			Default(false).
			Comment("False means fire as soon as the dispatcher sees it"),
		field.String("variant_name").
			Optional().
			Nillable().
			Comment("Pinned at creation; membership changes never rewrite it"),
		field.Int("retry_count").
			Default(0),
		field.String("retried_from_id").
			Optional().
			Nillable(),
		field.String("error_message").
			Optional().
			Nillable(),
		field.String("error_code").
			Optional().
			Nillable(),
		field.String("platform_video_id").
			Optional().
			Nillable(),
		field.String("platform_url").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now),
		field.Time("uploading_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

// Indexes of the PublishTask.
func (PublishTask) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status", "scheduled_time"),
		index.Fields("task_id"),
		index.Fields("account_id", "status"),
	}
}
