package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// MonitorResult holds the schema definition for the MonitorResult entity.
// The (monitor_id, content_id) unique key is what makes monitor-triggered
// content processing at-most-once.
type MonitorResult struct {
	ent.Schema
}

// Fields of the MonitorResult.
func (MonitorResult) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("result_id").
			Unique().
			Immutable(),
		field.String("monitor_id"),
		field.String("content_id"),
		field.String("title").
			Optional(),
		field.String("url").
			Optional(),
		field.JSON("payload", map[string]interface{}{}).
			Optional(),
		field.Bool("processed").
			Default(false),
		field.Time("discovered_at").
			Default(time.Now),
	}
}

// Indexes of the MonitorResult.
func (MonitorResult) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("monitor_id", "content_id").
			Unique(),
		index.Fields("monitor_id", "processed"),
	}
}
