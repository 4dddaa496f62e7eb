package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Monitor holds the schema definition for the Monitor entity.
// A monitor watches one external source and feeds monitor-triggered configs.
type Monitor struct {
	ent.Schema
}

// Fields of the Monitor.
func (Monitor) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("monitor_id").
			Unique().
			Immutable(),
		field.String("name"),
		field.String("platform"),
		field.Enum("monitor_type").
			Values("competitor", "trending", "keyword"),
		field.String("target_identifier"),
		field.Int("check_interval_seconds").
			Default(300),
		field.Time("last_check_at").
			Optional().
			Nillable(),
		field.Bool("active").
			Default(true),
		field.JSON("config", map[string]interface{}{}).
			Optional(),
		field.Time("created_at").
			Default(time.Now),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the Monitor.
func (Monitor) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("active"),
		index.Fields("platform", "monitor_type"),
	}
}
