package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// RingSlot holds the schema definition for the RingSlot entity.
// A slot is one (config, date, time, account) tuple inside a daily ring.
type RingSlot struct {
	ent.Schema
}

// Fields of the RingSlot.
func (RingSlot) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("slot_id").
			Unique().
			Immutable(),
		field.String("config_id"),
		field.String("account_id"),
		field.String("slot_date").
			Comment("UTC day, formatted 2006-01-02"),
		field.Int("slot_hour"),
		field.Int("slot_minute"),
		field.Int("slot_index").
			Comment("Position within the ring"),
		field.Enum("status").
			Values("pending", "scheduled", "completed", "failed", "cancelled").
			Default("pending"),
		field.String("task_id").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the RingSlot.
func (RingSlot) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("config_id", "slot_date", "slot_hour", "slot_minute", "account_id").
			Unique(),
		index.Fields("config_id", "status"),
		index.Fields("slot_date"),
	}
}
