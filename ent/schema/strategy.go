package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Strategy holds the schema definition for the Strategy entity.
// Strategies drive A/B, round-robin, and weighted variant resolution.
type Strategy struct {
	ent.Schema
}

// Fields of the Strategy.
func (Strategy) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("strategy_id").
			Unique().
			Immutable(),
		field.String("name").
			Unique(),
		field.Enum("type").
			Values("ab_test", "round_robin", "weighted"),
		field.JSON("parameters", map[string]interface{}{}).
			Optional(),
		field.Bool("active").
			Default(true),
		field.Time("start_date").
			Optional().
			Nillable(),
		field.Time("end_date").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the Strategy.
func (Strategy) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("active"),
	}
}
