package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// StrategyAssignment holds the schema definition for the StrategyAssignment
// entity. One row per variant of a (strategy, group) pair, carrying the
// metadata overlay applied to publish tasks resolved to that variant.
type StrategyAssignment struct {
	ent.Schema
}

// Fields of the StrategyAssignment.
func (StrategyAssignment) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("assignment_id").
			Unique().
			Immutable(),
		field.String("strategy_id"),
		field.String("group_id"),
		field.String("variant_name"),
		field.JSON("payload", map[string]interface{}{}).
			Optional().
			Comment("Overlay: title_template, description_template, tags, thumbnail_ref, privacy"),
		field.Float("weight").
			Default(1.0),
		field.Bool("is_control").
			Default(false),
		field.Time("created_at").
			Default(time.Now),
	}
}

// Indexes of the StrategyAssignment.
func (StrategyAssignment) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("strategy_id", "group_id", "variant_name").
			Unique(),
		index.Fields("strategy_id", "group_id"),
	}
}
