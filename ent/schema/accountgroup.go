package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AccountGroup holds the schema definition for the AccountGroup entity.
type AccountGroup struct {
	ent.Schema
}

// Fields of the AccountGroup.
func (AccountGroup) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("group_id").
			Unique().
			Immutable(),
		field.String("name").
			Unique(),
		field.Enum("group_type").
			Values("production", "experiment", "test").
			Default("production"),
		field.String("description").
			Optional(),
		field.Bool("active").
			Default(true),
		field.Time("created_at").
			Default(time.Now),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the AccountGroup.
func (AccountGroup) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("active"),
	}
}
