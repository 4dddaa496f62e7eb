package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Pipeline holds the schema definition for the Pipeline entity.
// A pipeline is a named content producer registered with the core and
// invoked through an opaque implementation reference.
type Pipeline struct {
	ent.Schema
}

// Fields of the Pipeline.
func (Pipeline) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("pipeline_id").
			Unique().
			Immutable(),
		field.String("display_name"),
		field.String("type_tag").
			Comment("Selects the invoker implementation (e.g. 'http', 'stub')"),
		field.String("implementation_ref").
			Comment("Opaque handle the invoker understands (endpoint URL, scenario name)"),
		field.Text("parameter_schema").
			Comment("JSON Schema describing accepted invocation params"),
		field.JSON("supported_platforms", []string{}).
			Optional(),
		field.String("version").
			Default("1.0"),
		field.Enum("status").
			Values("active", "deprecated", "testing").
			Default("active"),
		field.Time("created_at").
			Default(time.Now),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the Pipeline.
func (Pipeline) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("type_tag"),
		index.Fields("status"),
	}
}
