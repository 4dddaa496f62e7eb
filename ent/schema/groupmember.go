package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// GroupMember holds the schema definition for the GroupMember entity.
// Members link accounts into groups; member_rank fixes fan-out and
// round-robin order.
type GroupMember struct {
	ent.Schema
}

// Fields of the GroupMember.
func (GroupMember) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("member_id").
			Unique().
			Immutable(),
		field.String("group_id"),
		field.String("account_id"),
		field.String("role").
			Optional(),
		field.Int("member_rank").
			Default(0),
		field.String("variant_name").
			Optional().
			Nillable().
			Comment("Sticky per-member variant assignment; overrides sampling"),
		field.Time("created_at").
			Default(time.Now),
	}
}

// Indexes of the GroupMember.
func (GroupMember) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("group_id", "account_id").
			Unique(),
		index.Fields("group_id", "member_rank"),
	}
}
