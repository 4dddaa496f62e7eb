package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Account holds the schema definition for the Account entity.
// Accounts are external identities; the core only stores the transport
// handle and an activation flag.
type Account struct {
	ent.Schema
}

// Fields of the Account.
func (Account) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("account_id").
			Unique().
			Immutable(),
		field.String("display_name"),
		field.String("platform").
			Default("youtube"),
		field.String("profile_ref").
			Comment("Opaque handle the upload transport understands"),
		field.Bool("active").
			Default(true),
		field.Time("created_at").
			Default(time.Now),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the Account.
func (Account) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("active"),
	}
}
