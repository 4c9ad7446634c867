// Package schema is the replication layer: structs embed Schema and declare
// replicated fields with `schema:"<tag>"` struct tags, collections of records
// live in ArraySchema and MapSchema, and an Encoder/Decoder pair moves the
// state between processes as full snapshots or incremental patches.
//
// Field tags:
//
//	string, number, boolean, int8 ... uint64, float32, float64   primitives
//	ref                                                          nested record (pointer or interface)
//	[number], [string], ...                                      Go slice of primitives
//	{number}, {string}, ...                                      map[string] of primitives
//	[ref], {ref}                                                 *ArraySchema[T], *MapSchema[T]
//
// Primitive fields accept a `default:"..."` tag.
package schema

// Record is implemented by every struct embedding Schema.
type Record interface {
	RefID() uint32
	MarkChanged()
	IsChanged() bool
	ClearRefID()

	schemaState() *Schema
}

// Schema carries the replication identity and change flag of a record.
// Embed it by value.
type Schema struct {
	refID   uint32
	changed bool
}

var _ Record = (*Schema)(nil)

// RefID is the replication identity assigned by an Encoder or Decoder.
// Zero means the record has never been replicated.
func (s *Schema) RefID() uint32 { return s.refID }

// MarkChanged flags the record's primitive fields for the next incremental
// encode. Ref fields and collections are always compared.
func (s *Schema) MarkChanged() { s.changed = true }

func (s *Schema) IsChanged() bool { return s.changed }

// ClearRefID drops the replication identity so the record is encoded as a
// brand-new instance the next time it is reachable.
func (s *Schema) ClearRefID() {
	s.refID = 0
	s.changed = false
}

func (s *Schema) schemaState() *Schema { return s }
