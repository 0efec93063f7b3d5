// Package schema holds the entity metadata the compiler works from:
// the fields an entity exposes, how public aliases map onto storage
// columns, and how entities relate to one another. A Registry is built
// once at startup and injected into the compiler; registration is not
// safe to interleave with reads.
package schema

import (
	"fmt"
	"sort"
)

// IDField is the storage name every entity must expose. Grouping,
// forced projection, and join-key defaults all anchor on it.
const IDField = "id"

// Cardinality is the closed set of relation shapes the compiler
// understands. Switches over it are exhaustive; anything else is
// rejected at compile time.
type Cardinality int

const (
	OneToMany Cardinality = iota + 1
	ManyToOne
	ManyToMany
)

func (c Cardinality) String() string {
	switch c {
	case OneToMany:
		return "one_to_many"
	case ManyToOne:
		return "many_to_one"
	case ManyToMany:
		return "many_to_many"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

// ParseCardinality maps the config spelling onto the enum.
func ParseCardinality(s string) (Cardinality, error) {
	switch s {
	case "one_to_many":
		return OneToMany, nil
	case "many_to_one":
		return ManyToOne, nil
	case "many_to_many":
		return ManyToMany, nil
	default:
		return 0, fmt.Errorf("unknown cardinality %q", s)
	}
}

// FieldDescriptor maps a public alias onto a storage name. For scalar
// fields the storage name is a column; for relation fields it is the
// relation name. An empty Alias defaults to the storage name at
// registration.
type FieldDescriptor struct {
	StorageName string
	Alias       string
}

// RelationDescriptor describes how two entities join. ParentKey is the
// join column on the owning entity, ChildKey the join column on the
// target entity. The Bridge fields carry association table metadata
// and apply to many-to-many relations only.
type RelationDescriptor struct {
	Name   string
	Kind   Cardinality
	Target string

	ParentKey string
	ChildKey  string

	BridgeTable     string
	BridgeParentKey string
	BridgeChildKey  string
}

// Entry is one registered entity.
type Entry struct {
	Type  string
	Table string

	fields    []FieldDescriptor
	byAlias   map[string]int
	byStorage map[string]int
	relations map[string]RelationDescriptor
}

// FieldByAlias resolves a public alias to its descriptor.
func (e *Entry) FieldByAlias(alias string) (FieldDescriptor, error) {
	if i, ok := e.byAlias[alias]; ok {
		return e.fields[i], nil
	}
	return FieldDescriptor{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, e.Type, alias)
}

// FieldByStorage resolves a storage name to its descriptor.
func (e *Entry) FieldByStorage(name string) (FieldDescriptor, error) {
	if i, ok := e.byStorage[name]; ok {
		return e.fields[i], nil
	}
	return FieldDescriptor{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, e.Type, name)
}

// Relation resolves a relation by name (the relation field's storage
// name, not its alias).
func (e *Entry) Relation(name string) (RelationDescriptor, error) {
	if rel, ok := e.relations[name]; ok {
		return rel, nil
	}
	return RelationDescriptor{}, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, e.Type, name)
}

// Relations returns all relation descriptors sorted by name.
func (e *Entry) Relations() []RelationDescriptor {
	names := make([]string, 0, len(e.relations))
	for name := range e.relations {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]RelationDescriptor, len(names))
	for i, name := range names {
		out[i] = e.relations[name]
	}
	return out
}

// Fields returns the entity's fields in registration order.
func (e *Entry) Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, len(e.fields))
	copy(out, e.fields)
	return out
}

// ScalarFields returns the non-relation fields in registration order.
func (e *Entry) ScalarFields() []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(e.fields))
	for _, fd := range e.fields {
		if !e.IsRelation(fd) {
			out = append(out, fd)
		}
	}
	return out
}

// IsRelation reports whether fd is a relation field of this entity.
func (e *Entry) IsRelation(fd FieldDescriptor) bool {
	_, ok := e.relations[fd.StorageName]
	return ok
}
