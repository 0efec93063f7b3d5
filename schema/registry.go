package schema

import (
	"errors"
	"fmt"
	"sort"

	"tidb-docquery/internal/naming"
)

var (
	ErrAlreadyRegistered = errors.New("entity type already registered")
	ErrUnknownEntity     = errors.New("unknown entity type")
	ErrUnknownField      = errors.New("unknown field")
	ErrUnknownRelation   = errors.New("unknown relation")
)

// Registry maps entity type names to their entries. Build it fully
// before handing it to a compiler.
type Registry struct {
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds an entity. An empty table name falls back to the
// conventional one (pluralized snake_case of the type). Relation
// descriptors get conventional join-key defaults; a relation without a
// matching relation field has one auto-appended with Alias = Name.
//
// Registration fails on a duplicate type, duplicate aliases or storage
// names, a missing "id" field, or malformed relation metadata. These
// are configuration mistakes, reported eagerly so compilation can
// assume a well-formed registry.
func (r *Registry) Register(entityType, table string, fields []FieldDescriptor, relations []RelationDescriptor) error {
	if entityType == "" {
		return errors.New("entity type must not be empty")
	}
	if _, ok := r.entries[entityType]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, entityType)
	}
	if table == "" {
		table = naming.TableName(entityType)
	}

	e := &Entry{
		Type:      entityType,
		Table:     table,
		byAlias:   make(map[string]int),
		byStorage: make(map[string]int),
		relations: make(map[string]RelationDescriptor, len(relations)),
	}

	for _, rel := range relations {
		if rel.Name == "" {
			return fmt.Errorf("entity %s: relation with empty name", entityType)
		}
		if rel.Target == "" {
			return fmt.Errorf("entity %s: relation %s has no target entity", entityType, rel.Name)
		}
		if _, dup := e.relations[rel.Name]; dup {
			return fmt.Errorf("entity %s: duplicate relation %s", entityType, rel.Name)
		}
		if err := applyRelationDefaults(&rel, table); err != nil {
			return fmt.Errorf("entity %s: relation %s: %w", entityType, rel.Name, err)
		}
		e.relations[rel.Name] = rel
	}

	for _, fd := range fields {
		if err := e.addField(fd); err != nil {
			return fmt.Errorf("entity %s: %w", entityType, err)
		}
	}

	// Relations declared without a relation field get one implicitly.
	names := make([]string, 0, len(e.relations))
	for name := range e.relations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := e.byStorage[name]; ok {
			continue
		}
		if err := e.addField(FieldDescriptor{StorageName: name, Alias: name}); err != nil {
			return fmt.Errorf("entity %s: %w", entityType, err)
		}
	}

	if i, ok := e.byStorage[IDField]; !ok || e.IsRelation(e.fields[i]) {
		return fmt.Errorf("entity %s: missing %q field", entityType, IDField)
	}

	r.entries[entityType] = e
	return nil
}

func (e *Entry) addField(fd FieldDescriptor) error {
	if fd.StorageName == "" {
		return errors.New("field with empty storage name")
	}
	if fd.Alias == "" {
		fd.Alias = fd.StorageName
	}
	if _, dup := e.byAlias[fd.Alias]; dup {
		return fmt.Errorf("duplicate field alias %q", fd.Alias)
	}
	if _, dup := e.byStorage[fd.StorageName]; dup {
		return fmt.Errorf("duplicate storage name %q", fd.StorageName)
	}
	e.byAlias[fd.Alias] = len(e.fields)
	e.byStorage[fd.StorageName] = len(e.fields)
	e.fields = append(e.fields, fd)
	return nil
}

// applyRelationDefaults fills empty join metadata with the naming
// conventions. The target's table is guessed conventionally; entities
// with non-conventional tables must spell their join keys out.
func applyRelationDefaults(rel *RelationDescriptor, table string) error {
	targetTable := naming.TableName(rel.Target)
	switch rel.Kind {
	case OneToMany:
		if rel.ParentKey == "" {
			rel.ParentKey = IDField
		}
		if rel.ChildKey == "" {
			rel.ChildKey = naming.ForeignKey(table)
		}
	case ManyToOne:
		if rel.ParentKey == "" {
			rel.ParentKey = naming.ForeignKey(targetTable)
		}
		if rel.ChildKey == "" {
			rel.ChildKey = IDField
		}
	case ManyToMany:
		if rel.ParentKey == "" {
			rel.ParentKey = IDField
		}
		if rel.ChildKey == "" {
			rel.ChildKey = IDField
		}
		if rel.BridgeTable == "" {
			rel.BridgeTable = naming.BridgeTable(table, targetTable)
		}
		if rel.BridgeParentKey == "" {
			rel.BridgeParentKey = naming.ForeignKey(table)
		}
		if rel.BridgeChildKey == "" {
			rel.BridgeChildKey = naming.ForeignKey(targetTable)
		}
	default:
		return fmt.Errorf("unknown cardinality %d", int(rel.Kind))
	}
	return nil
}

// Entry returns the entry for an entity type.
func (r *Registry) Entry(entityType string) (*Entry, error) {
	if e, ok := r.entries[entityType]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
}

// RelationTarget resolves the entry on the far side of a relation.
func (r *Registry) RelationTarget(entityType, relationName string) (*Entry, error) {
	e, err := r.Entry(entityType)
	if err != nil {
		return nil, err
	}
	rel, err := e.Relation(relationName)
	if err != nil {
		return nil, err
	}
	return r.Entry(rel.Target)
}
