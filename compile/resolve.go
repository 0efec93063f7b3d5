package compile

import (
	"fmt"
	"sort"
	"strings"

	"tidb-docquery/query"
	"tidb-docquery/schema"
)

// plan is one resolved level of a specification: aliases are bound to
// storage columns, dotted filters and sorts are pushed into child
// levels, and implied relations are materialized. Emission walks the
// plan without touching the caller's tree again.
type plan struct {
	entry *schema.Entry

	// projected holds the scalar fields of the JSON payload, in order.
	projected []schema.FieldDescriptor

	// columns is the pruned column list for the level's row source:
	// projected columns plus everything joins, filters, grouping, and
	// sort keys need. Consumed by relation fragments; the root rides
	// its join columns along separately.
	columns []string

	filters   []directFilter
	relations []*relationPlan
	sort      *sortPlan

	// bare marks a level written without a select list. A bare nested
	// level is joined but not projected into its parent's document.
	bare bool

	offset, limit int
}

type directFilter struct {
	column string
	op     query.Operator
	value  interface{}
}

type relationPlan struct {
	alias string
	desc  schema.RelationDescriptor
	child *plan

	// inner is set when a dotted filter at the parent targets this
	// relation; the join must then drop parents without a match.
	inner bool

	// sortVia is set when the parent's sort path descends through this
	// relation; the fragment then exposes a sort key column.
	sortVia bool
}

// sortPlan carries a resolved sort: either a direct column of this
// level or a descent through one of its relations.
type sortPlan struct {
	desc   bool
	column string
	via    *relationPlan
}

type resolver struct {
	reg *schema.Registry
}

// level resolves one tree node. The tree is an owned copy: pushing
// filters and sorts down and materializing relation entries mutate it
// freely without affecting the caller's specification. linkCol is the
// child-side join column when this level is a relation target ("" at
// the root).
func (rv *resolver) level(entry *schema.Entry, tree *query.Tree, linkCol string, root bool) (*plan, error) {
	p := &plan{entry: entry, bare: tree.Select == nil}

	projected, err := rv.selection(entry, tree.Select)
	if err != nil {
		return nil, err
	}
	p.projected = projected

	inner := make(map[string]bool)
	sortVia := ""

	for _, f := range tree.Filters {
		if len(f.Field) == 0 {
			return nil, fmt.Errorf("%w: empty path", ErrInvalidFilterPath)
		}
		if !f.Field.IsNested() {
			fd, err := rv.scalarField(entry, f.Field.First())
			if err != nil {
				return nil, err
			}
			p.filters = append(p.filters, directFilter{column: fd.StorageName, op: f.Op, value: f.Value})
			continue
		}
		head := f.Field.First()
		if _, err := rv.relationField(entry, head); err != nil {
			return nil, fmt.Errorf("%w: segment %q of %q is not a relation of %s",
				ErrInvalidFilterPath, head, f.Field, entry.Type)
		}
		child, err := rv.ensureChild(entry, tree, head, root)
		if err != nil {
			return nil, err
		}
		child.Filters = append(child.Filters, query.Filter{Field: f.Field.ShiftDown(), Op: f.Op, Value: f.Value})
		inner[head] = true
	}

	if tree.Sort != nil {
		s := tree.Sort
		if len(s.Field) == 0 {
			return nil, fmt.Errorf("%w: empty path", ErrInvalidSortPath)
		}
		if !s.Field.IsNested() {
			fd, err := rv.scalarField(entry, s.Field.First())
			if err != nil {
				return nil, err
			}
			p.sort = &sortPlan{column: fd.StorageName, desc: s.Order == query.Desc}
		} else {
			head := s.Field.First()
			if _, err := rv.relationField(entry, head); err != nil {
				return nil, fmt.Errorf("%w: segment %q of %q is not a relation of %s",
					ErrInvalidSortPath, head, s.Field, entry.Type)
			}
			child, err := rv.ensureChild(entry, tree, head, root)
			if err != nil {
				return nil, err
			}
			// The pushed sort replaces whatever the child declared; a
			// specification carries at most one sort.
			child.Sort = &query.Sort{Field: s.Field.ShiftDown(), Order: s.Order}
			sortVia = head
			p.sort = &sortPlan{desc: s.Order == query.Desc}
		}
	}

	aliases := make([]string, 0, len(tree.Relations))
	for alias := range tree.Relations {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		fd, err := rv.relationField(entry, alias)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s", schema.ErrUnknownRelation, entry.Type, alias)
		}
		desc, err := entry.Relation(fd.StorageName)
		if err != nil {
			return nil, err
		}
		switch desc.Kind {
		case schema.OneToMany, schema.ManyToOne, schema.ManyToMany:
		default:
			return nil, fmt.Errorf("%w: %s.%s has %s", ErrUnsupportedRelationKind, entry.Type, alias, desc.Kind)
		}
		target, err := rv.reg.RelationTarget(entry.Type, fd.StorageName)
		if err != nil {
			return nil, err
		}
		childPlan, err := rv.level(target, tree.Relations[alias], desc.ChildKey, false)
		if err != nil {
			return nil, err
		}
		rp := &relationPlan{
			alias:   alias,
			desc:    desc,
			child:   childPlan,
			inner:   inner[alias],
			sortVia: alias == sortVia,
		}
		p.relations = append(p.relations, rp)
		if rp.sortVia {
			p.sort.via = rp
		}
	}

	if root {
		if tree.Offset < 0 || tree.Limit < 0 {
			return nil, fmt.Errorf("offset and limit must not be negative (offset=%d, limit=%d)", tree.Offset, tree.Limit)
		}
		p.offset, p.limit = tree.Offset, tree.Limit
	}

	p.columns = rv.columnSet(p, linkCol)
	return p, nil
}

// selection applies the selection rule: nil means every non-relation
// field; any exclusion entry switches the whole list to "all fields
// minus every excluded alias" (exclusions accumulate against one
// snapshot); a wildcard selects everything; otherwise the explicit
// aliases, in order. Relations never appear here — they are requested
// through the relations map.
func (rv *resolver) selection(entry *schema.Entry, sel []string) ([]schema.FieldDescriptor, error) {
	scalars := entry.ScalarFields()
	if sel == nil {
		return scalars, nil
	}

	var excluded []string
	for _, s := range sel {
		if strings.HasPrefix(s, query.ExcludePrefix) {
			excluded = append(excluded, strings.TrimPrefix(s, query.ExcludePrefix))
		}
	}
	if len(excluded) > 0 {
		drop := make(map[string]bool, len(excluded))
		for _, alias := range excluded {
			fd, err := rv.scalarField(entry, alias)
			if err != nil {
				return nil, err
			}
			drop[fd.StorageName] = true
		}
		kept := make([]schema.FieldDescriptor, 0, len(scalars))
		for _, fd := range scalars {
			if !drop[fd.StorageName] {
				kept = append(kept, fd)
			}
		}
		return kept, nil
	}

	for _, s := range sel {
		if s == query.Wildcard {
			return scalars, nil
		}
	}

	out := make([]schema.FieldDescriptor, 0, len(sel))
	for _, alias := range sel {
		fd, err := rv.scalarField(entry, alias)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return out, nil
}

// scalarField resolves an alias that must name a column, not a
// relation.
func (rv *resolver) scalarField(entry *schema.Entry, alias string) (schema.FieldDescriptor, error) {
	fd, err := entry.FieldByAlias(alias)
	if err != nil {
		return schema.FieldDescriptor{}, err
	}
	if entry.IsRelation(fd) {
		return schema.FieldDescriptor{}, fmt.Errorf("%w: %s.%s names a relation, not a column",
			schema.ErrUnknownField, entry.Type, alias)
	}
	return fd, nil
}

// relationField resolves an alias that must name a relation field.
func (rv *resolver) relationField(entry *schema.Entry, alias string) (schema.FieldDescriptor, error) {
	fd, err := entry.FieldByAlias(alias)
	if err != nil {
		return schema.FieldDescriptor{}, err
	}
	if !entry.IsRelation(fd) {
		return schema.FieldDescriptor{}, fmt.Errorf("%w: %s.%s is not a relation",
			schema.ErrUnknownRelation, entry.Type, alias)
	}
	return fd, nil
}

// ensureChild returns the nested specification for a relation alias,
// materializing one when a dotted path implies a relation the caller
// never spelled out. A synthesized entry at the root is bare (joined,
// not projected); deeper ones project just the id so their parent's
// payload stays well-formed.
func (rv *resolver) ensureChild(entry *schema.Entry, tree *query.Tree, alias string, root bool) (*query.Tree, error) {
	if child, ok := tree.Relations[alias]; ok {
		return child, nil
	}
	fd, err := rv.relationField(entry, alias)
	if err != nil {
		return nil, err
	}
	target, err := rv.reg.RelationTarget(entry.Type, fd.StorageName)
	if err != nil {
		return nil, err
	}
	child := &query.Tree{}
	if !root {
		idField, err := target.FieldByStorage(schema.IDField)
		if err != nil {
			return nil, err
		}
		child.Select = []string{idField.Alias}
	}
	if tree.Relations == nil {
		tree.Relations = make(map[string]*query.Tree, 1)
	}
	tree.Relations[alias] = child
	return child, nil
}

// columnSet assembles the pruned column list for the level's row
// source: projection first, then the child-side join column, the id,
// every nested relation's parent-side key, filter columns, and the
// direct sort column.
func (rv *resolver) columnSet(p *plan, linkCol string) []string {
	seen := make(map[string]bool)
	var cols []string
	add := func(col string) {
		if col == "" || seen[col] {
			return
		}
		seen[col] = true
		cols = append(cols, col)
	}

	for _, fd := range p.projected {
		add(fd.StorageName)
	}
	add(linkCol)
	add(schema.IDField)
	for _, rp := range p.relations {
		add(rp.desc.ParentKey)
	}
	for _, f := range p.filters {
		add(f.column)
	}
	if p.sort != nil {
		add(p.sort.column)
	}
	return cols
}
