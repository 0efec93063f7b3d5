package compile

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"tidb-docquery/internal/sqlutil"
	"tidb-docquery/schema"
)

// Synthetic identifiers in generated SQL. Storage columns never start
// with a double underscore, so these cannot collide.
const (
	docColumn    = "__doc"
	resultAlias  = "__result"
	rowsAlias    = "__rows"
	relKeyColumn = "__rel_key"
	relObjColumn = "__rel_obj"
	relOrdColumn = "__rel_ord"
	parentAlias  = "__parent"
)

// emitter carries statement-wide state: the counter that keeps
// fragment aliases unique across every nesting level.
type emitter struct {
	fragments int
}

func (em *emitter) nextAlias(name string) string {
	em.fragments++
	return fmt.Sprintf("__%s_%d", sanitizeAlias(name), em.fragments)
}

func sanitizeAlias(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// joinedFragment is one rendered relation subquery, ready to join into
// its parent level.
type joinedFragment struct {
	rel   *relationPlan
	alias string
	sql   string
	args  []interface{}
}

// emitRoot renders the outermost grouped select: one JSON document per
// entity row plus ride-along join columns, filters, ordering, and
// pagination. Compile wraps the result into the final JSON array.
func (em *emitter) emitRoot(p *plan) (string, []interface{}, error) {
	table := p.entry.Table

	frags, err := em.emitRelations(p)
	if err != nil {
		return "", nil, err
	}

	pairs, err := em.jsonPairs(p, table, frags)
	if err != nil {
		return "", nil, err
	}
	doc := fmt.Sprintf("JSON_OBJECT(%s)", pairs)
	if projectsFragment(frags) {
		// Fragment columns are not functionally dependent on the group
		// key; the document rides through an aggregate so the statement
		// survives ONLY_FULL_GROUP_BY.
		doc = fmt.Sprintf("ANY_VALUE(%s)", doc)
	}

	items := []string{fmt.Sprintf("%s AS %s", doc, sqlutil.QuoteIdentifier(docColumn))}
	for _, col := range rideAlongColumns(p) {
		ref := sqlutil.Qualify(table, col)
		if col != schema.IDField {
			ref = fmt.Sprintf("ANY_VALUE(%s)", ref)
		}
		items = append(items, ref)
	}

	b := sq.Select(items...).From(sqlutil.QuoteIdentifier(table))
	b = em.applyJoins(b, table, frags)

	for _, f := range p.filters {
		cond, err := filterCondition(sqlutil.Qualify(table, f.column), f.op, f.value)
		if err != nil {
			return "", nil, err
		}
		b = b.Where(cond)
	}

	b = b.GroupBy(sqlutil.Qualify(table, schema.IDField))

	if p.sort != nil {
		clause, err := rootOrderClause(p, table, frags)
		if err != nil {
			return "", nil, err
		}
		b = b.OrderBy(clause)
	}
	if p.limit > 0 {
		b = b.Limit(uint64(p.limit))
	}
	if p.offset > 0 {
		b = b.Offset(uint64(p.offset))
	}

	return b.PlaceholderFormat(sq.Question).ToSql()
}

// emitRelations renders every planned relation of a level, assigning
// fragment aliases depth-first so equal inputs always yield identical
// statements.
func (em *emitter) emitRelations(p *plan) ([]joinedFragment, error) {
	if len(p.relations) == 0 {
		return nil, nil
	}
	frags := make([]joinedFragment, 0, len(p.relations))
	for _, rp := range p.relations {
		fr, err := em.emitFragment(p, rp)
		if err != nil {
			return nil, err
		}
		frags = append(frags, fr)
	}
	return frags, nil
}

// emitFragment renders one relation as a grouped derived table: a
// pruned row source, aggregated into a JSON payload keyed by the join
// column, one output row per key.
func (em *emitter) emitFragment(parent *plan, rp *relationPlan) (joinedFragment, error) {
	alias := em.nextAlias(rp.alias)
	child := rp.child
	desc := rp.desc

	nested, err := em.emitRelations(child)
	if err != nil {
		return joinedFragment{}, err
	}

	innerCols := make([]string, len(child.columns))
	for i, col := range child.columns {
		innerCols[i] = sqlutil.QuoteIdentifier(col)
	}
	inner := sq.Select(innerCols...).From(sqlutil.QuoteIdentifier(child.entry.Table))
	if child.sort != nil && child.sort.column != "" {
		// Pre-aggregation ordering: rows enter the aggregate in sort
		// order, which orders the payload array.
		inner = inner.OrderBy(sqlutil.QuoteIdentifier(child.sort.column) + " " + direction(child.sort.desc))
	}

	var key string
	switch desc.Kind {
	case schema.OneToMany, schema.ManyToOne:
		key = sqlutil.Qualify(rowsAlias, desc.ChildKey)
	case schema.ManyToMany:
		key = sqlutil.Qualify(parentAlias, desc.ParentKey)
	default:
		return joinedFragment{}, fmt.Errorf("%w: %s", ErrUnsupportedRelationKind, desc.Kind)
	}

	pairs, err := em.jsonPairs(child, rowsAlias, nested)
	if err != nil {
		return joinedFragment{}, err
	}
	items := []string{
		fmt.Sprintf("%s AS %s", key, sqlutil.QuoteIdentifier(relKeyColumn)),
		fmt.Sprintf("JSON_ARRAYAGG(JSON_OBJECT(%s)) AS %s", pairs, sqlutil.QuoteIdentifier(relObjColumn)),
	}
	if rp.sortVia {
		src, err := sortKeySource(child, nested)
		if err != nil {
			return joinedFragment{}, err
		}
		items = append(items, fmt.Sprintf("%s(%s) AS %s",
			aggregateFn(child.sort.desc), src, sqlutil.QuoteIdentifier(relOrdColumn)))
	}

	g := sq.Select(items...).FromSelect(inner, rowsAlias)

	if desc.Kind == schema.ManyToMany {
		g = g.Join(fmt.Sprintf("%s ON %s = %s",
			sqlutil.QuoteIdentifier(desc.BridgeTable),
			sqlutil.Qualify(desc.BridgeTable, desc.BridgeChildKey),
			sqlutil.Qualify(rowsAlias, desc.ChildKey)))
		// Reach back to the owning table for the grouping key. Aliased
		// so self-referential relations cannot collide with the row
		// source.
		g = g.Join(fmt.Sprintf("%s AS %s ON %s = %s",
			sqlutil.QuoteIdentifier(parent.entry.Table),
			sqlutil.QuoteIdentifier(parentAlias),
			sqlutil.Qualify(parentAlias, desc.ParentKey),
			sqlutil.Qualify(desc.BridgeTable, desc.BridgeParentKey)))
	}

	g = em.applyJoins(g, rowsAlias, nested)

	for _, f := range child.filters {
		cond, err := filterCondition(sqlutil.Qualify(rowsAlias, f.column), f.op, f.value)
		if err != nil {
			return joinedFragment{}, err
		}
		g = g.Where(cond)
	}

	g = g.GroupBy(key)

	sql, args, err := g.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return joinedFragment{}, err
	}
	return joinedFragment{rel: rp, alias: alias, sql: sql, args: args}, nil
}

// applyJoins attaches rendered fragments to a builder. A fragment
// joins LEFT unless a dotted filter marked its relation, in which case
// the join turns inner and drops parents without a match.
func (em *emitter) applyJoins(b sq.SelectBuilder, parentQual string, frags []joinedFragment) sq.SelectBuilder {
	for _, fr := range frags {
		clause := fmt.Sprintf("(%s) AS %s ON %s = %s",
			fr.sql,
			sqlutil.QuoteIdentifier(fr.alias),
			sqlutil.Qualify(parentQual, fr.rel.desc.ParentKey),
			sqlutil.Qualify(fr.alias, relKeyColumn))
		if fr.rel.inner {
			b = b.Join(clause, fr.args...)
		} else {
			b = b.LeftJoin(clause, fr.args...)
		}
	}
	return b
}

// jsonPairs renders the key/value argument list of a JSON_OBJECT call:
// the level's projected fields followed by one entry per non-bare
// relation.
func (em *emitter) jsonPairs(p *plan, qualifier string, frags []joinedFragment) (string, error) {
	parts := make([]string, 0, len(p.projected)+len(frags))
	for _, fd := range p.projected {
		parts = append(parts, fmt.Sprintf("%s, %s",
			sqlutil.QuoteString(fd.Alias), sqlutil.Qualify(qualifier, fd.StorageName)))
	}
	for _, fr := range frags {
		if fr.rel.child.bare {
			continue
		}
		val, err := relationValue(fr)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s, %s", sqlutil.QuoteString(fr.rel.alias), val))
	}
	return strings.Join(parts, ", "), nil
}

// relationValue renders the document value for a joined relation. The
// key column is only NULL when the left join found nothing, so the
// CASE distinguishes "no related rows" from real data: collections
// fall back to an empty array, single references to NULL.
func relationValue(fr joinedFragment) (string, error) {
	key := sqlutil.Qualify(fr.alias, relKeyColumn)
	obj := sqlutil.Qualify(fr.alias, relObjColumn)
	switch fr.rel.desc.Kind {
	case schema.OneToMany, schema.ManyToMany:
		return fmt.Sprintf("CASE WHEN %s IS NOT NULL THEN %s ELSE JSON_ARRAY() END", key, obj), nil
	case schema.ManyToOne:
		return fmt.Sprintf("CASE WHEN %s IS NOT NULL THEN JSON_EXTRACT(%s, '$[0]') END", key, obj), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedRelationKind, fr.rel.desc.Kind)
	}
}

// sortKeySource locates the expression a fragment exposes as its sort
// key: the direct sort column, or the sort key bubbled up by the next
// fragment down the path.
func sortKeySource(child *plan, nested []joinedFragment) (string, error) {
	if child.sort == nil {
		return "", fmt.Errorf("internal: sort key requested from a level without a sort")
	}
	if child.sort.column != "" {
		return sqlutil.Qualify(rowsAlias, child.sort.column), nil
	}
	for _, fr := range nested {
		if fr.rel == child.sort.via {
			return sqlutil.Qualify(fr.alias, relOrdColumn), nil
		}
	}
	return "", fmt.Errorf("internal: sort target fragment not found")
}

func rootOrderClause(p *plan, table string, frags []joinedFragment) (string, error) {
	dir := direction(p.sort.desc)
	if p.sort.column != "" {
		return sqlutil.Qualify(table, p.sort.column) + " " + dir, nil
	}
	for _, fr := range frags {
		if fr.rel == p.sort.via {
			return fmt.Sprintf("%s(%s) %s",
				aggregateFn(p.sort.desc), sqlutil.Qualify(fr.alias, relOrdColumn), dir), nil
		}
	}
	return "", fmt.Errorf("internal: sort target fragment not found")
}

// rideAlongColumns lists the root columns selected next to the
// document: the id, always, plus each relation's parent-side join
// column. They never reach the output; the outer wrap reads only the
// document column.
func rideAlongColumns(p *plan) []string {
	seen := map[string]bool{schema.IDField: true}
	cols := []string{schema.IDField}
	for _, rp := range p.relations {
		if !seen[rp.desc.ParentKey] {
			seen[rp.desc.ParentKey] = true
			cols = append(cols, rp.desc.ParentKey)
		}
	}
	return cols
}

func projectsFragment(frags []joinedFragment) bool {
	for _, fr := range frags {
		if !fr.rel.child.bare {
			return true
		}
	}
	return false
}

func direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

// aggregateFn picks the aggregate that represents a group on the sort
// axis: ascending orders parents by their smallest related value,
// descending by their largest.
func aggregateFn(desc bool) string {
	if desc {
		return "MAX"
	}
	return "MIN"
}
