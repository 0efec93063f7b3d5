// Package query defines the declarative query specification the
// compiler consumes: a tree of selections, filters, one optional sort,
// and nested relation specifications.
package query

// Selection entries with special meaning.
const (
	// Wildcard selects every non-relation field.
	Wildcard = "*"
	// ExcludePrefix marks a selection entry as an exclusion. When any
	// entry carries it, the selection becomes "all non-relation fields
	// minus every excluded alias".
	ExcludePrefix = "!"
)

// Tree is one level of a query specification.
//
// Select lists field aliases; nil means no explicit selection (all
// non-relation fields, and a nested level with nil Select is joined
// without being projected into its parent's document). Relations is
// keyed by relation field alias. Offset and Limit apply at the
// outermost level only; zero means absent.
type Tree struct {
	Select    []string         `json:"select,omitempty"`
	Filters   []Filter         `json:"filters,omitempty"`
	Sort      *Sort            `json:"sort,omitempty"`
	Relations map[string]*Tree `json:"relations,omitempty"`
	Offset    int              `json:"offset,omitempty"`
	Limit     int              `json:"limit,omitempty"`
}

// Filter is one conjunctive predicate. A dotted Field path targets a
// related entity and is pushed down during compilation. Value is an
// opaque bind argument; in/notIn take a slice, isNull a boolean.
type Filter struct {
	Field Path        `json:"field"`
	Op    Operator    `json:"op"`
	Value interface{} `json:"value,omitempty"`
}

// Operator is the filter operator vocabulary.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNe      Operator = "ne"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpIn      Operator = "in"
	OpNotIn   Operator = "notIn"
	OpLike    Operator = "like"
	OpNotLike Operator = "notLike"
	OpIsNull  Operator = "isNull"
)

// Sort orders results by one field. A dotted path orders outer rows by
// a value reached through relations.
type Sort struct {
	Field Path  `json:"field"`
	Order Order `json:"order,omitempty"`
}

// Order is the sort direction. Anything other than Desc sorts
// ascending.
type Order string

const (
	Asc  Order = "ASC"
	Desc Order = "DESC"
)

// Clone returns a deep copy of the tree. Filter values are copied by
// reference; they are opaque bind arguments and never mutated.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := &Tree{Offset: t.Offset, Limit: t.Limit}
	if t.Select != nil {
		out.Select = append([]string(nil), t.Select...)
	}
	if t.Filters != nil {
		out.Filters = make([]Filter, len(t.Filters))
		for i, f := range t.Filters {
			f.Field = f.Field.clone()
			out.Filters[i] = f
		}
	}
	if t.Sort != nil {
		s := *t.Sort
		s.Field = s.Field.clone()
		out.Sort = &s
	}
	if t.Relations != nil {
		out.Relations = make(map[string]*Tree, len(t.Relations))
		for alias, child := range t.Relations {
			out.Relations[alias] = child.Clone()
		}
	}
	return out
}
