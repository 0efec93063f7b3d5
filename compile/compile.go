// Package compile turns a query specification into a single SQL
// statement whose execution yields one JSON document: an array of
// entity objects with relation data pre-shaped by the database. One
// statement, one round trip, no application-side row stitching.
//
// Compilation is pure: it reads the registry and the specification and
// produces SQL text plus bind arguments. The input tree is deep-copied
// before any dotted-path push-down, so callers can reuse
// specifications freely.
package compile

import (
	"fmt"

	"tidb-docquery/internal/sqlutil"
	"tidb-docquery/query"
	"tidb-docquery/schema"
)

// Query is a compiled statement with its bind arguments, in
// placeholder order.
type Query struct {
	SQL  string
	Args []interface{}
}

// Compiler binds a schema registry. It is stateless across Compile
// calls and safe for concurrent use once the registry is fully built.
type Compiler struct {
	reg *schema.Registry
}

func New(reg *schema.Registry) *Compiler {
	return &Compiler{reg: reg}
}

// Compile resolves the specification against the registry and renders
// the full statement. The result always produces exactly one row with
// one column: the JSON array of entity documents, `[]` when nothing
// matches.
func (c *Compiler) Compile(entityType string, spec *query.Tree) (Query, error) {
	entry, err := c.reg.Entry(entityType)
	if err != nil {
		return Query{}, err
	}
	if spec == nil {
		spec = &query.Tree{}
	}

	rv := &resolver{reg: c.reg}
	p, err := rv.level(entry, spec.Clone(), "", true)
	if err != nil {
		return Query{}, err
	}

	em := &emitter{}
	inner, args, err := em.emitRoot(p)
	if err != nil {
		return Query{}, err
	}

	sql := fmt.Sprintf("SELECT COALESCE(JSON_ARRAYAGG(%s), JSON_ARRAY()) FROM (%s) AS %s",
		sqlutil.Qualify(resultAlias, docColumn), inner, sqlutil.QuoteIdentifier(resultAlias))
	return Query{SQL: sql, Args: args}, nil
}
