package compile

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-docquery/query"
	"tidb-docquery/schema"
)

// newLibraryRegistry builds the three-entity schema the compiler tests
// run against: authors own books, books reference their author back and
// carry tags through a bridge table. Join metadata is left to the
// naming conventions on purpose; the derived keys are part of what
// these tests pin down.
func newLibraryRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	reg := schema.NewRegistry()
	require.NoError(t, reg.Register("Author", "",
		[]schema.FieldDescriptor{
			{StorageName: "id"},
			{StorageName: "name"},
			{StorageName: "birth_year", Alias: "birthYear"},
		},
		[]schema.RelationDescriptor{
			{Name: "books", Kind: schema.OneToMany, Target: "Book"},
		},
	))
	require.NoError(t, reg.Register("Book", "",
		[]schema.FieldDescriptor{
			{StorageName: "id"},
			{StorageName: "title"},
			{StorageName: "author_id"},
		},
		[]schema.RelationDescriptor{
			{Name: "author", Kind: schema.ManyToOne, Target: "Author"},
			{Name: "tags", Kind: schema.ManyToMany, Target: "Tag"},
		},
	))
	require.NoError(t, reg.Register("Tag", "",
		[]schema.FieldDescriptor{
			{StorageName: "id"},
			{StorageName: "label"},
		},
		[]schema.RelationDescriptor{
			{Name: "books", Kind: schema.ManyToMany, Target: "Book"},
		},
	))
	return reg
}

func newLibraryCompiler(t *testing.T) *Compiler {
	t.Helper()
	return New(newLibraryRegistry(t))
}

func TestCompileListWithRelation(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Author", &query.Tree{
		Select: []string{"name"},
		Relations: map[string]*query.Tree{
			"books": {Select: []string{"title"}},
		},
	})
	require.NoError(t, err)

	assertSQLMatches(t, q.SQL,
		"SELECT COALESCE(JSON_ARRAYAGG(`__result`.`__doc`), JSON_ARRAY()) FROM ("+
			"SELECT ANY_VALUE(JSON_OBJECT('name', `authors`.`name`, 'books', "+
			"CASE WHEN `__books_1`.`__rel_key` IS NOT NULL THEN `__books_1`.`__rel_obj` ELSE JSON_ARRAY() END"+
			")) AS `__doc`, `authors`.`id` "+
			"FROM `authors` "+
			"LEFT JOIN (SELECT `__rows`.`author_id` AS `__rel_key`, "+
			"JSON_ARRAYAGG(JSON_OBJECT('title', `__rows`.`title`)) AS `__rel_obj` "+
			"FROM (SELECT `title`, `author_id`, `id` FROM `books`) AS __rows "+
			"GROUP BY `__rows`.`author_id`) AS `__books_1` ON `authors`.`id` = `__books_1`.`__rel_key` "+
			"GROUP BY `authors`.`id`"+
			") AS `__result`")
	assert.Empty(t, q.Args)
}

func TestCompileManyToOne(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Book", &query.Tree{
		Select: []string{"title"},
		Relations: map[string]*query.Tree{
			"author": {Select: []string{"name"}},
		},
	})
	require.NoError(t, err)

	// A to-one relation still aggregates into an array inside the
	// fragment; the parent unwraps the first element and leaves NULL
	// when the join found nothing.
	assertSQLMatches(t, q.SQL,
		"SELECT COALESCE(JSON_ARRAYAGG(`__result`.`__doc`), JSON_ARRAY()) FROM ("+
			"SELECT ANY_VALUE(JSON_OBJECT('title', `books`.`title`, 'author', "+
			"CASE WHEN `__author_1`.`__rel_key` IS NOT NULL THEN JSON_EXTRACT(`__author_1`.`__rel_obj`, '$[0]') END"+
			")) AS `__doc`, `books`.`id`, ANY_VALUE(`books`.`author_id`) "+
			"FROM `books` "+
			"LEFT JOIN (SELECT `__rows`.`id` AS `__rel_key`, "+
			"JSON_ARRAYAGG(JSON_OBJECT('name', `__rows`.`name`)) AS `__rel_obj` "+
			"FROM (SELECT `name`, `id` FROM `authors`) AS __rows "+
			"GROUP BY `__rows`.`id`) AS `__author_1` ON `books`.`author_id` = `__author_1`.`__rel_key` "+
			"GROUP BY `books`.`id`"+
			") AS `__result`")
	assert.Empty(t, q.Args)
}

func TestCompileManyToMany(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Book", &query.Tree{
		Select: []string{"title"},
		Relations: map[string]*query.Tree{
			"tags": {Select: []string{"label"}},
		},
	})
	require.NoError(t, err)

	assertSQLMatches(t, q.SQL,
		"SELECT COALESCE(JSON_ARRAYAGG(`__result`.`__doc`), JSON_ARRAY()) FROM ("+
			"SELECT ANY_VALUE(JSON_OBJECT('title', `books`.`title`, 'tags', "+
			"CASE WHEN `__tags_1`.`__rel_key` IS NOT NULL THEN `__tags_1`.`__rel_obj` ELSE JSON_ARRAY() END"+
			")) AS `__doc`, `books`.`id` "+
			"FROM `books` "+
			"LEFT JOIN (SELECT `__parent`.`id` AS `__rel_key`, "+
			"JSON_ARRAYAGG(JSON_OBJECT('label', `__rows`.`label`)) AS `__rel_obj` "+
			"FROM (SELECT `label`, `id` FROM `tags`) AS __rows "+
			"JOIN `books_tags` ON `books_tags`.`tag_id` = `__rows`.`id` "+
			"JOIN `books` AS `__parent` ON `__parent`.`id` = `books_tags`.`book_id` "+
			"GROUP BY `__parent`.`id`) AS `__tags_1` ON `books`.`id` = `__tags_1`.`__rel_key` "+
			"GROUP BY `books`.`id`"+
			") AS `__result`")
	assert.Empty(t, q.Args)
}

func TestCompileBareSpec(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Author", nil)
	require.NoError(t, err)

	assertSQLMatches(t, q.SQL,
		"SELECT COALESCE(JSON_ARRAYAGG(`__result`.`__doc`), JSON_ARRAY()) FROM ("+
			"SELECT JSON_OBJECT('id', `authors`.`id`, 'name', `authors`.`name`, 'birthYear', `authors`.`birth_year`) AS `__doc`, `authors`.`id` "+
			"FROM `authors` GROUP BY `authors`.`id`"+
			") AS `__result`")
	assert.Empty(t, q.Args)
}

func TestCompileSelection(t *testing.T) {
	c := newLibraryCompiler(t)

	compileDoc := func(t *testing.T, sel []string) string {
		t.Helper()
		q, err := c.Compile("Author", &query.Tree{Select: sel})
		require.NoError(t, err)
		return q.SQL
	}

	t.Run("explicit list keeps order", func(t *testing.T) {
		sql := compileDoc(t, []string{"birthYear", "name"})
		assert.Contains(t, sql, "JSON_OBJECT('birthYear', `authors`.`birth_year`, 'name', `authors`.`name`)")
	})

	t.Run("wildcard selects every column", func(t *testing.T) {
		sql := compileDoc(t, []string{"*"})
		assert.Contains(t, sql, "JSON_OBJECT('id', `authors`.`id`, 'name', `authors`.`name`, 'birthYear', `authors`.`birth_year`)")
	})

	t.Run("empty list yields empty document", func(t *testing.T) {
		sql := compileDoc(t, []string{})
		assert.Contains(t, sql, "JSON_OBJECT() AS `__doc`")
	})

	t.Run("exclusion drops one column", func(t *testing.T) {
		sql := compileDoc(t, []string{"!birthYear"})
		assert.Contains(t, sql, "JSON_OBJECT('id', `authors`.`id`, 'name', `authors`.`name`)")
	})

	t.Run("exclusions accumulate", func(t *testing.T) {
		sql := compileDoc(t, []string{"!birthYear", "!name"})
		assert.Contains(t, sql, "JSON_OBJECT('id', `authors`.`id`) AS `__doc`")
	})

	t.Run("exclusion overrides explicit entries", func(t *testing.T) {
		sql := compileDoc(t, []string{"name", "!birthYear"})
		assert.Contains(t, sql, "JSON_OBJECT('id', `authors`.`id`, 'name', `authors`.`name`)")
	})

	t.Run("wildcard with exclusion", func(t *testing.T) {
		sql := compileDoc(t, []string{"*", "!name"})
		assert.Contains(t, sql, "JSON_OBJECT('id', `authors`.`id`, 'birthYear', `authors`.`birth_year`)")
	})
}

func TestCompileDottedFilterForcesInnerJoin(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Author", &query.Tree{
		Select: []string{"name"},
		Filters: []query.Filter{
			{Field: query.ParsePath("books.title"), Op: query.OpLike, Value: "%Go%"},
		},
	})
	require.NoError(t, err)

	// The implied relation is joined for filtering only: the document
	// keeps its requested shape, the join turns inner, and the
	// predicate lands inside the fragment.
	assertSQLMatches(t, q.SQL,
		"SELECT COALESCE(JSON_ARRAYAGG(`__result`.`__doc`), JSON_ARRAY()) FROM ("+
			"SELECT JSON_OBJECT('name', `authors`.`name`) AS `__doc`, `authors`.`id` "+
			"FROM `authors` "+
			"JOIN (SELECT `__rows`.`author_id` AS `__rel_key`, "+
			"JSON_ARRAYAGG(JSON_OBJECT('id', `__rows`.`id`, 'title', `__rows`.`title`, 'author_id', `__rows`.`author_id`)) AS `__rel_obj` "+
			"FROM (SELECT `id`, `title`, `author_id` FROM `books`) AS __rows "+
			"WHERE `__rows`.`title` LIKE ? "+
			"GROUP BY `__rows`.`author_id`) AS `__books_1` ON `authors`.`id` = `__books_1`.`__rel_key` "+
			"GROUP BY `authors`.`id`"+
			") AS `__result`")
	assertArgsEqual(t, q.Args, []interface{}{"%Go%"})
	assert.NotContains(t, q.SQL, "LEFT JOIN")
}

func TestCompileFilterOperators(t *testing.T) {
	c := newLibraryCompiler(t)

	tests := []struct {
		name       string
		filter     query.Filter
		wantClause string
		wantArgs   []interface{}
	}{
		{
			name:       "eq",
			filter:     query.Filter{Field: query.ParsePath("name"), Op: query.OpEq, Value: "Alice"},
			wantClause: "WHERE `authors`.`name` = ?",
			wantArgs:   []interface{}{"Alice"},
		},
		{
			name:       "ne",
			filter:     query.Filter{Field: query.ParsePath("name"), Op: query.OpNe, Value: "Alice"},
			wantClause: "WHERE `authors`.`name` <> ?",
			wantArgs:   []interface{}{"Alice"},
		},
		{
			name:       "lt",
			filter:     query.Filter{Field: query.ParsePath("birthYear"), Op: query.OpLt, Value: 1950},
			wantClause: "WHERE `authors`.`birth_year` < ?",
			wantArgs:   []interface{}{1950},
		},
		{
			name:       "lte",
			filter:     query.Filter{Field: query.ParsePath("birthYear"), Op: query.OpLte, Value: 1950},
			wantClause: "WHERE `authors`.`birth_year` <= ?",
			wantArgs:   []interface{}{1950},
		},
		{
			name:       "gt",
			filter:     query.Filter{Field: query.ParsePath("birthYear"), Op: query.OpGt, Value: 1950},
			wantClause: "WHERE `authors`.`birth_year` > ?",
			wantArgs:   []interface{}{1950},
		},
		{
			name:       "gte",
			filter:     query.Filter{Field: query.ParsePath("birthYear"), Op: query.OpGte, Value: 1950},
			wantClause: "WHERE `authors`.`birth_year` >= ?",
			wantArgs:   []interface{}{1950},
		},
		{
			name:       "in expands placeholders",
			filter:     query.Filter{Field: query.ParsePath("id"), Op: query.OpIn, Value: []interface{}{1, 2}},
			wantClause: "WHERE `authors`.`id` IN (?,?)",
			wantArgs:   []interface{}{1, 2},
		},
		{
			name:       "notIn expands placeholders",
			filter:     query.Filter{Field: query.ParsePath("id"), Op: query.OpNotIn, Value: []interface{}{1, 2}},
			wantClause: "WHERE `authors`.`id` NOT IN (?,?)",
			wantArgs:   []interface{}{1, 2},
		},
		{
			name:       "like",
			filter:     query.Filter{Field: query.ParsePath("name"), Op: query.OpLike, Value: "A%"},
			wantClause: "WHERE `authors`.`name` LIKE ?",
			wantArgs:   []interface{}{"A%"},
		},
		{
			name:       "notLike",
			filter:     query.Filter{Field: query.ParsePath("name"), Op: query.OpNotLike, Value: "A%"},
			wantClause: "WHERE `authors`.`name` NOT LIKE ?",
			wantArgs:   []interface{}{"A%"},
		},
		{
			name:       "isNull true",
			filter:     query.Filter{Field: query.ParsePath("birthYear"), Op: query.OpIsNull, Value: true},
			wantClause: "WHERE `authors`.`birth_year` IS NULL",
			wantArgs:   nil,
		},
		{
			name:       "isNull false",
			filter:     query.Filter{Field: query.ParsePath("birthYear"), Op: query.OpIsNull, Value: false},
			wantClause: "WHERE `authors`.`birth_year` IS NOT NULL",
			wantArgs:   nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := c.Compile("Author", &query.Tree{
				Select:  []string{"name"},
				Filters: []query.Filter{tc.filter},
			})
			require.NoError(t, err)
			assert.Contains(t, normalizeSQL(q.SQL), tc.wantClause)
			assertArgsEqual(t, q.Args, tc.wantArgs)
		})
	}
}

func TestCompileFilterValueValidation(t *testing.T) {
	c := newLibraryCompiler(t)

	t.Run("in requires a slice", func(t *testing.T) {
		_, err := c.Compile("Author", &query.Tree{
			Filters: []query.Filter{{Field: query.ParsePath("id"), Op: query.OpIn, Value: 5}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a slice")
	})

	t.Run("isNull requires a boolean", func(t *testing.T) {
		_, err := c.Compile("Author", &query.Tree{
			Filters: []query.Filter{{Field: query.ParsePath("name"), Op: query.OpIsNull, Value: "yes"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a boolean")
	})

	t.Run("unknown operator", func(t *testing.T) {
		_, err := c.Compile("Author", &query.Tree{
			Filters: []query.Filter{{Field: query.ParsePath("name"), Op: query.Operator("regex"), Value: "x"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported filter operator")
	})
}

func TestCompileMultipleFiltersConjoin(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Author", &query.Tree{
		Select: []string{"name"},
		Filters: []query.Filter{
			{Field: query.ParsePath("name"), Op: query.OpEq, Value: "Alice"},
			{Field: query.ParsePath("birthYear"), Op: query.OpGt, Value: 1950},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, normalizeSQL(q.SQL), "WHERE `authors`.`name` = ? AND `authors`.`birth_year` > ?")
	assertArgsEqual(t, q.Args, []interface{}{"Alice", 1950})
}

func TestCompileArgumentOrder(t *testing.T) {
	c := newLibraryCompiler(t)

	// Join arguments travel with their fragment, relations render in
	// alias order, and root predicates come last.
	q, err := c.Compile("Book", &query.Tree{
		Select: []string{"title"},
		Filters: []query.Filter{
			{Field: query.ParsePath("tags.label"), Op: query.OpEq, Value: "go"},
			{Field: query.ParsePath("author.name"), Op: query.OpEq, Value: "Alice"},
			{Field: query.ParsePath("title"), Op: query.OpLike, Value: "%x%"},
		},
	})
	require.NoError(t, err)
	assertArgsEqual(t, q.Args, []interface{}{"Alice", "go", "%x%"})

	norm := normalizeSQL(q.SQL)
	assert.Contains(t, norm, "AS `__author_1`")
	assert.Contains(t, norm, "AS `__tags_2`")
	assert.NotContains(t, norm, "LEFT JOIN")
}

func TestCompilePagination(t *testing.T) {
	c := newLibraryCompiler(t)

	t.Run("applies at the root", func(t *testing.T) {
		q, err := c.Compile("Author", &query.Tree{Select: []string{"name"}, Offset: 2, Limit: 3})
		require.NoError(t, err)
		assertSQLMatches(t, q.SQL,
			"SELECT COALESCE(JSON_ARRAYAGG(`__result`.`__doc`), JSON_ARRAY()) FROM ("+
				"SELECT JSON_OBJECT('name', `authors`.`name`) AS `__doc`, `authors`.`id` "+
				"FROM `authors` GROUP BY `authors`.`id` LIMIT 3 OFFSET 2"+
				") AS `__result`")
	})

	t.Run("zero means absent", func(t *testing.T) {
		q, err := c.Compile("Author", &query.Tree{Select: []string{"name"}})
		require.NoError(t, err)
		assert.NotContains(t, q.SQL, "LIMIT")
		assert.NotContains(t, q.SQL, "OFFSET")
	})

	t.Run("nested pagination is ignored", func(t *testing.T) {
		q, err := c.Compile("Author", &query.Tree{
			Select: []string{"name"},
			Relations: map[string]*query.Tree{
				"books": {Select: []string{"title"}, Offset: 5, Limit: 7},
			},
		})
		require.NoError(t, err)
		assert.NotContains(t, q.SQL, "LIMIT")
		assert.NotContains(t, q.SQL, "OFFSET")
	})

	t.Run("negative values are rejected", func(t *testing.T) {
		_, err := c.Compile("Author", &query.Tree{Limit: -1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not be negative")

		_, err = c.Compile("Author", &query.Tree{Offset: -3})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not be negative")
	})
}

func TestCompileDirectSort(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Author", &query.Tree{
		Select: []string{"name"},
		Sort:   &query.Sort{Field: query.ParsePath("name"), Order: query.Desc},
		Offset: 2,
		Limit:  3,
	})
	require.NoError(t, err)
	assertSQLMatches(t, q.SQL,
		"SELECT COALESCE(JSON_ARRAYAGG(`__result`.`__doc`), JSON_ARRAY()) FROM ("+
			"SELECT JSON_OBJECT('name', `authors`.`name`) AS `__doc`, `authors`.`id` "+
			"FROM `authors` GROUP BY `authors`.`id` "+
			"ORDER BY `authors`.`name` DESC LIMIT 3 OFFSET 2"+
			") AS `__result`")
}

func TestCompileDottedSort(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Author", &query.Tree{
		Select: []string{"name"},
		Sort:   &query.Sort{Field: query.ParsePath("books.title")},
	})
	require.NoError(t, err)

	// The implied fragment exposes an aggregated sort key and the root
	// orders by it. Unlike a dotted filter, a dotted sort keeps the
	// join outer: authors without books still appear.
	assertSQLMatches(t, q.SQL,
		"SELECT COALESCE(JSON_ARRAYAGG(`__result`.`__doc`), JSON_ARRAY()) FROM ("+
			"SELECT JSON_OBJECT('name', `authors`.`name`) AS `__doc`, `authors`.`id` "+
			"FROM `authors` "+
			"LEFT JOIN (SELECT `__rows`.`author_id` AS `__rel_key`, "+
			"JSON_ARRAYAGG(JSON_OBJECT('id', `__rows`.`id`, 'title', `__rows`.`title`, 'author_id', `__rows`.`author_id`)) AS `__rel_obj`, "+
			"MIN(`__rows`.`title`) AS `__rel_ord` "+
			"FROM (SELECT `id`, `title`, `author_id` FROM `books` ORDER BY `title` ASC) AS __rows "+
			"GROUP BY `__rows`.`author_id`) AS `__books_1` ON `authors`.`id` = `__books_1`.`__rel_key` "+
			"GROUP BY `authors`.`id` "+
			"ORDER BY MIN(`__books_1`.`__rel_ord`) ASC"+
			") AS `__result`")
}

func TestCompileDottedSortDescending(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Author", &query.Tree{
		Select: []string{"name"},
		Sort:   &query.Sort{Field: query.ParsePath("books.title"), Order: query.Desc},
	})
	require.NoError(t, err)

	norm := normalizeSQL(q.SQL)
	assert.Contains(t, norm, "MAX(`__rows`.`title`) AS `__rel_ord`")
	assert.Contains(t, norm, "ORDER BY `title` DESC) AS __rows")
	assert.Contains(t, norm, "ORDER BY MAX(`__books_1`.`__rel_ord`) DESC")
	assert.Contains(t, norm, "LEFT JOIN")
}

func TestCompileDeclaredChildSortOrdersPayload(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Author", &query.Tree{
		Select: []string{"name"},
		Relations: map[string]*query.Tree{
			"books": {
				Select: []string{"title"},
				Sort:   &query.Sort{Field: query.ParsePath("title"), Order: query.Desc},
			},
		},
	})
	require.NoError(t, err)

	// A sort declared on a nested level orders the rows feeding the
	// aggregate. It does not order the outer result and exposes no
	// sort key.
	norm := normalizeSQL(q.SQL)
	assert.Contains(t, norm, "FROM `books` ORDER BY `title` DESC) AS __rows")
	assert.NotContains(t, norm, "__rel_ord")
	assert.NotContains(t, norm, "ORDER BY MIN")
	assert.NotContains(t, norm, "ORDER BY MAX")
}

func TestCompileSynthesizedDeepRelation(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Author", &query.Tree{
		Select: []string{"name"},
		Relations: map[string]*query.Tree{
			"books": {
				Select: []string{"title"},
				Filters: []query.Filter{
					{Field: query.ParsePath("tags.label"), Op: query.OpEq, Value: "go"},
				},
			},
		},
	})
	require.NoError(t, err)

	norm := normalizeSQL(q.SQL)
	// Synthesized below the root: the tags level projects just its id
	// so the books payload stays well-formed.
	assert.Contains(t, norm, "'tags', CASE WHEN `__tags_2`.`__rel_key` IS NOT NULL THEN `__tags_2`.`__rel_obj` ELSE JSON_ARRAY() END")
	assert.Contains(t, norm, "JSON_ARRAYAGG(JSON_OBJECT('id', `__rows`.`id`)) AS `__rel_obj`")
	assert.Contains(t, norm, "WHERE `__rows`.`label` = ?")
	assert.Contains(t, norm, "AS `__tags_2` ON `__rows`.`id` = `__tags_2`.`__rel_key`")
	assertArgsEqual(t, q.Args, []interface{}{"go"})
}

func TestCompileAliasedRelationField(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register("Author", "",
		[]schema.FieldDescriptor{
			{StorageName: "id"},
			{StorageName: "name"},
			{StorageName: "books", Alias: "publications"},
		},
		[]schema.RelationDescriptor{
			{Name: "books", Kind: schema.OneToMany, Target: "Book"},
		},
	))
	require.NoError(t, reg.Register("Book", "",
		[]schema.FieldDescriptor{
			{StorageName: "id"},
			{StorageName: "title"},
			{StorageName: "author_id"},
		},
		nil,
	))
	c := New(reg)

	q, err := c.Compile("Author", &query.Tree{
		Select: []string{"name"},
		Relations: map[string]*query.Tree{
			"publications": {Select: []string{"title"}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "'publications', CASE WHEN `__publications_1`.`__rel_key`")

	// The storage name is not part of the public surface.
	_, err = c.Compile("Author", &query.Tree{
		Relations: map[string]*query.Tree{"books": {}},
	})
	require.ErrorIs(t, err, schema.ErrUnknownRelation)
}

func TestCompileErrors(t *testing.T) {
	c := newLibraryCompiler(t)

	tests := []struct {
		name    string
		entity  string
		spec    *query.Tree
		wantErr error
	}{
		{
			name:    "unknown entity",
			entity:  "Publisher",
			spec:    nil,
			wantErr: schema.ErrUnknownEntity,
		},
		{
			name:    "unknown select alias",
			entity:  "Author",
			spec:    &query.Tree{Select: []string{"nope"}},
			wantErr: schema.ErrUnknownField,
		},
		{
			name:    "relation alias in select",
			entity:  "Author",
			spec:    &query.Tree{Select: []string{"books"}},
			wantErr: schema.ErrUnknownField,
		},
		{
			name:    "unknown exclusion alias",
			entity:  "Author",
			spec:    &query.Tree{Select: []string{"!nope"}},
			wantErr: schema.ErrUnknownField,
		},
		{
			name:    "relation alias in exclusion",
			entity:  "Author",
			spec:    &query.Tree{Select: []string{"!books"}},
			wantErr: schema.ErrUnknownField,
		},
		{
			name:    "unknown relations key",
			entity:  "Author",
			spec:    &query.Tree{Relations: map[string]*query.Tree{"nope": {}}},
			wantErr: schema.ErrUnknownRelation,
		},
		{
			name:    "scalar alias as relations key",
			entity:  "Author",
			spec:    &query.Tree{Relations: map[string]*query.Tree{"name": {}}},
			wantErr: schema.ErrUnknownRelation,
		},
		{
			name:   "filter path through scalar",
			entity: "Author",
			spec: &query.Tree{Filters: []query.Filter{
				{Field: query.ParsePath("name.length"), Op: query.OpEq, Value: 3},
			}},
			wantErr: ErrInvalidFilterPath,
		},
		{
			name:   "filter path through unknown alias",
			entity: "Author",
			spec: &query.Tree{Filters: []query.Filter{
				{Field: query.ParsePath("nope.title"), Op: query.OpEq, Value: "x"},
			}},
			wantErr: ErrInvalidFilterPath,
		},
		{
			name:   "filter terminal unknown",
			entity: "Author",
			spec: &query.Tree{Filters: []query.Filter{
				{Field: query.ParsePath("books.nope"), Op: query.OpEq, Value: "x"},
			}},
			wantErr: schema.ErrUnknownField,
		},
		{
			name:   "filter terminal names a relation",
			entity: "Author",
			spec: &query.Tree{Filters: []query.Filter{
				{Field: query.ParsePath("books.tags"), Op: query.OpEq, Value: "x"},
			}},
			wantErr: schema.ErrUnknownField,
		},
		{
			name:   "filter directly on relation alias",
			entity: "Author",
			spec: &query.Tree{Filters: []query.Filter{
				{Field: query.ParsePath("books"), Op: query.OpEq, Value: "x"},
			}},
			wantErr: schema.ErrUnknownField,
		},
		{
			name:   "empty filter path",
			entity: "Author",
			spec: &query.Tree{Filters: []query.Filter{
				{Op: query.OpEq, Value: "x"},
			}},
			wantErr: ErrInvalidFilterPath,
		},
		{
			name:    "sort path through scalar",
			entity:  "Author",
			spec:    &query.Tree{Sort: &query.Sort{Field: query.ParsePath("name.length")}},
			wantErr: ErrInvalidSortPath,
		},
		{
			name:    "sort path through unknown alias",
			entity:  "Author",
			spec:    &query.Tree{Sort: &query.Sort{Field: query.ParsePath("nope.title")}},
			wantErr: ErrInvalidSortPath,
		},
		{
			name:    "sort terminal unknown",
			entity:  "Author",
			spec:    &query.Tree{Sort: &query.Sort{Field: query.ParsePath("books.nope")}},
			wantErr: schema.ErrUnknownField,
		},
		{
			name:    "sort directly on relation alias",
			entity:  "Author",
			spec:    &query.Tree{Sort: &query.Sort{Field: query.ParsePath("books")}},
			wantErr: schema.ErrUnknownField,
		},
		{
			name:    "empty sort path",
			entity:  "Author",
			spec:    &query.Tree{Sort: &query.Sort{}},
			wantErr: ErrInvalidSortPath,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compile(tc.entity, tc.spec)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestCompileDoesNotMutateSpec(t *testing.T) {
	c := newLibraryCompiler(t)

	build := func() *query.Tree {
		return &query.Tree{
			Select: []string{"name"},
			Filters: []query.Filter{
				{Field: query.ParsePath("books.title"), Op: query.OpLike, Value: "%Go%"},
			},
			Sort: &query.Sort{Field: query.ParsePath("books.title")},
			Relations: map[string]*query.Tree{
				"books": {Select: []string{"title"}},
			},
		}
	}

	spec := build()
	_, err := c.Compile("Author", spec)
	require.NoError(t, err)

	// Push-down happens on an owned copy: no pushed filters, no
	// replaced sorts, no synthesized relation entries leak back.
	assert.Equal(t, build(), spec)
}

func TestCompileIsDeterministic(t *testing.T) {
	c := newLibraryCompiler(t)

	spec := &query.Tree{
		Relations: map[string]*query.Tree{
			"tags":   {Select: []string{"label"}},
			"author": {Select: []string{"name"}},
		},
	}

	first, err := c.Compile("Book", spec)
	require.NoError(t, err)

	// Relations live in a map; emission must not depend on iteration
	// order.
	for i := 0; i < 10; i++ {
		q, err := c.Compile("Book", spec)
		require.NoError(t, err)
		assert.Equal(t, first.SQL, q.SQL)
		assertArgsEqual(t, q.Args, first.Args)
	}
	assert.Contains(t, first.SQL, "AS `__author_1`")
	assert.Contains(t, first.SQL, "AS `__tags_2`")
}

func TestCompileWrapShape(t *testing.T) {
	c := newLibraryCompiler(t)

	q, err := c.Compile("Author", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(q.SQL, "SELECT COALESCE(JSON_ARRAYAGG(`__result`.`__doc`), JSON_ARRAY()) FROM ("))
	assert.True(t, strings.HasSuffix(q.SQL, ") AS `__result`"))
}

func TestRelationValueRejectsUnknownKind(t *testing.T) {
	fr := joinedFragment{
		rel:   &relationPlan{desc: schema.RelationDescriptor{Kind: schema.Cardinality(99)}},
		alias: "__broken_1",
	}
	_, err := relationValue(fr)
	require.ErrorIs(t, err, ErrUnsupportedRelationKind)
}

func TestEmitFragmentRejectsUnknownKind(t *testing.T) {
	reg := newLibraryRegistry(t)
	entry, err := reg.Entry("Tag")
	require.NoError(t, err)

	em := &emitter{}
	_, err = em.emitFragment(
		&plan{entry: entry},
		&relationPlan{
			alias: "broken",
			desc:  schema.RelationDescriptor{Kind: schema.Cardinality(99)},
			child: &plan{entry: entry, columns: []string{"id"}},
		},
	)
	require.ErrorIs(t, err, ErrUnsupportedRelationKind)
}

// Test helpers, shared with the golden tests.

func assertSQLMatches(t *testing.T, got string, candidates ...string) {
	t.Helper()

	gotNorm := normalizeSQL(got)
	for _, candidate := range candidates {
		if gotNorm == normalizeSQL(candidate) {
			return
		}
	}

	assert.Fail(t, "SQL did not match any expected form", "got: %q candidates: %v", gotNorm, candidates)
}

// Compare args by string form to avoid int vs int64 differences.
func assertArgsEqual(t *testing.T, got []interface{}, expected []interface{}) {
	t.Helper()

	if len(got) != len(expected) {
		assert.Equal(t, len(expected), len(got))
		return
	}

	gotNorm := normalizeArgs(got)
	expectedNorm := normalizeArgs(expected)
	assert.Equal(t, expectedNorm, gotNorm)
}

// Normalize args to strings so numeric types compare consistently.
func normalizeArgs(args []interface{}) []string {
	normalized := make([]string, len(args))
	for i, arg := range args {
		normalized[i] = fmt.Sprintf("%v", arg)
	}
	return normalized
}

// Normalize SQL for stable comparisons across whitespace differences.
func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
