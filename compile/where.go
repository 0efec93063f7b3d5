package compile

import (
	"fmt"
	"reflect"

	sq "github.com/Masterminds/squirrel"

	"tidb-docquery/query"
)

// filterCondition maps one predicate onto a squirrel expression. col
// arrives fully qualified and quoted; the value always travels as a
// bind argument.
func filterCondition(col string, op query.Operator, value interface{}) (sq.Sqlizer, error) {
	switch op {
	case query.OpEq:
		return sq.Eq{col: value}, nil
	case query.OpNe:
		return sq.NotEq{col: value}, nil
	case query.OpLt:
		return sq.Lt{col: value}, nil
	case query.OpLte:
		return sq.LtOrEq{col: value}, nil
	case query.OpGt:
		return sq.Gt{col: value}, nil
	case query.OpGte:
		return sq.GtOrEq{col: value}, nil
	case query.OpIn, query.OpNotIn:
		if !isSlice(value) {
			return nil, fmt.Errorf("filter operator %q requires a slice value, got %T", op, value)
		}
		if op == query.OpIn {
			return sq.Eq{col: value}, nil
		}
		return sq.NotEq{col: value}, nil
	case query.OpLike:
		return sq.Like{col: value}, nil
	case query.OpNotLike:
		return sq.NotLike{col: value}, nil
	case query.OpIsNull:
		wantNull, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("filter operator %q requires a boolean value, got %T", op, value)
		}
		if wantNull {
			return sq.Eq{col: nil}, nil
		}
		return sq.NotEq{col: nil}, nil
	default:
		return nil, fmt.Errorf("unsupported filter operator %q", op)
	}
}

func isSlice(value interface{}) bool {
	if value == nil {
		return false
	}
	k := reflect.TypeOf(value).Kind()
	return k == reflect.Slice || k == reflect.Array
}
