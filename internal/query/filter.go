// Package query compiles read specifications into parameterized MySQL
// statements using a two-phase narrow-then-widen plan: per-namespace core
// subqueries restrict JSON extraction to the minimal row set, and only the
// surviving row ids are joined back to the full tables for projection.
package query

import (
	"fmt"
	"strings"
)

// Op is a filter comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpIn
	OpLike
	OpIsNull
	// OpMatch performs a boolean-mode full-text match over the model's
	// full-text field group and contributes to relevance ordering.
	OpMatch
)

// String returns the SQL representation of the operator.
func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpIn:
		return "IN"
	case OpLike:
		return "LIKE"
	case OpIsNull:
		return "IS NULL"
	case OpMatch:
		return "MATCH"
	default:
		return "UNKNOWN"
	}
}

// ParseOp converts an operator string to an Op.
func ParseOp(s string) (Op, error) {
	switch strings.ToUpper(s) {
	case "=", "==":
		return OpEq, nil
	case "!=", "<>":
		return OpNe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case "IN":
		return OpIn, nil
	case "LIKE":
		return OpLike, nil
	case "IS NULL", "ISNULL":
		return OpIsNull, nil
	case "MATCH":
		return OpMatch, nil
	default:
		return 0, fmt.Errorf("unknown operator: %s", s)
	}
}

// Filter is one (field, operator, value) condition. Field may use dotted
// namespace notation to reach a referenced model, e.g. "company.name".
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Namespace returns the namespace portion of the filter's field path, or
// the empty string for the root namespace.
func (f Filter) Namespace() string {
	if i := strings.LastIndex(f.Field, "."); i >= 0 {
		return f.Field[:i]
	}
	return ""
}

// Leaf returns the field name without its namespace prefix.
func (f Filter) Leaf() string {
	if i := strings.LastIndex(f.Field, "."); i >= 0 {
		return f.Field[i+1:]
	}
	return f.Field
}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// OrderRelevance is the pseudo-field ordering results by summed full-text
// match score.
const OrderRelevance = "@relevance"

// namespaceOf splits a dotted field path into namespace and leaf.
func namespaceOf(field string) (ns, leaf string) {
	if i := strings.LastIndex(field, "."); i >= 0 {
		return field[:i], field[i+1:]
	}
	return "", field
}
