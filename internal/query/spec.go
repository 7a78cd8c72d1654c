package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Spec is a read specification: what to fetch, how to filter and order it,
// and which tenant/version slice to read.
type Spec struct {
	// Model is the root model name.
	Model string

	// Fields is the projection. Entries may use dotted namespace notation
	// to project columns of referenced models. Empty means the root
	// document plus surrogate columns.
	Fields []string

	// Filters are ANDed (field, operator, value) conditions.
	Filters []Filter

	// OrderBy terms; the OrderRelevance pseudo-field orders by summed
	// full-text score, descending by convention of the caller.
	OrderBy []Order

	Limit  *int
	Offset *int

	// Unwind lists array-indexed root fields whose side table should be
	// joined, one result row per element.
	Unwind []string

	// Joins maps a namespace path to a model name when the reference chain
	// cannot be discovered from field names alone.
	Joins map[string]string

	// Base designates the namespace anchoring join direction. Empty means
	// the root namespace drives.
	Base string

	// SetID is the tenant partition.
	SetID int64

	// Version is the point-in-time version to read; zero reads the current
	// version.
	Version int64

	// AtDate is the reference date for dated models, "2006-01-02".
	AtDate string

	// Count compiles a row-count statement over the narrow query instead
	// of a widened projection.
	Count bool
}

// shapeKey builds the memoization key for a spec: everything that shapes
// the statement text, and nothing that is merely a bound value. IN-list
// lengths participate because placeholder expansion depends on them.
func (s *Spec) shapeKey() string {
	var b strings.Builder
	b.WriteString(s.Model)

	b.WriteString("|f:")
	for _, f := range s.Filters {
		b.WriteString(f.Field)
		b.WriteByte(':')
		b.WriteString(f.Op.String())
		if f.Op == OpIn {
			b.WriteByte('#')
			b.WriteString(strconv.Itoa(inLen(f.Value)))
		}
		b.WriteByte(';')
	}

	b.WriteString("|p:")
	b.WriteString(strings.Join(s.Fields, ","))
	b.WriteString("|o:")
	for _, o := range s.OrderBy {
		b.WriteString(o.Field)
		if o.Desc {
			b.WriteString(" desc")
		}
		b.WriteByte(';')
	}
	b.WriteString("|u:")
	b.WriteString(strings.Join(s.Unwind, ","))
	b.WriteString("|j:")
	joinPaths := make([]string, 0, len(s.Joins))
	for ns := range s.Joins {
		joinPaths = append(joinPaths, ns)
	}
	sort.Strings(joinPaths)
	for _, ns := range joinPaths {
		b.WriteString(ns + "=" + s.Joins[ns] + ";")
	}
	b.WriteString("|b:" + s.Base)

	fmt.Fprintf(&b, "|flags:%t:%t:%t:%t:%t",
		s.Count, s.Limit != nil, s.Offset != nil, s.Version != 0, s.AtDate != "")
	return b.String()
}

// inLen returns the number of elements an IN value expands to.
func inLen(v interface{}) int {
	switch vv := v.(type) {
	case []interface{}:
		return len(vv)
	case []string:
		return len(vv)
	case []int:
		return len(vv)
	case []int64:
		return len(vv)
	default:
		return 1
	}
}

// inValues normalizes an IN value to a slice.
func inValues(v interface{}) []interface{} {
	switch vv := v.(type) {
	case []interface{}:
		return vv
	case []string:
		out := make([]interface{}, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out
	case []int:
		out := make([]interface{}, len(vv))
		for i, n := range vv {
			out[i] = n
		}
		return out
	case []int64:
		out := make([]interface{}, len(vv))
		for i, n := range vv {
			out[i] = n
		}
		return out
	default:
		return []interface{}{v}
	}
}
