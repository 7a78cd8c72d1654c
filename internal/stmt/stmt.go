// Package stmt defines the compiled-statement value passed from the
// compilers to the executor: parameterized SQL text plus its named
// arguments. No filter value is ever interpolated into the text.
package stmt

// Statement is one parameterized SQL statement with named arguments.
type Statement struct {
	SQL  string
	Args map[string]interface{}
}

// New creates a statement with an empty argument map.
func New(sql string) *Statement {
	return &Statement{SQL: sql, Args: make(map[string]interface{})}
}
