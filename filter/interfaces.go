package filter

import "context"

// Record is one decoded Exact Online entity, keyed by property name
type Record = map[string]any

// Filter decides whether a record matches
type Filter interface {
	// Match reports whether record satisfies the filter
	Match(record Record) (bool, error)
}

// CompiledFilter represents a pre-compiled filter ready for evaluation
type CompiledFilter interface {
	Filter

	// Expression returns the original filter expression
	Expression() string
}

// Compiler compiles filter expressions into executable filters
type Compiler interface {
	// Compile parses and compiles a filter expression
	Compile(expression string) (CompiledFilter, error)
}

// CachingCompiler provides caching for compiled filters
type CachingCompiler interface {
	Compiler

	// Clear removes all cached filters
	Clear()

	// Size returns the number of cached filters
	Size() int
}

// RecordEvaluator applies a filter to a list of records
type RecordEvaluator interface {
	Evaluate(ctx context.Context, filter CompiledFilter, records []Record) ([]Record, error)
}
