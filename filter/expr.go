package filter

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/s0up4200/exactonline/exact"
)

// exprFilter implements CompiledFilter using the expr language
type exprFilter struct {
	expression string
	program    *vm.Program
	helpers    map[string]any
}

// ExprCompilerOption configures an expr compiler
type ExprCompilerOption func(*exprCompiler)

// WithCache enables filter caching with the specified size
func WithCache(size int) ExprCompilerOption {
	return func(c *exprCompiler) {
		if size > 0 {
			c.cache = newLRUCache(size)
		}
	}
}

// WithCustomFunctions adds custom helper functions
func WithCustomFunctions(funcs map[string]any) ExprCompilerOption {
	return func(c *exprCompiler) {
		maps.Copy(c.helperFuncs, funcs)
	}
}

// WithClock replaces time.Now in date helpers
func WithClock(now func() time.Time) ExprCompilerOption {
	return func(c *exprCompiler) {
		c.now = now
	}
}

// NewExprCompiler creates a new expr-based filter compiler
func NewExprCompiler(opts ...ExprCompilerOption) CachingCompiler {
	c := &exprCompiler{
		helperFuncs: make(map[string]any, 16),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	custom := c.helperFuncs
	c.helperFuncs = createHelperFunctions(c.now)
	maps.Copy(c.helperFuncs, custom)

	return c
}

// exprCompiler implements Compiler for expr-based filters
type exprCompiler struct {
	helperFuncs map[string]any
	cache       *lruCache
	now         func() time.Time
}

// Compile compiles an expression into an executable filter
func (c *exprCompiler) Compile(expression string) (CompiledFilter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "empty expression",
		}
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(expression); ok {
			return cached, nil
		}
	}

	// Record fields are only known at run time
	program, err := expr.Compile(expression,
		expr.Env(c.helperFuncs),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "failed to compile expression",
			Err:        err,
		}
	}

	filter := &exprFilter{
		expression: expression,
		program:    program,
		helpers:    c.helperFuncs,
	}

	if c.cache != nil {
		c.cache.Put(expression, filter)
	}

	return filter, nil
}

// Clear removes all cached filters
func (c *exprCompiler) Clear() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Size returns the number of cached filters
func (c *exprCompiler) Size() int {
	if c.cache != nil {
		return c.cache.Size()
	}
	return 0
}

// Match evaluates the filter against a record
func (f *exprFilter) Match(record Record) (bool, error) {
	result, err := expr.Run(f.program, f.environment(record))
	if err != nil {
		return false, &EvaluationError{
			Expression: f.expression,
			RecordID:   recordID(record),
			Reason:     "failed to evaluate expression",
			Err:        err,
		}
	}

	// AsBool only checks types known at compile time; record fields are not
	switch v := result.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, &EvaluationError{
			Expression: f.expression,
			RecordID:   recordID(record),
			Reason:     fmt.Sprintf("expression did not return a bool (got %T)", v),
		}
	}
}

// Expression returns the original expression
func (f *exprFilter) Expression() string {
	return f.expression
}

// environment exposes every record property as a variable. Exact /Date(ms)/
// strings become time.Time so they compare against the date helpers.
func (f *exprFilter) environment(record Record) map[string]any {
	env := make(map[string]any, len(record)+len(f.helpers)+2)
	for k, v := range record {
		env[k] = normalizeValue(v)
	}
	maps.Copy(env, f.helpers)

	env["Record"] = record
	env["has"] = func(field string) bool {
		v, ok := record[field]
		return ok && v != nil
	}
	return env
}

func normalizeValue(v any) any {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "/Date(") {
		return v
	}
	if t, err := exact.ParseDate(s); err == nil {
		return t
	}
	return v
}

func recordID(record Record) string {
	if id, ok := record["ID"].(string); ok {
		return id
	}
	return ""
}

// createHelperFunctions creates the helper functions available to every expression
func createHelperFunctions(now func() time.Time) map[string]any {
	env := make(map[string]any, 16)

	// Date helpers
	env["daysSince"] = func(v any) int {
		t, ok := toTime(v)
		if !ok {
			return 0
		}
		return int(now().Sub(t).Hours() / 24)
	}
	env["daysAgo"] = func(days int) time.Time {
		return now().AddDate(0, 0, -days)
	}
	env["monthsAgo"] = func(months int) time.Time {
		return now().AddDate(0, -months, 0)
	}
	env["parseDate"] = func(v any) time.Time {
		t, _ := toTime(v)
		return t
	}
	env["now"] = now

	// Replaced per record in environment
	env["has"] = func(field string) bool { return false }
	env["Record"] = Record{}

	// String helpers
	env["contains"] = func(str, substr any) bool {
		return strings.Contains(strings.ToLower(toString(str)), strings.ToLower(toString(substr)))
	}
	env["startsWith"] = func(str, prefix any) bool {
		return strings.HasPrefix(strings.ToLower(toString(str)), strings.ToLower(toString(prefix)))
	}
	env["endsWith"] = func(str, suffix any) bool {
		return strings.HasSuffix(strings.ToLower(toString(str)), strings.ToLower(toString(suffix)))
	}
	env["lower"] = func(v any) string { return strings.ToLower(toString(v)) }
	env["upper"] = func(v any) string { return strings.ToUpper(toString(v)) }

	return env
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// toTime accepts time.Time, Exact /Date(ms)/ strings, RFC 3339 and YYYY-MM-DD
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if strings.HasPrefix(t, "/Date(") {
			parsed, err := exact.ParseDate(t)
			return parsed, err == nil
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse("2006-01-02", t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
