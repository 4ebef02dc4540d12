package flow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Predicate decides a branch case or pattern trigger against a flat scope of
// named values (slot heap, pattern counters).
type Predicate interface {
	Eval(scope map[string]any) (bool, error)
}

// Evaluator parses predicate expressions. The evaluator is pluggable; the
// built-in one supports a deliberately small subset:
//
//	<ident>                   presence / truthiness
//	<ident> <op> <literal>    with op ∈ {==, !=, >, >=, <, <=}
//
// Literals are double-quoted strings, numbers, true or false. Anything
// richer belongs in a custom Evaluator.
type Evaluator interface {
	Parse(expr string) (Predicate, error)
}

// DefaultEvaluator is the built-in expression parser.
type DefaultEvaluator struct{}

// comparison is the parsed form of a built-in predicate.
type comparison struct {
	ident string
	op    string
	value any // nil for bare-ident presence checks
}

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// Parse parses an expression into a Predicate.
func (DefaultEvaluator) Parse(expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty predicate expression")
	}

	for _, op := range comparisonOps {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}
		ident := strings.TrimSpace(expr[:idx])
		lit := strings.TrimSpace(expr[idx+len(op):])
		if ident == "" || lit == "" {
			return nil, fmt.Errorf("malformed predicate %q", expr)
		}
		value, err := parseLiteral(lit)
		if err != nil {
			return nil, fmt.Errorf("predicate %q: %w", expr, err)
		}
		return &comparison{ident: ident, op: op, value: value}, nil
	}

	if strings.ContainsAny(expr, " \t") {
		return nil, fmt.Errorf("malformed predicate %q", expr)
	}
	return &comparison{ident: expr}, nil
}

func parseLiteral(lit string) (any, error) {
	switch {
	case lit == "true":
		return true, nil
	case lit == "false":
		return false, nil
	case strings.HasPrefix(lit, `"`) && strings.HasSuffix(lit, `"`) && len(lit) >= 2:
		return lit[1 : len(lit)-1], nil
	default:
		n, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, fmt.Errorf("unsupported literal %q", lit)
		}
		return n, nil
	}
}

func (c *comparison) Eval(scope map[string]any) (bool, error) {
	got, present := scope[c.ident]

	// Bare ident: present and truthy.
	if c.op == "" {
		return present && truthy(got), nil
	}

	switch c.op {
	case "==":
		return present && equal(got, c.value), nil
	case "!=":
		return !present || !equal(got, c.value), nil
	}

	// Ordered comparison requires numbers on both sides.
	if !present {
		return false, nil
	}
	left, lok := toFloat(got)
	right, rok := toFloat(c.value)
	if !lok || !rok {
		return false, fmt.Errorf("ordered comparison on non-numeric values: %s %s %v", c.ident, c.op, c.value)
	}
	switch c.op {
	case ">":
		return left > right, nil
	case ">=":
		return left >= right, nil
	case "<":
		return left < right, nil
	case "<=":
		return left <= right, nil
	}
	return false, fmt.Errorf("unknown operator %q", c.op)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		if n, ok := toFloat(v); ok {
			return n != 0
		}
		return true
	}
}

func equal(a, b any) bool {
	if an, aok := toFloat(a); aok {
		if bn, bok := toFloat(b); bok {
			return an == bn
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
