// Package predicate evaluates the two forms of route predicate the trie
// router consults while matching a request: the (name, operator, operand)
// vars tuples, and the free-form filter_fun boolean expression compiled
// with CEL.
package predicate

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter"

	"github.com/avapigw/core/internal/reqctx"
	"github.com/avapigw/core/internal/util"
)

// Operator names recognized by vars tuples (§4.1).
const (
	OpEqual     = "=="
	OpNotEqual  = "~="
	OpGreater   = ">"
	OpLess      = "<"
	OpGreaterEq = ">="
	OpLessEq    = "<="
	OpRegex     = "~~"
	OpIn        = "in"
)

// VarPredicate is a single (name, operator, operand) tuple.
type VarPredicate struct {
	Name     string
	Operator string
	Operand  string
}

// EvalAll evaluates a conjunction of vars predicates against ctx (§4.1,
// §9 — pure conjunction, no grouping). Returns false on the first failing
// predicate without evaluating the rest.
func EvalAll(ctx *reqctx.Context, preds []VarPredicate) (bool, error) {
	for _, p := range preds {
		ok, err := Eval(ctx, p)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Eval evaluates a single vars predicate.
func Eval(ctx *reqctx.Context, p VarPredicate) (bool, error) {
	value, _ := ctx.Var(p.Name)

	switch p.Operator {
	case OpEqual:
		return value == p.Operand, nil
	case OpNotEqual:
		return value != p.Operand, nil
	case OpRegex:
		re, err := regexp.Compile(p.Operand)
		if err != nil {
			return false, fmt.Errorf("compile regex operand %q for var %q: %w", p.Operand, p.Name, err)
		}
		return re.MatchString(value), nil
	case OpIn:
		for _, candidate := range strings.Split(p.Operand, ",") {
			if value == strings.TrimSpace(candidate) {
				return true, nil
			}
		}
		return false, nil
	case OpGreater, OpLess, OpGreaterEq, OpLessEq:
		return compareNumeric(value, p.Operand, p.Operator)
	default:
		return false, fmt.Errorf("unknown vars operator %q", p.Operator)
	}
}

// compareNumeric parses both sides as floats; a parse failure fails only
// this predicate, not the whole dispatch (§4.1).
func compareNumeric(lhs, rhs, operator string) (bool, error) {
	l, err := strconv.ParseFloat(lhs, 64)
	if err != nil {
		return false, nil
	}
	r, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, nil
	}

	switch operator {
	case OpGreater:
		return l > r, nil
	case OpLess:
		return l < r, nil
	case OpGreaterEq:
		return l >= r, nil
	case OpLessEq:
		return l <= r, nil
	}
	return false, nil
}

// FilterEngine compiles and caches filter_fun CEL expressions, one program
// per route. Variable references in the expression are resolved lazily,
// at evaluation time, through the request's accessor (§6) rather than a
// precomputed map — filter_fun expressions may reference any name the
// accessor understands without the engine needing to know it in advance.
type FilterEngine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewFilterEngine builds the shared CEL environment. No variables are
// declared up front: expressions are parsed (not type-checked), so any
// free identifier resolves dynamically against the request context at
// Eval time.
func NewFilterEngine() (*FilterEngine, error) {
	env, err := cel.NewEnv(
		cel.Function("ip_in_range",
			cel.Overload("ip_in_range_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(ipInRangeBinding),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &FilterEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

func ipInRangeBinding(ipVal, cidrVal ref.Val) ref.Val {
	ip := net.ParseIP(fmt.Sprint(ipVal.Value()))
	if ip == nil {
		return types.False
	}
	_, network, err := net.ParseCIDR(fmt.Sprint(cidrVal.Value()))
	if err != nil {
		return types.False
	}
	if network.Contains(ip) {
		return types.True
	}
	return types.False
}

// Compile parses and caches expr under routeName. A compile failure is a
// util.PredicateError — the caller skips the offending route and keeps the
// rest of the trie usable (§7).
func (e *FilterEngine) Compile(routeName, expr string) error {
	ast, issues := e.env.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return util.NewPredicateError(routeName, expr, issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return util.NewPredicateError(routeName, expr, err)
	}

	e.mu.Lock()
	e.programs[routeName] = program
	e.mu.Unlock()
	return nil
}

// Remove drops a compiled program, e.g. when its route is removed from the
// trie.
func (e *FilterEngine) Remove(routeName string) {
	e.mu.Lock()
	delete(e.programs, routeName)
	e.mu.Unlock()
}

// Eval runs the compiled filter_fun for routeName against ctx. Returns
// false, nil if the program never evaluated to a bool (treated as a
// non-match rather than a dispatch-aborting error).
func (e *FilterEngine) Eval(routeName string, ctx *reqctx.Context) (bool, error) {
	e.mu.RLock()
	program, ok := e.programs[routeName]
	e.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("no compiled filter_fun for route %q", routeName)
	}

	out, _, err := program.Eval(&ctxActivation{ctx: ctx})
	if err != nil {
		return false, nil
	}

	result, ok := out.Value().(bool)
	return ok && result, nil
}

// ctxActivation adapts a *reqctx.Context to cel-go's interpreter.Activation,
// resolving every free variable lazily through the request's var accessor.
type ctxActivation struct {
	ctx *reqctx.Context
}

func (a *ctxActivation) ResolveName(name string) (any, bool) {
	v, ok := a.ctx.Var(name)
	if !ok {
		return nil, false
	}
	return v, true
}

func (a *ctxActivation) Parent() interpreter.Activation {
	return nil
}
