// Package expr evaluates the small time-varying arithmetic expressions that
// prompt weights and stops may carry.
//
// A Context owns the current time value and a memo of evaluated expressions.
// The memo is only valid for one time step: SetT clears it.
package expr

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// ErrExpression wraps every syntax or evaluation failure.
var ErrExpression = errors.New("error in parametric value")

var identifier = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// prelude exposes the math helpers by their short names.
const prelude = `
package main

import "math"

var t float64

var (
	pi  = math.Pi
	e   = math.E
	tau = 2 * math.Pi
	inf = math.Inf(1)
)

func sin(x float64) float64      { return math.Sin(x) }
func cos(x float64) float64      { return math.Cos(x) }
func tan(x float64) float64      { return math.Tan(x) }
func asin(x float64) float64     { return math.Asin(x) }
func acos(x float64) float64     { return math.Acos(x) }
func atan(x float64) float64     { return math.Atan(x) }
func atan2(y, x float64) float64 { return math.Atan2(y, x) }
func exp(x float64) float64      { return math.Exp(x) }
func log(x float64) float64      { return math.Log(x) }
func log10(x float64) float64    { return math.Log10(x) }
func sqrt(x float64) float64     { return math.Sqrt(x) }
func floor(x float64) float64    { return math.Floor(x) }
func ceil(x float64) float64     { return math.Ceil(x) }
func abs(x float64) float64      { return math.Abs(x) }
func round(x float64) float64    { return math.Round(x) }
func pow(x, y float64) float64   { return math.Pow(x, y) }
func max(x, y float64) float64   { return math.Max(x, y) }
func min(x, y float64) float64   { return math.Min(x, y) }
`

// Context is the per-session evaluation state: current time plus memo.
// It is not safe for concurrent use; give each session its own Context.
type Context struct {
	t        float64
	memo     map[string]float64
	interp   *interp.Interpreter
	declared map[string]bool
}

// NewContext returns a Context at t = 0.
func NewContext() *Context {
	return &Context{memo: make(map[string]float64)}
}

// T returns the current time value.
func (c *Context) T() float64 {
	return c.t
}

// SetT advances time and drops every memoized result.
func (c *Context) SetT(t float64) {
	c.t = t
	c.memo = make(map[string]float64)
}

// MemoSize reports how many results are cached for the current step.
func (c *Context) MemoSize() int {
	return len(c.memo)
}

// Eval evaluates expression with t bound to the current time and vals bound
// as extra float variables. Only a single arithmetic expression over t, vals
// and the math helpers is accepted; numbers are float64, so 1/2 is 0.5.
// Results are memoized until the next SetT.
func (c *Context) Eval(expression string, vals map[string]float64) (float64, error) {
	source := strings.TrimSpace(expression)
	if source == "" {
		return 0, fmt.Errorf("%w %q: empty expression", ErrExpression, expression)
	}

	key := memoKey(source, vals)
	if v, ok := c.memo[key]; ok {
		return v, nil
	}

	if v, err := strconv.ParseFloat(source, 64); err == nil {
		c.memo[key] = v
		return v, nil
	}

	for name := range vals {
		if !identifier.MatchString(name) || reserved(name) {
			return 0, fmt.Errorf("%w %q: invalid variable name %q", ErrExpression, expression, name)
		}
	}
	compiled, _, err := compile(source, vals)
	if err != nil {
		return 0, err
	}

	i, err := c.interpreter()
	if err != nil {
		return 0, err
	}

	if err := c.bind(i, "t", c.t); err != nil {
		return 0, err
	}
	for name, v := range vals {
		if err := c.bind(i, name, v); err != nil {
			return 0, err
		}
	}

	res, err := i.Eval("float64(" + compiled + ")")
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrExpression, expression, err)
	}
	out, err := toFloat(res)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrExpression, expression, err)
	}

	c.memo[key] = out
	return out, nil
}

// Resolve returns the value of p at the current time.
func (c *Context) Resolve(p Param) (float64, error) {
	if p.IsLiteral() {
		return p.Literal, nil
	}
	return c.Eval(p.Expr, nil)
}

func (c *Context) interpreter() (*interp.Interpreter, error) {
	if c.interp != nil {
		return c.interp, nil
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load interpreter symbols: %w", err)
	}
	if _, err := i.Eval(prelude); err != nil {
		return nil, fmt.Errorf("load expression prelude: %w", err)
	}

	c.interp = i
	c.declared = map[string]bool{"t": true}
	return i, nil
}

func (c *Context) bind(i *interp.Interpreter, name string, v float64) error {
	if !c.declared[name] {
		if _, err := i.Eval("var " + name + " float64"); err != nil {
			return fmt.Errorf("%w: declare %s: %v", ErrExpression, name, err)
		}
		c.declared[name] = true
	}
	if _, err := i.Eval(name + " = " + literal(v)); err != nil {
		return fmt.Errorf("%w: assign %s: %v", ErrExpression, name, err)
	}
	return nil
}

// literal renders v as Go source the interpreter can read back.
func literal(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "math.Inf(1)"
	case math.IsInf(v, -1):
		return "math.Inf(-1)"
	case math.IsNaN(v):
		return "math.NaN()"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if strings.HasPrefix(s, "-") {
		return "(" + s + ")"
	}
	return s
}

func memoKey(source string, vals map[string]float64) string {
	if len(vals) == 0 {
		return source
	}
	names := make([]string, 0, len(vals))
	for name := range vals {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(source)
	for _, name := range names {
		b.WriteString("|")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(strconv.FormatFloat(vals[name], 'g', -1, 64))
	}
	return b.String()
}

func toFloat(v reflect.Value) (float64, error) {
	if !v.IsValid() {
		return 0, errors.New("expression produced no value")
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	case reflect.Interface:
		return toFloat(v.Elem())
	default:
		return 0, fmt.Errorf("expression produced %s, want a number", v.Kind())
	}
}
