package expr

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"strconv"
)

// functions lists the prelude helpers with their arity.
var functions = map[string]int{
	"sin": 1, "cos": 1, "tan": 1, "asin": 1, "acos": 1, "atan": 1,
	"exp": 1, "log": 1, "log10": 1, "sqrt": 1, "floor": 1, "ceil": 1,
	"abs": 1, "round": 1,
	"atan2": 2, "pow": 2, "max": 2, "min": 2,
}

var constants = map[string]bool{"pi": true, "e": true, "tau": true, "inf": true}

// reserved names cannot be bound as variables.
func reserved(name string) bool {
	_, isFunc := functions[name]
	return isFunc || constants[name] || name == "t" || name == "math" || token.IsKeyword(name)
}

// Check reports whether expression is a valid single arithmetic expression
// over t and the math helpers, and whether it depends on t.
func Check(expression string) (timeVarying bool, err error) {
	_, timeVarying, err = compile(expression, nil)
	return timeVarying, err
}

type compiler struct {
	vars  map[string]float64
	usesT bool
}

// compile parses source as exactly one expression, rejects anything outside
// arithmetic over the prelude, t and vars, and prints it back with every
// integer literal rewritten as a float so that 1/2 is 0.5.
func compile(source string, vars map[string]float64) (string, bool, error) {
	node, err := parser.ParseExpr(source)
	if err != nil {
		return "", false, fmt.Errorf("%w %q: %v", ErrExpression, source, err)
	}
	c := &compiler{vars: vars}
	if err := c.walk(node); err != nil {
		return "", false, fmt.Errorf("%w %q: %v", ErrExpression, source, err)
	}
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, token.NewFileSet(), node); err != nil {
		return "", false, fmt.Errorf("%w %q: %v", ErrExpression, source, err)
	}
	return buf.String(), c.usesT, nil
}

func (c *compiler) walk(n ast.Expr) error {
	switch n := n.(type) {
	case *ast.BasicLit:
		switch n.Kind {
		case token.FLOAT:
			return nil
		case token.INT:
			v, err := strconv.ParseInt(n.Value, 0, 64)
			if err != nil {
				return fmt.Errorf("invalid number %s", n.Value)
			}
			n.Value = strconv.FormatFloat(float64(v), 'e', -1, 64)
			n.Kind = token.FLOAT
			return nil
		default:
			return fmt.Errorf("unsupported literal %s", n.Value)
		}
	case *ast.Ident:
		if n.Name == "t" {
			c.usesT = true
			return nil
		}
		if constants[n.Name] {
			return nil
		}
		if _, ok := c.vars[n.Name]; ok {
			return nil
		}
		return fmt.Errorf("unknown name %s", n.Name)
	case *ast.ParenExpr:
		return c.walk(n.X)
	case *ast.UnaryExpr:
		if n.Op != token.ADD && n.Op != token.SUB {
			return fmt.Errorf("unsupported operator %s", n.Op)
		}
		return c.walk(n.X)
	case *ast.BinaryExpr:
		switch n.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO:
		default:
			return fmt.Errorf("unsupported operator %s", n.Op)
		}
		if err := c.walk(n.X); err != nil {
			return err
		}
		return c.walk(n.Y)
	case *ast.CallExpr:
		fn, ok := n.Fun.(*ast.Ident)
		if !ok {
			return fmt.Errorf("unsupported call")
		}
		arity, ok := functions[fn.Name]
		if !ok {
			return fmt.Errorf("unknown function %s", fn.Name)
		}
		if n.Ellipsis.IsValid() || len(n.Args) != arity {
			return fmt.Errorf("%s takes %d argument(s)", fn.Name, arity)
		}
		for _, arg := range n.Args {
			if err := c.walk(arg); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported syntax %T", n)
	}
}
