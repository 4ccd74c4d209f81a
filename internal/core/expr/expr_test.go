package expr

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvalArithmetic(t *testing.T) {
	ec := NewContext()
	ec.SetT(2)

	tests := []struct {
		expr string
		vals map[string]float64
		want float64
	}{
		{"1.5", nil, 1.5},
		{"t", nil, 2},
		{"t*2+1", nil, 5},
		{"-t", nil, -2},
		{"t/4", nil, 0.5},
		{"pow(t, 3)", nil, 8},
		{"max(t, 3) - min(t, 3)", nil, 1},
		{"sqrt(t*8)", nil, 4},
		{"t + x*y", map[string]float64{"x": 3, "y": -1}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ec.Eval(tt.expr, tt.vals)
			require.NoError(t, err)
			require.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestEvalTrig(t *testing.T) {
	ec := NewContext()
	ec.SetT(0.5)
	got, err := ec.Eval("sin(pi*t)", nil)
	require.NoError(t, err)
	require.InDelta(t, 1, got, 1e-12)
}

func TestEvalMemoClearedOnSetT(t *testing.T) {
	ec := NewContext()
	ec.SetT(1)

	v, err := ec.Eval("t*10", nil)
	require.NoError(t, err)
	require.Equal(t, 10.0, v)
	require.Equal(t, 1, ec.MemoSize())

	v, err = ec.Eval("t*10", nil)
	require.NoError(t, err)
	require.Equal(t, 10.0, v)
	require.Equal(t, 1, ec.MemoSize())

	ec.SetT(3)
	require.Zero(t, ec.MemoSize())
	v, err = ec.Eval("t*10", nil)
	require.NoError(t, err)
	require.Equal(t, 30.0, v)
	require.Equal(t, 3.0, ec.T())
}

func TestEvalMemoKeyIncludesVars(t *testing.T) {
	ec := NewContext()
	a, err := ec.Eval("x+1", map[string]float64{"x": 1})
	require.NoError(t, err)
	b, err := ec.Eval("x+1", map[string]float64{"x": 2})
	require.NoError(t, err)
	require.Equal(t, 2.0, a)
	require.Equal(t, 3.0, b)
	require.Equal(t, 2, ec.MemoSize())
}

func TestEvalErrors(t *testing.T) {
	ec := NewContext()
	for _, bad := range []string{
		"",
		"   ",
		`"a"`,
		"os.Exit(1)",
		"t +",
		"unknown * 2",
		"t; x := 1",
		"t % 2",
		"t == 1",
		"sin(1, 2)",
		"func() float64 { return 1 }()",
		"0)\npi = 0\nfloat64(0",
	} {
		_, err := ec.Eval(bad, nil)
		require.ErrorIs(t, err, ErrExpression, bad)
	}

	_, err := ec.Eval("t + x", map[string]float64{"9x": 1})
	require.ErrorIs(t, err, ErrExpression)
	_, err = ec.Eval("pi + 1", map[string]float64{"pi": 3})
	require.ErrorIs(t, err, ErrExpression)
}

func TestEvalIntegerLiteralsDivideAsFloats(t *testing.T) {
	ec := NewContext()
	v, err := ec.Eval("1/2", nil)
	require.NoError(t, err)
	require.Equal(t, 0.5, v)

	ec.SetT(2)
	v, err = ec.Eval("1/2*t + 1/4", nil)
	require.NoError(t, err)
	require.InDelta(t, 1.25, v, 1e-12)

	v, err = ec.Eval("0x10/32", nil)
	require.NoError(t, err)
	require.Equal(t, 0.5, v)
}

func TestEvalCannotRebindPrelude(t *testing.T) {
	ec := NewContext()
	_, err := ec.Eval("0)\npi = 0\nfloat64(0", nil)
	require.ErrorIs(t, err, ErrExpression)

	ec.SetT(1)
	v, err := ec.Eval("sin(pi/2)+1", nil)
	require.NoError(t, err)
	require.InDelta(t, 2, v, 1e-12)
}

func TestCheck(t *testing.T) {
	varying, err := Check("sin(t)+2")
	require.NoError(t, err)
	require.True(t, varying)

	varying, err = Check("1/2 + pi")
	require.NoError(t, err)
	require.False(t, varying)

	_, err = Check("banana")
	require.ErrorIs(t, err, ErrExpression)
	_, err = Check("also garbage")
	require.ErrorIs(t, err, ErrExpression)
}

func TestContextsAreIndependent(t *testing.T) {
	a, b := NewContext(), NewContext()
	a.SetT(1)
	b.SetT(5)

	va, err := a.Eval("t", nil)
	require.NoError(t, err)
	vb, err := b.Eval("t", nil)
	require.NoError(t, err)
	require.Equal(t, 1.0, va)
	require.Equal(t, 5.0, vb)
}

func TestResolve(t *testing.T) {
	ec := NewContext()
	ec.SetT(4)

	v, err := ec.Resolve(Number(-0.5))
	require.NoError(t, err)
	require.Equal(t, -0.5, v)

	v, err = ec.Resolve(ParseParam("t/2"))
	require.NoError(t, err)
	require.Equal(t, 2.0, v)
}

func TestParam(t *testing.T) {
	require.True(t, ParseParam(" 2 ").IsLiteral())
	require.True(t, math.IsInf(ParseParam("-inf").Literal, -1))
	require.False(t, ParseParam("t*2").IsLiteral())
	require.Equal(t, "t*2", ParseParam("t*2").String())
	require.Equal(t, "-Inf", Number(math.Inf(-1)).String())

	data, err := json.Marshal([]Param{Number(1.5), Number(math.Inf(-1)), {Expr: "t"}})
	require.NoError(t, err)
	require.JSONEq(t, `[1.5, "-Inf", "t"]`, string(data))

	var back []Param
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, Number(1.5), back[0])
	require.True(t, math.IsInf(back[1].Literal, -1))
	require.Equal(t, Param{Expr: "t"}, back[2])
}
