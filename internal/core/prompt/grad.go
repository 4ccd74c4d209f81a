package prompt

// Dual is a scalar carrying its forward value together with its derivative
// with respect to a single upstream input. It is the minimal operation node
// needed to express the stop floor without an autodiff engine.
type Dual struct {
	Value float64
	Deriv float64
}

// Var is an input: derivative one.
func Var(v float64) Dual {
	return Dual{Value: v, Deriv: 1}
}

// Const carries no gradient.
func Const(v float64) Dual {
	return Dual{Value: v}
}

// Scale multiplies value and derivative by k.
func (d Dual) Scale(k float64) Dual {
	return Dual{Value: d.Value * k, Deriv: d.Deriv * k}
}

// Max selects the larger operand, gradient included. Ties go to a.
func Max(a, b Dual) Dual {
	if a.Value >= b.Value {
		return a
	}
	return b
}

// ReplaceGrad returns forward's value with backward's derivative: the
// forward pass sees forward, differentiation sees backward.
func ReplaceGrad(forward, backward Dual) Dual {
	return Dual{Value: forward.Value, Deriv: backward.Deriv}
}
