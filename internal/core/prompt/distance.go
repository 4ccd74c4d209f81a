package prompt

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

// SphericalDistance returns 2·asin(‖x̂−ŷ‖/2)², the squared great-circle
// distance between the unit-normalized vectors. It lies in [0, π²/2].
func SphericalDistance(x, y []float64) float64 {
	d, _ := sphericalDistanceGrad(x, y)
	return d
}

// sphericalDistanceGrad also returns the gradient of the distance with
// respect to the unnormalized x.
func sphericalDistanceGrad(x, y []float64) (float64, []float64) {
	grad := make([]float64, len(x))
	xn := tensor.Norm(x)
	xh := tensor.Normalize(x)
	yh := tensor.Normalize(y)

	diff := floats.SubTo(make([]float64, len(x)), xh, yh)
	r := tensor.Norm(diff)
	half := math.Min(r/2, 1)
	s := math.Asin(half)
	d := 2 * s * s

	if r == 0 || xn == 0 {
		return d, grad
	}

	denom := math.Sqrt(math.Max(1-half*half, 1e-12))
	dr := 2 * s / denom

	// Project (x̂−ŷ) onto the tangent plane at x̂ and undo the normalization.
	floats.AddScaledTo(grad, diff, -floats.Dot(xh, diff), xh)
	floats.Scale(dr/(r*xn), grad)
	return d, grad
}
