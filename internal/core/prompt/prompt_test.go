package prompt

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/promptsteer/promptsteer/internal/core/encoder"
	"github.com/promptsteer/promptsteer/internal/core/expr"
	"github.com/promptsteer/promptsteer/internal/core/parse"
	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

const orthogonal = math.Pi * math.Pi / 8

func mustPrompt(t *testing.T, raw string, targets tensor.Matrix) *Prompt {
	t.Helper()
	spec, err := parse.Text(raw)
	require.NoError(t, err)
	p, err := New(spec, targets, spec.Text)
	require.NoError(t, err)
	return p
}

func TestSphericalDistance(t *testing.T) {
	require.InDelta(t, 0, SphericalDistance([]float64{1, 0}, []float64{1, 0}), 1e-12)
	require.InDelta(t, orthogonal, SphericalDistance([]float64{1, 0}, []float64{0, 1}), 1e-12)
	require.InDelta(t, math.Pi*math.Pi/2, SphericalDistance([]float64{1, 0}, []float64{-1, 0}), 1e-12)

	// Only direction matters.
	require.InDelta(t,
		SphericalDistance([]float64{1, 2, 3}, []float64{3, 1, 0}),
		SphericalDistance([]float64{5, 10, 15}, []float64{0.3, 0.1, 0}),
		1e-12)
}

func TestSphericalDistanceGradMatchesFiniteDifference(t *testing.T) {
	x := []float64{0.3, -1.2, 0.8}
	y := []float64{1, 0.5, -0.25}
	_, grad := sphericalDistanceGrad(x, y)

	const h = 1e-6
	for j := range x {
		plus := append([]float64(nil), x...)
		minus := append([]float64(nil), x...)
		plus[j] += h
		minus[j] -= h
		numeric := (SphericalDistance(plus, y) - SphericalDistance(minus, y)) / (2 * h)
		require.InDelta(t, numeric, grad[j], 1e-5, "component %d", j)
	}
}

func TestScoreIdenticalIsZero(t *testing.T) {
	p := mustPrompt(t, "cat", tensor.Matrix{{3, 4}})
	loss, err := p.Score(nil, Candidate{Embeddings: tensor.Matrix{{6, 8}}})
	require.NoError(t, err)
	require.InDelta(t, 0, loss.Value, 1e-12)
	require.InDelta(t, 0, loss.Raw, 1e-12)
	require.Equal(t, tensor.Matrix{{0, 0}}, loss.Grad)
}

func TestScoreWeightScales(t *testing.T) {
	c := Candidate{Embeddings: tensor.Matrix{{0, 1}}}

	one, err := mustPrompt(t, "cat:1", tensor.Matrix{{1, 0}}).Score(nil, c)
	require.NoError(t, err)
	two, err := mustPrompt(t, "cat:2", tensor.Matrix{{1, 0}}).Score(nil, c)
	require.NoError(t, err)

	require.InDelta(t, orthogonal, one.Value, 1e-12)
	require.InDelta(t, 2*orthogonal, two.Value, 1e-12)
	require.InDelta(t, 2*one.Grad[0][0], two.Grad[0][0], 1e-12)
}

func TestScoreNegativeWeight(t *testing.T) {
	p := mustPrompt(t, "cat:-1", tensor.Matrix{{1, 0}})
	loss, err := p.Score(nil, Candidate{Embeddings: tensor.Matrix{{0, 1}}})
	require.NoError(t, err)
	require.InDelta(t, -orthogonal, loss.Value, 1e-12)
	require.True(t, loss.Rows[0].Active)

	// Descending the gradient moves away from the target.
	x := []float64{0, 1}
	next := []float64{x[0] - 0.01*loss.Grad[0][0], x[1] - 0.01*loss.Grad[0][1]}
	require.Greater(t, SphericalDistance(next, []float64{1, 0}), SphericalDistance(x, []float64{1, 0}))
}

func TestScoreStopFloor(t *testing.T) {
	c := Candidate{Embeddings: tensor.Matrix{{0, 1}}}

	loss, err := mustPrompt(t, "cat:-1:-0.1", tensor.Matrix{{1, 0}}).Score(nil, c)
	require.NoError(t, err)
	require.InDelta(t, -0.1, loss.Value, 1e-12)
	require.InDelta(t, -orthogonal, loss.Raw, 1e-12)
	require.False(t, loss.Rows[0].Active)
	require.Equal(t, -0.1, loss.Rows[0].Floor)
	require.Equal(t, tensor.Matrix{{0, 0}}, loss.Grad)

	// A positive stop stops pulling once the candidate is close enough.
	near := Candidate{Embeddings: tensor.Matrix{{1, 0.1}}}
	loss, err = mustPrompt(t, "cat:1:0.5", tensor.Matrix{{1, 0}}).Score(nil, near)
	require.NoError(t, err)
	require.InDelta(t, 0.5, loss.Value, 1e-12)
	require.Less(t, loss.Raw, 0.5)
	require.Equal(t, tensor.Matrix{{0, 0}}, loss.Grad)

	loss, err = mustPrompt(t, "cat:1:0.5", tensor.Matrix{{1, 0}}).Score(nil, c)
	require.NoError(t, err)
	require.InDelta(t, orthogonal, loss.Value, 1e-12)
	require.True(t, loss.Rows[0].Active)
}

func TestScoreFloorIsMonotone(t *testing.T) {
	c := Candidate{Embeddings: tensor.Matrix{{1, 1}}}
	prev := math.Inf(-1)
	for _, raw := range []string{"cat:1", "cat:1:0.1", "cat:1:0.3", "cat:1:0.9"} {
		loss, err := mustPrompt(t, raw, tensor.Matrix{{1, 0}}).Score(nil, c)
		require.NoError(t, err)
		require.GreaterOrEqual(t, loss.Value, prev, raw)
		require.GreaterOrEqual(t, loss.Value, loss.Raw, raw)
		prev = loss.Value
	}
}

func TestScoreTimeVarying(t *testing.T) {
	p := mustPrompt(t, "cat:t", tensor.Matrix{{1, 0}})
	c := Candidate{Embeddings: tensor.Matrix{{0, 1}}}

	ec := expr.NewContext()
	ec.SetT(3)
	loss, err := p.Score(ec, c)
	require.NoError(t, err)
	require.InDelta(t, 3*orthogonal, loss.Value, 1e-12)

	ec.SetT(0)
	_, err = p.Score(ec, c)
	require.ErrorIs(t, err, parse.ErrInvalidWeight)
}

func TestScoreBroadcasting(t *testing.T) {
	// One candidate row against two targets averages both distances.
	p := mustPrompt(t, "cat", tensor.Matrix{{1, 0}, {0, 1}})
	loss, err := p.Score(nil, Candidate{Embeddings: tensor.Matrix{{1, 0}}})
	require.NoError(t, err)
	require.Len(t, loss.Rows, 2)
	require.InDelta(t, orthogonal/2, loss.Value, 1e-12)
	require.Equal(t, 1, loss.Grad.Rows())

	// Many candidate rows against one target.
	p = mustPrompt(t, "cat", tensor.Matrix{{1, 0}})
	loss, err = p.Score(nil, Candidate{Embeddings: tensor.Matrix{{1, 0}, {0, 1}, {1, 0}}})
	require.NoError(t, err)
	require.InDelta(t, orthogonal/3, loss.Value, 1e-12)
	require.Equal(t, 3, loss.Grad.Rows())
	require.Equal(t, []float64{0, 0}, loss.Grad[0])
	require.NotEqual(t, []float64{0, 0}, loss.Grad[1])
}

func TestScoreErrors(t *testing.T) {
	p := mustPrompt(t, "cat", tensor.Matrix{{1, 0}, {0, 1}})

	_, err := p.Score(nil, Candidate{})
	require.ErrorIs(t, err, ErrEmptyCandidate)

	_, err = p.Score(nil, Candidate{Embeddings: tensor.Matrix{{1, 0, 0}}})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = p.Score(nil, Candidate{Embeddings: tensor.Matrix{{1, 0}, {0, 1}, {1, 1}}})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = p.Score(nil, Candidate{
		Embeddings: tensor.Matrix{{1, 0}, {0, 1}},
		Positions:  tensor.Matrix{{0, 0}},
		Sizes:      tensor.Matrix{{1, 1}, {1, 1}},
	})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = p.Score(nil, Candidate{
		Embeddings: tensor.Matrix{{1, 0}, {0, 1}},
		Positions:  tensor.Matrix{{0, 0}, {0.5, 0}, {0.5, 0.5}},
		Sizes:      tensor.Matrix{{0.5, 0.5}, {0.5, 0.5}, {0.5, 0.5}},
	})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	one, err := p.Score(nil, Candidate{
		Embeddings: tensor.Matrix{{1, 0}, {0, 1}},
		Positions:  tensor.Matrix{{0, 0}},
		Sizes:      tensor.Matrix{{0.5, 0.5}},
	})
	require.NoError(t, err)
	require.Len(t, one.Rows, 2)

	spec, err := parse.Text("cat")
	require.NoError(t, err)
	_, err = New(spec, nil, "cat")
	require.ErrorIs(t, err, encoder.ErrEmptyEmbedding)
}

func TestScoreMask(t *testing.T) {
	p := mustPrompt(t, "cat:1_r_0.5", tensor.Matrix{{1, 0}})
	c := Candidate{
		Embeddings: tensor.Matrix{{1, 0.2}, {1, 0.2}},
		Positions:  tensor.Matrix{{0, 0}, {0.5, 0}},
		Sizes:      tensor.Matrix{{0.5, 0.5}, {0.5, 0.5}},
	}
	d := SphericalDistance([]float64{1, 0.2}, []float64{1, 0})

	loss, err := p.Score(nil, c)
	require.NoError(t, err)
	require.False(t, loss.Rows[0].Active)
	require.True(t, loss.Rows[1].Active)
	require.InDelta(t, (1+d)/2, loss.Value, 1e-12)
	require.Equal(t, []float64{0, 0}, loss.Grad[0])
	require.NotEqual(t, []float64{0, 0}, loss.Grad[1])

	// Without geometry the mask has nothing to act on.
	loss, err = p.Score(nil, Candidate{Embeddings: c.Embeddings})
	require.NoError(t, err)
	require.InDelta(t, d, loss.Value, 1e-12)
	require.True(t, loss.Rows[0].Active)
	require.True(t, math.IsInf(loss.Rows[0].Floor, -1))
}

func TestNewText(t *testing.T) {
	enc := encoder.NewHashEncoder(16)
	p, err := NewText(context.Background(), "a red barn:0.5", enc)
	require.NoError(t, err)
	require.Equal(t, "a red barn", p.String())
	require.Equal(t, "a red barn:0.5", p.Raw())
	require.Equal(t, 16, p.Embeddings().Dim())

	rows, err := enc.EncodeText(context.Background(), "a red barn")
	require.NoError(t, err)
	loss, err := p.Score(nil, Candidate{Embeddings: rows})
	require.NoError(t, err)
	require.InDelta(t, 0, loss.Value, 1e-12)

	_, err = NewText(context.Background(), "cat:0", enc)
	require.ErrorIs(t, err, parse.ErrInvalidWeight)
}

type fixedEmbedder struct{ regions encoder.Regions }

func (f fixedEmbedder) Name() string { return "fixed" }

func (f fixedEmbedder) Embed(ctx context.Context, img image.Image) (encoder.Regions, error) {
	return f.regions, nil
}

type fakeLoader struct {
	refs []string
	err  error
}

func (l *fakeLoader) LoadImage(ctx context.Context, ref string) (image.Image, error) {
	l.refs = append(l.refs, ref)
	if l.err != nil {
		return nil, l.err
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

// Left region points along x, right region along y.
var twoRegions = encoder.Regions{
	Embeddings: tensor.Matrix{{1, 0}, {0, 1}},
	Positions:  tensor.Matrix{{0, 0}, {0.5, 0}},
	Sizes:      tensor.Matrix{{0.5, 1}, {0.5, 1}},
}

func TestNewImage(t *testing.T) {
	loader := &fakeLoader{}
	p, err := NewImage(context.Background(), "https://example.com/ref.png:2", loader, fixedEmbedder{twoRegions})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/ref.png"}, loader.refs)
	require.Equal(t, "https://example.com/ref.png"+SemanticSuffix, p.String())
	require.Equal(t, twoRegions, p.Regions())

	boom := errors.New("boom")
	_, err = NewImage(context.Background(), "ref.png", &fakeLoader{err: boom}, fixedEmbedder{twoRegions})
	require.ErrorIs(t, err, boom)

	_, err = NewImageFrom(context.Background(), "ref.png", image.NewRGBA(image.Rect(0, 0, 1, 1)), fixedEmbedder{})
	require.ErrorIs(t, err, encoder.ErrEmptyEmbedding)
}

func TestLocationAwareMatchesRegionsByCentre(t *testing.T) {
	base, err := NewImageFrom(context.Background(), "ref.png", nil, fixedEmbedder{twoRegions})
	require.NoError(t, err)

	// Candidate regions arrive right-then-left, each matching the target
	// region at the same place.
	swapped := Candidate{
		Embeddings: tensor.Matrix{{0, 1}, {1, 0}},
		Positions:  tensor.Matrix{{0.5, 0}, {0, 0}},
		Sizes:      tensor.Matrix{{0.5, 1}, {0.5, 1}},
	}

	plain, err := base.Score(nil, swapped)
	require.NoError(t, err)
	require.InDelta(t, orthogonal, plain.Value, 1e-12)

	aware := NewLocationAware(base)
	loss, err := aware.Score(nil, swapped)
	require.NoError(t, err)
	require.InDelta(t, 0, loss.Value, 1e-12)

	a, err := aware.Assign(swapped)
	require.NoError(t, err)
	require.Equal(t, []int{1, 0}, a.Candidates())
}

func TestLocationAwareGradientInCandidateOrder(t *testing.T) {
	base, err := NewImageFrom(context.Background(), "ref.png", nil, fixedEmbedder{twoRegions})
	require.NoError(t, err)
	aware := NewLocationAware(base)

	// Three candidate regions for two targets: the middle one is left out.
	c := Candidate{
		Embeddings: tensor.Matrix{{1, 1}, {1, 1}, {1, 1}},
		Positions:  tensor.Matrix{{0, 0}, {0.25, 0}, {0.5, 0}},
		Sizes:      tensor.Matrix{{0.5, 1}, {0.5, 1}, {0.5, 1}},
	}
	loss, err := aware.Score(nil, c)
	require.NoError(t, err)
	require.Equal(t, 3, loss.Grad.Rows())
	require.NotEqual(t, []float64{0, 0}, loss.Grad[0])
	require.Equal(t, []float64{0, 0}, loss.Grad[1])
	require.NotEqual(t, []float64{0, 0}, loss.Grad[2])

	_, err = aware.Score(nil, Candidate{Embeddings: c.Embeddings})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestDual(t *testing.T) {
	a := Var(2).Scale(-1)
	require.Equal(t, Dual{Value: -2, Deriv: -1}, a)
	require.Equal(t, a, Max(a, Const(-2)))
	require.Equal(t, Const(0), Max(a, Const(0)))
	require.Equal(t, Dual{Value: -2, Deriv: 0}, ReplaceGrad(a, Const(0)))
}
