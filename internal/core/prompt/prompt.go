// Package prompt implements the prompt scoring entity: a target embedding set
// with a signed weight, a stop floor and a region mask, scored against
// candidate embeddings with a clamped spherical distance loss.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/promptsteer/promptsteer/internal/core/encoder"
	"github.com/promptsteer/promptsteer/internal/core/expr"
	"github.com/promptsteer/promptsteer/internal/core/mask"
	"github.com/promptsteer/promptsteer/internal/core/parse"
	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

// ErrEmptyCandidate is returned when Score receives no embedding rows.
var ErrEmptyCandidate = errors.New("candidate has no embeddings")

// Candidate is the embedding set under optimization, with optional
// per-region positions and sizes.
type Candidate struct {
	Embeddings tensor.Matrix `json:"embeddings"`
	Positions  tensor.Matrix `json:"positions,omitempty"`
	Sizes      tensor.Matrix `json:"sizes,omitempty"`
}

// Scorer is anything that can be evaluated once per optimization step.
type Scorer interface {
	Score(ec *expr.Context, c Candidate) (Loss, error)
	String() string
}

// Row is the per-row breakdown of a Loss.
type Row struct {
	Distance float64 `json:"distance"`
	Floor    float64 `json:"floor"`
	Active   bool    `json:"active"`
}

// MarshalJSON writes an infinite floor as a string.
func (r Row) MarshalJSON() ([]byte, error) {
	var floor any = r.Floor
	if math.IsInf(r.Floor, 0) {
		floor = expr.Number(r.Floor).String()
	}
	return json.Marshal(struct {
		Distance float64 `json:"distance"`
		Floor    any     `json:"floor"`
		Active   bool    `json:"active"`
	}{r.Distance, floor, r.Active})
}

// UnmarshalJSON accepts the floor as a number or as written by MarshalJSON.
func (r *Row) UnmarshalJSON(data []byte) error {
	var v struct {
		Distance float64    `json:"distance"`
		Floor    expr.Param `json:"floor"`
		Active   bool       `json:"active"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if !v.Floor.IsLiteral() {
		return fmt.Errorf("row floor %q is not a number", v.Floor.Expr)
	}
	*r = Row{Distance: v.Distance, Floor: v.Floor.Literal, Active: v.Active}
	return nil
}

// Loss is the outcome of one Score call.
//
// Value is the reported loss, |w|·mean(max(sign(w)·d, floor)). Raw is the
// unclamped |w|·mean(sign(w)·d). Grad is the gradient of Value with respect
// to each candidate embedding row; rows whose distance sits at or below the
// floor contribute nothing.
type Loss struct {
	Value float64       `json:"value"`
	Raw   float64       `json:"raw"`
	Grad  tensor.Matrix `json:"grad,omitempty"`
	Rows  []Row         `json:"rows"`
}

// Prompt is immutable once built.
type Prompt struct {
	embeddings tensor.Matrix
	spec       parse.Spec
	mask       mask.Func
	text       string
}

// New builds a Prompt from a parsed spec and its target embeddings.
func New(spec parse.Spec, embeddings tensor.Matrix, text string) (*Prompt, error) {
	if embeddings.Rows() == 0 {
		return nil, encoder.ErrEmptyEmbedding
	}
	if err := embeddings.Validate(); err != nil {
		return nil, err
	}
	fn, err := spec.Mask()
	if err != nil {
		return nil, err
	}
	return &Prompt{
		embeddings: embeddings.Clone(),
		spec:       spec,
		mask:       fn,
		text:       text,
	}, nil
}

// NewText parses a text prompt and encodes its text with every encoder.
func NewText(ctx context.Context, raw string, encoders ...encoder.TextEncoder) (*Prompt, error) {
	spec, err := parse.Text(raw)
	if err != nil {
		return nil, err
	}
	embeddings, err := encoder.EncodeAll(ctx, spec.Text, encoders...)
	if err != nil {
		return nil, fmt.Errorf("prompt %q: %w", raw, err)
	}
	return New(spec, embeddings, spec.Text)
}

// String returns the display text.
func (p *Prompt) String() string {
	return p.text
}

// Raw returns the prompt string the prompt was parsed from.
func (p *Prompt) Raw() string {
	return p.spec.Raw
}

// Spec returns the parsed directive.
func (p *Prompt) Spec() parse.Spec {
	return p.spec
}

// Embeddings returns a copy of the target set.
func (p *Prompt) Embeddings() tensor.Matrix {
	return p.embeddings.Clone()
}

// Score compares c against the target embeddings.
func (p *Prompt) Score(ec *expr.Context, c Candidate) (Loss, error) {
	return p.score(ec, p.embeddings, c)
}

func (p *Prompt) score(ec *expr.Context, targets tensor.Matrix, c Candidate) (Loss, error) {
	if ec == nil {
		ec = expr.NewContext()
	}
	weight, err := ec.Resolve(p.spec.Weight)
	if err != nil {
		return Loss{}, err
	}
	stop, err := ec.Resolve(p.spec.Stop)
	if err != nil {
		return Loss{}, err
	}
	if err := parse.CheckWeights(weight, stop); err != nil {
		return Loss{}, fmt.Errorf("prompt %q: %w", p.spec.Raw, err)
	}

	x := c.Embeddings
	n, m := x.Rows(), targets.Rows()
	if n == 0 {
		return Loss{}, ErrEmptyCandidate
	}
	if err := x.Validate(); err != nil {
		return Loss{}, err
	}
	if x.Dim() != targets.Dim() {
		return Loss{}, fmt.Errorf("candidate width %d vs target width %d: %w", x.Dim(), targets.Dim(), tensor.ErrShapeMismatch)
	}

	rows := n
	switch {
	case n == m, m == 1:
	case n == 1:
		rows = m
	default:
		return Loss{}, fmt.Errorf("%d candidate rows vs %d target rows: %w", n, m, tensor.ErrShapeMismatch)
	}

	var bias []float64
	if c.Sizes.Rows() > 0 {
		if c.Positions.Rows() != c.Sizes.Rows() {
			return Loss{}, fmt.Errorf("%d positions vs %d sizes: %w", c.Positions.Rows(), c.Sizes.Rows(), tensor.ErrShapeMismatch)
		}
		if c.Sizes.Rows() != 1 && c.Sizes.Rows() != rows {
			return Loss{}, fmt.Errorf("%d regions for %d scored rows: %w", c.Sizes.Rows(), rows, tensor.ErrShapeMismatch)
		}
		bias = p.mask(c.Positions, c.Sizes)
	}

	sign := 1.0
	if weight < 0 {
		sign = -1
	}
	offset := math.Min(sign, 0)
	scale := math.Abs(weight)

	loss := Loss{
		Grad: tensor.Zeros(n, x.Dim()),
		Rows: make([]Row, rows),
	}
	for r := 0; r < rows; r++ {
		xi, yi := r, r
		if n == 1 {
			xi = 0
		}
		if m == 1 {
			yi = 0
		}

		d, dgrad := sphericalDistanceGrad(x[xi], targets[yi])
		floor := math.Max(rowBias(bias, r)+offset, stop)

		signed := Var(d).Scale(sign)
		out := ReplaceGrad(signed, Max(signed, Const(floor)))

		loss.Value += scale * math.Max(signed.Value, floor)
		loss.Raw += scale * out.Value
		loss.Rows[r] = Row{Distance: d, Floor: floor, Active: out.Deriv != 0}

		k := scale * out.Deriv / float64(rows)
		for j := range dgrad {
			loss.Grad[xi][j] += k * dgrad[j]
		}
	}
	loss.Value /= float64(rows)
	loss.Raw /= float64(rows)
	return loss, nil
}

// rowBias picks the mask bias for row r. Missing spatial data leaves the
// floor to the stop value alone.
func rowBias(bias []float64, r int) float64 {
	switch len(bias) {
	case 0:
		return math.Inf(-1)
	case 1:
		return bias[0]
	default:
		return bias[r]
	}
}
