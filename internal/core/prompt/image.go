package prompt

import (
	"context"
	"fmt"
	"image"

	"github.com/promptsteer/promptsteer/internal/core/assign"
	"github.com/promptsteer/promptsteer/internal/core/encoder"
	"github.com/promptsteer/promptsteer/internal/core/expr"
	"github.com/promptsteer/promptsteer/internal/core/parse"
	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

// SemanticSuffix marks the display text of image-derived prompts.
const SemanticSuffix = " (semantic)"

// ImageLoader resolves a path or URL to a decoded image.
type ImageLoader interface {
	LoadImage(ctx context.Context, ref string) (image.Image, error)
}

// ImagePrompt is a prompt whose targets are the regions of a reference
// image. It keeps the region geometry for location-aware scoring.
type ImagePrompt struct {
	*Prompt
	positions tensor.Matrix
	sizes     tensor.Matrix
}

// NewImage parses raw, loads the referenced image and embeds its regions.
func NewImage(ctx context.Context, raw string, loader ImageLoader, embedder encoder.RegionEmbedder) (*ImagePrompt, error) {
	spec, err := parse.Image(raw)
	if err != nil {
		return nil, err
	}
	img, err := loader.LoadImage(ctx, spec.Text)
	if err != nil {
		return nil, fmt.Errorf("prompt %q: load image: %w", raw, err)
	}
	return newImage(ctx, spec, img, embedder)
}

// NewImageFrom builds an image prompt from an already decoded image; the
// text field of raw is used for display only.
func NewImageFrom(ctx context.Context, raw string, img image.Image, embedder encoder.RegionEmbedder) (*ImagePrompt, error) {
	spec, err := parse.Image(raw)
	if err != nil {
		return nil, err
	}
	return newImage(ctx, spec, img, embedder)
}

func newImage(ctx context.Context, spec parse.Spec, img image.Image, embedder encoder.RegionEmbedder) (*ImagePrompt, error) {
	regions, err := embedder.Embed(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("prompt %q: embed with %s: %w", spec.Raw, embedder.Name(), err)
	}
	if err := regions.Validate(); err != nil {
		return nil, fmt.Errorf("prompt %q: %w", spec.Raw, err)
	}
	base, err := New(spec, regions.Embeddings, spec.Text+SemanticSuffix)
	if err != nil {
		return nil, err
	}
	return &ImagePrompt{
		Prompt:    base,
		positions: regions.Positions.Clone(),
		sizes:     regions.Sizes.Clone(),
	}, nil
}

// Regions returns a copy of the target regions.
func (p *ImagePrompt) Regions() encoder.Regions {
	return encoder.Regions{
		Embeddings: p.embeddings.Clone(),
		Positions:  p.positions.Clone(),
		Sizes:      p.sizes.Clone(),
	}
}

// LocationAware scores an image prompt after matching candidate regions to
// the nearest target regions by centre.
type LocationAware struct {
	*ImagePrompt
}

// NewLocationAware wraps p.
func NewLocationAware(p *ImagePrompt) *LocationAware {
	return &LocationAware{ImagePrompt: p}
}

// Score reorders the candidate rows by the optimal assignment and delegates
// to the base loss. The mask still sees the caller's positions and sizes in
// their original order. The gradient is returned in original row order;
// unmatched candidate rows get zero gradient.
func (p *LocationAware) Score(ec *expr.Context, c Candidate) (Loss, error) {
	a, err := p.Assign(c)
	if err != nil {
		return Loss{}, err
	}

	// Row k of the reordered set keeps the mask of the caller's row k.
	matched := len(a.Pairs)
	reordered := Candidate{
		Embeddings: c.Embeddings.Take(a.Candidates()),
		Positions:  c.Positions[:min(matched, c.Positions.Rows())],
		Sizes:      c.Sizes[:min(matched, c.Sizes.Rows())],
	}
	loss, err := p.score(ec, p.embeddings.Take(a.Targets()), reordered)
	if err != nil {
		return Loss{}, err
	}

	grad := tensor.Zeros(c.Embeddings.Rows(), c.Embeddings.Dim())
	for k, ci := range a.Candidates() {
		grad[ci] = loss.Grad[k]
	}
	loss.Grad = grad
	return loss, nil
}

// Assign computes the candidate-to-target region matching used by Score.
func (p *LocationAware) Assign(c Candidate) (assign.Assignment, error) {
	if c.Embeddings.Rows() == 0 {
		return assign.Assignment{}, ErrEmptyCandidate
	}
	if c.Positions.Rows() != c.Embeddings.Rows() {
		return assign.Assignment{}, fmt.Errorf("location-aware prompt needs one position per candidate row, got %d for %d: %w",
			c.Positions.Rows(), c.Embeddings.Rows(), tensor.ErrShapeMismatch)
	}
	candidates, err := tensor.Centers(c.Positions, c.Sizes)
	if err != nil {
		return assign.Assignment{}, err
	}
	targets, err := tensor.Centers(p.positions, p.sizes)
	if err != nil {
		return assign.Assignment{}, err
	}
	return assign.Match(candidates, targets)
}
