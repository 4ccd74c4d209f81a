// Package encoder defines the embedding collaborators a prompt is built with
// and ships a few concrete ones: an offline hashing text encoder, an
// OpenAI-compatible HTTP text encoder, a grid region embedder and a
// store-backed cache.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

// ErrEmptyEmbedding is returned when an encoder produces no rows.
var ErrEmptyEmbedding = errors.New("encoder returned no embedding")

// TextEncoder turns prompt text into one or more embedding rows.
// Tokenization is the encoder's concern.
type TextEncoder interface {
	Name() string
	EncodeText(ctx context.Context, text string) (tensor.Matrix, error)
}

// RegionEmbedder splits an image into regions and embeds each one.
type RegionEmbedder interface {
	Name() string
	Embed(ctx context.Context, img image.Image) (Regions, error)
}

// Regions holds parallel per-region arrays in normalized frame coordinates.
type Regions struct {
	Embeddings tensor.Matrix `json:"embeddings"`
	Positions  tensor.Matrix `json:"positions"`
	Sizes      tensor.Matrix `json:"sizes"`
}

// Validate checks the three arrays are parallel.
func (r Regions) Validate() error {
	n := r.Embeddings.Rows()
	if n == 0 {
		return ErrEmptyEmbedding
	}
	if r.Positions.Rows() != n || r.Sizes.Rows() != n {
		return fmt.Errorf("regions: %d embeddings, %d positions, %d sizes: %w",
			n, r.Positions.Rows(), r.Sizes.Rows(), tensor.ErrShapeMismatch)
	}
	for _, m := range []tensor.Matrix{r.Embeddings, r.Positions, r.Sizes} {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EncodeAll runs text through every encoder and concatenates the rows,
// padding narrower encoders so the result is rectangular.
func EncodeAll(ctx context.Context, text string, encoders ...TextEncoder) (tensor.Matrix, error) {
	if len(encoders) == 0 {
		return nil, errors.New("at least one text encoder is required")
	}
	blocks := make([]tensor.Matrix, 0, len(encoders))
	for _, enc := range encoders {
		rows, err := enc.EncodeText(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("encode with %s: %w", enc.Name(), err)
		}
		if rows.Rows() == 0 {
			return nil, fmt.Errorf("encode with %s: %w", enc.Name(), ErrEmptyEmbedding)
		}
		blocks = append(blocks, rows)
	}
	return tensor.CatWithPad(tensor.DefaultPadValue, blocks...), nil
}
