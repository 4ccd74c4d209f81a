package encoder

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/zeebo/xxh3"

	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

// DefaultHashDim matches the default GridEmbedder width (8×8 patch × RGB).
const DefaultHashDim = 192

// HashEncoder is an offline text encoder: unigrams and bigrams are hashed
// into a fixed-width signed bag of features. It is deterministic and needs
// no model, which makes it useful for tests and dry runs.
type HashEncoder struct {
	Dim int
}

// NewHashEncoder returns an encoder of the given width.
func NewHashEncoder(dim int) *HashEncoder {
	if dim <= 0 {
		dim = DefaultHashDim
	}
	return &HashEncoder{Dim: dim}
}

// Name identifies the encoder in cache keys and logs.
func (e *HashEncoder) Name() string {
	return fmt.Sprintf("hash-%d", e.dim())
}

// EncodeText returns a single unit-length row.
func (e *HashEncoder) EncodeText(ctx context.Context, text string) (tensor.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("text %q has no tokens: %w", text, ErrEmptyEmbedding)
	}

	dim := e.dim()
	row := make([]float64, dim)
	add := func(feature string) {
		h := xxh3.HashString(feature)
		v := 1.0
		if h>>63 == 1 {
			v = -1
		}
		row[h%uint64(dim)] += v
	}
	for i, tok := range tokens {
		add(tok)
		if i > 0 {
			add(tokens[i-1] + " " + tok)
		}
	}
	return tensor.Matrix{tensor.Normalize(row)}, nil
}

func (e *HashEncoder) dim() int {
	if e == nil || e.Dim <= 0 {
		return DefaultHashDim
	}
	return e.Dim
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
