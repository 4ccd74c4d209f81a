package encoder

import (
	"context"
	"time"

	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

// EmbeddingCache persists encoder output keyed by encoder name and text.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, encoderName, text string) (tensor.Matrix, error)
	SetEmbedding(ctx context.Context, encoderName, text string, rows tensor.Matrix, ttl time.Duration) error
}

// CachedEncoder consults Cache before delegating to Encoder. Cache failures
// fall through to the encoder.
type CachedEncoder struct {
	Encoder TextEncoder
	Cache   EmbeddingCache
	TTL     time.Duration

	// Observe, when set, is told whether each lookup hit.
	Observe func(encoder string, hit bool)
}

// Name is the wrapped encoder's name so cached and uncached rows share keys.
func (c *CachedEncoder) Name() string {
	return c.Encoder.Name()
}

// EncodeText returns cached rows when present.
func (c *CachedEncoder) EncodeText(ctx context.Context, text string) (tensor.Matrix, error) {
	name := c.Encoder.Name()
	if c.Cache != nil {
		rows, err := c.Cache.GetEmbedding(ctx, name, text)
		hit := err == nil && rows.Rows() > 0
		if c.Observe != nil {
			c.Observe(name, hit)
		}
		if hit {
			return rows, nil
		}
	}

	rows, err := c.Encoder.EncodeText(ctx, text)
	if err != nil {
		return nil, err
	}
	if c.Cache != nil {
		_ = c.Cache.SetEmbedding(ctx, name, text, rows, c.TTL)
	}
	return rows, nil
}
