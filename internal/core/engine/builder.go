package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/promptsteer/promptsteer/internal/core"
	"github.com/promptsteer/promptsteer/internal/core/encoder"
	"github.com/promptsteer/promptsteer/internal/core/prompt"
)

// Builder turns prompt strings into scorers using the configured encoders.
type Builder struct {
	Encoders []encoder.TextEncoder
	Loader   prompt.ImageLoader
	Embedder encoder.RegionEmbedder
}

// BuildText builds one text prompt per non-empty string.
func (b *Builder) BuildText(ctx context.Context, raws ...string) ([]prompt.Scorer, error) {
	if b == nil || len(b.Encoders) == 0 {
		return nil, errors.New("no text encoders configured")
	}
	out := make([]prompt.Scorer, 0, len(raws))
	for _, raw := range raws {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p, err := prompt.NewText(ctx, raw, b.Encoders...)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// BuildImage builds image prompts, wrapping them for location-aware
// scoring when requested.
func (b *Builder) BuildImage(ctx context.Context, locationAware bool, raws ...string) ([]prompt.Scorer, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	if b == nil || b.Loader == nil || b.Embedder == nil {
		return nil, errors.New("image prompts need a loader and a region embedder")
	}
	out := make([]prompt.Scorer, 0, len(raws))
	for _, raw := range raws {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p, err := prompt.NewImage(ctx, raw, b.Loader, b.Embedder)
		if err != nil {
			return nil, err
		}
		if locationAware {
			out = append(out, prompt.NewLocationAware(p))
		} else {
			out = append(out, p)
		}
	}
	return out, nil
}

// BuildProfile builds every prompt of a profile, text prompts first.
func (b *Builder) BuildProfile(ctx context.Context, profile core.Profile) ([]prompt.Scorer, error) {
	texts, err := b.BuildText(ctx, profile.Prompts...)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
	}
	images, err := b.BuildImage(ctx, profile.LocationAware, profile.ImagePrompts...)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
	}
	out := append(texts, images...)
	if len(out) == 0 {
		return nil, fmt.Errorf("profile %s: %w", profile.Name, ErrNoPrompts)
	}
	return out, nil
}
