package cmd

import (
	"context"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/promptsteer/promptsteer/internal/config"
	"github.com/promptsteer/promptsteer/internal/core/encoder"
	"github.com/promptsteer/promptsteer/internal/core/engine"
	"github.com/promptsteer/promptsteer/internal/core/fetch"
	"github.com/promptsteer/promptsteer/internal/core/store"
	"github.com/promptsteer/promptsteer/internal/metrics"
	"github.com/promptsteer/promptsteer/internal/observability"
)

// openStore opens, migrates and seeds the configured store.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.SeedBuiltInProfiles(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// openStoreOptional opens the store for commands that can run without one.
// Failures are logged and nil is returned.
func openStoreOptional(ctx context.Context, cfg *config.Config) *store.Store {
	db, err := openStore(ctx, cfg)
	if err != nil {
		if observability.CLILogger != nil {
			observability.CLILogger.Warn("Store unavailable, continuing without cache and rate limits", zap.Error(err))
		}
		return nil
	}
	return db
}

// buildEncoders resolves cfg.Encoder.Names. With a store and the cache
// enabled each encoder is wrapped with the embedding cache.
func buildEncoders(cfg *config.Config, db *store.Store) ([]encoder.TextEncoder, error) {
	names := cfg.Encoder.Names
	if len(names) == 0 {
		names = []string{"hash"}
	}

	out := make([]encoder.TextEncoder, 0, len(names))
	for _, name := range names {
		var enc encoder.TextEncoder
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "hash":
			enc = encoder.NewHashEncoder(cfg.Encoder.HashDim)
		case "http", "openai":
			if strings.TrimSpace(cfg.Encoder.BaseURL) == "" {
				return nil, fmt.Errorf("encoder %q requires encoder.base_url", name)
			}
			h := encoder.NewHTTPEncoder(cfg.Encoder.BaseURL, cfg.Encoder.APIKey, cfg.Encoder.Model)
			h.Timeout = cfg.Encoder.Timeout
			enc = h
		case "":
			continue
		default:
			return nil, fmt.Errorf("unknown encoder %q (expected hash or http)", name)
		}

		if db != nil && cfg.Cache.Enabled {
			enc = &encoder.CachedEncoder{
				Encoder: enc,
				Cache:   db,
				TTL:     cfg.Cache.EmbeddingTTL,
				Observe: metrics.RecordEmbeddingCache,
			}
		}
		out = append(out, enc)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no text encoders configured")
	}
	return out, nil
}

// buildLoader returns an image loader whose remote fetches are throttled
// per host through the store's rate_limits table.
func buildLoader(cfg *config.Config, db *store.Store, remoteOnly bool) *observedLoader {
	f := &fetch.Fetcher{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    cfg.Fetch.Timeout,
		RemoteOnly: remoteOnly,
		LocalRoots: cfg.Fetch.AllowedRoots,
	}
	if db != nil {
		limiter := &fetch.RateLimiter{Store: db}
		limiter.ApplyOverrides(cfg.Fetch.RateLimits)
		limiter.ApplySafetyMargin(cfg.Fetch.Margin)
		f.Limiter = limiter
	}
	return &observedLoader{loader: &fetch.Loader{Fetcher: f, MaxSize: cfg.Fetch.MaxSize}}
}

func buildEmbedder(cfg *config.Config) *encoder.GridEmbedder {
	return encoder.NewGridEmbedder(cfg.Regions.Rows, cfg.Regions.Cols, cfg.Regions.Patch)
}

// buildBuilder wires the prompt builder. Servers pass remoteOnly so request
// payloads cannot read local files outside fetch.allowed_roots.
func buildBuilder(cfg *config.Config, db *store.Store, remoteOnly bool) (*engine.Builder, error) {
	encoders, err := buildEncoders(cfg, db)
	if err != nil {
		return nil, err
	}
	return &engine.Builder{
		Encoders: encoders,
		Loader:   buildLoader(cfg, db, remoteOnly),
		Embedder: buildEmbedder(cfg),
	}, nil
}

// observedLoader records a fetch metric per image load.
type observedLoader struct {
	loader *fetch.Loader
}

func (l *observedLoader) LoadImage(ctx context.Context, ref string) (image.Image, error) {
	img, err := l.loader.LoadImage(ctx, ref)
	metrics.RecordFetch(fetch.IsRemote(ref), err == nil)
	return img, err
}
