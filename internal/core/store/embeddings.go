package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"

	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

// TextHash is the cache key for prompt text.
func TextHash(text string) string {
	return strconv.FormatUint(xxh3.HashString(text), 16)
}

// GetEmbedding returns cached rows for (encoder, text). A miss or an expired
// entry returns nil rows and a nil error.
func (s *Store) GetEmbedding(ctx context.Context, encoderName, text string) (tensor.Matrix, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT text, rows_blob FROM embedding_cache
		 WHERE encoder = ? AND text_hash = ? AND expires_at > ?`,
		encoderName, TextHash(text), time.Now().UTC().Unix(),
	)

	var (
		stored string
		blob   []byte
	)
	if err := row.Scan(&stored, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch embedding: %w", err)
	}
	// hash collision
	if stored != text {
		return nil, nil
	}

	var rows tensor.Matrix
	if err := msgpack.Unmarshal(blob, &rows); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return rows, nil
}

// SetEmbedding stores rows with TTL. A non-positive TTL is a no-op.
func (s *Store) SetEmbedding(ctx context.Context, encoderName, text string, rows tensor.Matrix, ttl time.Duration) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		return nil
	}

	blob, err := msgpack.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO embedding_cache (encoder, text_hash, text, rows_blob, row_count, dim, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(encoder, text_hash)
		 DO UPDATE SET text = excluded.text,
		               rows_blob = excluded.rows_blob,
		               row_count = excluded.row_count,
		               dim = excluded.dim,
		               created_at = excluded.created_at,
		               expires_at = excluded.expires_at`,
		encoderName, TextHash(text), text, blob, rows.Rows(), rows.Dim(), now.Unix(), expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

// PurgeExpiredEmbeddings deletes expired cache entries and reports how
// many were removed.
func (s *Store) PurgeExpiredEmbeddings(ctx context.Context) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx,
		`DELETE FROM embedding_cache WHERE expires_at <= ?`, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge embeddings: %w", err)
	}
	return result.RowsAffected()
}

// EmbeddingStats summarizes the cache.
type EmbeddingStats struct {
	Entries int `json:"entries"`
	Expired int `json:"expired"`
}

// EmbeddingCacheStats counts live and expired entries.
func (s *Store) EmbeddingCacheStats(ctx context.Context) (EmbeddingStats, error) {
	if s == nil || s.DB == nil {
		return EmbeddingStats{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var stats EmbeddingStats
	row := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
		 FROM embedding_cache`, time.Now().UTC().Unix())
	if err := row.Scan(&stats.Entries, &stats.Expired); err != nil {
		return EmbeddingStats{}, fmt.Errorf("embedding stats: %w", err)
	}
	return stats, nil
}
