package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptsteer/promptsteer/internal/core"
)

// RecordScoreRun persists one scored step. An empty ID is assigned a UUID.
func (s *Store) RecordScoreRun(ctx context.Context, run *core.ScoreRun) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if run == nil {
		return errors.New("score run is required")
	}

	if strings.TrimSpace(run.ID) == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(run.Prompts)
	if err != nil {
		return fmt.Errorf("encode score run: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO score_runs (id, profile, t, total, prompts_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, nullString(run.Profile), run.T, run.Total, string(payload), run.CreatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store score run: %w", err)
	}
	return nil
}

// ListScoreRuns returns the most recent runs first.
func (s *Store) ListScoreRuns(ctx context.Context, limit int) ([]core.ScoreRun, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, profile, t, total, prompts_json, created_at
		FROM score_runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list score runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var runs []core.ScoreRun
	for rows.Next() {
		var (
			run         core.ScoreRun
			profile     sql.NullString
			promptsJSON string
			createdAt   int64
		)
		if err := rows.Scan(&run.ID, &profile, &run.T, &run.Total, &promptsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan score runs: %w", err)
		}
		if err := json.Unmarshal([]byte(promptsJSON), &run.Prompts); err != nil {
			return nil, fmt.Errorf("decode score run %s: %w", run.ID, err)
		}
		run.Profile = profile.String
		run.CreatedAt = time.Unix(createdAt, 0).UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list score runs: %w", err)
	}
	return runs, nil
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	return sql.NullString{String: value, Valid: value != ""}
}
