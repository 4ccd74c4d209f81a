package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/promptsteer/promptsteer/internal/core"
)

// SeedBuiltInProfiles ensures built-in profiles exist in the store.
func (s *Store) SeedBuiltInProfiles(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	now := time.Now().UTC()
	for _, profile := range core.BuiltInProfiles {
		if err := s.UpsertProfile(ctx, profile, true, now); err != nil {
			return err
		}
	}
	return nil
}

// UpsertProfile creates or updates a profile record. The profile is stored
// as YAML so it round-trips with prompt files on disk.
func (s *Store) UpsertProfile(ctx context.Context, profile core.Profile, isBuiltin bool, updatedAt time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	name := strings.TrimSpace(profile.Name)
	if name == "" {
		return errors.New("profile name is required")
	}
	profile.Name = name

	payload, err := yaml.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	builtinValue := 0
	if isBuiltin {
		builtinValue = 1
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO profiles (name, config, is_builtin, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			config = excluded.config,
			is_builtin = excluded.is_builtin,
			updated_at = excluded.updated_at
	`, name, string(payload), builtinValue, updatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	return nil
}

// GetProfile returns a profile record by name, or nil when absent.
func (s *Store) GetProfile(ctx context.Context, name string) (*core.ProfileRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("profile name is required")
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT name, config, is_builtin, updated_at
		FROM profiles
		WHERE name = ?
	`, name)

	record, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &record, nil
}

// ListProfiles returns all profiles ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]core.ProfileRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT name, config, is_builtin, updated_at
		FROM profiles
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var records []core.ProfileRecord
	for rows.Next() {
		record, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("list profiles: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return records, nil
}

// DeleteProfile removes a user profile. Built-in profiles are refused.
func (s *Store) DeleteProfile(ctx context.Context, name string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	name = strings.TrimSpace(name)
	if _, builtin := core.FindBuiltInProfile(name); builtin {
		return false, fmt.Errorf("profile %q is built in", name)
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM profiles WHERE name = ? AND is_builtin = 0`, name)
	if err != nil {
		return false, fmt.Errorf("delete profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete profile: %w", err)
	}
	return affected > 0, nil
}

func scanProfile(row rowScanner) (core.ProfileRecord, error) {
	var (
		name       string
		configYAML string
		isBuiltin  int
		updatedAt  sql.NullInt64
	)
	if err := row.Scan(&name, &configYAML, &isBuiltin, &updatedAt); err != nil {
		return core.ProfileRecord{}, err
	}

	var profile core.Profile
	if err := yaml.Unmarshal([]byte(configYAML), &profile); err != nil {
		return core.ProfileRecord{}, fmt.Errorf("decode profile %s: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}

	record := core.ProfileRecord{
		Profile:   profile,
		IsBuiltin: isBuiltin == 1,
	}
	if updatedAt.Valid {
		record.UpdatedAt = time.Unix(updatedAt.Int64, 0).UTC()
	}
	return record, nil
}
