// Package postgres is the account-scoped remote store for onboarding progress and form submissions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"nutrition-platform/backend/internal/onboarding/domain"
)

// ProgressStore keeps one JSONB snapshot per (user, role) in onboarding_progress.
type ProgressStore struct {
	db *sql.DB
}

// NewProgressStore returns a store that uses the given db for persistence.
func NewProgressStore(db *sql.DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// Load returns the stored snapshot for (userID, role), or nil if none exists.
// It returns an error only for database or decode failures, not for missing rows.
func (s *ProgressStore) Load(ctx context.Context, userID string, role domain.Role) (*domain.Progress, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM onboarding_progress WHERE user_id = $1 AND role = $2`,
		userID, string(role)).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var p domain.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Save upserts the snapshot. A row with a newer last_updated_at is left alone, so a late debounced
// write cannot roll back progress written from another device.
func (s *ProgressStore) Save(ctx context.Context, p *domain.Progress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO onboarding_progress (user_id, role, snapshot, is_completed, last_updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role) DO UPDATE
		SET snapshot = EXCLUDED.snapshot,
		    is_completed = EXCLUDED.is_completed,
		    last_updated_at = EXCLUDED.last_updated_at
		WHERE onboarding_progress.last_updated_at <= EXCLUDED.last_updated_at`,
		p.UserID, string(p.Role), raw, p.IsCompleted, p.LastUpdatedAt)
	return err
}

// Delete removes the snapshot for (userID, role). Missing rows are not an error.
func (s *ProgressStore) Delete(ctx context.Context, userID string, role domain.Role) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM onboarding_progress WHERE user_id = $1 AND role = $2`, userID, string(role))
	return err
}
