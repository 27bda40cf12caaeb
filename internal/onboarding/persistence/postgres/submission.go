package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"nutrition-platform/backend/internal/onboarding/domain"
)

// Submission statuses.
const (
	SubmissionDraft     = "draft"
	SubmissionSubmitted = "submitted"
)

// Submission is the wizard form data stored for a (user, role).
type Submission struct {
	UserID      string
	Role        domain.Role
	FormData    map[string]any
	Status      string
	UpdatedAt   time.Time
	SubmittedAt *time.Time
}

// SubmissionStore persists wizard form data: drafts on every step, and the final submission.
type SubmissionStore struct {
	db   *sql.DB
	nowF func() time.Time
}

// NewSubmissionStore returns a store that uses the given db for persistence.
func NewSubmissionStore(db *sql.DB) *SubmissionStore {
	return &SubmissionStore{db: db, nowF: func() time.Time { return time.Now().UTC() }}
}

// SaveDraft stores formData as a draft. A submitted row is not downgraded.
func (s *SubmissionStore) SaveDraft(ctx context.Context, userID string, role domain.Role, formData map[string]any) error {
	raw, err := json.Marshal(formData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO onboarding_submissions (user_id, role, form_data, status, updated_at)
		VALUES ($1, $2, $3, 'draft', $4)
		ON CONFLICT (user_id, role) DO UPDATE
		SET form_data = EXCLUDED.form_data, updated_at = EXCLUDED.updated_at
		WHERE onboarding_submissions.status = 'draft'`,
		userID, string(role), raw, s.nowF())
	return err
}

// Submit stores formData as the final submission.
func (s *SubmissionStore) Submit(ctx context.Context, userID string, role domain.Role, formData map[string]any) error {
	raw, err := json.Marshal(formData)
	if err != nil {
		return err
	}
	now := s.nowF()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO onboarding_submissions (user_id, role, form_data, status, updated_at, submitted_at)
		VALUES ($1, $2, $3, 'submitted', $4, $4)
		ON CONFLICT (user_id, role) DO UPDATE
		SET form_data = EXCLUDED.form_data, status = 'submitted',
		    updated_at = EXCLUDED.updated_at, submitted_at = EXCLUDED.submitted_at`,
		userID, string(role), raw, now)
	return err
}

// Get returns the stored submission, or nil if none exists.
func (s *SubmissionStore) Get(ctx context.Context, userID string, role domain.Role) (*Submission, error) {
	var (
		raw       []byte
		status    string
		updated   time.Time
		submitted sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT form_data, status, updated_at, submitted_at
		FROM onboarding_submissions WHERE user_id = $1 AND role = $2`,
		userID, string(role)).Scan(&raw, &status, &updated, &submitted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sub := &Submission{UserID: userID, Role: role, Status: status, UpdatedAt: updated}
	if err := json.Unmarshal(raw, &sub.FormData); err != nil {
		return nil, err
	}
	if submitted.Valid {
		t := submitted.Time
		sub.SubmittedAt = &t
	}
	return sub, nil
}

// Reset discards any stored form data for (userID, role).
func (s *SubmissionStore) Reset(ctx context.Context, userID string, role domain.Role) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM onboarding_submissions WHERE user_id = $1 AND role = $2`, userID, string(role))
	return err
}
