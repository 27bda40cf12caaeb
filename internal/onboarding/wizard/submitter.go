package wizard

import (
	"context"

	"go.uber.org/zap"

	"nutrition-platform/backend/internal/onboarding/domain"
)

// Submitter receives form data drafts and the final submission.
// *postgres.SubmissionStore implements it.
type Submitter interface {
	SaveDraft(ctx context.Context, userID string, role domain.Role, formData map[string]any) error
	Submit(ctx context.Context, userID string, role domain.Role, formData map[string]any) error
}

// LogSubmitter only logs; it stands in when no database is configured.
type LogSubmitter struct {
	Logger *zap.Logger
}

func (s LogSubmitter) SaveDraft(_ context.Context, userID string, role domain.Role, formData map[string]any) error {
	s.log().Debug("onboarding draft", zap.String("user_id", userID), zap.String("role", string(role)), zap.Int("fields", len(formData)))
	return nil
}

func (s LogSubmitter) Submit(_ context.Context, userID string, role domain.Role, formData map[string]any) error {
	s.log().Info("onboarding submission", zap.String("user_id", userID), zap.String("role", string(role)), zap.Any("form_data", formData))
	return nil
}

func (s LogSubmitter) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// WithSubmitter sets OnComplete and OnProgressSave from s.
func (o Options) WithSubmitter(s Submitter) Options {
	o.OnComplete = s.Submit
	o.OnProgressSave = s.SaveDraft
	return o
}
