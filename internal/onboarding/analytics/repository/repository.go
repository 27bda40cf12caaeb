// Package repository persists consumed analytics events for funnel reporting.
package repository

import (
	"context"
	"time"

	"nutrition-platform/backend/internal/onboarding/analytics"
	"nutrition-platform/backend/internal/onboarding/domain"
)

// Repository defines persistence for analytics events.
type Repository interface {
	// Save stores e. Saving an event id that already exists is a no-op, so redelivery is safe.
	Save(ctx context.Context, e analytics.Event) error
	ListByUser(ctx context.Context, userID string, role domain.Role, limit int) ([]analytics.Event, error)
	// CountByType returns event counts per type for role since the given time.
	CountByType(ctx context.Context, role domain.Role, since time.Time) (map[analytics.EventType]int64, error)
}
