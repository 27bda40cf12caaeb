package repository

import (
	"context"
	"database/sql"
	"time"

	"nutrition-platform/backend/internal/onboarding/analytics"
	"nutrition-platform/backend/internal/onboarding/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an analytics repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, e analytics.Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO onboarding_events
			(event_id, event_type, session_id, user_id, role, step_id, step_index, total_steps, duration_ms, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING`,
		e.ID, string(e.Type), e.SessionID, e.UserID, string(e.Role),
		nullString(string(e.StepID)), nullIntPtr(e.StepIndex), nullInt(int64(e.TotalSteps)),
		nullInt(e.DurationMs), nullString(e.Reason), e.Timestamp)
	return err
}

// ListByUser returns the newest events first. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, role domain.Role, limit int) ([]analytics.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, event_type, session_id, user_id, role, step_id, step_index, total_steps, duration_ms, reason, occurred_at
		FROM onboarding_events
		WHERE user_id = $1 AND role = $2
		ORDER BY occurred_at DESC
		LIMIT $3`, userID, string(role), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []analytics.Event
	for rows.Next() {
		var (
			e                            analytics.Event
			eventType, roleStr           string
			stepID, reason               sql.NullString
			stepIndex, total, durationMs sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &eventType, &e.SessionID, &e.UserID, &roleStr,
			&stepID, &stepIndex, &total, &durationMs, &reason, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = analytics.EventType(eventType)
		e.Role = domain.Role(roleStr)
		e.StepID = domain.StepID(stepID.String)
		if stepIndex.Valid {
			e.StepIndex = analytics.Index(int(stepIndex.Int64))
		}
		e.TotalSteps = int(total.Int64)
		e.DurationMs = durationMs.Int64
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountByType(ctx context.Context, role domain.Role, since time.Time) (map[analytics.EventType]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, count(*) FROM onboarding_events
		WHERE role = $1 AND occurred_at >= $2
		GROUP BY event_type`, string(role), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[analytics.EventType]int64)
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		out[analytics.EventType(t)] = n
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func nullIntPtr(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
