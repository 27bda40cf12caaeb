// Package engine owns the onboarding progress aggregate for one (user, role) session. Mutations are
// applied in memory first; persistence and analytics side effects are best-effort and never roll a
// transition back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nutrition-platform/backend/internal/onboarding/analytics"
	"nutrition-platform/backend/internal/onboarding/domain"
	"nutrition-platform/backend/internal/onboarding/persistence"
	"nutrition-platform/backend/internal/onboarding/stepdata"
)

var (
	ErrNotInitialized  = errors.New("engine: not initialized")
	ErrClosed          = errors.New("engine: closed")
	ErrPayloadMismatch = errors.New("engine: step data does not belong to step")
)

// Registry supplies validated step definitions per role.
type Registry interface {
	Definitions(role domain.Role) []domain.StepDefinition
	Validate(role domain.Role) error
}

// Store is the persistence the engine needs. *persistence.Adapter implements it.
type Store interface {
	Load(ctx context.Context, userID string, role domain.Role, defs []domain.StepDefinition) (*domain.Progress, persistence.Source, error)
	Save(ctx context.Context, p *domain.Progress) error
	Overwrite(ctx context.Context, p *domain.Progress) error
	Flush(ctx context.Context, userID string, role domain.Role) error
	Release(userID string, role domain.Role)
}

// Options configures an Engine. Registry and Store are required.
type Options struct {
	Registry  Registry
	Store     Store
	Publisher analytics.Publisher
	Logger    *zap.Logger
	Clock     func() time.Time
	SessionID string
}

// InitResult describes how Initialize obtained the aggregate.
type InitResult struct {
	Progress *domain.Progress
	Source   persistence.Source
	// Warning carries a recoverable load failure. The aggregate is usable regardless.
	Warning error
}

// Engine is safe for concurrent use; every operation is serialized.
type Engine struct {
	registry  Registry
	store     Store
	pub       analytics.Publisher
	logger    *zap.Logger
	nowF      func() time.Time
	sessionID string

	mu       sync.Mutex
	userID   string
	role     domain.Role
	defs     []domain.StepDefinition
	progress *domain.Progress
	closed   bool
}

// New returns an uninitialized Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		registry:  opts.Registry,
		store:     opts.Store,
		pub:       opts.Publisher,
		logger:    logger,
		nowF:      clock,
		sessionID: opts.SessionID,
	}
}

// Initialize loads the persisted aggregate for (userID, role) or builds a fresh one. Only a
// ConfigurationError is returned as an error; load failures fall back to a fresh aggregate and are
// reported in InitResult.Warning.
func (e *Engine) Initialize(ctx context.Context, userID string, role domain.Role) (*InitResult, error) {
	if !role.Valid() {
		return nil, &domain.ConfigurationError{Role: role, Reason: "unknown role"}
	}
	if err := e.registry.Validate(role); err != nil {
		return nil, err
	}
	defs := e.registry.Definitions(role)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	log := e.logger.With(zap.String("user_id", userID), zap.String("role", string(role)))
	if len(defs) == 0 {
		log.Warn("onboarding flow has no steps; progress is vacuously complete")
	}

	p, src, loadErr := e.store.Load(ctx, userID, role, defs)
	if loadErr != nil {
		log.Warn("onboarding progress load degraded", zap.Error(loadErr))
	}
	fresh := p == nil
	if fresh {
		p = domain.NewProgress(userID, role, defs, e.nowF())
		src = persistence.SourceNone
	}

	e.userID, e.role, e.defs, e.progress = userID, role, defs, p
	p.Recompute(defs)
	e.settleCompletion(ctx)
	if fresh {
		e.persist(ctx)
	}
	log.Debug("onboarding progress initialized",
		zap.String("source", string(src)),
		zap.String("current_step", string(p.CurrentStepID)),
		zap.Int("completion", p.CompletionPercentage))
	return &InitResult{Progress: p.Clone(), Source: src, Warning: loadErr}, nil
}

// MarkInProgress moves a not-started step to in-progress. Completed and skipped steps are left
// untouched; revisiting a completed step for edits goes through Reopen.
func (e *Engine) MarkInProgress(ctx context.Context, stepID domain.StepID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, i, err := e.step(stepID)
	if err != nil {
		return err
	}
	if st.Status != domain.StepStatusNotStarted {
		return nil
	}
	e.progress.Steps[i].Status = domain.StepStatusInProgress
	e.commit(ctx)
	return nil
}

// CompleteStep marks stepID completed and refreshes completedAt. Completing an already completed
// step is a no-op, so repeated submits leave the aggregate unchanged. data, when given, must
// belong to stepID; it is not stored by the engine.
func (e *Engine) CompleteStep(ctx context.Context, stepID domain.StepID, data stepdata.Payload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, i, err := e.step(stepID)
	if err != nil {
		return err
	}
	if data != nil && data.StepID() != stepID {
		return fmt.Errorf("%w: %s payload for %s", ErrPayloadMismatch, data.StepID(), stepID)
	}
	if st.Status == domain.StepStatusCompleted {
		return nil
	}
	if !domain.CanTransition(st.Status, domain.StepStatusCompleted) {
		return fmt.Errorf("%w: %s %s -> %s", domain.ErrInvalidTransition, stepID, st.Status, domain.StepStatusCompleted)
	}
	now := e.nowF()
	e.progress.Steps[i] = domain.StepState{ID: stepID, Status: domain.StepStatusCompleted, CompletedAt: &now}
	e.commit(ctx)
	return nil
}

// SkipStep marks a skippable step skipped. A step flagged both required and skippable is a
// configuration error and is refused.
func (e *Engine) SkipStep(ctx context.Context, stepID domain.StepID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, i, err := e.step(stepID)
	if err != nil {
		return err
	}
	def := e.defs[i]
	if def.IsRequired && def.CanSkip {
		return &domain.ConfigurationError{Role: e.role, StepID: stepID, Reason: "step is both required and skippable"}
	}
	if !def.CanSkip {
		return fmt.Errorf("%w: %s", domain.ErrStepNotSkippable, stepID)
	}
	if st.Status == domain.StepStatusSkipped {
		return nil
	}
	if !domain.CanTransition(st.Status, domain.StepStatusSkipped) {
		return fmt.Errorf("%w: %s %s -> %s", domain.ErrInvalidTransition, stepID, st.Status, domain.StepStatusSkipped)
	}
	now := e.nowF()
	e.progress.Steps[i] = domain.StepState{ID: stepID, Status: domain.StepStatusSkipped, CompletedAt: &now}
	e.commit(ctx)
	if reason != "" {
		e.logger.Debug("onboarding step skipped", zap.String("step_id", string(stepID)), zap.String("reason", reason))
	}
	return nil
}

// Reopen moves a completed step back to in-progress for editing. completedAt is kept until the step
// is completed again, and the step keeps counting toward the percentage and completion meanwhile.
func (e *Engine) Reopen(ctx context.Context, stepID domain.StepID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, i, err := e.step(stepID)
	if err != nil {
		return err
	}
	if st.Reopened() {
		return nil
	}
	if st.Status != domain.StepStatusCompleted {
		return fmt.Errorf("%w: %s %s -> reopen", domain.ErrInvalidTransition, stepID, st.Status)
	}
	e.progress.Steps[i].Status = domain.StepStatusInProgress
	e.commit(ctx)
	return nil
}

// SetCurrentStep moves the navigation cursor without touching any step status.
func (e *Engine) SetCurrentStep(ctx context.Context, stepID domain.StepID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, _, err := e.step(stepID); err != nil {
		return err
	}
	if e.progress.CurrentStepID == stepID {
		return nil
	}
	e.progress.CurrentStepID = stepID
	e.commit(ctx)
	return nil
}

// Reset discards the aggregate and overwrites both stored copies with a fresh one. The returned
// error is a recoverable PersistenceError; the in-memory reset has already happened.
func (e *Engine) Reset(ctx context.Context) (*domain.Progress, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.nowF()
	p := domain.NewProgress(e.userID, e.role, e.defs, now)
	// A fresh aggregate must still be newer than anything already stored for this pair.
	p.LastUpdatedAt = e.progress.LastUpdatedAt
	p.Touch(now)
	e.progress = p
	err := e.store.Overwrite(ctx, p.Clone())
	if err != nil {
		e.logger.Warn("onboarding reset not persisted remotely",
			zap.String("user_id", e.userID), zap.String("role", string(e.role)), zap.Error(err))
	}
	return p.Clone(), err
}

// Progress returns a copy of the current aggregate, or nil before Initialize.
func (e *Engine) Progress() *domain.Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress.Clone()
}

// Definitions returns the step definitions the engine was initialized with.
func (e *Engine) Definitions() []domain.StepDefinition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.StepDefinition(nil), e.defs...)
}

// Flush pushes any pending remote write now.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	return e.store.Flush(ctx, e.userID, e.role)
}

// Close tears the session down: the pending remote write is cancelled and further calls fail.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.progress != nil {
		e.store.Release(e.userID, e.role)
	}
}

func (e *Engine) ready() error {
	if e.closed {
		return ErrClosed
	}
	if e.progress == nil {
		return ErrNotInitialized
	}
	return nil
}

func (e *Engine) step(id domain.StepID) (domain.StepState, int, error) {
	if err := e.ready(); err != nil {
		return domain.StepState{}, -1, err
	}
	i := e.progress.Steps.Index(id)
	if i < 0 {
		return domain.StepState{}, -1, fmt.Errorf("%w: %q", domain.ErrUnknownStep, id)
	}
	return e.progress.Steps[i], i, nil
}

// commit recomputes derived fields, bumps lastUpdatedAt, fires the completion event at most once
// and persists. Callers hold e.mu.
func (e *Engine) commit(ctx context.Context) {
	e.progress.Touch(e.nowF())
	e.progress.Recompute(e.defs)
	e.settleCompletion(ctx)
	e.persist(ctx)
}

func (e *Engine) settleCompletion(ctx context.Context) {
	p := e.progress
	if !p.IsCompleted {
		return
	}
	if p.CompletedAt == nil {
		at := p.LastUpdatedAt
		p.CompletedAt = &at
	}
	if p.CompletionEventSent || len(e.defs) == 0 {
		return
	}
	p.CompletionEventSent = true
	if e.pub != nil {
		e.pub.Emit(analytics.Event{
			Type:       analytics.EventCompleted,
			SessionID:  e.sessionID,
			UserID:     p.UserID,
			Role:       p.Role,
			TotalSteps: len(e.defs),
			DurationMs: p.CompletedAt.Sub(p.StartedAt).Milliseconds(),
		})
	}
	e.logger.Info("onboarding completed", zap.String("user_id", p.UserID), zap.String("role", string(p.Role)))
}

func (e *Engine) persist(ctx context.Context) {
	// Save already logs local failures; the remote write is debounced and reports through the store.
	_ = e.store.Save(ctx, e.progress.Clone())
}
