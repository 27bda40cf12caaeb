// Package wizard turns engine state into "which step to show" and applies user navigation: next,
// previous, skip, jump and finalization. It is the only place analytics step events originate.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nutrition-platform/backend/internal/onboarding/analytics"
	"nutrition-platform/backend/internal/onboarding/domain"
	"nutrition-platform/backend/internal/onboarding/engine"
	"nutrition-platform/backend/internal/onboarding/policy"
	"nutrition-platform/backend/internal/onboarding/stepdata"
)

// Engine is the subset of *engine.Engine the controller drives.
type Engine interface {
	Initialize(ctx context.Context, userID string, role domain.Role) (*engine.InitResult, error)
	MarkInProgress(ctx context.Context, stepID domain.StepID) error
	CompleteStep(ctx context.Context, stepID domain.StepID, data stepdata.Payload) error
	SkipStep(ctx context.Context, stepID domain.StepID, reason string) error
	Reopen(ctx context.Context, stepID domain.StepID) error
	SetCurrentStep(ctx context.Context, stepID domain.StepID) error
	Reset(ctx context.Context) (*domain.Progress, error)
	Progress() *domain.Progress
	Definitions() []domain.StepDefinition
	Flush(ctx context.Context) error
	Close()
}

// SubmitFunc receives the accumulated form data. OnComplete failures become SubmissionError,
// OnProgressSave failures become SaveError.
type SubmitFunc func(ctx context.Context, userID string, role domain.Role, formData map[string]any) error

// Options configures a Controller. Engine is required.
type Options struct {
	Engine         Engine
	Publisher      analytics.Publisher
	Guard          policy.Guard
	OnComplete     SubmitFunc
	OnProgressSave SubmitFunc
	Logger         *zap.Logger
	Clock          func() time.Time
	SessionID      string
}

// Controller runs one wizard session. It is safe for concurrent use.
type Controller struct {
	eng        Engine
	pub        analytics.Publisher
	guard      policy.Guard
	onComplete SubmitFunc
	onSave     SubmitFunc
	logger     *zap.Logger
	nowF       func() time.Time
	sessionID  string
	tracker    *analytics.Tracker

	mu         sync.Mutex
	userID     string
	role       domain.Role
	defs       []domain.StepDefinition
	formData   map[string]any
	enteredAt  map[domain.StepID]time.Time
	warning    error
	started    bool
	submitting bool
	finalized  bool
	closed     bool
}

// New returns a Controller; call Start before anything else.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Controller{
		eng:        opts.Engine,
		pub:        opts.Publisher,
		guard:      opts.Guard,
		onComplete: opts.OnComplete,
		onSave:     opts.OnProgressSave,
		logger:     logger.With(zap.String("session_id", opts.SessionID)),
		nowF:       clock,
		sessionID:  opts.SessionID,
		tracker:    analytics.NewTracker(),
		formData:   make(map[string]any),
		enteredAt:  make(map[domain.StepID]time.Time),
	}
}

// Start initializes the engine for (userID, role) and enters the current step. A ConfigurationError
// is returned as is; a recoverable load failure is reported in View.Warning.
func (c *Controller) Start(ctx context.Context, userID string, role domain.Role, initial map[string]any) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.started {
		return c.viewLocked(), nil
	}
	res, err := c.eng.Initialize(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	c.userID, c.role = userID, role
	c.defs = c.eng.Definitions()
	c.started = true
	c.warning = res.Warning
	for k, v := range initial {
		c.formData[k] = v
	}
	c.logger = c.logger.With(zap.String("user_id", userID), zap.String("role", string(role)))

	if c.tracker.First(analytics.EventStarted, "") {
		c.emit(analytics.Event{Type: analytics.EventStarted, TotalSteps: len(c.defs)})
	}
	if len(c.defs) > 0 {
		c.enter(ctx, res.Progress.CurrentStepID)
	}
	return c.viewLocked(), nil
}

// Update merges a partial payload into the form data without completing the step.
func (c *Controller) Update(ctx context.Context, data stepdata.Payload) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := c.merge(data); err != nil {
		return nil, err
	}
	return c.viewLocked(), nil
}

// Next merges data into the form data, validates the step's accumulated data, completes the current
// step and advances. On the last step it finalizes instead; a failed finalization returns a *SubmissionError with the wizard left in place.
func (c *Controller) Next(ctx context.Context, data stepdata.Payload) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return nil, err
	}
	cur, idx := c.current()
	if data != nil && data.StepID() != cur.ID {
		return nil, fmt.Errorf("%w: %s payload for %s", engine.ErrPayloadMismatch, data.StepID(), cur.ID)
	}
	fields, err := stepdata.Fields(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	merged := c.formDataCopy()
	for k, v := range fields {
		merged[k] = v
	}
	// The step is validated against everything entered for it so far, not only this payload.
	effective, err := stepdata.Compose(cur.ID, merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := stepdata.Validate(effective); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	c.formData = merged
	if err := c.eng.CompleteStep(ctx, cur.ID, effective); err != nil {
		return nil, err
	}
	if c.tracker.First(analytics.EventStepCompleted, cur.ID) {
		c.emit(c.stepEvent(analytics.EventStepCompleted, cur.ID, idx))
	}
	c.saveProgress(ctx)
	return c.advance(ctx, idx)
}

// Previous moves back one step. Step statuses and the completion percentage are untouched.
func (c *Controller) Previous(ctx context.Context) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return nil, err
	}
	_, idx := c.current()
	if idx <= 0 {
		return nil, ErrAtFirstStep
	}
	prev := c.defs[idx-1].ID
	if err := c.eng.SetCurrentStep(ctx, prev); err != nil {
		return nil, err
	}
	c.enter(ctx, prev)
	return c.viewLocked(), nil
}

// Skip skips the current step when its definition allows it, then advances like Next.
func (c *Controller) Skip(ctx context.Context, reason string) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return nil, err
	}
	cur, idx := c.current()
	if !cur.CanSkip {
		return nil, fmt.Errorf("%w: %s", domain.ErrStepNotSkippable, cur.ID)
	}
	if err := c.check(ctx, policy.ActionSkip, cur, idx); err != nil {
		return nil, err
	}
	if err := c.eng.SkipStep(ctx, cur.ID, reason); err != nil {
		return nil, err
	}
	if c.tracker.First(analytics.EventStepSkipped, cur.ID) {
		e := c.stepEvent(analytics.EventStepSkipped, cur.ID, idx)
		e.Reason = reason
		c.emit(e)
	}
	return c.advance(ctx, idx)
}

// JumpTo moves to stepID when that step is already completed.
func (c *Controller) JumpTo(ctx context.Context, stepID domain.StepID) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return nil, err
	}
	idx := c.index(stepID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStep, stepID)
	}
	target := c.defs[idx]
	st, _ := c.eng.Progress().Steps.Get(stepID)
	cur, _ := c.current()
	if st.Status != domain.StepStatusCompleted && !st.Reopened() && stepID != cur.ID {
		return nil, fmt.Errorf("%w: %s is %s", ErrNavigationDenied, stepID, st.Status)
	}
	if err := c.check(ctx, policy.ActionJump, target, idx); err != nil {
		return nil, err
	}
	if err := c.eng.SetCurrentStep(ctx, stepID); err != nil {
		return nil, err
	}
	c.enter(ctx, stepID)
	return c.viewLocked(), nil
}

// Edit reopens the current, already completed step for changes.
func (c *Controller) Edit(ctx context.Context) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return nil, err
	}
	cur, _ := c.current()
	if err := c.eng.Reopen(ctx, cur.ID); err != nil {
		return nil, err
	}
	return c.viewLocked(), nil
}

// Finalize retries submission after a SubmissionError. The final step must already be completed.
func (c *Controller) Finalize(ctx context.Context) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return nil, err
	}
	cur, idx := c.current()
	st, _ := c.eng.Progress().Steps.Get(cur.ID)
	if idx != len(c.defs)-1 || !st.Done() {
		return nil, ErrNotFinalizable
	}
	return c.finalize(ctx)
}

// Reset discards progress and form data and starts over at the first step. The returned view may
// carry a persistence warning.
func (c *Controller) Reset(ctx context.Context) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if !c.started {
		return nil, ErrNotStarted
	}
	if c.submitting {
		return nil, ErrSubmitting
	}
	p, err := c.eng.Reset(ctx)
	if p == nil {
		return nil, err
	}
	c.warning = err
	c.formData = make(map[string]any)
	c.enteredAt = make(map[domain.StepID]time.Time)
	c.tracker.Reset()
	c.tracker.First(analytics.EventStarted, "")
	c.finalized = false
	if len(c.defs) > 0 {
		c.enter(ctx, p.CurrentStepID)
	}
	return c.viewLocked(), nil
}

// View returns the current render state.
func (c *Controller) View() *View {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	return c.viewLocked()
}

// Close tears the session down. An unfinished session reports an abandoned event once; the
// engine's pending remote write is cancelled.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.started && !c.finalized {
		p := c.eng.Progress()
		if p != nil && !p.IsCompleted && c.tracker.First(analytics.EventAbandoned, "") {
			e := analytics.Event{Type: analytics.EventAbandoned, TotalSteps: len(c.defs)}
			if len(c.defs) > 0 {
				cur, idx := c.current()
				e.StepID, e.StepIndex = cur.ID, analytics.Index(idx)
			}
			c.emit(e)
		}
	}
	c.eng.Close()
}

func (c *Controller) ready() error {
	switch {
	case c.closed:
		return ErrClosed
	case !c.started:
		return ErrNotStarted
	case c.submitting:
		return ErrSubmitting
	case c.finalized:
		return ErrFinalized
	case len(c.defs) == 0:
		return fmt.Errorf("%w: flow has no steps", domain.ErrUnknownStep)
	}
	return nil
}

func (c *Controller) current() (domain.StepDefinition, int) {
	p := c.eng.Progress()
	idx := c.index(p.CurrentStepID)
	if idx < 0 {
		idx = 0
	}
	return c.defs[idx], idx
}

func (c *Controller) index(id domain.StepID) int {
	for i, d := range c.defs {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) advance(ctx context.Context, idx int) (*View, error) {
	if idx+1 >= len(c.defs) {
		return c.finalize(ctx)
	}
	next := c.defs[idx+1].ID
	if err := c.eng.SetCurrentStep(ctx, next); err != nil {
		return nil, err
	}
	c.enter(ctx, next)
	return c.viewLocked(), nil
}

// finalize hands the form data to OnComplete with the lock released so the session can report
// IsSubmitting meanwhile. Callers hold c.mu.
func (c *Controller) finalize(ctx context.Context) (*View, error) {
	c.submitting = true
	data := c.formDataCopy()
	userID, role := c.userID, c.role
	c.mu.Unlock()
	var err error
	if c.onComplete != nil {
		err = c.onComplete(ctx, userID, role, data)
	}
	c.mu.Lock()
	c.submitting = false

	if err != nil {
		c.logger.Warn("onboarding submission failed", zap.Error(err))
		return c.viewLocked(), &SubmissionError{Err: err}
	}
	c.finalized = true
	if ferr := c.eng.Flush(ctx); ferr != nil {
		c.logger.Warn("onboarding final progress flush failed", zap.Error(ferr))
	}
	c.logger.Info("onboarding submitted")
	return c.viewLocked(), nil
}

// enter makes stepID the step being shown: a not-started step becomes in-progress and reports a
// step-started event once per session. Completed or skipped steps are only viewed.
func (c *Controller) enter(ctx context.Context, stepID domain.StepID) {
	st, ok := c.eng.Progress().Steps.Get(stepID)
	if !ok {
		return
	}
	if st.Status == domain.StepStatusNotStarted {
		if err := c.eng.MarkInProgress(ctx, stepID); err != nil {
			c.logger.Warn("mark step in progress failed", zap.String("step_id", string(stepID)), zap.Error(err))
		}
	}
	if st.Done() {
		return
	}
	if _, seen := c.enteredAt[stepID]; !seen {
		c.enteredAt[stepID] = c.nowF()
	}
	if c.tracker.First(analytics.EventStepStarted, stepID) {
		c.emit(c.stepEvent(analytics.EventStepStarted, stepID, c.index(stepID)))
	}
}

func (c *Controller) check(ctx context.Context, action policy.Action, target domain.StepDefinition, idx int) error {
	if c.guard == nil {
		return nil
	}
	p := c.eng.Progress()
	cur, curIdx := c.current()
	curState, _ := p.Steps.Get(cur.ID)
	targetState, _ := p.Steps.Get(target.ID)
	d, err := c.guard.Allow(ctx, policy.Input{
		Action:     action,
		Role:       c.role,
		UserID:     c.userID,
		Current:    curState,
		CurrentIdx: curIdx,
		Target:     target,
		TargetIdx:  idx,
		TargetStep: targetState,
		Percentage: p.CompletionPercentage,
		Completed:  p.IsCompleted,
	})
	if err != nil {
		// Built-in checks already passed; a broken policy does not lock users out.
		c.logger.Warn("navigation policy evaluation failed", zap.String("action", string(action)), zap.Error(err))
		return nil
	}
	if !d.Allowed {
		return fmt.Errorf("%w: %s", ErrNavigationDenied, d.Reason)
	}
	return nil
}

func (c *Controller) merge(data stepdata.Payload) error {
	fields, err := stepdata.Fields(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	for k, v := range fields {
		c.formData[k] = v
	}
	return nil
}

func (c *Controller) saveProgress(ctx context.Context) {
	if c.onSave == nil {
		return
	}
	if err := c.onSave(ctx, c.userID, c.role, c.formDataCopy()); err != nil {
		c.warning = &SaveError{Err: err}
		c.logger.Warn("onboarding progress save failed", zap.Error(err))
		return
	}
	var se *SaveError
	if errors.As(c.warning, &se) {
		c.warning = nil
	}
}

func (c *Controller) stepEvent(t analytics.EventType, stepID domain.StepID, idx int) analytics.Event {
	e := analytics.Event{Type: t, StepID: stepID, StepIndex: analytics.Index(idx), TotalSteps: len(c.defs)}
	if t != analytics.EventStepStarted {
		if at, ok := c.enteredAt[stepID]; ok {
			e.DurationMs = c.nowF().Sub(at).Milliseconds()
		}
	}
	return e
}

func (c *Controller) emit(e analytics.Event) {
	if c.pub == nil {
		return
	}
	e.SessionID = c.sessionID
	e.UserID = c.userID
	e.Role = c.role
	c.pub.Emit(e)
}

func (c *Controller) formDataCopy() map[string]any {
	out := make(map[string]any, len(c.formData))
	for k, v := range c.formData {
		out[k] = v
	}
	return out
}
