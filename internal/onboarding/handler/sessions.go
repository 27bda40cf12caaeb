package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nutrition-platform/backend/internal/onboarding/domain"
	"nutrition-platform/backend/internal/onboarding/wizard"
)

// ErrSessionNotFound is returned for unknown ids and for sessions owned by another user.
var ErrSessionNotFound = errors.New("onboarding session not found")

// ControllerFactory builds an unstarted wizard controller for a new session id.
type ControllerFactory func(sessionID string) *wizard.Controller

// DraftSource returns previously saved form data for (userID, role); nil when there is none.
type DraftSource func(ctx context.Context, userID string, role domain.Role) (map[string]any, error)

type owner struct {
	userID string
	role   domain.Role
}

type session struct {
	id       string
	owner    owner
	ctrl     *wizard.Controller
	lastUsed time.Time
}

// Sessions keeps at most one live wizard session per (user, role). Opening a new session for the
// same pair tears the previous one down first so its pending remote write cannot race the new one.
type Sessions struct {
	newController ControllerFactory
	drafts        DraftSource
	logger        *zap.Logger
	nowF          func() time.Time

	mu      sync.Mutex
	byID    map[string]*session
	byOwner map[owner]string
}

// NewSessions returns an empty registry. drafts may be nil.
func NewSessions(factory ControllerFactory, drafts DraftSource, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		newController: factory,
		drafts:        drafts,
		logger:        logger,
		nowF:          time.Now,
		byID:          make(map[string]*session),
		byOwner:       make(map[owner]string),
	}
}

// Open starts a new session for (userID, role) and returns its id and first view.
func (s *Sessions) Open(ctx context.Context, userID string, role domain.Role) (string, *wizard.View, error) {
	o := owner{userID: userID, role: role}

	s.mu.Lock()
	prev := s.detachLocked(s.byOwner[o])
	s.mu.Unlock()
	closeAll(prev)

	var initial map[string]any
	if s.drafts != nil {
		d, err := s.drafts(ctx, userID, role)
		if err != nil {
			s.logger.Warn("onboarding draft load failed", zap.String("user_id", userID), zap.String("role", string(role)), zap.Error(err))
		}
		initial = d
	}

	id := uuid.NewString()
	ctrl := s.newController(id)
	v, err := ctrl.Start(ctx, userID, role, initial)
	if err != nil {
		ctrl.Close()
		return "", nil, err
	}

	s.mu.Lock()
	raced := s.detachLocked(s.byOwner[o])
	s.byID[id] = &session{id: id, owner: o, ctrl: ctrl, lastUsed: s.nowF()}
	s.byOwner[o] = id
	s.mu.Unlock()
	closeAll(raced)
	return id, v, nil
}

// Get returns the controller of session id when it belongs to userID.
func (s *Sessions) Get(id, userID string) (*wizard.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok || sess.owner.userID != userID {
		return nil, ErrSessionNotFound
	}
	sess.lastUsed = s.nowF()
	return sess.ctrl, nil
}

// Close tears session id down when it belongs to userID.
func (s *Sessions) Close(id, userID string) error {
	s.mu.Lock()
	sess, ok := s.byID[id]
	if !ok || sess.owner.userID != userID {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	ctrls := s.detachLocked(id)
	s.mu.Unlock()
	closeAll(ctrls)
	return nil
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Reap closes sessions idle for longer than maxIdle and returns how many were closed.
func (s *Sessions) Reap(maxIdle time.Duration) int {
	s.mu.Lock()
	cutoff := s.nowF().Add(-maxIdle)
	var idle []*wizard.Controller
	for id, sess := range s.byID {
		if sess.lastUsed.Before(cutoff) {
			idle = append(idle, s.detachLocked(id)...)
		}
	}
	s.mu.Unlock()
	closeAll(idle)
	return len(idle)
}

// minReapInterval bounds how often RunReaper scans the registry.
const minReapInterval = time.Second

// RunReaper calls Reap every interval until ctx is done. Intervals below one second are raised to it.
func (s *Sessions) RunReaper(ctx context.Context, maxIdle, interval time.Duration) error {
	t := time.NewTicker(max(interval, minReapInterval))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := s.Reap(maxIdle); n > 0 {
				s.logger.Info("reaped idle onboarding sessions", zap.Int("count", n))
			}
		}
	}
}

// CloseAll tears every session down.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	var all []*wizard.Controller
	for id := range s.byID {
		all = append(all, s.detachLocked(id)...)
	}
	s.mu.Unlock()
	closeAll(all)
}

// detachLocked removes session id from the registry and returns its controller for closing once
// s.mu is released. Controller.Close may wait on an in-flight remote write.
func (s *Sessions) detachLocked(id string) []*wizard.Controller {
	sess, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	if s.byOwner[sess.owner] == id {
		delete(s.byOwner, sess.owner)
	}
	return []*wizard.Controller{sess.ctrl}
}

func closeAll(ctrls []*wizard.Controller) {
	for _, c := range ctrls {
		c.Close()
	}
}
