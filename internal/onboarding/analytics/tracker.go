package analytics

import (
	"sync"

	"nutrition-platform/backend/internal/onboarding/domain"
)

type trackKey struct {
	t    EventType
	step domain.StepID
}

// Tracker remembers which (event type, step) pairs a session has already reported.
type Tracker struct {
	mu   sync.Mutex
	seen map[trackKey]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[trackKey]struct{})}
}

// First records (t, step) and reports whether this is its first occurrence in the session.
func (k *Tracker) First(t EventType, step domain.StepID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := trackKey{t, step}
	if _, ok := k.seen[key]; ok {
		return false
	}
	k.seen[key] = struct{}{}
	return true
}

// Seen reports whether (t, step) was already recorded.
func (k *Tracker) Seen(t EventType, step domain.StepID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.seen[trackKey{t, step}]
	return ok
}

// Reset forgets everything; used when the wizard is reset to a fresh aggregate.
func (k *Tracker) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.seen = make(map[trackKey]struct{})
}
