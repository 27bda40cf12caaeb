package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// StepStates is the ordered StepID -> StepState mapping of an aggregate. Order is the registry order.
// It encodes as a JSON object whose keys keep that order.
type StepStates []StepState

// Get returns the state for id and whether it exists.
func (s StepStates) Get(id StepID) (StepState, bool) {
	if i := s.Index(id); i >= 0 {
		return s[i], true
	}
	return StepState{}, false
}

// Index returns the position of id, or -1.
func (s StepStates) Index(id StepID) int {
	for i := range s {
		if s[i].ID == id {
			return i
		}
	}
	return -1
}

// MarshalJSON writes the states as an object keyed by step id, in order.
func (s StepStates) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, st := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(st.ID))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(st)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keyed by step id, keeping document order.
func (s *StepStates) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("steps: expected object")
	}
	var out StepStates
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.New("steps: expected string key")
		}
		var st StepState
		if err := dec.Decode(&st); err != nil {
			return fmt.Errorf("steps[%s]: %w", key, err)
		}
		if st.ID == "" {
			st.ID = StepID(key)
		}
		if st.ID != StepID(key) {
			return fmt.Errorf("steps[%s]: id mismatch %q", key, st.ID)
		}
		out = append(out, st)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// Progress is the per-user, per-role onboarding aggregate.
type Progress struct {
	UserID               string     `json:"userId"`
	Role                 Role       `json:"role"`
	CurrentStepID        StepID     `json:"currentStepId"`
	Steps                StepStates `json:"steps"`
	StartedAt            time.Time  `json:"startedAt"`
	LastUpdatedAt        time.Time  `json:"lastUpdatedAt"`
	CompletionPercentage int        `json:"completionPercentage"`
	IsCompleted          bool       `json:"isCompleted"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	// CompletionEventSent guards the one-shot completion notification. It is stored, never derived.
	CompletionEventSent bool `json:"completionEventSent"`
}

// NewProgress builds a fresh aggregate with every step not-started and the first step current.
func NewProgress(userID string, role Role, defs []StepDefinition, now time.Time) *Progress {
	p := &Progress{
		UserID:        userID,
		Role:          role,
		Steps:         make(StepStates, len(defs)),
		StartedAt:     now,
		LastUpdatedAt: now,
	}
	for i, d := range defs {
		p.Steps[i] = StepState{ID: d.ID, Status: StepStatusNotStarted}
	}
	if len(defs) > 0 {
		p.CurrentStepID = defs[0].ID
	}
	p.Recompute(defs)
	return p
}

// CacheKey returns the device cache key for a (userID, role) pair.
func CacheKey(userID string, role Role) string {
	return fmt.Sprintf("onboarding_progress_%s_%s", userID, role)
}

// CompletionPercentage returns round(100 * done / total); 0 when there are no steps.
func CompletionPercentage(steps StepStates) int {
	if len(steps) == 0 {
		return 0
	}
	done := 0
	for _, st := range steps {
		if st.Done() {
			done++
		}
	}
	return int(math.Round(100 * float64(done) / float64(len(steps))))
}

// RequiredSatisfied reports whether every required step in defs is satisfied in steps.
// Vacuously true when defs has no required steps.
func RequiredSatisfied(defs []StepDefinition, steps StepStates) bool {
	for _, d := range defs {
		if !d.IsRequired {
			continue
		}
		st, ok := steps.Get(d.ID)
		if !ok || !st.Satisfied() {
			return false
		}
	}
	return true
}

// Recompute refreshes the derived fields. It returns true when IsCompleted went false -> true.
func (p *Progress) Recompute(defs []StepDefinition) bool {
	was := p.IsCompleted
	p.CompletionPercentage = CompletionPercentage(p.Steps)
	p.IsCompleted = RequiredSatisfied(defs, p.Steps)
	return !was && p.IsCompleted
}

// Touch advances LastUpdatedAt to now, keeping it strictly increasing.
func (p *Progress) Touch(now time.Time) {
	if !now.After(p.LastUpdatedAt) {
		now = p.LastUpdatedAt.Add(time.Millisecond)
	}
	p.LastUpdatedAt = now
}

// Clone returns a deep copy.
func (p *Progress) Clone() *Progress {
	if p == nil {
		return nil
	}
	c := *p
	c.Steps = make(StepStates, len(p.Steps))
	for i, st := range p.Steps {
		c.Steps[i] = st
		if st.CompletedAt != nil {
			t := *st.CompletedAt
			c.Steps[i].CompletedAt = &t
		}
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ErrStructure is wrapped by ValidateFor when a persisted aggregate does not fit the registry.
var ErrStructure = errors.New("progress does not match step registry")

// ValidateFor checks that a loaded aggregate belongs to (userID, role) and has exactly the registry's steps.
// Steps stored in a different order are accepted and reordered to registry order.
func (p *Progress) ValidateFor(userID string, role Role, defs []StepDefinition) error {
	if p == nil {
		return fmt.Errorf("%w: nil progress", ErrStructure)
	}
	if p.UserID != userID || p.Role != role {
		return fmt.Errorf("%w: owner %s/%s, want %s/%s", ErrStructure, p.UserID, p.Role, userID, role)
	}
	if len(p.Steps) != len(defs) {
		return fmt.Errorf("%w: %d steps, want %d", ErrStructure, len(p.Steps), len(defs))
	}
	ordered := make(StepStates, len(defs))
	for i, d := range defs {
		st, ok := p.Steps.Get(d.ID)
		if !ok {
			return fmt.Errorf("%w: missing step %q", ErrStructure, d.ID)
		}
		if !st.Status.Valid() {
			return fmt.Errorf("%w: step %q has status %q", ErrStructure, d.ID, st.Status)
		}
		ordered[i] = st
	}
	if len(defs) > 0 && ordered.Index(p.CurrentStepID) < 0 {
		return fmt.Errorf("%w: unknown current step %q", ErrStructure, p.CurrentStepID)
	}
	if p.LastUpdatedAt.IsZero() {
		return fmt.Errorf("%w: missing lastUpdatedAt", ErrStructure)
	}
	p.Steps = ordered
	return nil
}
