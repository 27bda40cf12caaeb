// Package domain holds the onboarding progress aggregate and the step types it is built from.
package domain

import "time"

// Role selects which onboarding flow a user goes through.
type Role string

const (
	RoleNutritionist Role = "nutritionist"
	RolePatient      Role = "patient"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleNutritionist || r == RolePatient
}

// StepID identifies one page of the onboarding wizard within a role's flow.
type StepID string

// StepStatus is the per-step lifecycle state.
type StepStatus string

const (
	StepStatusNotStarted StepStatus = "not-started"
	StepStatusInProgress StepStatus = "in-progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusSkipped    StepStatus = "skipped"
)

// Valid reports whether s is a known status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusNotStarted, StepStatusInProgress, StepStatusCompleted, StepStatusSkipped:
		return true
	}
	return false
}

// StepDefinition describes one step of a role's flow. Definitions are immutable once the registry is built.
type StepDefinition struct {
	ID          StepID `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	IsRequired  bool   `json:"isRequired" yaml:"required"`
	CanSkip     bool   `json:"canSkip" yaml:"skippable"`
	// EstimatedTime is the expected time to fill the step in, in seconds.
	EstimatedTime int `json:"estimatedTime" yaml:"estimated_time"`
}

// EstimatedDuration returns EstimatedTime as a time.Duration.
func (d StepDefinition) EstimatedDuration() time.Duration {
	return time.Duration(d.EstimatedTime) * time.Second
}

// StepState is the tracked state of a single step.
type StepState struct {
	ID          StepID     `json:"id"`
	Status      StepStatus `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Reopened reports whether the step was completed before and is being edited again.
func (s StepState) Reopened() bool {
	return s.Status == StepStatusInProgress && s.CompletedAt != nil
}

// Done reports whether the step counts toward the completion percentage.
// A reopened step keeps counting until it is re-completed so edits do not make the percentage dip.
func (s StepState) Done() bool {
	return s.Status == StepStatusCompleted || s.Status == StepStatusSkipped || s.Reopened()
}

// Satisfied reports whether the step satisfies a required-step check. Skipped never does.
func (s StepState) Satisfied() bool {
	return s.Status == StepStatusCompleted || s.Reopened()
}

var allowedTransitions = map[StepStatus][]StepStatus{
	StepStatusNotStarted: {StepStatusInProgress, StepStatusCompleted, StepStatusSkipped},
	StepStatusInProgress: {StepStatusCompleted, StepStatusSkipped},
	// completed -> in-progress is the "revisit for edit" path; completed -> completed refreshes completedAt.
	StepStatusCompleted: {StepStatusInProgress, StepStatusCompleted},
	StepStatusSkipped:   {StepStatusCompleted, StepStatusSkipped},
}

// CanTransition reports whether a step may move from one status to another.
func CanTransition(from, to StepStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
