package wizard

import (
	"nutrition-platform/backend/internal/onboarding/domain"
)

// StepView pairs a step definition with its current state.
type StepView struct {
	domain.StepDefinition
	Status      domain.StepStatus `json:"status"`
	CompletedAt *string           `json:"completedAt,omitempty"`
}

// View is what a client needs to render the wizard: the step to show, navigation affordances and the
// props handed to the step component.
type View struct {
	SessionID    string                `json:"sessionId"`
	UserID       string                `json:"userId"`
	Role         domain.Role           `json:"role"`
	CurrentStep  domain.StepDefinition `json:"currentStep"`
	CurrentIndex int                   `json:"currentIndex"`
	TotalSteps   int                   `json:"totalSteps"`
	IsFirst      bool                  `json:"isFirst"`
	IsLast       bool                  `json:"isLast"`
	CanSkip      bool                  `json:"canSkip"`
	IsSubmitting bool                  `json:"isSubmitting"`
	Finalized    bool                  `json:"finalized"`
	Progress     *domain.Progress      `json:"progress"`
	Steps        []StepView            `json:"steps"`
	FormData     map[string]any        `json:"formData"`
	Warning      error                 `json:"-"`
	WarningText  string                `json:"warning,omitempty"`
}

func (c *Controller) viewLocked() *View {
	p := c.eng.Progress()
	v := &View{
		SessionID:    c.sessionID,
		UserID:       c.userID,
		Role:         c.role,
		TotalSteps:   len(c.defs),
		IsSubmitting: c.submitting,
		Finalized:    c.finalized,
		Progress:     p,
		FormData:     c.formDataCopy(),
		Warning:      c.warning,
	}
	if c.warning != nil {
		v.WarningText = c.warning.Error()
	}
	if p == nil || len(c.defs) == 0 {
		return v
	}
	cur, idx := c.current()
	v.CurrentStep, v.CurrentIndex = cur, idx
	v.IsFirst = idx == 0
	v.IsLast = idx == len(c.defs)-1
	v.CanSkip = cur.CanSkip && !cur.IsRequired
	v.Steps = make([]StepView, len(c.defs))
	for i, d := range c.defs {
		st, _ := p.Steps.Get(d.ID)
		sv := StepView{StepDefinition: d, Status: st.Status}
		if st.CompletedAt != nil {
			s := st.CompletedAt.Format("2006-01-02T15:04:05.000Z07:00")
			sv.CompletedAt = &s
		}
		v.Steps[i] = sv
	}
	return v
}
