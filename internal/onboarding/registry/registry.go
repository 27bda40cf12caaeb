// Package registry holds the ordered step definitions of each onboarding flow.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"nutrition-platform/backend/internal/onboarding/domain"
)

// Step ids used by the built-in flows.
const (
	StepWelcome            domain.StepID = "welcome"
	StepPersonalInfo       domain.StepID = "personal-info"
	StepCredentials        domain.StepID = "credentials"
	StepPracticeDetails    domain.StepID = "practice-details"
	StepSpecializations    domain.StepID = "specializations"
	StepConsultationRates  domain.StepID = "consultation-rates"
	StepPlatformTraining   domain.StepID = "platform-training"
	StepHealthGoals        domain.StepID = "health-goals"
	StepMedicalHistory     domain.StepID = "medical-history"
	StepDietaryPreferences domain.StepID = "dietary-preferences"
	StepLifestyle          domain.StepID = "lifestyle"
	StepCompletion         domain.StepID = "completion"
)

var nutritionistSteps = []domain.StepDefinition{
	{ID: StepWelcome, Title: "Welcome", Description: "Overview of the platform for nutritionists", IsRequired: true, EstimatedTime: 60},
	{ID: StepPersonalInfo, Title: "Personal information", Description: "Name, contact details and profile photo", IsRequired: true, EstimatedTime: 180},
	{ID: StepCredentials, Title: "Credentials", Description: "Professional license and certifications", CanSkip: true, EstimatedTime: 300},
	{ID: StepPracticeDetails, Title: "Practice details", Description: "Practice name, address and consultation modes", IsRequired: true, EstimatedTime: 240},
	{ID: StepSpecializations, Title: "Specializations", Description: "Areas of expertise and target audience", IsRequired: true, EstimatedTime: 120},
	{ID: StepConsultationRates, Title: "Consultation rates", Description: "Fees for first and follow-up consultations", IsRequired: true, EstimatedTime: 120},
	{ID: StepPlatformTraining, Title: "Platform training", Description: "Guided tour of scheduling and patient tools", CanSkip: true, EstimatedTime: 600},
	{ID: StepCompletion, Title: "All set", Description: "Review and submit your profile", IsRequired: true, EstimatedTime: 60},
}

var patientSteps = []domain.StepDefinition{
	{ID: StepWelcome, Title: "Welcome", Description: "How the platform helps you reach your goals", IsRequired: true, EstimatedTime: 60},
	{ID: StepPersonalInfo, Title: "About you", Description: "Name, birth date and contact details", IsRequired: true, EstimatedTime: 120},
	{ID: StepHealthGoals, Title: "Health goals", Description: "What you want to achieve", IsRequired: true, EstimatedTime: 120},
	{ID: StepMedicalHistory, Title: "Medical history", Description: "Conditions, medication and allergies", CanSkip: true, EstimatedTime: 240},
	{ID: StepDietaryPreferences, Title: "Dietary preferences", Description: "Restrictions and foods you enjoy", IsRequired: true, EstimatedTime: 180},
	{ID: StepLifestyle, Title: "Lifestyle", Description: "Activity, sleep and routine", CanSkip: true, EstimatedTime: 180},
	{ID: StepCompletion, Title: "All set", Description: "Review and find your nutritionist", IsRequired: true, EstimatedTime: 60},
}

// Registry maps roles to their ordered step definitions.
type Registry struct {
	flows map[domain.Role][]domain.StepDefinition
}

// New returns a registry with the built-in nutritionist and patient flows.
func New() *Registry {
	return &Registry{flows: map[domain.Role][]domain.StepDefinition{
		domain.RoleNutritionist: nutritionistSteps,
		domain.RolePatient:      patientSteps,
	}}
}

// NewWithFlows returns a registry over the given flows. Slices are copied.
func NewWithFlows(flows map[domain.Role][]domain.StepDefinition) *Registry {
	r := &Registry{flows: make(map[domain.Role][]domain.StepDefinition, len(flows))}
	for role, defs := range flows {
		r.flows[role] = append([]domain.StepDefinition(nil), defs...)
	}
	return r
}

// Definitions returns a copy of the ordered step definitions for role. Unknown roles yield nil.
func (r *Registry) Definitions(role domain.Role) []domain.StepDefinition {
	defs := r.flows[role]
	if len(defs) == 0 {
		return nil
	}
	return append([]domain.StepDefinition(nil), defs...)
}

// Roles returns the roles that have a flow configured.
func (r *Registry) Roles() []domain.Role {
	out := make([]domain.Role, 0, len(r.flows))
	for _, role := range []domain.Role{domain.RoleNutritionist, domain.RolePatient} {
		if _, ok := r.flows[role]; ok {
			out = append(out, role)
		}
	}
	for role := range r.flows {
		if role != domain.RoleNutritionist && role != domain.RolePatient {
			out = append(out, role)
		}
	}
	return out
}

// Validate checks the flow of role and returns a *domain.ConfigurationError for the first problem found:
// an empty or duplicate id, or a step that is both required and skippable.
func (r *Registry) Validate(role domain.Role) error {
	seen := make(map[domain.StepID]bool)
	for i, d := range r.flows[role] {
		if d.ID == "" {
			return &domain.ConfigurationError{Role: role, Reason: fmt.Sprintf("step %d has no id", i)}
		}
		if seen[d.ID] {
			return &domain.ConfigurationError{Role: role, StepID: d.ID, Reason: "duplicate step id"}
		}
		seen[d.ID] = true
		if d.IsRequired && d.CanSkip {
			return &domain.ConfigurationError{Role: role, StepID: d.ID, Reason: "step is both required and skippable"}
		}
	}
	return nil
}

// fileFormat is the YAML layout of STEP_REGISTRY_FILE.
type fileFormat struct {
	Flows map[domain.Role][]domain.StepDefinition `yaml:"flows"`
}

// LoadFile returns the built-in registry with the flows declared in the YAML file at path replacing
// the built-in flow of the same role. Flows are validated before they are accepted.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is LoadFile over an in-memory document.
func Parse(data []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("registry: parse: %w", err)
	}
	r := New()
	for role, defs := range f.Flows {
		r.flows[role] = append([]domain.StepDefinition(nil), defs...)
		if err := r.Validate(role); err != nil {
			return nil, err
		}
	}
	return r, nil
}
