// Package stepdata defines the payload each wizard step submits. Known steps have a typed shape;
// anything else is carried as a free-form key/value bag.
package stepdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"

	"nutrition-platform/backend/internal/onboarding/domain"
	"nutrition-platform/backend/internal/onboarding/registry"
)

// Payload is the data a step hands to the wizard on submit.
type Payload interface {
	StepID() domain.StepID
}

type Welcome struct {
	AcceptedTerms bool   `json:"acceptedTerms"`
	Referral      string `json:"referral,omitempty"`
}

type PersonalInfo struct {
	FullName    string `json:"fullName" binding:"required,min=2"`
	Email       string `json:"email" binding:"omitempty,email"`
	Phone       string `json:"phone" binding:"omitempty,e164"`
	DateOfBirth string `json:"dateOfBirth,omitempty" binding:"omitempty,datetime=2006-01-02"`
	Timezone    string `json:"timezone,omitempty"`
}

type Credentials struct {
	LicenseNumber  string   `json:"licenseNumber" binding:"required"`
	IssuingBody    string   `json:"issuingBody,omitempty"`
	Certifications []string `json:"certifications,omitempty"`
}

type PracticeDetails struct {
	PracticeName      string   `json:"practiceName" binding:"required"`
	Address           string   `json:"address,omitempty"`
	ConsultationModes []string `json:"consultationModes" binding:"required,min=1,dive,oneof=in-person video phone"`
}

type Specializations struct {
	Areas          []string `json:"areas" binding:"required,min=1"`
	TargetAudience string   `json:"targetAudience,omitempty"`
}

type ConsultationRates struct {
	InitialFee  float64 `json:"initialFee" binding:"gte=0"`
	FollowUpFee float64 `json:"followUpFee" binding:"gte=0"`
	Currency    string  `json:"currency" binding:"required,len=3"`
}

type PlatformTraining struct {
	CompletedModules []string `json:"completedModules,omitempty"`
}

type HealthGoals struct {
	Goals        []string `json:"goals" binding:"required,min=1"`
	TargetWeight float64  `json:"targetWeightKg,omitempty" binding:"gte=0"`
}

type MedicalHistory struct {
	Conditions  []string `json:"conditions,omitempty"`
	Medications []string `json:"medications,omitempty"`
	Allergies   []string `json:"allergies,omitempty"`
}

type DietaryPreferences struct {
	Restrictions []string `json:"restrictions,omitempty"`
	Favorites    []string `json:"favorites,omitempty"`
	MealsPerDay  int      `json:"mealsPerDay" binding:"required,min=1,max=10"`
}

type Lifestyle struct {
	ActivityLevel string  `json:"activityLevel" binding:"omitempty,oneof=sedentary light moderate active"`
	SleepHours    float64 `json:"sleepHours,omitempty" binding:"gte=0,lte=24"`
}

type Completion struct {
	Notes string `json:"notes,omitempty"`
}

// Freeform is the fallback for steps without a typed shape and for free-form notes.
type Freeform struct {
	Step   domain.StepID  `json:"-"`
	Values map[string]any `json:"-"`
}

func (Welcome) StepID() domain.StepID            { return registry.StepWelcome }
func (PersonalInfo) StepID() domain.StepID       { return registry.StepPersonalInfo }
func (Credentials) StepID() domain.StepID        { return registry.StepCredentials }
func (PracticeDetails) StepID() domain.StepID    { return registry.StepPracticeDetails }
func (Specializations) StepID() domain.StepID    { return registry.StepSpecializations }
func (ConsultationRates) StepID() domain.StepID  { return registry.StepConsultationRates }
func (PlatformTraining) StepID() domain.StepID   { return registry.StepPlatformTraining }
func (HealthGoals) StepID() domain.StepID        { return registry.StepHealthGoals }
func (MedicalHistory) StepID() domain.StepID     { return registry.StepMedicalHistory }
func (DietaryPreferences) StepID() domain.StepID { return registry.StepDietaryPreferences }
func (Lifestyle) StepID() domain.StepID          { return registry.StepLifestyle }
func (Completion) StepID() domain.StepID         { return registry.StepCompletion }
func (f Freeform) StepID() domain.StepID         { return f.Step }

var shapes = map[domain.StepID]func() Payload{
	registry.StepWelcome:            func() Payload { return &Welcome{} },
	registry.StepPersonalInfo:       func() Payload { return &PersonalInfo{} },
	registry.StepCredentials:        func() Payload { return &Credentials{} },
	registry.StepPracticeDetails:    func() Payload { return &PracticeDetails{} },
	registry.StepSpecializations:    func() Payload { return &Specializations{} },
	registry.StepConsultationRates:  func() Payload { return &ConsultationRates{} },
	registry.StepPlatformTraining:   func() Payload { return &PlatformTraining{} },
	registry.StepHealthGoals:        func() Payload { return &HealthGoals{} },
	registry.StepMedicalHistory:     func() Payload { return &MedicalHistory{} },
	registry.StepDietaryPreferences: func() Payload { return &DietaryPreferences{} },
	registry.StepLifestyle:          func() Payload { return &Lifestyle{} },
	registry.StepCompletion:         func() Payload { return &Completion{} },
}

// Decode parses raw into the shape registered for stepID. Unknown fields are rejected for typed
// shapes; steps without a shape decode into Freeform. Empty input yields the zero shape.
func Decode(stepID domain.StepID, raw json.RawMessage) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	empty := len(raw) == 0 || bytes.Equal(raw, []byte("null"))
	newShape, ok := shapes[stepID]
	if !ok {
		f := Freeform{Step: stepID, Values: map[string]any{}}
		if !empty {
			if err := json.Unmarshal(raw, &f.Values); err != nil {
				return nil, fmt.Errorf("stepdata %s: %w", stepID, err)
			}
		}
		return f, nil
	}
	p := newShape()
	if empty {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("stepdata %s: %w", stepID, err)
	}
	return p, nil
}

// Patch is a partially filled payload: the decoded shape plus the top-level values the client sent.
// Only those values are merged into the form data, so fields entered earlier survive.
type Patch struct {
	Payload Payload
	Values  map[string]any
}

func (p Patch) StepID() domain.StepID { return p.Payload.StepID() }

// DecodePatch decodes raw like Decode and keeps the values it carried.
func DecodePatch(stepID domain.StepID, raw json.RawMessage) (Patch, error) {
	p, err := Decode(stepID, raw)
	if err != nil {
		return Patch{}, err
	}
	patch := Patch{Payload: p, Values: map[string]any{}}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return patch, nil
	}
	if err := json.Unmarshal(raw, &patch.Values); err != nil {
		return Patch{}, fmt.Errorf("stepdata %s: %w", stepID, err)
	}
	return patch, nil
}

// Compose projects accumulated form data onto the shape of stepID, ignoring keys that belong to
// other steps. Steps without a typed shape yield an empty Freeform.
func Compose(stepID domain.StepID, fields map[string]any) (Payload, error) {
	newShape, ok := shapes[stepID]
	if !ok {
		return Freeform{Step: stepID, Values: map[string]any{}}, nil
	}
	p := newShape()
	own := make(map[string]any)
	for _, k := range jsonKeys(p) {
		if v, ok := fields[k]; ok {
			own[k] = v
		}
	}
	b, err := json.Marshal(own)
	if err != nil {
		return nil, fmt.Errorf("stepdata %s: %w", stepID, err)
	}
	if err := json.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("stepdata %s: %w", stepID, err)
	}
	return p, nil
}

func jsonKeys(p Payload) []string {
	t := reflect.TypeOf(p)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys = append(keys, name)
		}
	}
	return keys
}

// Validate runs the struct-tag validator gin uses for request binding.
func Validate(p Payload) error {
	if p == nil {
		return nil
	}
	switch v := p.(type) {
	case Freeform:
		return nil
	case Patch:
		return Validate(v.Payload)
	}
	return binding.Validator.ValidateStruct(p)
}

// Fields flattens p into the key/value form merged into the wizard's form data.
func Fields(p Payload) (map[string]any, error) {
	if p == nil {
		return nil, nil
	}
	switch v := p.(type) {
	case Patch:
		return copyValues(v.Values), nil
	case Freeform:
		return copyValues(v.Values), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyValues(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
