package stepdata

import (
	"encoding/json"
	"testing"

	"nutrition-platform/backend/internal/onboarding/registry"
)

func TestDecode_TypedShape(t *testing.T) {
	p, err := Decode(registry.StepConsultationRates, json.RawMessage(`{"initialFee":80,"followUpFee":50,"currency":"EUR"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rates, ok := p.(*ConsultationRates)
	if !ok {
		t.Fatalf("Decode returned %T, want *ConsultationRates", p)
	}
	if rates.InitialFee != 80 || rates.Currency != "EUR" {
		t.Errorf("rates = %+v", rates)
	}
	if p.StepID() != registry.StepConsultationRates {
		t.Errorf("StepID = %q", p.StepID())
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	if _, err := Decode(registry.StepCredentials, json.RawMessage(`{"licenseNumber":"x","bogus":1}`)); err == nil {
		t.Error("Decode should reject unknown fields for typed shapes")
	}
}

func TestDecode_FreeformFallback(t *testing.T) {
	p, err := Decode("custom-notes", json.RawMessage(`{"anything":"goes","n":2}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	f, ok := p.(Freeform)
	if !ok {
		t.Fatalf("Decode returned %T, want Freeform", p)
	}
	if f.StepID() != "custom-notes" || f.Values["anything"] != "goes" {
		t.Errorf("freeform = %+v", f)
	}
}

func TestDecode_EmptyInput(t *testing.T) {
	for _, raw := range []string{"", "null", "  "} {
		p, err := Decode(registry.StepWelcome, json.RawMessage(raw))
		if err != nil {
			t.Fatalf("Decode(%q): %v", raw, err)
		}
		if _, ok := p.(*Welcome); !ok {
			t.Errorf("Decode(%q) = %T, want *Welcome", raw, p)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"valid personal info", &PersonalInfo{FullName: "Ana Silva", Email: "ana@example.com"}, false},
		{"missing name", &PersonalInfo{Email: "ana@example.com"}, true},
		{"bad email", &PersonalInfo{FullName: "Ana", Email: "nope"}, true},
		{"bad mode", &PracticeDetails{PracticeName: "Clinic", ConsultationModes: []string{"carrier-pigeon"}}, true},
		{"valid practice", &PracticeDetails{PracticeName: "Clinic", ConsultationModes: []string{"video"}}, false},
		{"currency length", &ConsultationRates{Currency: "EURO"}, true},
		{"freeform", Freeform{Step: "x", Values: map[string]any{"a": 1}}, false},
		{"nil", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.payload)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFields(t *testing.T) {
	f, err := Fields(&Specializations{Areas: []string{"sports"}, TargetAudience: "athletes"})
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if f["targetAudience"] != "athletes" {
		t.Errorf("targetAudience = %v", f["targetAudience"])
	}
	areas, ok := f["areas"].([]any)
	if !ok || len(areas) != 1 || areas[0] != "sports" {
		t.Errorf("areas = %#v", f["areas"])
	}

	free, err := Fields(Freeform{Step: "x", Values: map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Fields freeform: %v", err)
	}
	if free["k"] != "v" {
		t.Errorf("freeform fields = %v", free)
	}
}

func TestDecodePatch_KeepsOnlySentKeys(t *testing.T) {
	p, err := DecodePatch(registry.StepPersonalInfo, json.RawMessage(`{"email":"ana@example.com","dateOfBirth":""}`))
	if err != nil {
		t.Fatalf("DecodePatch: %v", err)
	}
	if p.StepID() != registry.StepPersonalInfo {
		t.Errorf("StepID = %q", p.StepID())
	}
	fields, err := Fields(p)
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if len(fields) != 2 || fields["email"] != "ana@example.com" || fields["dateOfBirth"] != "" {
		t.Errorf("fields = %v", fields)
	}
	if _, err := DecodePatch(registry.StepPersonalInfo, json.RawMessage(`{"bogus":1}`)); err == nil {
		t.Error("DecodePatch should reject unknown fields")
	}
}

func TestCompose(t *testing.T) {
	form := map[string]any{"acceptedTerms": true, "fullName": "Ana Ruiz", "email": "ana@example.com"}
	p, err := Compose(registry.StepPersonalInfo, form)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	info, ok := p.(*PersonalInfo)
	if !ok {
		t.Fatalf("Compose returned %T, want *PersonalInfo", p)
	}
	if info.FullName != "Ana Ruiz" || info.Email != "ana@example.com" {
		t.Errorf("info = %+v", info)
	}
	if err := Validate(p); err != nil {
		t.Errorf("Validate: %v", err)
	}

	empty, err := Compose(registry.StepPersonalInfo, map[string]any{"acceptedTerms": true})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if err := Validate(empty); err == nil {
		t.Error("Validate should reject personal info without a name")
	}

	if _, err := Compose(registry.StepDietaryPreferences, map[string]any{"mealsPerDay": "three"}); err == nil {
		t.Error("Compose should reject a value of the wrong type")
	}
	f, err := Compose("custom-notes", form)
	if err != nil {
		t.Fatalf("Compose freeform: %v", err)
	}
	if f.StepID() != "custom-notes" {
		t.Errorf("StepID = %q", f.StepID())
	}
}
