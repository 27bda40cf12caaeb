package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for step operations; the HTTP handler maps them to status codes.
var (
	ErrUnknownStep       = errors.New("unknown step")
	ErrInvalidTransition = errors.New("invalid step transition")
	ErrStepNotSkippable  = errors.New("step cannot be skipped")
)

// ConfigurationError reports an invalid step registry. It is fatal for the wizard.
type ConfigurationError struct {
	Role   Role
	StepID StepID
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("onboarding configuration (%s/%s): %s", e.Role, e.StepID, e.Reason)
	}
	return fmt.Sprintf("onboarding configuration (%s): %s", e.Role, e.Reason)
}

// IsConfigurationError reports whether err is or wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
