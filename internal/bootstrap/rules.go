package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"nutrition-platform/backend/internal/config"
	"nutrition-platform/backend/internal/onboarding/policy"
	"nutrition-platform/backend/internal/onboarding/registry"
)

var errNoDatabase = errors.New("DATABASE_URL not set")

// LoadRegistry returns the step registry from STEP_REGISTRY_FILE, or the built-in flows. Invalid
// role flows are logged; sessions for those roles fail when they start.
func LoadRegistry(cfg *config.Config, logger *zap.Logger) (*registry.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := registry.New()
	if cfg.StepRegistryFile != "" {
		r, err := registry.LoadFile(cfg.StepRegistryFile)
		if err != nil {
			return nil, fmt.Errorf("step registry: %w", err)
		}
		reg = r
	}
	for _, role := range reg.Roles() {
		if err := reg.Validate(role); err != nil {
			logger.Error("invalid step registry", zap.String("role", string(role)), zap.Error(err))
		}
	}
	return reg, nil
}

// LoadGuard prepares the navigation policy from NAVIGATION_POLICY_FILE, or the built-in policy.
func LoadGuard(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*policy.OPAGuard, error) {
	var (
		guard *policy.OPAGuard
		err   error
	)
	if cfg.NavigationPolicyFile != "" {
		guard, err = policy.LoadFile(ctx, cfg.NavigationPolicyFile, logger)
	} else {
		guard, err = policy.NewOPAGuard(ctx, policy.DefaultPolicy, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("navigation policy: %w", err)
	}
	return guard, nil
}
