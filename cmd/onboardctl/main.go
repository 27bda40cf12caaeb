// Command onboardctl inspects and resets onboarding progress and mints development access tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nutrition-platform/backend/internal/config"
	"nutrition-platform/backend/internal/onboarding/domain"
)

var timeout time.Duration

var rootCmd = &cobra.Command{
	Use:           "onboardctl",
	Short:         "Operate the onboarding progress stores",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")
	rootCmd.AddCommand(stepsCmd, showCmd, resetCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "onboardctl:", err)
		os.Exit(1)
	}
}

// env is what every subcommand needs: config, a quiet logger and a bounded context.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func load(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return &env{cfg: cfg, logger: zap.NewNop(), ctx: ctx, cancel: cancel}, nil
}

func parseRole(s string) (domain.Role, error) {
	r := domain.Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q (want %s or %s)", s, domain.RoleNutritionist, domain.RolePatient)
	}
	return r, nil
}
