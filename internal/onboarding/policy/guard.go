// Package policy decides whether wizard navigation that bypasses the normal forward flow (jumping to
// a step, skipping a step) is allowed. Rules are written in Rego and evaluated in-process.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"nutrition-platform/backend/internal/onboarding/domain"
)

// Action is a guarded navigation action.
type Action string

const (
	ActionJump Action = "jump"
	ActionSkip Action = "skip"
)

const query = "data.nutrition.onboarding.navigation"

// DefaultPolicy allows jumping only to steps that were already completed (or the current step) and
// skipping only optional, skippable steps.
const DefaultPolicy = `package nutrition.onboarding.navigation

default allow = false

allow if {
	input.action == "jump"
	input.target.status == "completed"
}

allow if {
	input.action == "jump"
	input.target.reopened
}

allow if {
	input.action == "jump"
	input.target.id == input.current.id
}

allow if {
	input.action == "skip"
	input.target.can_skip
	not input.target.required
}

reason = "target step has not been completed" if {
	input.action == "jump"
	not allow
}

reason = "step cannot be skipped" if {
	input.action == "skip"
	not allow
}
`

// Input describes one navigation attempt.
type Input struct {
	Action     Action
	Role       domain.Role
	UserID     string
	Current    domain.StepState
	CurrentIdx int
	Target     domain.StepDefinition
	TargetIdx  int
	TargetStep domain.StepState
	Percentage int
	Completed  bool
}

// Decision is the policy outcome.
type Decision struct {
	Allowed bool
	Reason  string
}

// Guard evaluates navigation policy.
type Guard interface {
	Allow(ctx context.Context, in Input) (Decision, error)
}

// OPAGuard evaluates a Rego module prepared once at construction.
type OPAGuard struct {
	prepared rego.PreparedEvalQuery
	logger   *zap.Logger
}

// NewOPAGuard compiles module (DefaultPolicy when empty). The module must declare package
// nutrition.onboarding.navigation and define allow, and may define reason.
func NewOPAGuard(ctx context.Context, module string, logger *zap.Logger) (*OPAGuard, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if module == "" {
		module = DefaultPolicy
	}
	prepared, err := rego.New(
		rego.Query(query),
		rego.Module("navigation.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile navigation policy: %w", err)
	}
	return &OPAGuard{prepared: prepared, logger: logger}, nil
}

// LoadFile reads a Rego module from path and compiles it.
func LoadFile(ctx context.Context, path string, logger *zap.Logger) (*OPAGuard, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read navigation policy: %w", err)
	}
	return NewOPAGuard(ctx, string(b), logger)
}

// Allow evaluates the policy for in. An undefined allow is a denial.
func (g *OPAGuard) Allow(ctx context.Context, in Input) (Decision, error) {
	rs, err := g.prepared.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return Decision{}, fmt.Errorf("eval navigation policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{Reason: "policy returned no result"}, nil
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("navigation policy result has type %T", rs[0].Expressions[0].Value)
	}
	d := Decision{}
	if v, ok := doc["allow"].(bool); ok {
		d.Allowed = v
	}
	if v, ok := doc["reason"].(string); ok && !d.Allowed {
		d.Reason = v
	}
	if !d.Allowed {
		g.logger.Debug("navigation denied",
			zap.String("action", string(in.Action)),
			zap.String("user_id", in.UserID),
			zap.String("step_id", string(in.Target.ID)),
			zap.String("reason", d.Reason))
	}
	return d, nil
}

// HealthCheck evaluates a minimal jump against the prepared policy.
func (g *OPAGuard) HealthCheck(ctx context.Context) error {
	_, err := g.Allow(ctx, Input{
		Action:     ActionJump,
		Role:       domain.RolePatient,
		Target:     domain.StepDefinition{ID: "welcome"},
		TargetStep: domain.StepState{ID: "welcome", Status: domain.StepStatusCompleted},
	})
	return err
}

func buildInput(in Input) map[string]interface{} {
	return map[string]interface{}{
		"action":  string(in.Action),
		"role":    string(in.Role),
		"user_id": in.UserID,
		"current": map[string]interface{}{
			"id":     string(in.Current.ID),
			"index":  in.CurrentIdx,
			"status": string(in.Current.Status),
		},
		"target": map[string]interface{}{
			"id":        string(in.Target.ID),
			"index":     in.TargetIdx,
			"status":    string(in.TargetStep.Status),
			"reopened":  in.TargetStep.Reopened(),
			"required":  in.Target.IsRequired,
			"can_skip":  in.Target.CanSkip,
			"estimated": in.Target.EstimatedTime,
		},
		"progress": map[string]interface{}{
			"percentage": in.Percentage,
			"completed":  in.Completed,
		},
	}
}
