// Package policy validates which suggested fraud policies actually apply
// to a transaction, based on its behavioral metrics.
package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Built-in policy IDs with hard-coded applicability predicates.
const (
	PolicyHighAmountOffHours = "FP-01"
	PolicyNewDeviceCountry   = "FP-02"
)

// Validator filters policy suggestions down to the ones whose
// applicability predicate holds for a transaction.
//
// FP-01 and FP-02 carry fixed predicates. Tenant-registered policies may
// carry a CEL applicability expression compiled at load time. Policies the
// validator has never seen are accepted by default: retrieval may know
// policies the core does not, and silently dropping them would hide
// evidence from reviewers.
type Validator struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]cel.Program
}

// NewValidator creates a validator with the metrics CEL environment.
func NewValidator() (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount_ratio", cel.DoubleType),
		cel.Variable("in_usual_hours", cel.BoolType),
		cel.Variable("usual_device", cel.BoolType),
		cel.Variable("usual_country", cel.BoolType),
		cel.Variable("hour_deviation", cel.IntType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("amount", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Validator{
		env:      env,
		compiled: make(map[string]cel.Program),
	}, nil
}

// LoadPolicies compiles and loads applicability expressions from policy
// configurations. Policies without an expression are accepted by default
// and need no program.
func (v *Validator) LoadPolicies(configs []*domain.PolicyConfig) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, cfg := range configs {
		if !cfg.Enabled || cfg.Applicability == "" {
			continue
		}
		prog, err := v.compile(cfg)
		if err != nil {
			return err
		}
		v.compiled[cfg.ID] = prog
	}
	return nil
}

// ReloadPolicies clears loaded expressions and loads new ones (hot reload).
func (v *Validator) ReloadPolicies(configs []*domain.PolicyConfig) error {
	newProgs := make(map[string]cel.Program)

	for _, cfg := range configs {
		if !cfg.Enabled || cfg.Applicability == "" {
			continue
		}
		prog, err := v.compile(cfg)
		if err != nil {
			return err
		}
		newProgs[cfg.ID] = prog
	}

	v.mu.Lock()
	v.compiled = newProgs
	v.mu.Unlock()
	return nil
}

// ValidateConfig compiles a policy's applicability expression without
// loading it, for use at registration time.
func (v *Validator) ValidateConfig(cfg *domain.PolicyConfig) error {
	if cfg.Applicability == "" {
		return nil
	}
	_, err := v.compile(cfg)
	return err
}

// PolicyCount returns the number of loaded applicability expressions.
func (v *Validator) PolicyCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.compiled)
}

// Filter returns the subset of suggested policy IDs that apply given the
// metrics. Order is preserved and no ID is ever added.
func (v *Validator) Filter(suggested []string, m *behavior.Metrics) []string {
	applied := make([]string, 0, len(suggested))
	for _, id := range suggested {
		if v.applies(id, m) {
			applied = append(applied, id)
		}
	}
	return applied
}

func (v *Validator) applies(policyID string, m *behavior.Metrics) bool {
	switch policyID {
	case PolicyHighAmountOffHours:
		return m.AmountRatio > 3.0 && !m.InUsualHours
	case PolicyNewDeviceCountry:
		return !m.UsualCountry && !m.UsualDevice
	}

	v.mu.RLock()
	prog, ok := v.compiled[policyID]
	v.mu.RUnlock()

	if !ok {
		// Unknown policy: accept by default.
		return true
	}

	out, _, err := prog.Eval(map[string]any{
		"amount_ratio":   m.AmountRatio,
		"in_usual_hours": m.InUsualHours,
		"usual_device":   m.UsualDevice,
		"usual_country":  m.UsualCountry,
		"hour_deviation": int64(m.HourDeviation),
		"is_weekend":     m.IsWeekend,
		"amount":         m.Amount,
	})
	if err != nil {
		// Fail open, same as the unknown-policy rule.
		slog.Warn("policy applicability evaluation failed",
			"policy_id", policyID,
			"error", err,
		)
		return true
	}

	b, ok := out.(types.Bool)
	if !ok {
		slog.Warn("policy applicability returned non-bool",
			"policy_id", policyID,
		)
		return true
	}
	return bool(b)
}

func (v *Validator) compile(cfg *domain.PolicyConfig) (cel.Program, error) {
	ast, issues := v.env.Compile(cfg.Applicability)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: applicability must return bool, got %s", cfg.ID, ast.OutputType())
	}

	prog, err := v.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}
	return prog, nil
}
