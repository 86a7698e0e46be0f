package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/workpulse/risk-monitor/internal/models"
)

// Rule represents a single threshold rule for one kind. Rules are loaded at
// process start and immutable thereafter.
type Rule struct {
	ID        string           `yaml:"id"`
	Kind      models.Kind      `yaml:"kind"`
	AlertType models.AlertType `yaml:"alert_type"`
	When      Predicate        `yaml:"when"`
	Payload   []string         `yaml:"payload"`
}

// Predicate defines the alert condition over a single named metric. Exactly
// one of Above, Below, or Equals should be set; a snapshot missing the metric
// never matches.
type Predicate struct {
	Metric string   `yaml:"metric"`
	Above  *float64 `yaml:"above"`
	Below  *float64 `yaml:"below"`
	Equals string   `yaml:"equals"`
}

// PackFile is the YAML root structure of a rule pack.
type PackFile struct {
	Rules []Rule `yaml:"rules"`
}

// Set holds the loaded rules grouped by kind, preserving pack order. Rules
// for a kind are evaluated most-severe-first and the first match wins, so the
// pack author controls severity precedence by ordering.
type Set struct {
	byKind map[models.Kind][]Rule
}

// Load reads a rule pack from path. An empty path yields the built-in default
// pack covering the two documented alert conditions.
func Load(path string, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		logger.Info("no rule pack configured, using built-in defaults")
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("rule pack %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}

	var pack PackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}

	set, err := NewSet(pack.Rules)
	if err != nil {
		return nil, err
	}
	logger.Info("rule pack loaded", slog.String("path", path), slog.Int("rules", len(pack.Rules)))
	return set, nil
}

// NewSet validates the rules and groups them by kind in declaration order.
func NewSet(list []Rule) (*Set, error) {
	byKind := make(map[models.Kind][]Rule)
	seen := make(map[string]struct{}, len(list))
	for _, rule := range list {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule without id")
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}
		if _, err := models.ParseKind(string(rule.Kind)); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if rule.AlertType == "" {
			return nil, fmt.Errorf("rule %s: alert_type is required", rule.ID)
		}
		if rule.When.Metric == "" {
			return nil, fmt.Errorf("rule %s: when.metric is required", rule.ID)
		}
		if rule.When.Above == nil && rule.When.Below == nil && rule.When.Equals == "" {
			return nil, fmt.Errorf("rule %s: predicate needs above, below, or equals", rule.ID)
		}
		byKind[rule.Kind] = append(byKind[rule.Kind], rule)
	}
	return &Set{byKind: byKind}, nil
}

// Default returns the built-in pack: departments whose overall_risk is
// "critical" and employees whose stress_rate exceeds 40.
func Default() *Set {
	stressThreshold := 40.0
	set, err := NewSet([]Rule{
		{
			ID:        "department-risk-critical",
			Kind:      models.KindDepartment,
			AlertType: models.AlertDepartmentCritical,
			When:      Predicate{Metric: "overall_risk", Equals: "critical"},
			Payload:   []string{"department_name", "overall_risk", "engagement_score"},
		},
		{
			ID:        "employee-stress-high",
			Kind:      models.KindEmployee,
			AlertType: models.AlertEmployeeStress,
			When:      Predicate{Metric: "stress_rate", Above: &stressThreshold},
			Payload:   []string{"employee_name", "department", "position", "stress_rate", "engagement_rate", "attrition_rate"},
		},
	})
	if err != nil {
		// The built-in pack is static; a validation failure here is a bug.
		panic(err)
	}
	return set
}

// ForKind returns the rules registered for the given kind in evaluation order.
func (s *Set) ForKind(kind models.Kind) []Rule {
	if s == nil {
		return nil
	}
	return s.byKind[kind]
}

// Matches reports whether the snapshot currently satisfies the predicate.
// A metric that is absent or of the wrong type never matches, so a
// misconfigured rule degrades to silence instead of failing the scan.
func (r Rule) Matches(snap models.Snapshot) bool {
	if r.When.Equals != "" {
		value, ok := snap.Metrics.String(r.When.Metric)
		return ok && strings.EqualFold(value, r.When.Equals)
	}
	value, ok := snap.Metrics.Number(r.When.Metric)
	if !ok {
		return false
	}
	if r.When.Above != nil {
		return value > *r.When.Above
	}
	if r.When.Below != nil {
		return value < *r.When.Below
	}
	return false
}
