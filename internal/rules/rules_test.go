package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/workpulse/risk-monitor/internal/models"
)

func TestLoadRulePack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	pack := `
rules:
  - id: department-risk-critical
    kind: department
    alert_type: department_critical
    when:
      metric: overall_risk
      equals: critical
    payload: [department_name, overall_risk]
  - id: employee-stress-high
    kind: employee
    alert_type: employee_stress
    when:
      metric: stress_rate
      above: 40
    payload: [employee_name, stress_rate]
`
	if err := os.WriteFile(path, []byte(pack), 0o600); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	set, err := Load(path, nil)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if got := len(set.ForKind(models.KindDepartment)); got != 1 {
		t.Fatalf("expected one department rule, got %d", got)
	}
	if got := len(set.ForKind(models.KindEmployee)); got != 1 {
		t.Fatalf("expected one employee rule, got %d", got)
	}

	rule := set.ForKind(models.KindEmployee)[0]
	if rule.AlertType != models.AlertEmployeeStress {
		t.Fatalf("unexpected alert type %q", rule.AlertType)
	}
	if rule.When.Above == nil || *rule.When.Above != 40 {
		t.Fatalf("unexpected threshold %+v", rule.When)
	}
}

func TestLoadMissingPackFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing rule pack")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	set, err := Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(set.ForKind(models.KindEmployee)); got != 1 {
		t.Fatalf("expected default employee rule, got %d", got)
	}
	if got := len(set.ForKind(models.KindDepartment)); got != 1 {
		t.Fatalf("expected default department rule, got %d", got)
	}
}

func TestNewSetValidation(t *testing.T) {
	above := 10.0
	valid := Rule{
		ID:        "ok",
		Kind:      models.KindEmployee,
		AlertType: "test_alert",
		When:      Predicate{Metric: "x", Above: &above},
	}

	cases := []struct {
		name   string
		mutate func(Rule) Rule
	}{
		{"missing id", func(r Rule) Rule { r.ID = ""; return r }},
		{"unknown kind", func(r Rule) Rule { r.Kind = "team"; return r }},
		{"missing alert type", func(r Rule) Rule { r.AlertType = ""; return r }},
		{"missing metric", func(r Rule) Rule { r.When.Metric = ""; return r }},
		{"empty predicate", func(r Rule) Rule { r.When = Predicate{Metric: "x"}; return r }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSet([]Rule{tc.mutate(valid)}); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if _, err := NewSet([]Rule{valid, valid}); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestMatches(t *testing.T) {
	above := 40.0
	below := 20.0

	snap := func(metrics models.Metrics) models.Snapshot {
		return models.Snapshot{Kind: models.KindEmployee, ID: "EMP001", Metrics: metrics}
	}

	t.Run("above", func(t *testing.T) {
		rule := Rule{When: Predicate{Metric: "stress_rate", Above: &above}}
		if !rule.Matches(snap(models.Metrics{"stress_rate": 65.5})) {
			t.Fatal("expected match above threshold")
		}
		if rule.Matches(snap(models.Metrics{"stress_rate": 40.0})) {
			t.Fatal("threshold itself must not match")
		}
	})

	t.Run("below", func(t *testing.T) {
		rule := Rule{When: Predicate{Metric: "engagement_rate", Below: &below}}
		if !rule.Matches(snap(models.Metrics{"engagement_rate": 5.0})) {
			t.Fatal("expected match below threshold")
		}
		if rule.Matches(snap(models.Metrics{"engagement_rate": 50.0})) {
			t.Fatal("expected no match above threshold")
		}
	})

	t.Run("equals is case-insensitive", func(t *testing.T) {
		rule := Rule{When: Predicate{Metric: "overall_risk", Equals: "critical"}}
		if !rule.Matches(snap(models.Metrics{"overall_risk": "Critical"})) {
			t.Fatal("expected case-insensitive match")
		}
		if rule.Matches(snap(models.Metrics{"overall_risk": "high"})) {
			t.Fatal("expected no match for different value")
		}
	})

	t.Run("missing metric never matches", func(t *testing.T) {
		rule := Rule{When: Predicate{Metric: "stress_rate", Above: &above}}
		if rule.Matches(snap(models.Metrics{})) {
			t.Fatal("missing metric must not match")
		}
	})

	t.Run("wrong metric type never matches", func(t *testing.T) {
		rule := Rule{When: Predicate{Metric: "stress_rate", Above: &above}}
		if rule.Matches(snap(models.Metrics{"stress_rate": "very high"})) {
			t.Fatal("non-numeric metric must not match numeric predicate")
		}
	})
}
