package signal

import (
	"testing"
	"time"
)

func TestEvalWorkStale_FlagsOldOpenItemsOnly(t *testing.T) {
	def := &Definition{ID: "def-1", Title: "Stale item", Severity: "info"}
	cfg := WorkStaleConfig{
		CdmModelID:    "cdm.work.item",
		MaxAge:        IntervalConfig{Unit: IntervalDays, Value: 3},
		StatusExclude: []string{"done"},
	}

	old := time.Now().Add(-10 * 24 * time.Hour).Format(time.RFC3339)
	fresh := time.Now().Add(-1 * time.Hour).Format(time.RFC3339)

	staleOpen := map[string]any{"id": "issue-1", "createdAt": old, "status": "open"}
	if insts := evalWorkStale(def, cfg, staleOpen, "issues", "github", "run-1"); len(insts) != 1 {
		t.Fatalf("expected a stale instance, got %d", len(insts))
	}

	staleDone := map[string]any{"id": "issue-2", "createdAt": old, "status": "done"}
	if insts := evalWorkStale(def, cfg, staleDone, "issues", "github", "run-1"); len(insts) != 0 {
		t.Errorf("expected excluded status to suppress the instance, got %d", len(insts))
	}

	freshOpen := map[string]any{"id": "issue-3", "createdAt": fresh, "status": "open"}
	if insts := evalWorkStale(def, cfg, freshOpen, "issues", "github", "run-1"); len(insts) != 0 {
		t.Errorf("expected a fresh item to not be flagged, got %d", len(insts))
	}
}

func TestEvalWorkStale_SeverityEscalatesWithAge(t *testing.T) {
	def := &Definition{ID: "def-1", Title: "Stale item", Severity: "info"}
	cfg := WorkStaleConfig{
		CdmModelID: "cdm.work.item",
		MaxAge:     IntervalConfig{Unit: IntervalDays, Value: 1},
		SeverityMapping: &SeverityMapping{
			ErrorAfter: &IntervalConfig{Unit: IntervalDays, Value: 30},
		},
	}
	veryOld := time.Now().Add(-40 * 24 * time.Hour).Format(time.RFC3339)
	rec := map[string]any{"id": "issue-1", "createdAt": veryOld, "status": "open"}
	insts := evalWorkStale(def, cfg, rec, "issues", "github", "run-1")
	if len(insts) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(insts))
	}
	if insts[0].Severity != "ERROR" {
		t.Errorf("expected escalated severity ERROR, got %s", insts[0].Severity)
	}
}

func TestEvalGenericFilter_AppliesWhereAndSeverityRules(t *testing.T) {
	def := &Definition{ID: "def-1", Title: "Generic", Severity: "info"}
	cfg := GenericFilterConfig{
		CdmModelID:      "cdm.work.item",
		SummaryTemplate: "priority item",
		Where: []GenericCondition{
			{Field: "priority", Op: OpGTE, Value: float64(3)},
		},
		SeverityRules: []GenericSeverityRule{
			{When: []GenericCondition{{Field: "priority", Op: OpGTE, Value: float64(5)}}, Severity: "error"},
		},
	}
	highPriority := map[string]any{"id": "i1", "cdmModelId": "cdm.work.item", "priority": float64(5)}
	insts := evalGenericFilter(def, cfg, highPriority, "issues", "github", "run-1")
	if len(insts) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(insts))
	}
	if insts[0].Severity != "ERROR" {
		t.Errorf("expected severity rule to escalate to ERROR, got %s", insts[0].Severity)
	}

	lowPriority := map[string]any{"id": "i2", "cdmModelId": "cdm.work.item", "priority": float64(1)}
	if insts := evalGenericFilter(def, cfg, lowPriority, "issues", "github", "run-1"); len(insts) != 0 {
		t.Errorf("expected where clause to filter out low-priority record, got %d", len(insts))
	}
}

func TestParseSignalSpec_RejectsUnsupportedVersion(t *testing.T) {
	res := parseSignalSpec(map[string]any{"version": float64(2), "type": string(TypeWorkStale)})
	if res.Valid {
		t.Error("expected an unsupported version to be invalid")
	}
}

func TestParseSignalSpec_ParsesWorkStale(t *testing.T) {
	spec := map[string]any{
		"version": float64(1),
		"type":    string(TypeWorkStale),
		"config": map[string]any{
			"cdmModelId": "cdm.work.item",
			"maxAge":     map[string]any{"unit": "days", "value": float64(3)},
		},
	}
	res := parseSignalSpec(spec)
	if !res.Valid {
		t.Fatalf("expected a valid parse result, got reason %q", res.Reason)
	}
	cfg, ok := res.Spec.Config.(WorkStaleConfig)
	if !ok {
		t.Fatalf("expected WorkStaleConfig, got %T", res.Spec.Config)
	}
	if cfg.MaxAge.Value != 3 || cfg.MaxAge.Unit != IntervalDays {
		t.Errorf("unexpected maxAge: %+v", cfg.MaxAge)
	}
}

func TestBuildInstance_RequiresEntityRef(t *testing.T) {
	def := &Definition{ID: "def-1", Title: "t", Severity: "info"}
	if _, ok := buildInstance(def, map[string]any{}, "issues", "github", "run-1"); ok {
		t.Error("expected buildInstance to fail without an entity ref")
	}
	if _, ok := buildInstance(def, map[string]any{"id": "x"}, "issues", "github", "run-1"); !ok {
		t.Error("expected buildInstance to succeed with an id field")
	}
}
