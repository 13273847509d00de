package signal

import (
	"fmt"
	"strings"
	"time"
)

// engine evaluates a fixed set of definitions against records.
type engine struct {
	defs []*Definition
}

func newEngine(defs []*Definition) *engine {
	return &engine{defs: defs}
}

// eval runs every applicable definition against one record.
func (e *engine) eval(rec map[string]any, datasetSlug, sourceFamily, runID string) []*Instance {
	var out []*Instance
	for _, def := range e.defs {
		if def.SourceFamily != "" && !strings.EqualFold(def.SourceFamily, sourceFamily) {
			continue
		}
		if def.EntityKind != "" {
			kind := deriveEntityKind(rec, datasetSlug, sourceFamily)
			if !strings.EqualFold(kind, def.EntityKind) {
				continue
			}
		}
		out = append(out, e.evalDefinition(def, rec, datasetSlug, sourceFamily, runID)...)
	}
	return out
}

// evalDefinition dispatches by DSL type, falling back to an unconditional
// CODE-mode instance whenever the spec is absent or fails validation.
func (e *engine) evalDefinition(def *Definition, rec map[string]any, datasetSlug, sourceFamily, runID string) []*Instance {
	if len(def.DefinitionSpec) == 0 {
		if inst, ok := buildInstance(def, rec, datasetSlug, sourceFamily, runID); ok {
			return []*Instance{inst}
		}
		return nil
	}
	specRes := parseSignalSpec(def.DefinitionSpec)
	if !specRes.Valid {
		if inst, ok := buildInstance(def, rec, datasetSlug, sourceFamily, runID); ok {
			return []*Instance{inst}
		}
		return nil
	}
	switch specRes.Spec.Type {
	case TypeWorkStale:
		return evalWorkStale(def, specRes.Spec.Config.(WorkStaleConfig), rec, datasetSlug, sourceFamily, runID)
	case TypeDocOrphan:
		return evalDocOrphan(def, specRes.Spec.Config.(DocOrphanConfig), rec, datasetSlug, sourceFamily, runID)
	case TypeGenericFilter:
		return evalGenericFilter(def, specRes.Spec.Config.(GenericFilterConfig), rec, datasetSlug, sourceFamily, runID)
	default:
		if inst, ok := buildInstance(def, rec, datasetSlug, sourceFamily, runID); ok {
			return []*Instance{inst}
		}
		return nil
	}
}

func buildInstance(def *Definition, rec map[string]any, datasetSlug, sourceFamily, runID string) (*Instance, bool) {
	entityRef := deriveEntityRef(rec)
	if entityRef == "" {
		return nil, false
	}
	return &Instance{
		DefinitionID: def.ID,
		Status:       "OPEN",
		EntityRef:    entityRef,
		EntityKind:   deriveEntityKind(rec, datasetSlug, sourceFamily),
		Severity:     strings.ToUpper(def.Severity),
		Summary:      def.Title,
		Details:      rec,
		SourceRunID:  runID,
	}, true
}

func evalWorkStale(def *Definition, cfg WorkStaleConfig, rec map[string]any, datasetSlug, sourceFamily, runID string) []*Instance {
	norm := normalizeShape(rec)
	if norm.AgeMs <= 0 {
		return nil
	}
	maxMs := intervalToMs(cfg.MaxAge)
	if norm.AgeMs < float64(maxMs) {
		return nil
	}
	if len(cfg.StatusInclude) > 0 && !containsFold(cfg.StatusInclude, norm.Status) {
		return nil
	}
	if containsFold(cfg.StatusExclude, norm.Status) {
		return nil
	}
	if len(cfg.ProjectInclude) > 0 && !containsFold(cfg.ProjectInclude, norm.ProjectID) {
		return nil
	}
	if containsFold(cfg.ProjectExclude, norm.ProjectID) {
		return nil
	}
	severity := strings.ToUpper(def.Severity)
	if cfg.SeverityMapping != nil {
		if cfg.SeverityMapping.ErrorAfter != nil && norm.AgeMs >= float64(intervalToMs(*cfg.SeverityMapping.ErrorAfter)) {
			severity = "ERROR"
		} else if cfg.SeverityMapping.WarnAfter != nil && norm.AgeMs >= float64(intervalToMs(*cfg.SeverityMapping.WarnAfter)) {
			severity = "WARNING"
		}
	}
	inst, ok := buildInstance(def, rec, datasetSlug, sourceFamily, runID)
	if !ok {
		return nil
	}
	inst.Severity = severity
	if inst.Summary == "" {
		inst.Summary = fmt.Sprintf("Stale work item %s", inst.EntityRef)
	}
	return []*Instance{inst}
}

func evalDocOrphan(def *Definition, cfg DocOrphanConfig, rec map[string]any, datasetSlug, sourceFamily, runID string) []*Instance {
	norm := normalizeShape(rec)
	if norm.AgeMs < float64(intervalToMs(cfg.MinAge)) {
		return nil
	}
	if cfg.MinViewCount != nil && norm.ViewCount >= float64(*cfg.MinViewCount) {
		return nil
	}
	if cfg.RequireProjectLink != nil && *cfg.RequireProjectLink && norm.ProjectID == "" {
		return nil
	}
	if len(cfg.SpaceInclude) > 0 && !containsFold(cfg.SpaceInclude, norm.SpaceID) {
		return nil
	}
	if containsFold(cfg.SpaceExclude, norm.SpaceID) {
		return nil
	}
	inst, ok := buildInstance(def, rec, datasetSlug, sourceFamily, runID)
	if !ok {
		return nil
	}
	if inst.Summary == "" {
		inst.Summary = fmt.Sprintf("Orphan doc %s", inst.EntityRef)
	}
	return []*Instance{inst}
}

func evalGenericFilter(def *Definition, cfg GenericFilterConfig, rec map[string]any, datasetSlug, sourceFamily, runID string) []*Instance {
	norm := normalizeShape(rec)
	summary := norm.Summary
	if cfg.SummaryTemplate != "" {
		summary = cfg.SummaryTemplate
	}
	if cfg.CdmModelID != "" && !strings.EqualFold(cfg.CdmModelID, norm.CdmModelID) {
		return nil
	}
	if len(cfg.Where) > 0 && !evalGenericConditions(cfg.Where, rec) {
		return nil
	}
	severity := strings.ToUpper(def.Severity)
	for _, rule := range cfg.SeverityRules {
		if evalGenericConditions(rule.When, rec) {
			severity = strings.ToUpper(rule.Severity)
			break
		}
	}
	inst, ok := buildInstance(def, rec, datasetSlug, sourceFamily, runID)
	if !ok {
		return nil
	}
	if inst.Summary == "" {
		inst.Summary = summary
	}
	inst.Severity = severity
	return []*Instance{inst}
}

func evalGenericConditions(conds []GenericCondition, rec map[string]any) bool {
	for _, cond := range conds {
		val := rec[cond.Field]
		switch cond.Op {
		case OpLT:
			if !compare(val, cond.Value, "<") {
				return false
			}
		case OpLTE:
			if !compare(val, cond.Value, "<=") {
				return false
			}
		case OpGT:
			if !compare(val, cond.Value, ">") {
				return false
			}
		case OpGTE:
			if !compare(val, cond.Value, ">=") {
				return false
			}
		case OpEQ:
			if !compare(val, cond.Value, "==") {
				return false
			}
		case OpNEQ:
			if !compare(val, cond.Value, "!=") {
				return false
			}
		case OpIN:
			if !contains(cond.Value, val) {
				return false
			}
		case OpNOTIN:
			if contains(cond.Value, val) {
				return false
			}
		case OpISNULL:
			if val != nil {
				return false
			}
		case OpISNOTNULL:
			if val == nil {
				return false
			}
		default:
			return false
		}
	}
	return true
}

type normalizedShape struct {
	AgeMs      float64
	Status     string
	ProjectID  string
	SpaceID    string
	ViewCount  float64
	Summary    string
	CdmModelID string
}

func normalizeShape(rec map[string]any) normalizedShape {
	created := toTime(rec["createdAt"])
	if created.IsZero() {
		created = toTime(rec["created_at"])
	}
	updated := toTime(rec["updatedAt"])
	if updated.IsZero() {
		updated = toTime(rec["updated_at"])
	}
	now := time.Now()
	age := now.Sub(created)
	if updated.After(created) {
		age = now.Sub(updated)
	}
	status, _ := rec["status"].(string)
	projectID, _ := rec["projectId"].(string)
	if projectID == "" {
		projectID, _ = rec["project_id"].(string)
	}
	spaceID, _ := rec["spaceId"].(string)
	if spaceID == "" {
		spaceID, _ = rec["space_id"].(string)
	}
	view := toFloat(rec["viewCount"])
	if view == 0 {
		view = toFloat(rec["views"])
	}
	summary, _ := rec["summary"].(string)
	cdmModel, _ := rec["cdmModelId"].(string)
	return normalizedShape{
		AgeMs:      age.Seconds() * 1000,
		Status:     strings.ToLower(status),
		ProjectID:  strings.ToLower(projectID),
		SpaceID:    strings.ToLower(spaceID),
		ViewCount:  view,
		Summary:    summary,
		CdmModelID: cdmModel,
	}
}

func intervalToMs(iv IntervalConfig) int64 {
	switch iv.Unit {
	case IntervalHours:
		return int64(iv.Value) * int64(time.Hour/time.Millisecond)
	case IntervalDays:
		return int64(iv.Value) * 24 * int64(time.Hour/time.Millisecond)
	default:
		return 0
	}
}

func containsFold(list []string, val string) bool {
	val = strings.ToLower(val)
	for _, item := range list {
		if strings.ToLower(item) == val {
			return true
		}
	}
	return false
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func compare(a, b any, op string) bool {
	af, aok := toFloatMaybe(a)
	bf, bok := toFloatMaybe(b)
	if aok && bok {
		switch op {
		case "<":
			return af < bf
		case "<=":
			return af <= bf
		case ">":
			return af > bf
		case ">=":
			return af >= bf
		case "==":
			return af == bf
		case "!=":
			return af != bf
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch op {
	case "==":
		return as == bs
	case "!=":
		return as != bs
	}
	return false
}

func toFloatMaybe(v any) (float64, bool) {
	switch t := v.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func toFloat(v any) float64 {
	if f, ok := toFloatMaybe(v); ok {
		return f
	}
	return 0
}

func contains(hay any, needle any) bool {
	arr, ok := hay.([]any)
	if !ok {
		return false
	}
	for _, item := range arr {
		if fmt.Sprint(item) == fmt.Sprint(needle) {
			return true
		}
	}
	return false
}
