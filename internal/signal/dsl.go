package signal

import (
	"fmt"
	"strings"
)

// DefinitionType names a recognized DSL spec type.
type DefinitionType string

const (
	TypeWorkStale     DefinitionType = "cdm.work.stale_item"
	TypeDocOrphan     DefinitionType = "cdm.doc.orphan"
	TypeGenericFilter DefinitionType = "cdm.generic.filter"
)

// IntervalUnit is the unit a DSL interval is expressed in.
type IntervalUnit string

const (
	IntervalDays  IntervalUnit = "days"
	IntervalHours IntervalUnit = "hours"
)

// IntervalConfig is a DSL duration ("3 days", "12 hours").
type IntervalConfig struct {
	Unit  IntervalUnit
	Value int
}

// WorkStaleConfig drives TypeWorkStale.
type WorkStaleConfig struct {
	CdmModelID      string
	MaxAge          IntervalConfig
	StatusInclude   []string
	StatusExclude   []string
	ProjectInclude  []string
	ProjectExclude  []string
	SeverityMapping *SeverityMapping
}

// SeverityMapping escalates severity as an item ages further past MaxAge.
type SeverityMapping struct {
	WarnAfter  *IntervalConfig
	ErrorAfter *IntervalConfig
}

// DocOrphanConfig drives TypeDocOrphan.
type DocOrphanConfig struct {
	CdmModelID         string
	MinAge             IntervalConfig
	MinViewCount       *int
	RequireProjectLink *bool
	SpaceInclude       []string
	SpaceExclude       []string
}

// GenericFilterOp is a comparison operator in a GenericCondition.
type GenericFilterOp string

const (
	OpLT        GenericFilterOp = "LT"
	OpLTE       GenericFilterOp = "LTE"
	OpGT        GenericFilterOp = "GT"
	OpGTE       GenericFilterOp = "GTE"
	OpEQ        GenericFilterOp = "EQ"
	OpNEQ       GenericFilterOp = "NEQ"
	OpIN        GenericFilterOp = "IN"
	OpNOTIN     GenericFilterOp = "NOT_IN"
	OpISNULL    GenericFilterOp = "IS_NULL"
	OpISNOTNULL GenericFilterOp = "IS_NOT_NULL"
)

// GenericCondition is one field/op/value predicate.
type GenericCondition struct {
	Field string
	Op    GenericFilterOp
	Value any
}

// GenericSeverityRule escalates severity when its When conditions all hold.
type GenericSeverityRule struct {
	When     []GenericCondition
	Severity string
}

// GenericFilterConfig drives TypeGenericFilter.
type GenericFilterConfig struct {
	CdmModelID      string
	Where           []GenericCondition
	SeverityRules   []GenericSeverityRule
	SummaryTemplate string
}

// ParsedSpec is a validated DefinitionSpec.
type ParsedSpec struct {
	Version int
	Type    DefinitionType
	Config  any
}

type parseResult struct {
	Spec   ParsedSpec
	Valid  bool
	Reason string
}

// parseSignalSpec validates and decodes a Definition's DefinitionSpec map.
// An invalid or absent spec is not an error condition for the caller —
// evalDefinition falls back to unconditional buildInstance when Valid is
// false, matching a CODE-mode definition.
func parseSignalSpec(m map[string]any) parseResult {
	if m == nil {
		return parseResult{Valid: false, Reason: "definitionSpec is empty"}
	}
	version := parseIntVal(m["version"])
	if version != 1 {
		return parseResult{Valid: false, Reason: fmt.Sprintf("unsupported definitionSpec version: %v", m["version"])}
	}
	t, _ := m["type"].(string)
	if t == "" {
		return parseResult{Valid: false, Reason: "definitionSpec.type is required"}
	}
	cfgRaw, ok := m["config"].(map[string]any)
	if !ok {
		return parseResult{Valid: false, Reason: "definitionSpec.config must be an object"}
	}
	switch DefinitionType(t) {
	case TypeWorkStale:
		cfg, err := parseWorkStaleConfig(cfgRaw)
		if err != nil {
			return parseResult{Valid: false, Reason: err.Error()}
		}
		return parseResult{Valid: true, Spec: ParsedSpec{Version: 1, Type: TypeWorkStale, Config: cfg}}
	case TypeDocOrphan:
		cfg, err := parseDocOrphanConfig(cfgRaw)
		if err != nil {
			return parseResult{Valid: false, Reason: err.Error()}
		}
		return parseResult{Valid: true, Spec: ParsedSpec{Version: 1, Type: TypeDocOrphan, Config: cfg}}
	case TypeGenericFilter:
		cfg, err := parseGenericFilterConfig(cfgRaw)
		if err != nil {
			return parseResult{Valid: false, Reason: err.Error()}
		}
		return parseResult{Valid: true, Spec: ParsedSpec{Version: 1, Type: TypeGenericFilter, Config: cfg}}
	default:
		return parseResult{Valid: false, Reason: fmt.Sprintf("unsupported spec type %s", t)}
	}
}

func parseWorkStaleConfig(cfg map[string]any) (WorkStaleConfig, error) {
	if cfg["cdmModelId"] != "cdm.work.item" {
		return WorkStaleConfig{}, fmt.Errorf("cdmModelId must be cdm.work.item")
	}
	maxAge, ok := parseIntervalCfg(cfg["maxAge"])
	if !ok {
		return WorkStaleConfig{}, fmt.Errorf("maxAge is required (days|hours)")
	}
	var sevMap *SeverityMapping
	if m, ok := cfg["severityMapping"].(map[string]any); ok {
		sevMap = &SeverityMapping{}
		if warn, ok := parseIntervalCfg(m["warnAfter"]); ok {
			sevMap.WarnAfter = &warn
		}
		if errAfter, ok := parseIntervalCfg(m["errorAfter"]); ok {
			sevMap.ErrorAfter = &errAfter
		}
		if sevMap.WarnAfter == nil && sevMap.ErrorAfter == nil {
			sevMap = nil
		}
	}
	return WorkStaleConfig{
		CdmModelID:      "cdm.work.item",
		MaxAge:          maxAge,
		StatusInclude:   strSlice(cfg["statusInclude"]),
		StatusExclude:   strSlice(cfg["statusExclude"]),
		ProjectInclude:  strSlice(cfg["projectInclude"]),
		ProjectExclude:  strSlice(cfg["projectExclude"]),
		SeverityMapping: sevMap,
	}, nil
}

func parseDocOrphanConfig(cfg map[string]any) (DocOrphanConfig, error) {
	if cfg["cdmModelId"] != "cdm.doc.item" {
		return DocOrphanConfig{}, fmt.Errorf("cdmModelId must be cdm.doc.item")
	}
	minAge, ok := parseIntervalCfg(cfg["minAge"])
	if !ok {
		return DocOrphanConfig{}, fmt.Errorf("minAge is required (days|hours)")
	}
	return DocOrphanConfig{
		CdmModelID:         "cdm.doc.item",
		MinAge:             minAge,
		MinViewCount:       parseIntPtr(cfg["minViewCount"]),
		RequireProjectLink: parseBoolPtr(cfg["requireProjectLink"]),
		SpaceInclude:       strSlice(cfg["spaceInclude"]),
		SpaceExclude:       strSlice(cfg["spaceExclude"]),
	}, nil
}

func parseGenericFilterConfig(cfg map[string]any) (GenericFilterConfig, error) {
	model, _ := cfg["cdmModelId"].(string)
	if model != "cdm.work.item" && model != "cdm.doc.item" {
		return GenericFilterConfig{}, fmt.Errorf("cdmModelId must be cdm.work.item or cdm.doc.item")
	}
	where, err := parseGenericConditions(cfg["where"], "where")
	if err != nil {
		return GenericFilterConfig{}, err
	}
	severityRules, err := parseSeverityRules(cfg["severityRules"])
	if err != nil {
		return GenericFilterConfig{}, err
	}
	summaryTemplate := strings.TrimSpace(fmt.Sprint(cfg["summaryTemplate"]))
	if summaryTemplate == "" || summaryTemplate == "<nil>" {
		return GenericFilterConfig{}, fmt.Errorf("summaryTemplate is required")
	}
	return GenericFilterConfig{
		CdmModelID:      model,
		Where:           where,
		SeverityRules:   severityRules,
		SummaryTemplate: summaryTemplate,
	}, nil
}

func parseIntervalCfg(v any) (IntervalConfig, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return IntervalConfig{}, false
	}
	unit, _ := m["unit"].(string)
	val := parseIntVal(m["value"])
	if (unit == string(IntervalDays) || unit == string(IntervalHours)) && val > 0 {
		return IntervalConfig{Unit: IntervalUnit(unit), Value: val}, true
	}
	return IntervalConfig{}, false
}

func parseIntPtr(v any) *int {
	if v == nil {
		return nil
	}
	val := parseIntVal(v)
	if val < 0 {
		return nil
	}
	return &val
}

func parseIntVal(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float64:
		return int(t)
	case float32:
		return int(t)
	case string:
		var holder int
		if _, err := fmt.Sscanf(t, "%d", &holder); err == nil {
			return holder
		}
	}
	return -1
}

func parseBoolPtr(v any) *bool {
	if b, ok := v.(bool); ok {
		return &b
	}
	return nil
}

func strSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func parseGenericConditions(v any, label string) ([]GenericCondition, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array", label)
	}
	var out []GenericCondition
	for _, item := range arr {
		cond, err := parseGenericCondition(item)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func parseGenericCondition(v any) (GenericCondition, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return GenericCondition{}, fmt.Errorf("condition must be an object")
	}
	field, _ := m["field"].(string)
	if strings.TrimSpace(field) == "" {
		return GenericCondition{}, fmt.Errorf("condition.field is required")
	}
	opRaw, _ := m["op"].(string)
	if strings.TrimSpace(opRaw) == "" {
		return GenericCondition{}, fmt.Errorf("condition.op is required")
	}
	switch GenericFilterOp(opRaw) {
	case OpLT, OpLTE, OpGT, OpGTE, OpEQ, OpNEQ, OpIN, OpNOTIN, OpISNULL, OpISNOTNULL:
	default:
		return GenericCondition{}, fmt.Errorf("unsupported op %s", opRaw)
	}
	if opRaw == string(OpISNULL) || opRaw == string(OpISNOTNULL) {
		return GenericCondition{Field: field, Op: GenericFilterOp(opRaw)}, nil
	}
	val := m["value"]
	if val == nil {
		return GenericCondition{}, fmt.Errorf("value is required for op %s", opRaw)
	}
	if opRaw == string(OpIN) || opRaw == string(OpNOTIN) {
		arr, ok := val.([]any)
		if !ok || len(arr) == 0 {
			return GenericCondition{}, fmt.Errorf("value for %s must be a non-empty array", opRaw)
		}
		return GenericCondition{Field: field, Op: GenericFilterOp(opRaw), Value: arr}, nil
	}
	return GenericCondition{Field: field, Op: GenericFilterOp(opRaw), Value: val}, nil
}

func parseSeverityRules(v any) ([]GenericSeverityRule, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("severityRules must be an array")
	}
	var out []GenericSeverityRule
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("severityRules entries must be objects")
		}
		when, err := parseGenericConditions(m["when"], "when")
		if err != nil {
			return nil, err
		}
		sev, _ := m["severity"].(string)
		if strings.TrimSpace(sev) == "" {
			return nil, fmt.Errorf("severityRules.severity is required")
		}
		out = append(out, GenericSeverityRule{When: when, Severity: sev})
	}
	return out, nil
}
