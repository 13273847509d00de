package insight

import (
	"fmt"
	"strings"
)

// buildParams flattens payload one level into a string-keyed map (nested
// maps become "outer.inner" keys), applies an entityKind-scoped nested
// section if present, and reports whether every skill.RequiredFields
// entry resolved to a non-empty value (checking the entityKind-prefixed
// alias before giving up).
func buildParams(skill Skill, payload map[string]any, entityKind string) (map[string]string, bool) {
	params := make(map[string]string, len(payload))
	for k, v := range payload {
		if m, ok := v.(map[string]any); ok {
			for innerK, innerV := range m {
				params[k+"."+innerK] = toString(innerV)
			}
			continue
		}
		params[k] = toString(v)
	}
	if ekMap, ok := payload[entityKind].(map[string]any); ok {
		for k, v := range ekMap {
			params[entityKind+"."+k] = toString(v)
		}
	}
	for _, req := range skill.RequiredFields {
		if strings.TrimSpace(params[req]) != "" {
			continue
		}
		if entityKind != "" {
			if v, ok := params[entityKind+"."+req]; ok && strings.TrimSpace(v) != "" {
				params[req] = v
				continue
			}
		}
		return nil, false
	}
	return params, true
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		return fmt.Sprintf("%v", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
