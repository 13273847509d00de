package signal

import "strings"

// deriveEntityRef picks the record's identity for signal instance tracking.
func deriveEntityRef(rec map[string]any) string {
	if v, ok := rec["entityRef"].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if v, ok := rec["id"].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if v, ok := rec["key"].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return ""
}

// deriveEntityKind picks the record's kind, falling back to the dataset
// slug and then the lowercased source family.
func deriveEntityKind(rec map[string]any, datasetSlug, sourceFamily string) string {
	if v, ok := rec["entityKind"].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if strings.TrimSpace(datasetSlug) != "" {
		return datasetSlug
	}
	return strings.ToLower(strings.TrimSpace(sourceFamily))
}
