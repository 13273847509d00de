package insight

import (
	"encoding/json"
	"strings"
)

// parseInsightJSON parses an LLM response as either a single Insight
// object or an array, capping an array response at max entries.
func parseInsightJSON(resp string, max int) ([]Insight, error) {
	var single Insight
	if err := json.Unmarshal([]byte(resp), &single); err == nil && single.Summary.Text != "" {
		normalize(&single)
		return []Insight{single}, nil
	}
	var list []Insight
	if err := json.Unmarshal([]byte(resp), &list); err != nil {
		return nil, err
	}
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	for i := range list {
		normalize(&list[i])
	}
	return list, nil
}

func normalize(ins *Insight) {
	if ins == nil {
		return
	}
	if strings.TrimSpace(ins.Sentiment.Label) == "" {
		ins.Sentiment.Label = "neutral"
	}
	if ins.Sentiment.Score == 0 && strings.ToLower(ins.Sentiment.Label) == "negative" {
		ins.Sentiment.Score = -0.1
	}
	if ins.Sentiment.Tones == nil {
		ins.Sentiment.Tones = []string{}
	}
	if ins.Signals == nil {
		ins.Signals = []Signal{}
	}
	if ins.WaitingOn == nil {
		ins.WaitingOn = []string{}
	}
	if ins.Metadata == nil {
		ins.Metadata = map[string]any{}
	}
	if ins.Tags == nil {
		ins.Tags = []string{}
	}
	for i := range ins.Signals {
		sev := strings.ToLower(ins.Signals[i].Severity)
		if sev == "" {
			sev = "low"
		}
		ins.Signals[i].Severity = sev
		if ins.Signals[i].Metadata == nil {
			ins.Signals[i].Metadata = map[string]any{}
		}
	}
}

// validate requires a non-empty summary; invalid insights are dropped by
// the caller rather than surfaced.
func validate(ins Insight) bool {
	if strings.TrimSpace(ins.Summary.Text) == "" {
		return false
	}
	if ins.Sentiment.Label == "" {
		ins.Sentiment.Label = "neutral"
	}
	return true
}
