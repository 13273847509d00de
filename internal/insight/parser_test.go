package insight

import "testing"

func TestParseInsightJSON_SingleObject(t *testing.T) {
	resp := `{"summary": {"text": "All good", "confidence": 0.8}, "sentiment": {"label": "positive"}}`
	insights, err := parseInsightJSON(resp, 3)
	if err != nil {
		t.Fatalf("parseInsightJSON: %v", err)
	}
	if len(insights) != 1 || insights[0].Summary.Text != "All good" {
		t.Fatalf("unexpected insights: %+v", insights)
	}
	if insights[0].Sentiment.Tones == nil {
		t.Error("expected normalize to default Tones to an empty slice")
	}
}

func TestParseInsightJSON_ArrayCappedAtMax(t *testing.T) {
	resp := `[{"summary": {"text": "a"}}, {"summary": {"text": "b"}}, {"summary": {"text": "c"}}]`
	insights, err := parseInsightJSON(resp, 2)
	if err != nil {
		t.Fatalf("parseInsightJSON: %v", err)
	}
	if len(insights) != 2 {
		t.Fatalf("expected array capped at 2, got %d", len(insights))
	}
}

func TestNormalize_DefaultsNeutralSentimentAndLowercasesSeverity(t *testing.T) {
	ins := &Insight{Summary: Summary{Text: "x"}, Signals: []Signal{{Severity: "HIGH"}}}
	normalize(ins)
	if ins.Sentiment.Label != "neutral" {
		t.Errorf("expected default sentiment label neutral, got %q", ins.Sentiment.Label)
	}
	if ins.Signals[0].Severity != "high" {
		t.Errorf("expected severity lowercased, got %q", ins.Signals[0].Severity)
	}
}

func TestValidate_RejectsEmptySummary(t *testing.T) {
	if validate(Insight{}) {
		t.Error("expected an insight with no summary text to fail validation")
	}
	if !validate(Insight{Summary: Summary{Text: "ok"}}) {
		t.Error("expected an insight with summary text to pass validation")
	}
}
