package insight

import "testing"

func TestNewRegistry_LoadsEmbeddedDefaultSkills(t *testing.T) {
	reg := NewRegistry("")
	for _, id := range []string{"doc-insight.v1", "work-insight.v1", "generic-insight.v1"} {
		skill := reg.Get(id)
		if skill.Template == "" {
			t.Errorf("expected embedded skill %q to have a template", id)
		}
	}
}

func TestSelect_PicksProfileBySourceFamily(t *testing.T) {
	cases := map[string]string{
		"confluence": "doc-insight.v1",
		"onedrive":   "doc-insight.v1",
		"jira":       "work-insight.v1",
		"github":     "generic-insight.v1",
	}
	for fam, want := range cases {
		if got := Select(fam); got != want {
			t.Errorf("Select(%q) = %q, want %q", fam, got, want)
		}
	}
}

func TestRegistry_Get_UnknownIDReturnsUsableDefault(t *testing.T) {
	reg := NewRegistry("")
	skill := reg.Get("not-a-real-skill")
	if skill.ID != "not-a-real-skill" {
		t.Errorf("expected fallback skill to keep the requested ID, got %q", skill.ID)
	}
	if len(skill.RequiredFields) != 0 {
		t.Error("expected fallback skill to have no required fields")
	}
}
