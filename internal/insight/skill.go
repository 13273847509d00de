package insight

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed skills/*.yaml
var defaultSkillFS embed.FS

// Registry holds skills keyed by ID, loaded once at construction and
// safe for concurrent reads thereafter.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry loads skills from dir if non-empty, otherwise from the
// three skills embedded in the module.
func NewRegistry(dir string) *Registry {
	r := &Registry{skills: map[string]Skill{}}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		r.loadEmbedded()
		return r
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.loadEmbedded()
		return r
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".yaml") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			continue
		}
		if skill, ok := parseSkill(b); ok {
			r.skills[skill.ID] = skill
		}
	}
	if len(r.skills) == 0 {
		r.loadEmbedded()
	}
	return r
}

func (r *Registry) loadEmbedded() {
	entries, err := fs.ReadDir(defaultSkillFS, "skills")
	if err != nil {
		return
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".yaml") {
			continue
		}
		b, err := defaultSkillFS.ReadFile("skills/" + ent.Name())
		if err != nil {
			continue
		}
		if skill, ok := parseSkill(b); ok {
			r.skills[skill.ID] = skill
		}
	}
}

type rawSkill struct {
	ID          string `yaml:"id"`
	Template    string `yaml:"template"`
	InputSchema struct {
		Required []string `yaml:"required"`
	} `yaml:"inputSchema"`
	Model struct {
		Provider    string   `yaml:"provider"`
		Name        string   `yaml:"name"`
		Temperature *float64 `yaml:"temperature"`
	} `yaml:"model"`
	Cache struct {
		Enabled    bool `yaml:"enabled"`
		TTLSeconds int  `yaml:"ttlSeconds"`
	} `yaml:"cache"`
	PreferCDM bool `yaml:"preferCdm"`
}

func parseSkill(b []byte) (Skill, bool) {
	var raw rawSkill
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Skill{}, false
	}
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return Skill{}, false
	}
	skill := Skill{
		ID:              id,
		Template:        raw.Template,
		RequiredFields:  raw.InputSchema.Required,
		CacheTTLSeconds: raw.Cache.TTLSeconds,
		ModelProvider:   strings.TrimSpace(raw.Model.Provider),
		ModelName:       strings.TrimSpace(raw.Model.Name),
		ModelTemp:       0.2,
		MaxInsights:     3,
		PreferCDM:       raw.PreferCDM,
	}
	if raw.Model.Temperature != nil {
		skill.ModelTemp = *raw.Model.Temperature
	}
	return skill, true
}

// Select picks a skill ID by source family: doc-ish families get
// doc-insight.v1, work-ish families get work-insight.v1, everything else
// gets generic-insight.v1.
func Select(sourceFamily string) string {
	fam := strings.ToLower(sourceFamily)
	switch {
	case strings.Contains(fam, "confluence"), strings.Contains(fam, "onedrive"), strings.Contains(fam, "doc"):
		return "doc-insight.v1"
	case strings.Contains(fam, "jira"), strings.Contains(fam, "work"):
		return "work-insight.v1"
	default:
		return "generic-insight.v1"
	}
}

// Get returns a skill by ID, falling back to an untemplated default with
// no required fields so unknown profile IDs still degrade gracefully.
func (r *Registry) Get(id string) Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.skills[id]; ok {
		return s
	}
	return Skill{ID: id, ModelTemp: 0.2, MaxInsights: 3}
}
