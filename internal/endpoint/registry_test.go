package endpoint

import (
	"context"
	"testing"

	"github.com/nucleus-metadata/ingest-core/internal/coreerr"
)

type fakeEndpoint struct{ id string }

func (f *fakeEndpoint) ID() string { return f.id }
func (f *fakeEndpoint) ValidateConfig(ctx context.Context, config map[string]any) (*ValidationResult, error) {
	return &ValidationResult{Valid: true}, nil
}
func (f *fakeEndpoint) GetCapabilities() *Capabilities { return &Capabilities{} }
func (f *fakeEndpoint) GetDescriptor() *Descriptor     { return &Descriptor{TemplateID: f.id} }
func (f *fakeEndpoint) Close() error                   { return nil }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("fake.template", func(config map[string]any) (Endpoint, error) {
		return &fakeEndpoint{id: "fake.template"}, nil
	})

	factory, ok := r.Get("fake.template")
	if !ok {
		t.Fatal("expected factory to be registered")
	}
	ep, err := factory(nil)
	if err != nil {
		t.Fatalf("factory returned error: %v", err)
	}
	if ep.ID() != "fake.template" {
		t.Errorf("ID() = %q, want %q", ep.ID(), "fake.template")
	}
}

func TestRegistry_RegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	factory := func(config map[string]any) (Endpoint, error) { return &fakeEndpoint{}, nil }
	r.Register("dup", factory)

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	r.Register("dup", factory)
}

func TestRegistry_CreateUnknownTemplateReturnsCoded(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("missing", nil)
	if err == nil {
		t.Fatal("expected error for unknown template")
	}
	code, retryable := coreerr.Classify(err)
	if code != coreerr.CodeEndpointNotFound {
		t.Errorf("code = %q, want %q", code, coreerr.CodeEndpointNotFound)
	}
	if retryable {
		t.Error("expected endpoint-not-found to be non-retryable")
	}
}

func TestRegistry_CreateRecoversFactoryPanic(t *testing.T) {
	r := NewRegistry()
	r.Register("panicky", func(config map[string]any) (Endpoint, error) {
		panic("boom")
	})
	_, err := r.Create("panicky", nil)
	if err == nil {
		t.Fatal("expected panic to be recovered as an error")
	}
	code, retryable := coreerr.Classify(err)
	if code != coreerr.CodeUnknown {
		t.Errorf("code = %q, want %q", code, coreerr.CodeUnknown)
	}
	if !retryable {
		t.Error("expected recovered panic to be retryable")
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func(config map[string]any) (Endpoint, error) { return nil, nil })
	r.Register("b", func(config map[string]any) (Endpoint, error) { return nil, nil })

	ids := r.List()
	if len(ids) != 2 {
		t.Fatalf("List() returned %d ids, want 2", len(ids))
	}
}

func TestCDMRegistry_MapperAndModels(t *testing.T) {
	c := NewCDMRegistry()
	if _, ok := c.Mapper("unregistered"); ok {
		t.Error("expected no mapper for unregistered dataset")
	}

	c.RegisterMapper("dataset-1", func(rec Record) (Record, error) { return rec, nil })
	mapper, ok := c.Mapper("dataset-1")
	if !ok {
		t.Fatal("expected mapper to be registered")
	}
	rec := Record{"a": 1}
	out, err := mapper(rec)
	if err != nil || out["a"] != 1 {
		t.Errorf("mapper round trip failed: out=%v err=%v", out, err)
	}

	c.DeclareModels("tmpl", []string{"ModelA", "ModelB"})
	models := c.Models("tmpl")
	if len(models) != 2 || models[0] != "ModelA" {
		t.Errorf("Models() = %v, want [ModelA ModelB]", models)
	}

	// Returned slice must not alias internal storage.
	models[0] = "mutated"
	if c.Models("tmpl")[0] != "ModelA" {
		t.Error("Models() leaked internal slice to caller mutation")
	}
}

func TestDiscoveryRegistry_DeclareAndTraits(t *testing.T) {
	d := NewDiscoveryRegistry()
	d.Declare("tmpl", TraitSource, TraitIncremental)

	traits := d.Traits("tmpl")
	if len(traits) != 2 || traits[0] != TraitSource || traits[1] != TraitIncremental {
		t.Errorf("Traits() = %v, want [source incremental]", traits)
	}
	if got := d.Traits("unknown"); got != nil {
		t.Errorf("Traits(unknown) = %v, want nil", got)
	}
}

func TestProbeTraits_BaseEndpointHasNoTraits(t *testing.T) {
	traits := ProbeTraits(&fakeEndpoint{id: "plain"})
	if len(traits) != 0 {
		t.Errorf("ProbeTraits() = %v, want empty for a bare Endpoint", traits)
	}
}
