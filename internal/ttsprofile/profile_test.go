package ttsprofile

import (
	"context"
	"errors"
	"testing"

	"github.com/apresai/voicetutor/internal/cachekey"
)

// fakeRepo is an in-memory Repo sufficient for the business-rule tests
// below; persistence behavior itself is covered by the postgres store's
// compile-time interface assertion.
type fakeRepo struct {
	profiles map[string]*Profile
	bindings []*ModuleProfileBinding
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{profiles: make(map[string]*Profile)}
}

func (f *fakeRepo) CreateProfile(ctx context.Context, p *Profile) error {
	cp := *p
	f.profiles[p.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateProfile(ctx context.Context, p *Profile) error {
	cp := *p
	f.profiles[p.ID] = &cp
	return nil
}

func (f *fakeRepo) GetProfile(ctx context.Context, id string) (*Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetProfileByName(ctx context.Context, name string) (*Profile, error) {
	for _, p := range f.profiles {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListProfiles(ctx context.Context, includeInactive bool) ([]*Profile, error) {
	var out []*Profile
	for _, p := range f.profiles {
		if includeInactive || p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteProfile(ctx context.Context, id string) error {
	delete(f.profiles, id)
	return nil
}

func (f *fakeRepo) ClearDefaults(ctx context.Context) error {
	for _, p := range f.profiles {
		p.IsDefault = false
	}
	return nil
}

func (f *fakeRepo) SetDefault(ctx context.Context, id string) error {
	p, ok := f.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.IsDefault = true
	return nil
}

func (f *fakeRepo) GetDefaultProfile(ctx context.Context) (*Profile, error) {
	for _, p := range f.profiles {
		if p.IsDefault && p.IsActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) UpsertBinding(ctx context.Context, b *ModuleProfileBinding) error {
	f.bindings = append(f.bindings, b)
	return nil
}

func (f *fakeRepo) BindingsForModule(ctx context.Context, moduleID string) ([]*ModuleProfileBinding, error) {
	var out []*ModuleProfileBinding
	for _, b := range f.bindings {
		if b.ModuleID == moduleID {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestCreateProfileRejectsUnknownProvider(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, "", nil)
	_, err := m.CreateProfile(context.Background(), &Profile{Name: "p", Provider: "bogus", VoiceID: "v"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestCreateProfileRejectsChatterboxFieldsForOtherProviders(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, "", nil)
	ex := 0.5
	_, err := m.CreateProfile(context.Background(), &Profile{
		Name: "p", Provider: cachekey.ProviderPiper, VoiceID: "v",
		Settings: Settings{Speed: 1.0, Exaggeration: &ex},
	})
	if !errors.Is(err, ErrChatterboxFields) {
		t.Fatalf("expected ErrChatterboxFields, got %v", err)
	}
}

func TestCreateProfileRejectsDuplicateName(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, "", nil)
	if _, err := m.CreateProfile(context.Background(), &Profile{Name: "dup", Provider: cachekey.ProviderPiper, VoiceID: "v"}); err != nil {
		t.Fatalf("unexpected error on first create: %v", err)
	}
	_, err := m.CreateProfile(context.Background(), &Profile{Name: "dup", Provider: cachekey.ProviderPiper, VoiceID: "v2"})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestSetDefaultRejectsInactiveAndClearsOthers(t *testing.T) {
	repo := newFakeRepo()
	m := NewManager(repo, nil, "", nil)

	a, _ := m.CreateProfile(context.Background(), &Profile{Name: "a", Provider: cachekey.ProviderPiper, VoiceID: "v"})
	b, _ := m.CreateProfile(context.Background(), &Profile{Name: "b", Provider: cachekey.ProviderPiper, VoiceID: "v"})

	if err := m.SetDefault(context.Background(), a.ID); err != nil {
		t.Fatalf("set default a: %v", err)
	}
	if err := m.SetDefault(context.Background(), b.ID); err != nil {
		t.Fatalf("set default b: %v", err)
	}

	defaults := 0
	for _, p := range repo.profiles {
		if p.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default after swap, got %d", defaults)
	}

	if err := m.Deactivate(context.Background(), b.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := m.SetDefault(context.Background(), b.ID); !errors.Is(err, ErrInactiveDefault) {
		t.Fatalf("expected ErrInactiveDefault for inactive profile, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, "", nil)
	orig, err := m.CreateProfile(context.Background(), &Profile{
		Name: "narrator", Provider: cachekey.ProviderVibeVoice, VoiceID: "nova",
		Settings: Settings{Speed: 1.1}, Description: "story voice", Tags: []string{"narration"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	e, err := m.Export(context.Background(), orig.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	e.Name = "narrator-copy"
	imported, err := m.Import(context.Background(), e)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.ID == orig.ID {
		t.Fatal("expected import to mint a new profile identity")
	}
	if imported.VoiceID != "nova" || imported.Settings.Speed != 1.1 || imported.Description != "story voice" {
		t.Fatalf("imported profile lost values: %+v", imported)
	}
}

func TestGetBestProfileForModulePrefersPriorityThenDefault(t *testing.T) {
	repo := newFakeRepo()
	m := NewManager(repo, nil, "", nil)

	low, _ := m.CreateProfile(context.Background(), &Profile{Name: "low", Provider: cachekey.ProviderPiper, VoiceID: "v"})
	high, _ := m.CreateProfile(context.Background(), &Profile{Name: "high", Provider: cachekey.ProviderPiper, VoiceID: "v"})
	def, _ := m.CreateProfile(context.Background(), &Profile{Name: "def", Provider: cachekey.ProviderPiper, VoiceID: "v"})
	m.SetDefault(context.Background(), def.ID)

	m.BindModule(context.Background(), &ModuleProfileBinding{ModuleID: "mod1", ProfileID: low.ID, Priority: 1})
	m.BindModule(context.Background(), &ModuleProfileBinding{ModuleID: "mod1", ProfileID: high.ID, Priority: 5})

	got, err := m.GetBestProfileForModule(context.Background(), "mod1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != high.ID {
		t.Fatalf("expected highest-priority binding to win, got %s", got.Name)
	}

	fallback, err := m.GetBestProfileForModule(context.Background(), "unbound-module", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fallback == nil || fallback.ID != def.ID {
		t.Fatalf("expected system default fallback, got %+v", fallback)
	}
}
