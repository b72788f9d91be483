package registry

import (
	"context"
	"testing"

	"github.com/arborvale/valicore/pkg/valcore"
)

type stubValidator struct {
	lang string
	caps map[valcore.Capability]struct{}
}

func (s *stubValidator) Language() string                        { return s.lang }
func (s *stubValidator) Capabilities() map[valcore.Capability]struct{} { return s.caps }
func (s *stubValidator) Validate(ctx context.Context, code []byte, opts valcore.ValidationOptions) (*valcore.ValidationResult, error) {
	return &valcore.ValidationResult{Language: s.lang, State: valcore.StateCompleted, IsValid: true}, nil
}

func newStub(lang string) *stubValidator {
	return &stubValidator{lang: lang, caps: map[valcore.Capability]struct{}{valcore.CapabilitySyntax: {}}}
}

func TestRegisterGetList(t *testing.T) {
	r := New(nil)
	if err := r.Register("go", newStub("go"), valcore.ValidatorMetadata{Version: "1.0"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register("python", newStub("python"), valcore.ValidatorMetadata{Version: "1.0"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, err := r.Get("go")
	if err != nil || v.Language() != "go" {
		t.Fatalf("expected to get back the go validator, got %v err=%v", v, err)
	}

	list := r.List()
	if len(list) != 2 || list[0] != "go" || list[1] != "python" {
		t.Fatalf("expected sorted [go python], got %v", list)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New(nil)
	if err := r.Register("go", newStub("go"), valcore.ValidatorMetadata{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.Register("go", newStub("go"), valcore.ValidatorMetadata{})
	if _, ok := err.(*DuplicateError); !ok {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
}

func TestRegisterMissingNonOptionalDependencyFails(t *testing.T) {
	r := New(nil)
	meta := valcore.ValidatorMetadata{
		Dependencies: []valcore.Dependency{{Language: "base", Optional: false}},
	}
	err := r.Register("derived", newStub("derived"), meta)
	if _, ok := err.(*MissingDependencyError); !ok {
		t.Fatalf("expected MissingDependencyError, got %v", err)
	}
}

func TestRegisterOptionalMissingDependencySucceeds(t *testing.T) {
	r := New(nil)
	meta := valcore.ValidatorMetadata{
		Dependencies: []valcore.Dependency{{Language: "base", Optional: true}},
	}
	if err := r.Register("derived", newStub("derived"), meta); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestRegisterRejectsCycle exercises the end-to-end Register path: b depends
// on a (forward edge, fine); c names a not-yet-registered optional dependency
// d, so a registration attempt for d that depends back on c would close a
// loop and is rejected before it ever reaches the map. The cycle detector's
// own shapes (mutual, 3-node, through an optional edge) are also verified
// directly, since the Register API can only ever construct a cycle at the
// moment of the closing registration.
func TestRegisterRejectsCycle(t *testing.T) {
	r := New(nil)
	if err := r.Register("a", newStub("a"), valcore.ValidatorMetadata{}); err != nil {
		t.Fatalf("unexpected error registering a: %v", err)
	}
	if err := r.Register("b", newStub("b"), valcore.ValidatorMetadata{
		Dependencies: []valcore.Dependency{{Language: "a"}},
	}); err != nil {
		t.Fatalf("unexpected error registering b: %v", err)
	}
	if err := r.Register("c", newStub("c"), valcore.ValidatorMetadata{
		Dependencies: []valcore.Dependency{{Language: "d", Optional: true}},
	}); err != nil {
		t.Fatalf("unexpected error registering c: %v", err)
	}
	err := r.Register("d", newStub("d"), valcore.ValidatorMetadata{
		Dependencies: []valcore.Dependency{{Language: "c"}},
	})
	if _, ok := err.(*CycleError); !ok {
		t.Fatalf("expected CycleError when d closes the c->d->c loop, got %v", err)
	}
	if _, getErr := r.Get("d"); getErr == nil {
		t.Fatalf("expected the rejected registration to leave d unregistered")
	}

	if cyc := detectCycle(map[string]valcore.ValidatorMetadata{
		"x": {Dependencies: []valcore.Dependency{{Language: "y"}}},
		"y": {Dependencies: []valcore.Dependency{{Language: "x"}}},
	}, "x"); cyc == nil {
		t.Fatalf("expected detectCycle to find the mutual x<->y cycle")
	}

	if cyc := detectCycle(map[string]valcore.ValidatorMetadata{
		"p": {Dependencies: []valcore.Dependency{{Language: "q"}}},
		"q": {Dependencies: []valcore.Dependency{{Language: "r"}}},
		"r": {Dependencies: []valcore.Dependency{{Language: "p"}}},
	}, "p"); cyc == nil {
		t.Fatalf("expected detectCycle to find the p->q->r->p cycle")
	}

	if cyc := detectCycle(map[string]valcore.ValidatorMetadata{
		"m": {Dependencies: []valcore.Dependency{{Language: "n"}}},
		"n": {Dependencies: []valcore.Dependency{{Language: "m", Optional: true}}},
	}, "m"); cyc == nil {
		t.Fatalf("expected detectCycle to find the cycle even through an optional edge")
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New(nil)
	r.Register("go", newStub("go"), valcore.ValidatorMetadata{})
	if err := r.Unregister("go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Get("go"); err == nil {
		t.Fatalf("expected NotFoundError after unregister")
	}
}

func TestHealthCheckerRecordsOutcome(t *testing.T) {
	r := New(nil)
	r.Register("go", newStub("go"), valcore.ValidatorMetadata{})

	checker := NewHealthChecker(r, func(ctx context.Context, v valcore.Validator) valcore.Health {
		return valcore.Health{Healthy: true}
	}, 0, 0, nil)
	checker.RunOnce()

	entry, err := r.Metadata("go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entry.Health.Healthy {
		t.Fatalf("expected health check to record healthy=true")
	}
}
