package valcore

import "testing"

func TestFingerprintStableUnderMapOrder(t *testing.T) {
	opts1 := ValidationOptions{
		Syntax: true,
		CustomRules: map[string]string{
			"a": "rule-a",
			"b": "rule-b",
		},
		ExcludeRules: map[string]struct{}{
			"x": {},
			"y": {},
		},
	}
	opts2 := ValidationOptions{
		Syntax: true,
		CustomRules: map[string]string{
			"b": "rule-b",
			"a": "rule-a",
		},
		ExcludeRules: map[string]struct{}{
			"y": {},
			"x": {},
		},
	}

	f1, err := Fingerprint("py", []byte("x=1"), opts1)
	if err != nil {
		t.Fatalf("fingerprint 1: %v", err)
	}
	f2, err := Fingerprint("py", []byte("x=1"), opts2)
	if err != nil {
		t.Fatalf("fingerprint 2: %v", err)
	}
	if f1 != f2 {
		t.Fatalf("expected equal fingerprints regardless of map order, got %s != %s", f1, f2)
	}
}

func TestFingerprintDiffersOnCodeChange(t *testing.T) {
	opts := ValidationOptions{Syntax: true}
	f1, _ := Fingerprint("py", []byte("x=1"), opts)
	f2, _ := Fingerprint("py", []byte("x=2"), opts)
	if f1 == f2 {
		t.Fatalf("expected different fingerprints for different code")
	}
}

func TestHasBlockingIssue(t *testing.T) {
	r := &ValidationResult{Issues: []Issue{{Severity: SeverityWarning}}}
	if r.HasBlockingIssue() {
		t.Fatalf("warning alone should not block")
	}
	r.Issues = append(r.Issues, Issue{Severity: SeverityError})
	if !r.HasBlockingIssue() {
		t.Fatalf("expected error severity to block")
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := WrapError(ErrKindTimeout, "deadline exceeded", nil)
	if !err.Is(NewError(ErrKindTimeout, "")) {
		t.Fatalf("expected Is to match on kind alone")
	}
	if err.Is(NewError(ErrKindQueueFull, "")) {
		t.Fatalf("did not expect mismatched kind to match")
	}
}
