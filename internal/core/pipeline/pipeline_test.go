package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/arborvale/valicore/internal/core/admission"
	"github.com/arborvale/valicore/internal/core/breaker"
	"github.com/arborvale/valicore/internal/core/cache"
	"github.com/arborvale/valicore/internal/core/chain"
	"github.com/arborvale/valicore/internal/core/registry"
	"github.com/arborvale/valicore/internal/core/resilience"
	"github.com/arborvale/valicore/internal/core/telemetry"
	"github.com/arborvale/valicore/pkg/valcore"
)

type stubValidator struct {
	lang    string
	result  *valcore.ValidationResult
	err     error
	calls   int
}

func (s *stubValidator) Language() string { return s.lang }
func (s *stubValidator) Capabilities() map[valcore.Capability]struct{} {
	return map[valcore.Capability]struct{}{valcore.CapabilitySyntax: {}}
}
func (s *stubValidator) Validate(ctx context.Context, code []byte, opts valcore.ValidationOptions) (*valcore.ValidationResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	return &r, nil
}

type fakeSampler struct{ snap valcore.ResourceSnapshot }

func (f *fakeSampler) Latest() (valcore.ResourceSnapshot, bool) { return f.snap, true }

func newTestPipeline(t *testing.T, v *stubValidator) (*Pipeline, *registry.Registry) {
	t.Helper()

	cacheMgr, err := cache.NewManager(cache.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error constructing cache manager: %v", err)
	}

	admissionCfg := admission.DefaultConfig()
	admissionCtrl := admission.New(admissionCfg, nil, nil, admission.NewMetrics())
	t.Cleanup(admissionCtrl.Close)

	breakerMgr := breaker.NewManager(breaker.DefaultConfig(), nil, breaker.NewMetrics())
	retryPolicy := resilience.NewCategoryPolicy(nil, breakerMgr, nil, nil)
	aggregator := telemetry.New(testTelemetryConfig(), nil)

	middlewareChain := chain.New(5*time.Second, breakerMgr, retryPolicy, aggregator, nil)

	reg := registry.New(nil)
	if v != nil {
		if err := reg.Register(v.lang, v, valcore.ValidatorMetadata{}); err != nil {
			t.Fatalf("unexpected error registering validator: %v", err)
		}
	}

	sampler := &fakeSampler{snap: valcore.ResourceSnapshot{At: time.Now(), CPUPercent: 10}}

	return New(cacheMgr, admissionCtrl, middlewareChain, reg, aggregator, sampler), reg
}

func testTelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.DurationSampleCapacity = 16
	cfg.ResourceRingCapacity = 16
	cfg.AlertCooldown = 0
	return cfg
}

func TestValidateReturnsValidatorResult(t *testing.T) {
	v := &stubValidator{
		lang: "go",
		result: &valcore.ValidationResult{
			Language: "go",
			State:    valcore.StateCompleted,
		},
	}
	p, _ := newTestPipeline(t, v)

	result, err := p.Validate(context.Background(), &valcore.ValidationRequest{
		RequestID: "r1",
		Code:      []byte("package main"),
		Language:  "go",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected a clean result to be valid, got %+v", result)
	}
	if v.calls != 1 {
		t.Fatalf("expected exactly one validator call, got %d", v.calls)
	}
}

func TestValidateCacheHitSkipsValidator(t *testing.T) {
	v := &stubValidator{
		lang:   "go",
		result: &valcore.ValidationResult{Language: "go", State: valcore.StateCompleted},
	}
	p, _ := newTestPipeline(t, v)

	req := &valcore.ValidationRequest{RequestID: "r1", Code: []byte("package main"), Language: "go"}

	if _, err := p.Validate(context.Background(), req); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if _, err := p.Validate(context.Background(), req); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}

	if v.calls != 1 {
		t.Fatalf("expected the second identical request to hit the cache, got %d validator calls", v.calls)
	}
}

func TestValidateUnsupportedLanguageReturnsFailedResult(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	result, err := p.Validate(context.Background(), &valcore.ValidationRequest{
		RequestID: "r1",
		Code:      []byte("??"),
		Language:  "cobol",
	})
	if err != nil {
		t.Fatalf("unsupported language should surface as a failed Result, not a thrown error: %v", err)
	}
	if result.State != valcore.StateFailed {
		t.Fatalf("expected state=failed, got %v", result.State)
	}
	if len(result.Issues) != 1 || result.Issues[0].Code != string(valcore.ErrKindUnsupportedLanguage) {
		t.Fatalf("expected an unsupported_language issue, got %+v", result.Issues)
	}
}

func TestValidateRejectsMalformedRequestAsThrownError(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	_, err := p.Validate(context.Background(), &valcore.ValidationRequest{RequestID: "r1", Language: "go"})
	if err == nil {
		t.Fatalf("expected a thrown error for a request missing code")
	}
}

func TestValidatePropagatesValidatorFailureAsFailedResult(t *testing.T) {
	v := &stubValidator{lang: "go", err: valcore.NewError(valcore.ErrKindValidatorFailed, "boom")}
	p, _ := newTestPipeline(t, v)

	result, err := p.Validate(context.Background(), &valcore.ValidationRequest{
		RequestID: "r1", Code: []byte("x"), Language: "go",
	})
	if err != nil {
		t.Fatalf("unexpected thrown error, expected a failed Result: %v", err)
	}
	if result.State != valcore.StateFailed {
		t.Fatalf("expected state=failed, got %v", result.State)
	}
}

func TestValidateMarksPartialOnMiddlewareFailureWithoutBlockingIssue(t *testing.T) {
	v := &stubValidator{
		lang:   "go",
		result: &valcore.ValidationResult{Language: "go", State: valcore.StateCompleted},
	}
	p, reg := newTestPipeline(t, v)
	_ = reg

	failing := chain.Stage{
		Descriptor: chain.Descriptor{Name: "annotate", Order: 1, ContinueOnFailure: true},
		Process: func(ctx context.Context, req *valcore.ValidationRequest, next chain.Next) (*valcore.ValidationResult, error) {
			return nil, valcore.NewError(valcore.ErrKindMiddlewareFailed, "annotation unavailable")
		},
	}
	p.chain.Add(failing)

	result, err := p.Validate(context.Background(), &valcore.ValidationRequest{
		RequestID: "r2", Code: []byte("package main"), Language: "go",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Partial {
		t.Fatalf("expected Partial=true when a continue-on-failure stage fails but the result stays valid")
	}
	if result.State != valcore.StateCompletedWithErrors {
		t.Fatalf("expected state=completed_with_errors, got %v", result.State)
	}
}
