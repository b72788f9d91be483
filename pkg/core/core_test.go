package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborvale/valicore/internal/core/admission"
	"github.com/arborvale/valicore/internal/core/breaker"
	"github.com/arborvale/valicore/internal/core/cache"
	"github.com/arborvale/valicore/internal/core/chain"
	"github.com/arborvale/valicore/internal/core/pipeline"
	"github.com/arborvale/valicore/internal/core/registry"
	"github.com/arborvale/valicore/internal/core/resilience"
	"github.com/arborvale/valicore/internal/core/telemetry"
	"github.com/arborvale/valicore/pkg/valcore"
)

type stubValidator struct {
	lang   string
	result *valcore.ValidationResult
	calls  int
}

func (s *stubValidator) Language() string { return s.lang }
func (s *stubValidator) Capabilities() map[valcore.Capability]struct{} {
	return map[valcore.Capability]struct{}{valcore.CapabilitySyntax: {}}
}
func (s *stubValidator) Validate(ctx context.Context, code []byte, opts valcore.ValidationOptions) (*valcore.ValidationResult, error) {
	s.calls++
	r := *s.result
	return &r, nil
}

type fakeSampler struct{ snap valcore.ResourceSnapshot }

func (f *fakeSampler) Latest() (valcore.ResourceSnapshot, bool) { return f.snap, true }

func newTestCore(t *testing.T) (*Core, *stubValidator) {
	t.Helper()

	cacheMgr, err := cache.NewManager(cache.DefaultConfig(), nil)
	require.NoError(t, err)

	admissionCtrl := admission.New(admission.DefaultConfig(), nil, nil, admission.NewMetrics())
	t.Cleanup(admissionCtrl.Close)

	breakerMgr := breaker.NewManager(breaker.DefaultConfig(), nil, breaker.NewMetrics())
	retryPolicy := resilience.NewCategoryPolicy(nil, breakerMgr, nil, nil)

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.AlertCooldown = 0
	aggregator := telemetry.New(telemetryCfg, nil)

	middlewareChain := chain.New(5*time.Second, breakerMgr, retryPolicy, aggregator, nil)
	reg := registry.New(nil)

	v := &stubValidator{
		lang:   "go",
		result: &valcore.ValidationResult{Language: "go", State: valcore.StateCompleted},
	}
	require.NoError(t, reg.Register(v.lang, v, valcore.ValidatorMetadata{}))

	sampler := &fakeSampler{snap: valcore.ResourceSnapshot{At: time.Now(), CPUPercent: 10}}
	p := pipeline.New(cacheMgr, admissionCtrl, middlewareChain, reg, aggregator, sampler)

	return New(p, reg, middlewareChain, aggregator, breakerMgr), v
}

func TestCoreValidateDelegatesToPipeline(t *testing.T) {
	c, v := newTestCore(t)

	result, err := c.Validate(context.Background(), &valcore.ValidationRequest{
		RequestID: "r1",
		Code:      []byte("package main"),
		Language:  "go",
	})
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, 1, v.calls)
}

func TestCoreListValidatorsReflectsRegistry(t *testing.T) {
	c, _ := newTestCore(t)
	assert.Contains(t, c.ListValidators(), "go")
}

func TestCoreRegisterAndUnregisterValidator(t *testing.T) {
	c, _ := newTestCore(t)
	py := &stubValidator{lang: "python", result: &valcore.ValidationResult{Language: "python"}}

	require.NoError(t, c.RegisterValidator("python", py, valcore.ValidatorMetadata{}))
	assert.Contains(t, c.ListValidators(), "python")

	require.NoError(t, c.UnregisterValidator("python"))
	assert.NotContains(t, c.ListValidators(), "python")
}

func TestCoreAddAndRemoveMiddleware(t *testing.T) {
	c, _ := newTestCore(t)
	called := false
	c.AddMiddleware(chain.Stage{
		Descriptor: chain.Descriptor{Name: "probe", Order: 1},
		Process: func(ctx context.Context, req *valcore.ValidationRequest, next chain.Next) (*valcore.ValidationResult, error) {
			called = true
			return next(ctx)
		},
	})

	_, err := c.Validate(context.Background(), &valcore.ValidationRequest{
		RequestID: "r2",
		Code:      []byte("package main"),
		Language:  "go",
	})
	require.NoError(t, err)
	assert.True(t, called)

	c.RemoveMiddleware("probe")
}

func TestCoreCircuitStateDefaultsToClosed(t *testing.T) {
	c, _ := newTestCore(t)
	assert.Equal(t, valcore.BreakerClosed, c.CircuitState("never-seen"))
}

func TestCoreSubscribeAlertsReceivesAlert(t *testing.T) {
	c, _ := newTestCore(t)
	received := make(chan valcore.Alert, 1)
	c.SubscribeAlerts(func(a valcore.Alert) { received <- a })

	c.telemetry.RecordResource(valcore.ResourceSnapshot{
		At:         time.Now(),
		CPUPercent: 99,
	})

	select {
	case a := <-received:
		assert.Equal(t, "cpu", a.Resource)
	case <-time.After(time.Second):
		t.Fatal("expected a CPU alert to fire")
	}
}

func TestCoreCurrentAndHistoricalMetrics(t *testing.T) {
	c, _ := newTestCore(t)
	c.telemetry.RecordExecution("probe", true, 10*time.Millisecond)

	summary := c.CurrentMetrics()
	assert.Contains(t, summary.Middleware, "probe")

	c.telemetry.RecordResource(valcore.ResourceSnapshot{At: time.Now(), CPUPercent: 5})
	history := c.HistoricalMetrics(time.Hour)
	assert.NotEmpty(t, history)
}
