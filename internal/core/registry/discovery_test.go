package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborvale/valicore/pkg/valcore"
)

type discoveryStubValidator struct{ lang string }

func (s *discoveryStubValidator) Language() string { return s.lang }
func (s *discoveryStubValidator) Capabilities() map[valcore.Capability]struct{} {
	return map[valcore.Capability]struct{}{valcore.CapabilitySyntax: {}}
}
func (s *discoveryStubValidator) Validate(ctx context.Context, code []byte, opts valcore.ValidationOptions) (*valcore.ValidationResult, error) {
	return &valcore.ValidationResult{Language: s.lang, State: valcore.StateCompleted}, nil
}

// pathLoader treats the file's own content as the language tag it registers,
// avoiding any real plug-in format.
type pathLoader struct{}

func (pathLoader) Load(path string) (valcore.Validator, valcore.ValidatorMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, valcore.ValidatorMetadata{}, err
	}
	lang := string(data)
	return &discoveryStubValidator{lang: lang}, valcore.ValidatorMetadata{Provider: "discovery-test"}, nil
}

func TestDiscoveryRegistersOnFileCreate(t *testing.T) {
	dir := t.TempDir()
	reg := New(nil)
	metrics := NewDiscoveryMetrics()

	d, err := NewDiscovery(reg, pathLoader{}, []string{dir}, 10*time.Millisecond, nil, metrics)
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "rust.plugin"), []byte("rust"), 0o644))

	require.Eventually(t, func() bool {
		return contains(reg.List(), "rust")
	}, time.Second, 10*time.Millisecond)
}

func TestDiscoveryUnregistersOnFileRemove(t *testing.T) {
	dir := t.TempDir()
	reg := New(nil)
	metrics := NewDiscoveryMetrics()

	path := filepath.Join(dir, "rust.plugin")
	require.NoError(t, os.WriteFile(path, []byte("rust"), 0o644))

	d, err := NewDiscovery(reg, pathLoader{}, []string{dir}, 10*time.Millisecond, nil, metrics)
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		return contains(reg.List(), "rust")
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return !contains(reg.List(), "rust")
	}, time.Second, 10*time.Millisecond)
}

func TestDiscoverySuppressesDuplicateContentReload(t *testing.T) {
	dir := t.TempDir()
	reg := New(nil)
	metrics := NewDiscoveryMetrics()
	path := filepath.Join(dir, "rust.plugin")

	d, err := NewDiscovery(reg, pathLoader{}, []string{dir}, 5*time.Millisecond, nil, metrics)
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	require.NoError(t, os.WriteFile(path, []byte("rust"), 0o644))
	require.Eventually(t, func() bool {
		return contains(reg.List(), "rust")
	}, time.Second, 10*time.Millisecond)

	// Re-writing identical content should not trigger a second reload cycle.
	require.NoError(t, os.WriteFile(path, []byte("rust"), 0o644))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, reg.List(), 1)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
