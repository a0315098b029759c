package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	Reset()
	r, err := Default()
	require.NoError(t, err)
	t.Cleanup(Reset)
	return r
}

func TestResolveAliases(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, []string{"zap"}, r.Resolve([]string{"zap-baseline"}))
	assert.Equal(t, []string{"zap"}, r.Resolve([]string{"zap"}))
	assert.Equal(t, r.Resolve([]string{"zap"}), r.Resolve([]string{"owasp-zap"}))
}

func TestResolveUnknownNamesDropped(t *testing.T) {
	r := newTestRegistry(t)

	assert.Empty(t, r.Resolve([]string{"no-such-tool"}))
	assert.Equal(t, []string{"bandit"}, r.Resolve([]string{"bandit", "no-such-tool"}))
}

func TestResolveDeduplicatesPreservingOrder(t *testing.T) {
	r := newTestRegistry(t)

	got := r.Resolve([]string{"ZAP", "bandit", "zap-baseline", "bandit-scan"})
	assert.Equal(t, []string{"zap", "bandit"}, got)
}

func TestEveryToolOwnedByOneClass(t *testing.T) {
	r := newTestRegistry(t)

	seen := map[string]WorkerClass{}
	for _, class := range AllWorkerClasses {
		for _, tool := range r.ByWorkerClass(class) {
			owner, dup := seen[tool.Name]
			require.False(t, dup, "tool %s owned by both %s and %s", tool.Name, owner, class)
			seen[tool.Name] = class
		}
	}
	assert.Len(t, seen, len(r.Names()))
}

func TestByTagAndLanguage(t *testing.T) {
	r := newTestRegistry(t)

	security := r.ByTag("security")
	require.NotEmpty(t, security)
	for _, tool := range security {
		assert.True(t, tool.HasTag("security"))
	}

	python := r.ByLanguage("python")
	names := make([]string, 0, len(python))
	for _, tool := range python {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "bandit")
	assert.NotContains(t, names, "eslint")
	// language-agnostic tools are always included
	assert.Contains(t, names, "zap")
}

func TestSetAvailabilityInPlace(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.SetAvailability("zap-baseline", false))
	tool, ok := r.Get("zap")
	require.True(t, ok)
	assert.False(t, tool.Available)

	assert.Error(t, r.SetAvailability("no-such-tool", true))
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := newTestRegistry(t)

	tool, ok := r.Get("bandit")
	require.True(t, ok)
	tool.Available = false

	again, ok := r.Get("bandit")
	require.True(t, ok)
	assert.True(t, again.Available, "mutating a returned descriptor must not touch the registry")
}
