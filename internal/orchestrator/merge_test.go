package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tree(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestMergeIsIdempotent(t *testing.T) {
	raw := `{
		"tools": {"bandit": {"status": "completed"}},
		"findings": [
			{"severity": "high", "tool": "bandit", "message": "eval used"},
			{"severity": "low", "tool": "bandit", "message": "assert used"}
		],
		"services": ["backend", "frontend"]
	}`

	once := Merge(map[string]any{}, tree(t, raw))
	twice := Merge(once, tree(t, raw))

	assert.Equal(t, stableKey(Dedupe(tree(t, raw))), stableKey(twice))
	assert.Len(t, twice["findings"], 2)
	assert.Len(t, twice["services"], 2)
}

func TestMergeDeduplicatesListsPreservingOrder(t *testing.T) {
	a := tree(t, `{"items": [{"x": 1}, {"x": 2}]}`)
	b := tree(t, `{"items": [{"x": 2}, {"x": 3}, {"x": 1}]}`)

	merged := Merge(a, b)
	items := merged["items"].([]any)
	require.Len(t, items, 3)
	assert.Equal(t, 1.0, items[0].(map[string]any)["x"])
	assert.Equal(t, 2.0, items[1].(map[string]any)["x"])
	assert.Equal(t, 3.0, items[2].(map[string]any)["x"])
}

func TestMergeStructuralEqualityIgnoresKeyOrder(t *testing.T) {
	a := tree(t, `{"findings": [{"severity": "high", "tool": "zap"}]}`)
	b := tree(t, `{"findings": [{"tool": "zap", "severity": "high"}]}`)

	merged := Merge(a, b)
	assert.Len(t, merged["findings"], 1)
}

func TestMergeNestedMapsKeyWise(t *testing.T) {
	a := tree(t, `{"tools": {"bandit": {"status": "completed"}}}`)
	b := tree(t, `{"tools": {"zap": {"status": "failed"}}}`)

	merged := Merge(a, b)
	tools := merged["tools"].(map[string]any)
	assert.Contains(t, tools, "bandit")
	assert.Contains(t, tools, "zap")
}

func TestMergeScalarOverwrite(t *testing.T) {
	a := tree(t, `{"status": "running", "percent": 10}`)
	b := tree(t, `{"status": "completed", "percent": 100}`)

	merged := Merge(a, b)
	assert.Equal(t, "completed", merged["status"])
	assert.Equal(t, 100.0, merged["percent"])
}

func TestDedupeRecursesIntoNestedLists(t *testing.T) {
	in := tree(t, `{"outer": [{"inner": [1, 1, 2]}, {"inner": [1, 1, 2]}]}`)

	out := Dedupe(in).(map[string]any)
	outer := out["outer"].([]any)
	require.Len(t, outer, 1, "identical nested objects collapse")
	assert.Equal(t, []any{1.0, 2.0}, outer[0].(map[string]any)["inner"])
}
