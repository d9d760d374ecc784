package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolSetDeterministicOrder(t *testing.T) {
	ts := NewToolSet()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, ts.Register(&funcTool{name: name, fn: func(_ context.Context, _ map[string]interface{}) (string, error) {
			return "", nil
		}}))
	}

	// Registration order, not sorted order.
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, ts.Names())

	specs := ts.Specs()
	require.Len(t, specs, 3)
	assert.Equal(t, "zeta", specs[0]["name"])
	assert.Equal(t, "mid", specs[2]["name"])
	assert.Contains(t, specs[0], "input_schema")
}

func TestToolSetRejectsDuplicate(t *testing.T) {
	ts := NewToolSet()
	tool := &funcTool{name: "echo", fn: func(_ context.Context, _ map[string]interface{}) (string, error) {
		return "", nil
	}}
	require.NoError(t, ts.Register(tool))
	err := ts.Register(tool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestToolSetGet(t *testing.T) {
	ts := NewToolSet()
	_, ok := ts.Get("missing")
	assert.False(t, ok)

	require.NoError(t, ts.Register(&funcTool{name: "echo", fn: func(_ context.Context, _ map[string]interface{}) (string, error) {
		return "", nil
	}}))
	tool, ok := ts.Get("echo")
	assert.True(t, ok)
	assert.Equal(t, "echo", tool.Name())
}
