package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlehands/idlehands/pkg/runtime"
)

// writeTestConfig points the global --config flag at a throwaway tree
// and returns the runtime store path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	raw := map[string]interface{}{
		"data_dir": dir,
		"gateway":  map[string]interface{}{"enabled": false},
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0600))

	cfgFile = configPath
	t.Cleanup(func() { cfgFile = "" })
	return filepath.Join(dir, "runtime.json")
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestSetupRequiresHost(t *testing.T) {
	writeTestConfig(t)
	setupHost, setupModel, setupWait = "", "", false

	_, err := executeCommand(t, "setup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--host is required")
}

func TestSetupRequiresModelWithoutWait(t *testing.T) {
	writeTestConfig(t)
	setupModel, setupWait = "", false

	_, err := executeCommand(t, "setup", "--host", "http://localhost:1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--model is required")
}

func TestSetupWritesStore(t *testing.T) {
	storePath := writeTestConfig(t)
	setupWait = false

	out, err := executeCommand(t, "setup",
		"--host", "http://localhost:1234",
		"--backend", "lmstudio",
		"--model", "qwen2.5-7b-instruct")
	require.NoError(t, err)
	assert.Contains(t, out, "Runtime configured")
	assert.Contains(t, out, "idlehands start")

	store, err := runtime.NewStore(storePath)
	require.NoError(t, err)
	rc := store.Load()
	assert.True(t, rc.Configured())
	assert.Equal(t, []string{"http://localhost:1234"}, rc.Hosts)

	// Re-running with the same values does not duplicate entries.
	_, err = executeCommand(t, "setup",
		"--host", "http://localhost:1234",
		"--backend", "lmstudio",
		"--model", "qwen2.5-7b-instruct")
	require.NoError(t, err)
	rc = store.Load()
	assert.Len(t, rc.Hosts, 1)
	assert.Len(t, rc.Models, 1)
}

func TestStatusReportsUnconfiguredRuntime(t *testing.T) {
	writeTestConfig(t)

	out, err := executeCommand(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Runtime: not configured")
}

func TestStatusReportsConfiguredRuntime(t *testing.T) {
	storePath := writeTestConfig(t)
	store, err := runtime.NewStore(storePath)
	require.NoError(t, err)
	require.NoError(t, store.Save(runtime.Config{
		Hosts:    []string{"http://localhost:1234"},
		Backends: []string{"lmstudio"},
		Models:   []string{"qwen2.5-7b-instruct"},
	}))

	out, err := executeCommand(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Runtime: configured")
	assert.Contains(t, out, "qwen2.5-7b-instruct")
}

func TestPairingListEmpty(t *testing.T) {
	writeTestConfig(t)

	out, err := executeCommand(t, "pairing", "list", "imessage")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending pairing requests.")
}

func TestPairingApproveUnknownCode(t *testing.T) {
	writeTestConfig(t)

	_, err := executeCommand(t, "pairing", "approve", "imessage", "NOSUCHCD")
	assert.Error(t, err)
}

func TestModelsWithoutConfiguredHost(t *testing.T) {
	writeTestConfig(t)
	modelsHost = ""

	_, err := executeCommand(t, "models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no host configured")
}
