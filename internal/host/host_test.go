package host

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlehands/idlehands/internal/config"
	"github.com/idlehands/idlehands/pkg/runtime"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Runtime.StorePath = filepath.Join(cfg.DataDir, "runtime.json")
	cfg.Gateway.Enabled = false
	return cfg
}

func seedRuntime(t *testing.T, cfg *config.Config) {
	t.Helper()
	store, err := runtime.NewStore(cfg.Runtime.StorePath)
	require.NoError(t, err)
	require.NoError(t, store.Save(runtime.Config{
		Hosts:    []string{"http://localhost:1234"},
		Backends: []string{"lmstudio"},
		Models:   []string{"qwen2.5-7b-instruct"},
	}))
}

func TestNewFailsClosedWhenUnconfigured(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewAssemblesConfiguredDaemon(t *testing.T) {
	cfg := testConfig(t)
	seedRuntime(t, cfg)

	d, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	status := d.Status()
	assert.Equal(t, true, status["configured"])
	assert.Equal(t, "http://localhost:1234", status["endpoint"])
	assert.Equal(t, "qwen2.5-7b-instruct", status["model"])
}

func TestNewRegistersGatewayChannel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Enabled = true
	cfg.Gateway.Port = 0 // never started in this test
	seedRuntime(t, cfg)

	_, err := New(context.Background(), cfg, zerolog.Nop())
	// Port 0 is rejected by the gateway constructor; the gate must be
	// validated before anything listens.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")

	cfg.Gateway.Port = 9611
	d, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Contains(t, d.reg.Names(), "gateway")
}

func TestNewRejectsUnknownBackendCredentials(t *testing.T) {
	cfg := testConfig(t)
	store, err := runtime.NewStore(cfg.Runtime.StorePath)
	require.NoError(t, err)
	require.NoError(t, store.Save(runtime.Config{
		Hosts:    []string{"http://localhost:1234"},
		Backends: []string{"anthropic"},
		Models:   []string{"claude-sonnet-4-5"},
	}))

	// The anthropic backend needs an API key.
	_, err = New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildPluginSpecsOnlyConfiguredSections(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels = map[string]map[string]interface{}{
		"twitch": {"username": "idlebot", "oauthToken": "tok"},
		"line":   {"channelSecret": "s", "channelAccessToken": "t"},
	}

	specs := buildPluginSpecs(cfg)
	require.Len(t, specs, 2)
	ids := []string{specs[0].Plugin.Descriptor().ID, specs[1].Plugin.Descriptor().ID}
	assert.ElementsMatch(t, []string{"twitch", "line"}, ids)
}

func TestBuildPluginSpecsInjectsDataDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels = map[string]map[string]interface{}{
		"imessage": {"cliPath": "/usr/local/bin/imsg"},
	}

	specs := buildPluginSpecs(cfg)
	require.Len(t, specs, 1)
	assert.Equal(t, cfg.DataDir, specs[0].Config["dataDir"])
}

func TestInvalidHeartbeatScheduleRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Heartbeat.Schedule = "not a schedule"
	seedRuntime(t, cfg)

	d, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	err = d.startHeartbeat()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid heartbeat schedule")
}
