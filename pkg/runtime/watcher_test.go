package runtime

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnStoreSave(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "runtime.json"))
	require.NoError(t, err)
	require.NoError(t, store.Save(Config{}))

	reloaded := make(chan Config, 1)
	watcher, err := NewWatcher(WatcherConfig{
		Store:    store,
		Debounce: 20 * time.Millisecond,
		Logger:   zerolog.Nop(),
		OnReload: func(cfg Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, store.Save(Config{
		Hosts:    []string{"http://localhost:1234"},
		Backends: []string{"lmstudio"},
		Models:   []string{"qwen2.5-7b-instruct"},
	}))

	select {
	case cfg := <-reloaded:
		assert.True(t, cfg.Configured())
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not fire reload")
	}
}

func TestNewWatcherRequiresCallback(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "runtime.json"))
	require.NoError(t, err)

	_, err = NewWatcher(WatcherConfig{Store: store, Logger: zerolog.Nop()})
	require.Error(t, err)
}
