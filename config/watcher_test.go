package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	// Coarse mtime resolution on some filesystems; make sure the change
	// is observable.
	future := time.Now().Add(10 * time.Millisecond)
	require.NoError(t, os.Chtimes(path, future, future))
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailmind.yaml")
	writeConfig(t, path, "log:\n  level: info\n")

	w := NewWatcher(NewLoader(), path, 10*time.Millisecond, zap.NewNop())

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	w.Start()
	t.Cleanup(w.Stop)

	writeConfig(t, path, "log:\n  level: debug\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcher_InvalidReloadDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailmind.yaml")
	writeConfig(t, path, "log:\n  level: info\n")

	w := NewWatcher(NewLoader(), path, 10*time.Millisecond, zap.NewNop())

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })

	w.Start()
	t.Cleanup(w.Stop)

	// An invalid level fails validation; the callback must not fire.
	writeConfig(t, path, "log:\n  level: shouty\n")

	select {
	case <-reloaded:
		t.Fatal("invalid config must not reach callbacks")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_StartStopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailmind.yaml")
	writeConfig(t, path, "log:\n  level: info\n")

	w := NewWatcher(NewLoader(), path, 10*time.Millisecond, zap.NewNop())
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}
