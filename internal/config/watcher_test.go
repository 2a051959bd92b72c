package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "host:\n  address: one.example.com\n")

	cm := NewConfigManager(nil)
	require.NoError(t, cm.LoadConfig(path))

	changed := make(chan string, 4)
	cm.AddWatcher(func(_, newConfig *Config) { changed <- newConfig.Host.Address })

	w, err := NewWatcher(cm, 50*time.Millisecond, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Close()

	writeFile(t, path, "host:\n  address: two.example.com\n")

	select {
	case addr := <-changed:
		assert.Equal(t, "two.example.com", addr)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}

func TestWatcher_InvalidFileKeepsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "host:\n  address: one.example.com\n")

	cm := NewConfigManager(nil)
	require.NoError(t, cm.LoadConfig(path))

	w, err := NewWatcher(cm, 20*time.Millisecond, nil)
	require.NoError(t, err)
	var failures atomic.Int32
	w.OnError(func(error) { failures.Add(1) })
	w.Start(context.Background())
	defer w.Close()

	writeFile(t, path, "host:\n  port: 99999\n")

	require.Eventually(t, func() bool { return failures.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "one.example.com", cm.GetConfig().Host.Address)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "")

	cm := NewConfigManager(nil)
	require.NoError(t, cm.LoadConfig(path))
	var calls atomic.Int32
	cm.AddWatcher(func(_, _ *Config) { calls.Add(1) })

	w, err := NewWatcher(cm, 20*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Close()

	writeFile(t, filepath.Join(dir, "other.yaml"), "host:\n  address: x\n")
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	_, err := NewWatcher(NewConfigManager(nil), 0, nil)
	assert.Error(t, err)
}
