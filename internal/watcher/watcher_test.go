package watcher_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/fedhost/internal/pubsub"
	"github.com/zjrosen/fedhost/internal/watcher"
)

func startWatcher(t *testing.T, cfg watcher.Config) <-chan pubsub.Event[[]string] {
	t.Helper()
	w, err := watcher.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch := w.Subscribe(ctx)
	require.NoError(t, w.Start())
	return ch
}

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "module.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: orders"), 0o644))

	ch := startWatcher(t, watcher.Config{Dir: dir, Extensions: []string{".yaml"}, DebounceDur: 50 * time.Millisecond})

	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("name: orders%d", i)), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case ev := <-ch:
		require.Equal(t, pubsub.ReloadedEvent, ev.Type)
		require.Equal(t, []string{"module.yaml"}, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected notification but got timeout")
	}

	select {
	case <-ch:
		t.Fatal("unexpected second notification")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("initial"), 0o644))

	ch := startWatcher(t, watcher.Config{Dir: dir, Extensions: []string{".yaml"}, DebounceDur: 30 * time.Millisecond})

	require.NoError(t, os.WriteFile(other, []byte("changed"), 0o644))

	select {
	case ev := <-ch:
		t.Fatalf("unexpected notification for %v", ev.Payload)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_CollectsChangedNames(t *testing.T) {
	dir := t.TempDir()
	ch := startWatcher(t, watcher.Config{Dir: dir, DebounceDur: 80 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.tmpl"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("a"), 0o644))

	select {
	case ev := <-ch:
		require.Equal(t, []string{"a.yaml", "b.tmpl"}, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
}

func TestWatcher_StopClosesSubscribers(t *testing.T) {
	w, err := watcher.New(watcher.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	ch := w.Subscribe(context.Background())
	require.NoError(t, w.Start())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := watcher.New(watcher.Config{})
	require.Error(t, err)
}
