package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/speakwise/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
critique:
  api_key: first
`

const watcherUpdatedYAML = `
server:
  log_level: debug
critique:
  api_key: second
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// rewrite writes content and moves the mtime forward so the change is seen
// even on filesystems with coarse timestamps.
func rewrite(t *testing.T, path, content string, step int) {
	t.Helper()
	writeFile(t, path, content)
	ts := time.Now().Add(time.Duration(step) * time.Second)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Critique.APIKey != "first" {
		t.Errorf("initial config = %+v", cfg)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, err := config.NewWatcher(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("missing file: expected error")
	}
	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, watcherInvalidYAML)
	if _, err := config.NewWatcher(bad, nil); err == nil {
		t.Error("invalid file: expected error")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var calls int
	var gotOld, gotNew *config.Config
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		calls++
		gotOld, gotNew = old, new
	})
	if err != nil {
		t.Fatal(err)
	}

	rewrite(t, cfgPath, watcherUpdatedYAML, 2)
	w.Check()

	if calls != 1 {
		t.Fatalf("onChange called %d times, want 1", calls)
	}
	if gotOld.Critique.APIKey != "first" || gotNew.Critique.APIKey != "second" {
		t.Errorf("old=%q new=%q", gotOld.Critique.APIKey, gotNew.Critique.APIKey)
	}
	if w.Current() != gotNew {
		t.Error("Current() does not return the new config")
	}
}

func TestWatcher_IgnoresTouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	calls := 0
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) { calls++ })
	if err != nil {
		t.Fatal(err)
	}
	rewrite(t, cfgPath, watcherValidYAML, 2)
	w.Check()
	if calls != 0 {
		t.Errorf("onChange called %d times for identical content", calls)
	}
}

func TestWatcher_KeepsConfigOnInvalidEdit(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	calls := 0
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) { calls++ })
	if err != nil {
		t.Fatal(err)
	}
	before := w.Current()

	rewrite(t, cfgPath, watcherInvalidYAML, 2)
	w.Check()
	if calls != 0 || w.Current() != before {
		t.Errorf("invalid edit replaced config (calls=%d)", calls)
	}

	// A later valid edit is still picked up.
	rewrite(t, cfgPath, watcherUpdatedYAML, 4)
	w.Check()
	if calls != 1 || w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("valid edit after invalid one not applied (calls=%d)", calls)
	}
}

func TestWatcher_RunStopsOnContext(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	changed := make(chan struct{})
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-changed:
		default:
			close(changed)
		}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	rewrite(t, cfgPath, watcherUpdatedYAML, 2)
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not pick up the change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
