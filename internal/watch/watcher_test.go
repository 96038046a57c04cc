// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/layerkit/layerkit/internal/logging"
)

// startWatcher runs w in the background and returns a stop function that
// cancels it and waits for Run to return.
func startWatcher(t *testing.T, w *Watcher) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	// Give fsnotify a moment to settle before the test starts writing.
	time.Sleep(50 * time.Millisecond)
	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run() did not return after cancel")
			return nil
		}
	}
}

type collector struct {
	mu      sync.Mutex
	calls   int
	changed []string
	done    chan struct{}
	once    sync.Once
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (c *collector) onChange(_ context.Context, changed []string) error {
	c.mu.Lock()
	c.calls++
	c.changed = append(c.changed, changed...)
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnChange")
	}
}

func TestWatcherDebounce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newCollector()
	w, err := New(Config{Dir: dir, Debounce: 150 * time.Millisecond, OnChange: c.onChange, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startWatcher(t, w)

	for _, name := range []string{"a.html", "b.html", "c.html"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.wait(t)
	time.Sleep(300 * time.Millisecond)
	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls != 1 {
		t.Errorf("OnChange called %d times, want 1", c.calls)
	}
	for _, want := range []string{"a.html", "b.html", "c.html"} {
		if !slices.Contains(c.changed, want) {
			t.Errorf("changed = %v, missing %s", c.changed, want)
		}
	}
}

func TestWatcherIgnoresBuildArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "dist"), 0o755); err != nil {
		t.Fatal(err)
	}
	c := newCollector()
	w, err := New(Config{
		Dir:      dir,
		Ignore:   []string{"dist/**"},
		Debounce: 100 * time.Millisecond,
		OnChange: c.onChange,
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startWatcher(t, w)

	for _, name := range []string{".layerkit.lock", "page.html.swp", filepath.Join("dist", "bundle.js")} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "server.py"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.wait(t)
	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Equal(c.changed, []string{"server.py"}) {
		t.Errorf("changed = %v, want only server.py", c.changed)
	}
}

func TestWatcherNewSubdirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newCollector()
	w, err := New(Config{Dir: dir, Debounce: 200 * time.Millisecond, OnChange: c.onChange, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startWatcher(t, w)

	sub := filepath.Join(dir, "static")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "index.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.wait(t)
	time.Sleep(300 * time.Millisecond)
	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.changed, "static/index.html") {
		t.Errorf("changed = %v, want static/index.html", c.changed)
	}
}

func TestWatcherExtraFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	other := t.TempDir()
	manifestPath := filepath.Join(other, "layerkit.yaml")
	if err := os.WriteFile(manifestPath, []byte("name: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newCollector()
	w, err := New(Config{
		Dir:      dir,
		Files:    []string{manifestPath},
		Debounce: 100 * time.Millisecond,
		OnChange: c.onChange,
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startWatcher(t, w)

	// A sibling of the manifest is not reported.
	if err := os.WriteFile(filepath.Join(other, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(manifestPath, []byte("name: b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.wait(t)
	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Equal(c.changed, []string{manifestPath}) {
		t.Errorf("changed = %v, want [%s]", c.changed, manifestPath)
	}
}

func TestWatcherCallbackErrorKeepsRunning(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	calls := make(chan struct{}, 4)
	w, err := New(Config{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		OnChange: func(context.Context, []string) error {
			calls <- struct{}{}
			return errors.New("step \"rewrite:0\" failed")
		},
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startWatcher(t, w)

	for i := range 2 {
		if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("OnChange not called for write %d", i)
		}
	}
	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v, want nil after cancel", err)
	}
}

func TestWatcherContextCancel(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Dir: t.TempDir(), Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := startWatcher(t, w)(); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}

func TestWatcherDoubleRun(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Dir: t.TempDir(), Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startWatcher(t, w)
	defer func() { _ = stop() }()

	if err := w.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestWatcherInvalidPattern(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Dir: t.TempDir(), Ignore: []string{"[unclosed"}}); err == nil {
		t.Error("New() accepted a malformed ignore pattern")
	}
}

func TestDefaultIgnores(t *testing.T) {
	t.Parallel()

	w := &Watcher{ignores: defaultIgnores}
	tests := []struct {
		rel  string
		want bool
	}{
		{rel: ".git/HEAD", want: true},
		{rel: "client/.git/objects/ab", want: true},
		{rel: "index.html.swp", want: true},
		{rel: "server.py~", want: true},
		{rel: ".layerkit.lock", want: true},
		{rel: "server/__pycache__/app.cpython-312.pyc", want: true},
		{rel: "client/index.html", want: false},
		{rel: "layerkit.cue", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			t.Parallel()
			if got := w.isIgnored(tt.rel); got != tt.want {
				t.Errorf("isIgnored(%q) = %v, want %v", tt.rel, got, tt.want)
			}
		})
	}
}
