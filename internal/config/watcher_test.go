package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/pagasa/internal/config"
)

const stationYAML = `
server:
  log_level: info
analysis:
  location: Manila, Philippines
capture:
  display: file
  file: map.png
`

type reload struct{ old, new *config.Config }

// watchFixture writes the given files into a temp dir and starts a fast
// watcher on config.yaml. Reloads are delivered on the returned channel.
func watchFixture(t *testing.T, files map[string]string) (*config.Watcher, string, <-chan reload) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writeFile(t, filepath.Join(dir, name), strings.ReplaceAll(content, "$DIR", dir))
	}
	reloads := make(chan reload, 8)
	w, err := config.NewWatcher(filepath.Join(dir, "config.yaml"), func(old, new *config.Config) {
		reloads <- reload{old, new}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, dir, reloads
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// rewrite replaces a file and moves its mtime forward so coarse filesystem
// timestamps cannot hide the edit.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	writeFile(t, path, content)
	touch(t, path, bump)
}

func touch(t *testing.T, path string, bump time.Duration) {
	t.Helper()
	ts := time.Now().Add(bump)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func waitReload(t *testing.T, reloads <-chan reload) reload {
	t.Helper()
	select {
	case r := <-reloads:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
		return reload{}
	}
}

func expectQuiet(t *testing.T, reloads <-chan reload) {
	t.Helper()
	select {
	case r := <-reloads:
		t.Fatalf("unexpected reload: %+v", config.Diff(r.old, r.new))
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_ConfigEdit(t *testing.T) {
	t.Parallel()
	w, dir, reloads := watchFixture(t, map[string]string{"config.yaml": stationYAML})

	if got := w.Current().Analysis.Location; got != "Manila, Philippines" {
		t.Fatalf("initial location = %q", got)
	}

	edited := strings.NewReplacer("log_level: info", "log_level: debug", "Manila", "Tacloban").Replace(stationYAML)
	rewrite(t, filepath.Join(dir, "config.yaml"), edited, time.Second)

	r := waitReload(t, reloads)
	d := config.Diff(r.old, r.new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v %q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.LocationChanged || d.NewLocation != "Tacloban, Philippines" {
		t.Errorf("location diff = %v %q", d.LocationChanged, d.NewLocation)
	}
	if w.Current() != r.new {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_PromptFileEdit(t *testing.T) {
	t.Parallel()
	withPrompt := strings.Replace(stationYAML, "  location: Manila, Philippines\n",
		"  location: Manila, Philippines\n  prompt_file: $DIR/persona.md\n", 1)
	w, dir, reloads := watchFixture(t, map[string]string{
		"config.yaml": withPrompt,
		"persona.md":  "You are Emilio.",
	})
	if got := w.Current().Analysis.Prompt; got != "You are Emilio." {
		t.Fatalf("initial prompt = %q", got)
	}

	rewrite(t, filepath.Join(dir, "persona.md"), "You are Emilio, now in Bicolano.", time.Second)

	r := waitReload(t, reloads)
	d := config.Diff(r.old, r.new)
	if !d.PromptChanged || d.NewPrompt != "You are Emilio, now in Bicolano." {
		t.Errorf("prompt diff = %v %q", d.PromptChanged, d.NewPrompt)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestWatcher_InvalidEditKeepsConfig(t *testing.T) {
	t.Parallel()
	w, dir, reloads := watchFixture(t, map[string]string{"config.yaml": stationYAML})
	before := w.Current()

	rewrite(t, filepath.Join(dir, "config.yaml"), "server:\n  log_level: bananas\n", time.Second)

	expectQuiet(t, reloads)
	if w.Current() != before {
		t.Error("Current() changed after an invalid edit")
	}
}

func TestWatcher_EmptyPromptKeepsConfig(t *testing.T) {
	t.Parallel()
	withPrompt := strings.Replace(stationYAML, "  location: Manila, Philippines\n",
		"  location: Manila, Philippines\n  prompt_file: $DIR/persona.md\n", 1)
	w, dir, reloads := watchFixture(t, map[string]string{
		"config.yaml": withPrompt,
		"persona.md":  "You are Emilio.",
	})

	rewrite(t, filepath.Join(dir, "persona.md"), "  \n", time.Second)

	expectQuiet(t, reloads)
	if got := w.Current().Analysis.Prompt; got != "You are Emilio." {
		t.Errorf("prompt = %q, want previous persona kept", got)
	}
}

func TestWatcher_TouchIsNotAChange(t *testing.T) {
	t.Parallel()
	_, dir, reloads := watchFixture(t, map[string]string{"config.yaml": stationYAML})

	touch(t, filepath.Join(dir, "config.yaml"), time.Second)

	expectQuiet(t, reloads)
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := []struct {
		name  string
		setup func() string
	}{
		{name: "missing file", setup: func() string { return filepath.Join(dir, "absent.yaml") }},
		{name: "missing prompt file", setup: func() string {
			p := filepath.Join(dir, "noprompt.yaml")
			writeFile(t, p, strings.Replace(stationYAML, "  location: Manila, Philippines\n",
				"  location: Manila, Philippines\n  prompt_file: "+filepath.Join(dir, "gone.md")+"\n", 1))
			return p
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.NewWatcher(tt.setup(), nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _, _ := watchFixture(t, map[string]string{"config.yaml": stationYAML})
	w.Stop()
	w.Stop()
}
