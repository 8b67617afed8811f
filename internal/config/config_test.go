package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/pagasa/internal/config"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  inference:
    name: gemini
    api_key: g-key
    model: gemini-2.5-pro
    fallbacks:
      - name: openai
        api_key: o-key
        model: gpt-4o
  script:
    name: openai
    api_key: o-key
  speech:
    name: gemini
    api_key: g-key
    fallbacks:
      - name: openai
        api_key: o-key
        model: gpt-4o-mini-tts
  live:
    name: gemini-live
    api_key: g-key
analysis:
  voice: Charon
  location: Tacloban, Philippines
  thinking_budget: 1024
cycle:
  interval: 5m
  countdown: 10m
  auto_start: true
live_update:
  interval: 30s
capture:
  display: browser
  width: 1920
  height: 1080
  settle: 2s
  jpeg_quality: 80
audio:
  device: "null"
resilience:
  max_failures: 3
  reset_timeout: 10s
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if got := cfg.Providers.Inference.Fallbacks; len(got) != 1 || got[0].Name != "openai" {
		t.Errorf("inference fallbacks = %+v", got)
	}
	if cfg.Cycle.Interval != 5*time.Minute {
		t.Errorf("cycle.interval = %v, want 5m", cfg.Cycle.Interval)
	}
	if !cfg.Cycle.AutoStart {
		t.Error("cycle.auto_start = false, want true")
	}
	if cfg.Cycle.StageTimeout != config.DefaultStageTimeout {
		t.Errorf("cycle.stage_timeout = %v, want default", cfg.Cycle.StageTimeout)
	}
	if cfg.LiveUpdate.Interval != 30*time.Second {
		t.Errorf("live_update.interval = %v, want 30s", cfg.LiveUpdate.Interval)
	}
	if cfg.Capture.Settle != 2*time.Second {
		t.Errorf("capture.settle = %v, want 2s", cfg.Capture.Settle)
	}
	if cfg.Analysis.Location != "Tacloban, Philippines" {
		t.Errorf("analysis.location = %q", cfg.Analysis.Location)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	// Not parallel: the environment must not supply keys here.
	t.Setenv(config.EnvGeminiAPIKey, "")

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want default", cfg.Server.ListenAddr)
	}
	if cfg.Providers.Inference.Name != "gemini" || cfg.Providers.Speech.Name != "gemini" {
		t.Errorf("default providers = %q/%q, want gemini", cfg.Providers.Inference.Name, cfg.Providers.Speech.Name)
	}
	if cfg.Providers.Live.Name != "gemini-live" {
		t.Errorf("default live provider = %q, want gemini-live", cfg.Providers.Live.Name)
	}
	if cfg.Providers.Script.Name != "" {
		t.Errorf("script provider = %q, want empty (reuse inference)", cfg.Providers.Script.Name)
	}
	if cfg.Cycle.Interval != config.DefaultCycleInterval || cfg.Cycle.Countdown != config.DefaultCountdown {
		t.Errorf("cycle defaults = %v/%v", cfg.Cycle.Interval, cfg.Cycle.Countdown)
	}
	if cfg.LiveUpdate.Interval != config.DefaultLiveInterval {
		t.Errorf("live_update.interval = %v, want default", cfg.LiveUpdate.Interval)
	}
	if cfg.Capture.Display != config.DisplayBrowser || cfg.Capture.JPEGQuality != config.DefaultJPEGQuality {
		t.Errorf("capture defaults = %q/%d", cfg.Capture.Display, cfg.Capture.JPEGQuality)
	}
	if cfg.Audio.Device != config.DeviceNull {
		t.Errorf("audio.device = %q, want null", cfg.Audio.Device)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: ':1'\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: verbose\n",
			want: []string{"server.log_level"},
		},
		{
			name: "tls without key",
			yaml: "server:\n  tls:\n    cert_file: cert.pem\n",
			want: []string{"server.tls"},
		},
		{
			name: "fallback without name",
			yaml: "providers:\n  speech:\n    name: gemini\n    fallbacks:\n      - model: tts-1\n",
			want: []string{"providers.speech.fallbacks[0].name"},
		},
		{
			name: "live fallback",
			yaml: "providers:\n  live:\n    name: gemini-live\n    fallbacks:\n      - name: gemini-live\n",
			want: []string{"providers.live"},
		},
		{
			name: "file display without file",
			yaml: "capture:\n  display: file\n",
			want: []string{"capture.file"},
		},
		{
			name: "unknown display",
			yaml: "capture:\n  display: vnc\n",
			want: []string{"capture.display"},
		},
		{
			name: "quality out of range",
			yaml: "capture:\n  jpeg_quality: 101\n",
			want: []string{"capture.jpeg_quality"},
		},
		{
			name: "wav device without input",
			yaml: "audio:\n  device: wav\n",
			want: []string{"audio.input_file"},
		},
		{
			name: "several problems joined",
			yaml: "server:\n  log_level: loud\naudio:\n  device: alsa\nanalysis:\n  thinking_budget: -1\n",
			want: []string{"server.log_level", "audio.device", "analysis.thinking_budget"},
		},
		{
			name: "missing prompt file",
			yaml: "analysis:\n  prompt_file: /nonexistent/prompt.md\n",
			want: []string{"analysis.prompt_file"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestKindsIsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = false", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`LogLevel("trace").IsValid() = true`)
	}
	if config.DisplayKind("").IsValid() {
		t.Error(`DisplayKind("").IsValid() = true`)
	}
	for _, d := range []config.DeviceKind{config.DevicePortAudio, config.DeviceWAV, config.DeviceNull} {
		if !d.IsValid() {
			t.Errorf("DeviceKind(%q).IsValid() = false", d)
		}
	}
}
