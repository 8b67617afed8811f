package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/pagasa/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{Inference: config.ProviderEntry{Name: "gemini", Model: "gemini-2.5-pro"}},
		Analysis:  config.AnalysisConfig{Location: "Manila, Philippines", Voice: "Charon"},
		Cycle:     config.CycleConfig{Interval: 10 * time.Minute},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("Diff of identical configs = %+v, want empty", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		mutate      func(*config.Config)
		logLevel    bool
		location    bool
		wantRestart []string
	}{
		{
			name:     "log level",
			mutate:   func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			logLevel: true,
		},
		{
			name:     "location is hot",
			mutate:   func(c *config.Config) { c.Analysis.Location = "Cebu, Philippines" },
			location: true,
		},
		{
			name:        "voice needs restart",
			mutate:      func(c *config.Config) { c.Analysis.Voice = "Kore" },
			wantRestart: []string{"analysis"},
		},
		{
			name:        "provider model",
			mutate:      func(c *config.Config) { c.Providers.Inference.Model = "gemini-2.5-flash" },
			wantRestart: []string{"providers"},
		},
		{
			name: "provider fallback added",
			mutate: func(c *config.Config) {
				c.Providers.Inference.Fallbacks = []config.ProviderEntry{{Name: "openai"}}
			},
			wantRestart: []string{"providers"},
		},
		{
			name:        "listen addr and tls",
			mutate:      func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "a", KeyFile: "b"} },
			wantRestart: []string{"server"},
		},
		{
			name: "cycle and capture",
			mutate: func(c *config.Config) {
				c.Cycle.Interval = time.Minute
				c.Capture.JPEGQuality = 50
			},
			wantRestart: []string{"cycle", "capture"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)
			if d.LogLevelChanged != tt.logLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.logLevel)
			}
			if d.LocationChanged != tt.location {
				t.Errorf("LocationChanged = %v, want %v", d.LocationChanged, tt.location)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
		})
	}
}

func TestDiff_NewValues(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Server.LogLevel = config.LogWarn
	next.Analysis.Location = "Legazpi, Philippines"

	d := config.Diff(baseConfig(), next)
	if d.NewLogLevel != config.LogWarn {
		t.Errorf("NewLogLevel = %q, want warn", d.NewLogLevel)
	}
	if d.NewLocation != "Legazpi, Philippines" {
		t.Errorf("NewLocation = %q", d.NewLocation)
	}
}

func TestDiff_Prompt(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Analysis.PromptFile = "/etc/pagasa/persona.md"
	next.Analysis.Prompt = "You are a station forecaster."

	d := config.Diff(baseConfig(), next)
	if !d.PromptChanged || d.NewPrompt != next.Analysis.Prompt {
		t.Errorf("PromptChanged = %v, NewPrompt = %q", d.PromptChanged, d.NewPrompt)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none for a prompt change", d.RestartRequired)
	}

	back := config.Diff(next, baseConfig())
	if !back.PromptChanged || back.NewPrompt != "" {
		t.Errorf("removing the prompt file: PromptChanged = %v, NewPrompt = %q", back.PromptChanged, back.NewPrompt)
	}
}
