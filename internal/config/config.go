// Package config provides the configuration schema, loader, provider
// registry and file watcher for the PAG-ASA server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DisplayKind selects where still frames come from.
type DisplayKind string

const (
	// DisplayBrowser renders the wind map in headless Chromium.
	DisplayBrowser DisplayKind = "browser"

	// DisplayFile reads an image file on every capture.
	DisplayFile DisplayKind = "file"
)

// IsValid reports whether d is a recognised display kind.
func (d DisplayKind) IsValid() bool { return d == DisplayBrowser || d == DisplayFile }

// DeviceKind selects the audio device backend.
type DeviceKind string

const (
	// DevicePortAudio uses the default system devices. Requires a binary
	// built with -tags portaudio.
	DevicePortAudio DeviceKind = "portaudio"

	// DeviceWAV replays a WAV file as microphone and records output to a
	// WAV file.
	DeviceWAV DeviceKind = "wav"

	// DeviceNull has no microphone and discards output on a wall clock.
	DeviceNull DeviceKind = "null"
)

// IsValid reports whether d is a recognised device kind.
func (d DeviceKind) IsValid() bool {
	switch d {
	case DevicePortAudio, DeviceWAV, DeviceNull:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Cycle      CycleConfig      `yaml:"cycle"`
	LiveUpdate LiveUpdateConfig `yaml:"live_update"`
	Capture    CaptureConfig    `yaml:"capture"`
	Audio      AudioConfig      `yaml:"audio"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares the backend for each model role. Each entry
// selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// Inference runs the multimodal map analysis.
	Inference ProviderEntry `yaml:"inference"`

	// Script writes broadcast scripts and live sentences. When Name is
	// empty the inference provider is reused.
	Script ProviderEntry `yaml:"script"`

	// Speech synthesises reports and live updates.
	Speech ProviderEntry `yaml:"speech"`

	// Live is the bidirectional conversation backend.
	Live ProviderEntry `yaml:"live"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. When empty the key is
	// taken from the environment, see [ApplyEnv].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this entry fails or its breaker is
	// open. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// AnalysisConfig tunes the analyst persona and models.
type AnalysisConfig struct {
	AnalysisModel  string `yaml:"analysis_model"`
	ScriptModel    string `yaml:"script_model"`
	SpeechModel    string `yaml:"speech_model"`
	Voice          string `yaml:"voice"`
	Style          string `yaml:"style"`
	ThinkingBudget int    `yaml:"thinking_budget"`

	// Location is the operator location used in prompts. Hot-reloadable.
	Location string `yaml:"location"`

	// PromptFile replaces the embedded system prompt. Hot-reloadable: edits
	// to the file are picked up by the [Watcher].
	PromptFile string `yaml:"prompt_file"`

	// Prompt is the content of PromptFile, filled by [Load].
	Prompt string `yaml:"-"`
}

// CycleConfig tunes the analysis orchestrator.
type CycleConfig struct {
	// Interval between automated cycles. Default: 10m.
	Interval time.Duration `yaml:"interval"`

	// Countdown is the freshness window of a report. Default: 15m.
	Countdown time.Duration `yaml:"countdown"`

	// StageTimeout bounds every remote stage. Default: 5m.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// AutoStart turns automation on at startup.
	AutoStart bool `yaml:"auto_start"`
}

// LiveUpdateConfig tunes the live-update loop.
type LiveUpdateConfig struct {
	// Interval between updates. Default: 60s.
	Interval time.Duration `yaml:"interval"`

	// AutoStart starts the loop at startup.
	AutoStart bool `yaml:"auto_start"`
}

// CaptureConfig selects and tunes the frame source.
type CaptureConfig struct {
	Display DisplayKind `yaml:"display"`

	// MapURL is the page rendered by the browser display.
	MapURL string `yaml:"map_url"`

	// File is the image read by the file display.
	File string `yaml:"file"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// Settle is the wait after page load before the screenshot.
	Settle time.Duration `yaml:"settle"`

	// JPEGQuality is in the range [1, 100]. Default: 90.
	JPEGQuality int `yaml:"jpeg_quality"`

	// InstallBrowsers downloads Chromium on first start.
	InstallBrowsers bool `yaml:"install_browsers"`
}

// AudioConfig selects the audio devices.
type AudioConfig struct {
	Device DeviceKind `yaml:"device"`

	// FramesPerBuffer is the microphone callback size. Default: 4096.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// InputFile is the WAV replayed as microphone by the wav device.
	InputFile string `yaml:"input_file"`

	// OutputDir receives one WAV recording per output context when the wav
	// device is used. Empty discards output.
	OutputDir string `yaml:"output_dir"`
}

// ResilienceConfig tunes the circuit breakers placed around providers.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}
