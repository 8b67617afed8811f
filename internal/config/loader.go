package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"inference": {"gemini", "openai", "anthropic", "ollama", "llamacpp", "llamafile", "deepseek", "mistral", "groq"},
	"script":    {"gemini", "openai", "anthropic", "ollama", "llamacpp", "llamafile", "deepseek", "mistral", "groq"},
	"speech":    {"gemini", "openai", "elevenlabs", "coqui"},
	"live":      {"gemini-live"},
}

// Environment variables consulted by [ApplyEnv].
const (
	EnvGeminiAPIKey     = "GEMINI_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvElevenLabsAPIKey = "ELEVENLABS_API_KEY"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultCycleInterval   = 10 * time.Minute
	DefaultCountdown       = 15 * time.Minute
	DefaultStageTimeout    = 5 * time.Minute
	DefaultLiveInterval    = 60 * time.Second
	DefaultJPEGQuality     = 90
	DefaultFramesPerBuffer = 4096
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config] with the prompt
// override read into Analysis.Prompt.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ReadPrompt(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadPrompt fills cfg.Analysis.Prompt from cfg.Analysis.PromptFile. It is
// a no-op without a prompt file. A file holding only whitespace is an error
// since it would leave the analyst without a persona.
func ReadPrompt(cfg *Config) error {
	path := cfg.Analysis.PromptFile
	if path == "" {
		cfg.Analysis.Prompt = ""
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read prompt file: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return fmt.Errorf("config: prompt file %q is empty", path)
	}
	cfg.Analysis.Prompt = string(b)
	return nil
}

// LoadFromReader decodes a YAML config from r, fills keys from the
// environment and defaults, and validates the result. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("loaded environment file", "path", p)
	}
	return nil
}

// ApplyEnv fills empty API keys from the environment. Gemini entries use
// GEMINI_API_KEY, OpenAI entries OPENAI_API_KEY and ElevenLabs entries
// ELEVENLABS_API_KEY.
func ApplyEnv(cfg *Config) {
	for _, e := range cfg.Providers.entries() {
		applyEnvKey(e)
		for i := range e.Fallbacks {
			applyEnvKey(&e.Fallbacks[i])
		}
	}
}

func applyEnvKey(e *ProviderEntry) {
	if e.APIKey != "" {
		return
	}
	switch e.Name {
	case "gemini", "gemini-live":
		e.APIKey = os.Getenv(EnvGeminiAPIKey)
	case "openai":
		e.APIKey = os.Getenv(EnvOpenAIAPIKey)
	case "elevenlabs":
		e.APIKey = os.Getenv(EnvElevenLabsAPIKey)
	}
}

// ApplyDefaults fills zero values with their defaults. Gemini is the
// default provider for every role.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Providers.Inference.Name == "" {
		cfg.Providers.Inference.Name = "gemini"
		applyEnvKey(&cfg.Providers.Inference)
	}
	if cfg.Providers.Speech.Name == "" {
		cfg.Providers.Speech.Name = "gemini"
		applyEnvKey(&cfg.Providers.Speech)
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = "gemini-live"
		applyEnvKey(&cfg.Providers.Live)
	}

	if cfg.Cycle.Interval <= 0 {
		cfg.Cycle.Interval = DefaultCycleInterval
	}
	if cfg.Cycle.Countdown <= 0 {
		cfg.Cycle.Countdown = DefaultCountdown
	}
	if cfg.Cycle.StageTimeout <= 0 {
		cfg.Cycle.StageTimeout = DefaultStageTimeout
	}
	if cfg.LiveUpdate.Interval <= 0 {
		cfg.LiveUpdate.Interval = DefaultLiveInterval
	}

	if cfg.Capture.Display == "" {
		cfg.Capture.Display = DisplayBrowser
	}
	if cfg.Capture.JPEGQuality == 0 {
		cfg.Capture.JPEGQuality = DefaultJPEGQuality
	}

	if cfg.Audio.Device == "" {
		cfg.Audio.Device = DeviceNull
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		cfg.Audio.FramesPerBuffer = DefaultFramesPerBuffer
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("inference", cfg.Providers.Inference)
	validateProviderName("script", cfg.Providers.Script)
	validateProviderName("speech", cfg.Providers.Speech)
	validateProviderName("live", cfg.Providers.Live)
	for role, e := range map[string]ProviderEntry{
		"inference": cfg.Providers.Inference,
		"speech":    cfg.Providers.Speech,
		"live":      cfg.Providers.Live,
	} {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", role))
		}
	}
	for i, fb := range cfg.Providers.Inference.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.inference.fallbacks[%d].name is required", i))
		}
	}
	for i, fb := range cfg.Providers.Script.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.script.fallbacks[%d].name is required", i))
		}
	}
	for i, fb := range cfg.Providers.Speech.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.speech.fallbacks[%d].name is required", i))
		}
	}
	if len(cfg.Providers.Live.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.live does not support fallbacks"))
	}

	// Analysis
	if cfg.Analysis.ThinkingBudget < 0 {
		errs = append(errs, fmt.Errorf("analysis.thinking_budget %d must not be negative", cfg.Analysis.ThinkingBudget))
	}
	if p := cfg.Analysis.PromptFile; p != "" {
		if _, err := os.Stat(p); err != nil {
			errs = append(errs, fmt.Errorf("analysis.prompt_file: %w", err))
		}
	}

	// Cycle
	if cfg.Cycle.Countdown > 0 && cfg.Cycle.Countdown < time.Second {
		errs = append(errs, fmt.Errorf("cycle.countdown %v must be at least 1s", cfg.Cycle.Countdown))
	}

	// Capture
	if cfg.Capture.Display != "" && !cfg.Capture.Display.IsValid() {
		errs = append(errs, fmt.Errorf("capture.display %q is invalid; valid values: browser, file", cfg.Capture.Display))
	}
	if cfg.Capture.Display == DisplayFile && cfg.Capture.File == "" {
		errs = append(errs, errors.New("capture.file is required when capture.display is file"))
	}
	if q := cfg.Capture.JPEGQuality; q < 0 || q > 100 {
		errs = append(errs, fmt.Errorf("capture.jpeg_quality %d is out of range [1, 100]", q))
	}
	if cfg.Capture.Width < 0 || cfg.Capture.Height < 0 {
		errs = append(errs, errors.New("capture.width and capture.height must not be negative"))
	}

	// Audio
	if cfg.Audio.Device != "" && !cfg.Audio.Device.IsValid() {
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: portaudio, wav, null", cfg.Audio.Device))
	}
	if cfg.Audio.Device == DeviceWAV && cfg.Audio.InputFile == "" {
		errs = append(errs, errors.New("audio.input_file is required when audio.device is wav"))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	return errors.Join(errs...)
}

func (p *ProvidersConfig) entries() []*ProviderEntry {
	return []*ProviderEntry{&p.Inference, &p.Script, &p.Speech, &p.Live}
}

// validateProviderName logs a warning if the entry names a provider that
// is not in [ValidProviderNames] for kind.
func validateProviderName(kind string, e ProviderEntry) {
	known := ValidProviderNames[kind]
	for _, name := range append([]string{e.Name}, fallbackNames(e)...) {
		if name == "" || slices.Contains(known, name) {
			continue
		}
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"kind", kind,
			"name", name,
			"known", known,
		)
	}
}

func fallbackNames(e ProviderEntry) []string {
	names := make([]string, 0, len(e.Fallbacks))
	for _, fb := range e.Fallbacks {
		names = append(names, fb.Name)
	}
	return names
}
