package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/pagasa/internal/app"
	"github.com/MrWong99/pagasa/internal/config"
	"github.com/MrWong99/pagasa/internal/observe"
	"github.com/MrWong99/pagasa/internal/resilience"
	"github.com/MrWong99/pagasa/pkg/provider/live"
	geminilive "github.com/MrWong99/pagasa/pkg/provider/live/gemini"
	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/llm/anyllm"
	geminillm "github.com/MrWong99/pagasa/pkg/provider/llm/gemini"
	openaillm "github.com/MrWong99/pagasa/pkg/provider/llm/openai"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
	"github.com/MrWong99/pagasa/pkg/provider/tts/coqui"
	"github.com/MrWong99/pagasa/pkg/provider/tts/elevenlabs"
	geminitts "github.com/MrWong99/pagasa/pkg/provider/tts/gemini"
	openaitts "github.com/MrWong99/pagasa/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Inference / script ────────────────────────────────────────────────────

	reg.RegisterLLM("gemini", func(ctx context.Context, entry config.ProviderEntry) (llm.Provider, error) {
		var opts []geminillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminillm.WithBaseURL(entry.BaseURL))
		}
		return geminillm.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openaillm.WithOrganization(org))
		}
		return openaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, deepseek, mistral and groq share the any-llm pattern:
	// optional APIKey + optional BaseURL.
	for _, providerName := range []string{"anthropic", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// Local model servers take BaseURL as their address and no API key.
	for _, providerName := range []string{"ollama", "llamacpp", "llamafile"} {
		reg.RegisterLLM(providerName, func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Speech ────────────────────────────────────────────────────────────────

	reg.RegisterTTS("gemini", func(ctx context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []geminitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminitts.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, geminitts.WithVoice(voice))
		}
		return geminitts.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("openai", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaitts.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, openaitts.WithVoice(voice))
		}
		return openaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, entry.Model, opts...)
	})

	// coqui is a self-hosted server; BaseURL is its address.
	reg.RegisterTTS("coqui", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := optString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(_ context.Context, entry config.ProviderEntry) (live.Connector, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every provider named in cfg using the registry.
// Inference, script and speech backends are wrapped in a fallback group with
// one circuit breaker per backend.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	fb := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Resilience.MaxFailures,
			ResetTimeout: cfg.Resilience.ResetTimeout,
			HalfOpenMax:  cfg.Resilience.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker transition", "breaker", name, "from", from, "to", to)
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
		OnAttempt: func(name string, err error) {
			if err != nil {
				slog.Debug("provider attempt failed", "provider", name, "err", err)
			}
		},
	}

	ps := &app.Providers{}
	breakers := map[string]func() []resilience.BreakerStatus{}

	inference, err := buildLLM(ctx, reg, "inference", cfg.Providers.Inference, fb)
	if err != nil {
		return nil, err
	}
	ps.Inference = inference
	breakers["inference"] = inference.Statuses

	if cfg.Providers.Script.Name != "" {
		script, err := buildLLM(ctx, reg, "script", cfg.Providers.Script, fb)
		if err != nil {
			return nil, err
		}
		ps.Script = script
		breakers["script"] = script.Statuses
	}

	speech, err := buildTTS(ctx, reg, cfg.Providers.Speech, fb)
	if err != nil {
		return nil, err
	}
	ps.Speech = speech
	breakers["speech"] = speech.Statuses

	conn, err := reg.CreateLive(ctx, cfg.Providers.Live)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Providers.Live.Name, err)
	}
	ps.Live = conn
	slog.Info("provider created", "kind", "live", "name", cfg.Providers.Live.Name)

	ps.Breakers = func() map[string][]resilience.BreakerStatus {
		out := make(map[string][]resilience.BreakerStatus, len(breakers))
		for slot, statuses := range breakers {
			out[slot] = statuses()
		}
		return out
	}
	return ps, nil
}

func buildLLM(ctx context.Context, reg *config.Registry, kind string, entry config.ProviderEntry, fb resilience.FallbackConfig) (*resilience.LLMFallback, error) {
	primary, err := reg.CreateLLM(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	group := resilience.NewLLMFallback(primary, breakerName(kind, entry.Name), fb)
	slog.Info("provider created", "kind", kind, "name", entry.Name)

	for _, f := range entry.Fallbacks {
		p, err := reg.CreateLLM(ctx, f)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not registered, skipping", "kind", kind, "name", f.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s fallback %q: %w", kind, f.Name, err)
		}
		group.AddFallback(breakerName(kind, f.Name), p)
		slog.Info("fallback provider added", "kind", kind, "name", f.Name)
	}
	return group, nil
}

func buildTTS(ctx context.Context, reg *config.Registry, entry config.ProviderEntry, fb resilience.FallbackConfig) (*resilience.TTSFallback, error) {
	primary, err := reg.CreateTTS(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("create speech provider %q: %w", entry.Name, err)
	}
	group := resilience.NewTTSFallback(primary, breakerName("speech", entry.Name), fb)
	slog.Info("provider created", "kind", "speech", "name", entry.Name)

	for _, f := range entry.Fallbacks {
		p, err := reg.CreateTTS(ctx, f)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not registered, skipping", "kind", "speech", "name", f.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create speech fallback %q: %w", f.Name, err)
		}
		group.AddFallback(breakerName("speech", f.Name), p)
		slog.Info("fallback provider added", "kind", "speech", "name", f.Name)
	}
	return group, nil
}

// breakerName keeps breakers of the same backend apart across slots.
func breakerName(kind, name string) string { return kind + "/" + name }

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
