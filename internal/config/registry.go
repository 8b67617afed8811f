package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/pagasa/pkg/provider/live"
	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the entry's name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds a text/multimodal inference backend from its entry.
type LLMFactory func(ctx context.Context, entry ProviderEntry) (llm.Provider, error)

// TTSFactory builds a speech synthesis backend from its entry.
type TTSFactory func(ctx context.Context, entry ProviderEntry) (tts.Provider, error)

// LiveFactory builds a live conversation connector from its entry.
type LiveFactory func(ctx context.Context, entry ProviderEntry) (live.Connector, error)

// factories is one kind's name-to-constructor table.
type factories[T any] struct {
	kind   string
	byName map[string]func(context.Context, ProviderEntry) (T, error)
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, byName: make(map[string]func(context.Context, ProviderEntry) (T, error))}
}

// Registry maps provider names to constructors for each backend kind. The
// binary registers its built-in vendors at startup; tests register mocks.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	llm  factories[llm.Provider]
	tts  factories[tts.Provider]
	live factories[live.Connector]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:  newFactories[llm.Provider]("llm"),
		tts:  newFactories[tts.Provider]("tts"),
		live: newFactories[live.Connector]("live"),
	}
}

// RegisterLLM registers an inference factory under name, replacing any
// earlier one.
func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.byName[name] = f
}

// RegisterTTS registers a speech factory under name.
func (r *Registry) RegisterTTS(name string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byName[name] = f
}

// RegisterLive registers a live connector factory under name.
func (r *Registry) RegisterLive(name string, f LiveFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live.byName[name] = f
}

// CreateLLM builds the inference provider named by entry.Name.
func (r *Registry) CreateLLM(ctx context.Context, entry ProviderEntry) (llm.Provider, error) {
	return create(ctx, r, r.llm, entry)
}

// CreateTTS builds the speech provider named by entry.Name.
func (r *Registry) CreateTTS(ctx context.Context, entry ProviderEntry) (tts.Provider, error) {
	return create(ctx, r, r.tts, entry)
}

// CreateLive builds the live connector named by entry.Name.
func (r *Registry) CreateLive(ctx context.Context, entry ProviderEntry) (live.Connector, error) {
	return create(ctx, r, r.live, entry)
}

// Names returns the registered names per kind ("llm", "tts", "live"),
// sorted. Used for the startup summary.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.llm.kind:  slices.Sorted(maps.Keys(r.llm.byName)),
		r.tts.kind:  slices.Sorted(maps.Keys(r.tts.byName)),
		r.live.kind: slices.Sorted(maps.Keys(r.live.byName)),
	}
}

// create looks up the factory under the read lock and calls it outside, so
// a slow constructor does not block registration.
func create[T any](ctx context.Context, r *Registry, f factories[T], entry ProviderEntry) (T, error) {
	r.mu.RLock()
	build, ok := f.byName[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return build(ctx, entry)
}
