package resilience

import (
	"context"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across inference
// backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// RunInference sends req to the first healthy backend.
func (f *LLMFallback) RunInference(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.Response, error) {
		return p.RunInference(ctx, req)
	})
}

// Statuses reports the breaker of every backend.
func (f *LLMFallback) Statuses() []BreakerStatus { return f.group.Statuses() }
