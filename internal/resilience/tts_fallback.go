package resilience

import (
	"context"

	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across speech
// backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SynthesizeSpeech renders req with the first healthy backend.
func (f *TTSFallback) SynthesizeSpeech(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (*tts.Speech, error) {
		return p.SynthesizeSpeech(ctx, req)
	})
}

// Statuses reports the breaker of every backend.
func (f *TTSFallback) Statuses() []BreakerStatus { return f.group.Statuses() }
