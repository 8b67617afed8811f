// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: &tts.Speech{Data: pcm, MIMEType: "audio/L16;rate=24000"},
//	}
//	speech, _ := p.SynthesizeSpeech(ctx, tts.Request{Text: "Ingat po."})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeResult is returned by SynthesizeSpeech when SynthesizeErr is nil.
	SynthesizeResult *tts.Speech

	// SynthesizeErr, if non-nil, is returned by SynthesizeSpeech.
	SynthesizeErr error

	// SynthesizeFunc, if set, overrides the static result fields.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (*tts.Speech, error)

	// SynthesizeCalls records every request in order.
	SynthesizeCalls []tts.Request
}

// SynthesizeSpeech records the request and returns the configured result.
func (p *Provider) SynthesizeSpeech(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, req)
	fn, result, err := p.SynthesizeFunc, p.SynthesizeResult, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &tts.Speech{}, nil
	}
	out := *result
	return &out, nil
}

// Calls returns a copy of all recorded requests.
func (p *Provider) Calls() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tts.Request(nil), p.SynthesizeCalls...)
}

// CallCount returns how many times SynthesizeSpeech was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}
