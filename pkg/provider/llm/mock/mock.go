// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that callers send the expected
// Request and to feed controlled responses without a live LLM backend.
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    RunInferenceResult: &llm.Response{Text: "Signal No. 2 remains in effect."},
//	}
//	resp, err := p.RunInference(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// RunInferenceCall records a single invocation of RunInference.
type RunInferenceCall struct {
	// Req is the Request passed to RunInference.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// RunInferenceResult is returned by RunInference when RunInferenceErr is nil.
	RunInferenceResult *llm.Response

	// RunInferenceErr, if non-nil, is returned by RunInference.
	RunInferenceErr error

	// RunInferenceFunc, if set, overrides the static result fields. It is
	// called without the mock's lock held.
	RunInferenceFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

	calls []RunInferenceCall
}

// RunInference records the call and returns the configured response.
func (p *Provider) RunInference(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, RunInferenceCall{Req: req})
	fn := p.RunInferenceFunc
	result, err := p.RunInferenceResult, p.RunInferenceErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &llm.Response{}, nil
	}
	out := *result
	return &out, nil
}

// Calls returns a copy of all recorded RunInference invocations.
func (p *Provider) Calls() []RunInferenceCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RunInferenceCall(nil), p.calls...)
}

// CallCount returns how many times RunInference was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
