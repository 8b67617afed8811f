// Package mock provides in-memory implementations of the [audio.Microphone],
// [audio.Source], [audio.Output], [audio.Voice] and [audio.OutputFactory]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := mock.NewSource(audio.Format{SampleRate: 16000, Channels: 1}, 8)
//	mic := &mock.Microphone{OpenResult: src}
//	outs := &mock.OutputFactory{}
//	// ... run the component, then:
//	src.Push(audio.AudioFrame{Samples: samples, SampleRate: 16000, Channels: 1})
//	calls := outs.Last().PlayCalls()
package mock

import (
	"context"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/MrWong99/pagasa/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenResult is returned by [Microphone.Open] when OpenErr is nil.
	OpenResult audio.Source

	// OpenErr is returned by [Microphone.Open].
	OpenErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context) (audio.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountOpen++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return m.OpenResult, nil
}

// Calls returns the number of Open calls.
func (m *Microphone) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountOpen
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a channel-backed [audio.Source]. Push frames from the test with
// [Source.Push]; Close closes the Frames channel exactly once.
type Source struct {
	format audio.Format
	ch     chan audio.AudioFrame

	mu         sync.Mutex
	closed     bool
	closeCalls int
}

// NewSource returns a Source with the given format and channel capacity.
func NewSource(format audio.Format, capacity int) *Source {
	return &Source{format: format, ch: make(chan audio.AudioFrame, capacity)}
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.AudioFrame { return s.ch }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Push delivers f unless the source is closed. It reports whether the frame
// was queued; a full channel drops the frame like a real device would.
func (s *Source) Push(f audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- f:
		return true
	default:
		return false
	}
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Closed reports whether Close was called at least once.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls returns how many times Close was called.
func (s *Source) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// ─── Voice ────────────────────────────────────────────────────────────────────

// Voice is a mock [audio.Voice]. Tests simulate natural completion with
// [Voice.Finish].
type Voice struct {
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
}

// NewVoice returns a Voice that has not finished.
func NewVoice() *Voice { return &Voice{done: make(chan struct{})} }

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.once.Do(func() { close(v.done) })
}

// Done implements [audio.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Finish marks the voice as played to the end.
func (v *Voice) Finish() { v.once.Do(func() { close(v.done) }) }

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// ─── Output ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Output.Play] call.
type PlayCall struct {
	Buf   *goaudio.Float32Buffer
	At    time.Duration
	Voice *Voice
}

// Output is a mock [audio.Output] with a manually advanced clock.
type Output struct {
	mu sync.Mutex

	// Format is the format the output was created with.
	Format audio.Format

	// PlayErr is returned by [Output.Play] when non-nil.
	PlayErr error

	now        time.Duration
	plays      []PlayCall
	closed     bool
	closeCalls int
}

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the clock to d.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Advance moves the clock forward by d.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// Play implements [audio.Output].
func (o *Output) Play(buf *goaudio.Float32Buffer, at time.Duration) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, audio.ErrOutputClosed
	}
	if o.PlayErr != nil {
		return nil, o.PlayErr
	}
	v := NewVoice()
	o.plays = append(o.plays, PlayCall{Buf: buf, At: at, Voice: v})
	return v, nil
}

// Close implements [audio.Output]. All recorded voices are stopped.
func (o *Output) Close() error {
	o.mu.Lock()
	o.closeCalls++
	o.closed = true
	plays := append([]PlayCall(nil), o.plays...)
	o.mu.Unlock()
	for _, p := range plays {
		p.Voice.Stop()
	}
	return nil
}

// PlayCalls returns a copy of all recorded Play calls.
func (o *Output) PlayCalls() []PlayCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PlayCall(nil), o.plays...)
}

// Closed reports whether Close was called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// CloseCalls returns how many times Close was called.
func (o *Output) CloseCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeCalls
}

// ─── OutputFactory ────────────────────────────────────────────────────────────

// OutputFactory is a mock [audio.OutputFactory] that hands out [Output]
// values and remembers them.
type OutputFactory struct {
	mu sync.Mutex

	// Err is returned by [OutputFactory.NewOutput] when non-nil.
	Err error

	outputs []*Output
}

// NewOutput implements [audio.OutputFactory].
func (f *OutputFactory) NewOutput(format audio.Format) (audio.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	o := &Output{Format: format}
	f.outputs = append(f.outputs, o)
	return o, nil
}

// Outputs returns every output created so far, in creation order.
func (f *OutputFactory) Outputs() []*Output {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Output(nil), f.outputs...)
}

// Last returns the most recently created output, or nil.
func (f *OutputFactory) Last() *Output {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outputs) == 0 {
		return nil
	}
	return f.outputs[len(f.outputs)-1]
}
