// Package timeline provides a software [audio.Output]: a mixer whose clock is
// the number of sample frames rendered so far.
//
// Buffers are scheduled at absolute clock positions and kept in a min-heap
// until the render position reaches them. A device driver (or a test) calls
// [Timeline.Render] to pull mixed samples; nothing advances the clock except
// Render. [Timeline.Drive] renders in real time for headless operation.
package timeline

import (
	"container/heap"
	"context"
	"io"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/MrWong99/pagasa/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Timeline)(nil)

// defaultQueueCap is the initial capacity hint for the pending heap.
const defaultQueueCap = 16

// Option configures a [Timeline] during construction.
type Option func(*Timeline)

// WithQueueCapacity sets the initial capacity hint for the pending heap.
func WithQueueCapacity(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.pending = make(voiceHeap, 0, n)
		}
	}
}

// WithGain scales every rendered sample. The mix is clamped to [-1, 1].
func WithGain(g float32) Option {
	return func(t *Timeline) {
		t.gain = g
	}
}

// Timeline is a sample-clock mixer implementing [audio.Output].
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	format audio.Format
	gain   float32

	mu      sync.Mutex
	clock   int64 // frames rendered
	seq     uint64
	pending voiceHeap
	active  []*voice
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Timeline rendering at format. Zero fields default to
// [audio.OutputRate] mono.
func New(format audio.Format, opts ...Option) *Timeline {
	if format.SampleRate <= 0 {
		format.SampleRate = audio.OutputRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	t := &Timeline{
		format:  format,
		gain:    1,
		pending: make(voiceHeap, 0, defaultQueueCap),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	heap.Init(&t.pending)
	return t
}

// Format returns the render format.
func (t *Timeline) Format() audio.Format { return t.format }

// Now implements [audio.Output].
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.framesToDuration(t.clock)
}

// Play implements [audio.Output]. buf is converted to the timeline format
// when its rate or channel count differs. A position before the current
// clock starts at the clock.
func (t *Timeline) Play(buf *goaudio.Float32Buffer, at time.Duration) (audio.Voice, error) {
	samples := t.conform(buf)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, audio.ErrOutputClosed
	}

	start := t.durationToFrames(at)
	if start < t.clock {
		start = t.clock
	}
	t.seq++
	v := &voice{
		tl:      t,
		samples: samples,
		start:   start,
		seq:     t.seq,
		done:    make(chan struct{}),
	}
	if len(samples) == 0 {
		v.finish()
		return v, nil
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Render mixes the next len(dst)/channels frames into dst and advances the
// clock by that amount. Voices that end inside the window are marked done.
// It returns the number of frames rendered.
func (t *Timeline) Render(dst []float32) int {
	ch := t.format.Channels
	frames := len(dst) / ch
	clear(dst)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	end := t.clock + int64(frames)

	for t.pending.Len() > 0 && t.pending[0].start < end {
		v := heap.Pop(&t.pending).(*voice)
		if !v.stopped {
			t.active = append(t.active, v)
		}
	}

	var finished []*voice
	kept := t.active[:0]
	for _, v := range t.active {
		if v.stopped {
			continue
		}
		offset := int64(0)
		if v.start > t.clock {
			offset = v.start - t.clock
		}
		for i := offset; i < int64(frames) && v.pos+ch <= len(v.samples); i++ {
			base := int(i) * ch
			for c := range ch {
				dst[base+c] += v.samples[v.pos+c]
			}
			v.pos += ch
		}
		if v.pos+ch > len(v.samples) {
			finished = append(finished, v)
			continue
		}
		kept = append(kept, v)
	}
	clear(t.active[len(kept):])
	t.active = kept
	t.clock = end
	t.mu.Unlock()

	for i, s := range dst {
		s *= t.gain
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		dst[i] = s
	}
	for _, v := range finished {
		v.finish()
	}
	return frames
}

// Voices returns the number of scheduled voices that have not finished.
func (t *Timeline) Voices() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.active)
	for _, v := range t.pending {
		if !v.stopped {
			n++
		}
	}
	return n
}

// Sink receives rendered interleaved samples from [Timeline.Drive].
type Sink interface {
	Write(samples []float32) error
}

// Drive renders period-sized windows in real time until ctx is cancelled or
// the timeline is closed. Rendered samples are passed to sink when non-nil;
// a sink that is also an [io.Closer] is closed when the driver stops.
func (t *Timeline) Drive(ctx context.Context, period time.Duration, sink Sink) {
	frames := int(int64(t.format.SampleRate) * int64(period) / int64(time.Second))
	if frames <= 0 {
		frames = 1
	}
	buf := make([]float32, frames*t.format.Channels)

	t.wg.Go(func() {
		if c, ok := sink.(io.Closer); ok {
			defer c.Close()
		}
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case <-ticker.C:
				if t.Render(buf) == 0 {
					return
				}
				if sink != nil {
					_ = sink.Write(buf)
				}
			}
		}
	})
}

// Close implements [audio.Output]. It stops every voice, waits for a driver
// started with Drive, and is idempotent.
func (t *Timeline) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		voices := append([]*voice(nil), t.active...)
		voices = append(voices, t.pending...)
		t.active = nil
		t.pending = nil
		t.mu.Unlock()

		for _, v := range voices {
			v.finish()
		}
		close(t.done)
	})
	t.wg.Wait()
	return nil
}

// conform converts buf to interleaved samples in the timeline format.
func (t *Timeline) conform(buf *goaudio.Float32Buffer) []float32 {
	if buf == nil || len(buf.Data) == 0 {
		return nil
	}
	srcRate, srcCh := t.format.SampleRate, 1
	if buf.Format != nil {
		if buf.Format.SampleRate > 0 {
			srcRate = buf.Format.SampleRate
		}
		if buf.Format.NumChannels > 0 {
			srcCh = buf.Format.NumChannels
		}
	}
	if srcRate == t.format.SampleRate && srcCh == t.format.Channels {
		return buf.Data
	}

	mono := audio.DownmixToMono(buf.Data[:len(buf.Data)-len(buf.Data)%srcCh], srcCh)
	mono = audio.Resample(mono, srcRate, t.format.SampleRate)
	if t.format.Channels == 1 {
		return mono
	}
	out := make([]float32, len(mono)*t.format.Channels)
	for i, s := range mono {
		for c := range t.format.Channels {
			out[i*t.format.Channels+c] = s
		}
	}
	return out
}

func (t *Timeline) framesToDuration(frames int64) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(t.format.SampleRate)
}

// durationToFrames rounds up so that a position produced by
// framesToDuration, which truncates to whole nanoseconds, maps back to the
// same frame.
func (t *Timeline) durationToFrames(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return (int64(d)*int64(t.format.SampleRate) + int64(time.Second) - 1) / int64(time.Second)
}

// voice is one scheduled buffer. samples, start and seq are immutable; pos
// and stopped are guarded by the timeline mutex.
type voice struct {
	tl      *Timeline
	samples []float32
	start   int64
	seq     uint64
	pos     int
	stopped bool

	once sync.Once
	done chan struct{}
}

// Stop implements [audio.Voice].
func (v *voice) Stop() {
	v.tl.mu.Lock()
	v.stopped = true
	v.tl.mu.Unlock()
	v.finish()
}

// Done implements [audio.Voice].
func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) finish() { v.once.Do(func() { close(v.done) }) }
