// Package audio defines the device abstractions, frame types and wire codec
// used by the PAG-ASA audio pipeline.
//
// Three capabilities are injected into the components that need them:
//
//   - [Microphone] opens a capture [Source] that delivers [AudioFrame] values.
//   - [OutputFactory] creates an independent [Output] context per playback
//     source. An Output exposes a monotonic device clock and schedules
//     buffers at absolute positions on it.
//   - [Voice] is the handle of one scheduled buffer.
//
// Concrete devices live in sub-packages (audio/portaudio, audio/timeline);
// audio/mock provides fakes for tests.
package audio

import (
	"context"
	"errors"
	"time"

	goaudio "github.com/go-audio/audio"
)

// ErrDeviceUnavailable is returned when a capture or playback device cannot
// be acquired (no device, permission denied by the OS, unsupported format).
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// ErrOutputClosed is returned by [Output.Play] after the output was closed.
var ErrOutputClosed = errors.New("audio: output closed")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Source is an open capture stream. Frames is closed by the implementation
// after Close or when the device fails.
//
// Implementations must never block the device callback on a slow consumer:
// when the Frames channel is full, new frames are dropped.
type Source interface {
	Frames() <-chan AudioFrame

	// Format reports the native format of the delivered frames.
	Format() Format

	// Close stops the device and releases it. Safe to call more than once.
	Close() error
}

// Microphone acquires capture sources.
type Microphone interface {
	// Open acquires the capture device. It returns an error wrapping
	// [ErrDeviceUnavailable] when the device cannot be used.
	Open(ctx context.Context) (Source, error)
}

// Voice is a handle to a single buffer scheduled on an [Output].
type Voice interface {
	// Stop cancels playback. Done is closed once Stop returns.
	Stop()

	// Done is closed when the buffer finished playing or was stopped.
	Done() <-chan struct{}
}

// Output is an independent playback context with its own clock. It is the
// Go counterpart of a browser AudioContext.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Play schedules buf to start at the absolute clock position at. A
	// position in the past starts immediately.
	Play(buf *goaudio.Float32Buffer, at time.Duration) (Voice, error)

	// Close stops all voices and releases the device. Safe to call more
	// than once.
	Close() error
}

// OutputFactory creates output contexts. Every logical playback source
// (conversation, report, live update) gets its own context.
type OutputFactory interface {
	NewOutput(format Format) (Output, error)
}
