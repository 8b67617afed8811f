//go:build portaudio

// Package portaudio binds the default system devices to the [audio]
// interfaces using PortAudio. Build with -tags portaudio.
//
// [Init] must be called once before any device is opened and the returned
// function called on shutdown.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/pagasa/pkg/audio"
	"github.com/MrWong99/pagasa/pkg/audio/timeline"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.OutputFactory = (*Speaker)(nil)
)

// Init initialises PortAudio. The returned function terminates it.
func Init() (func() error, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %v", audio.ErrDeviceUnavailable, err)
	}
	return func() error {
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("portaudio: terminate: %w", err)
		}
		return nil
	}, nil
}

// Microphone opens the default input device.
type Microphone struct {
	// SampleRate requested from the device. Defaults to [audio.TransportRate].
	SampleRate int

	// FramesPerBuffer is the callback size. Defaults to 4096.
	FramesPerBuffer int

	// Buffer is the capacity of the frame channel. Defaults to 16.
	Buffer int
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context) (audio.Source, error) {
	rate := m.SampleRate
	if rate <= 0 {
		rate = audio.TransportRate
	}
	fpb := m.FramesPerBuffer
	if fpb <= 0 {
		fpb = 4096
	}
	capacity := m.Buffer
	if capacity <= 0 {
		capacity = 16
	}

	s := &source{
		format: audio.Format{SampleRate: rate, Channels: 1},
		ch:     make(chan audio.AudioFrame, capacity),
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), fpb, s.callback)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w: %v", audio.ErrDeviceUnavailable, err)
	}
	s.stream = stream
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w: %v", audio.ErrDeviceUnavailable, err)
	}
	return s, nil
}

type source struct {
	format audio.Format
	stream *portaudio.Stream
	ch     chan audio.AudioFrame
	seq    atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// callback runs on the PortAudio thread and never blocks.
func (s *source) callback(in []float32) {
	samples := make([]float32, len(in))
	copy(samples, in)
	seq := s.seq.Add(1) - 1

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- audio.AudioFrame{
		Samples:    samples,
		SampleRate: s.format.SampleRate,
		Channels:   1,
		Seq:        seq,
		Timestamp:  time.Duration(seq) * time.Duration(len(in)) * time.Second / time.Duration(s.format.SampleRate),
	}:
	default:
	}
}

func (s *source) Frames() <-chan audio.AudioFrame { return s.ch }

func (s *source) Format() audio.Format { return s.format }

func (s *source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := errors.Join(s.stream.Stop(), s.stream.Close())
	close(s.ch)
	if err != nil {
		return fmt.Errorf("portaudio: close input: %w", err)
	}
	return nil
}

// Speaker opens one default output stream per [audio.Output]. Each stream's
// callback renders from its own [timeline.Timeline].
type Speaker struct {
	// FramesPerBuffer is the callback size. Defaults to 1024.
	FramesPerBuffer int
}

// NewOutput implements [audio.OutputFactory].
func (sp *Speaker) NewOutput(format audio.Format) (audio.Output, error) {
	fpb := sp.FramesPerBuffer
	if fpb <= 0 {
		fpb = 1024
	}
	tl := timeline.New(format)
	f := tl.Format()
	stream, err := portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), fpb,
		func(out []float32) { tl.Render(out) })
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output: %w: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start output: %w: %v", audio.ErrDeviceUnavailable, err)
	}
	return &output{Timeline: tl, stream: stream}, nil
}

// output stops the device stream before closing the timeline so the
// callback never renders from a closed mixer.
type output struct {
	*timeline.Timeline
	stream *portaudio.Stream
	once   sync.Once
}

func (o *output) Close() error {
	var err error
	o.once.Do(func() {
		err = errors.Join(o.stream.Stop(), o.stream.Close(), o.Timeline.Close())
	})
	return err
}
