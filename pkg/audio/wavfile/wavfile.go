// Package wavfile adapts WAV files to the [audio] device interfaces: a
// [Microphone] that replays a recording in real time and a [Recorder] sink
// that writes rendered output to disk.
package wavfile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/pagasa/pkg/audio"
	"github.com/MrWong99/pagasa/pkg/audio/timeline"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone = (*Microphone)(nil)
	_ timeline.Sink    = (*Recorder)(nil)
)

// Microphone replays a WAV file as capture input, one frame of
// FramesPerBuffer samples per frame period.
type Microphone struct {
	Path string

	// FramesPerBuffer defaults to 4096.
	FramesPerBuffer int

	// Loop restarts the file when it ends.
	Loop bool
}

// Open implements [audio.Microphone]. A missing or invalid file wraps
// [audio.ErrDeviceUnavailable].
func (m *Microphone) Open(ctx context.Context) (audio.Source, error) {
	buf, err := Load(m.Path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open microphone: %w: %v", audio.ErrDeviceUnavailable, err)
	}
	fpb := m.FramesPerBuffer
	if fpb <= 0 {
		fpb = 4096
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &source{
		format: audio.Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels},
		ch:     make(chan audio.AudioFrame, 4),
		cancel: cancel,
	}
	s.wg.Go(func() { s.run(ctx, buf.Data, fpb, m.Loop) })
	return s, nil
}

// Load reads a whole WAV file into a normalised float buffer.
func Load(path string) (*goaudio.Float32Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return audio.DecodeSpeech(data, "audio/wav")
}

type source struct {
	format audio.Format
	ch     chan audio.AudioFrame
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *source) run(ctx context.Context, data []float32, fpb int, loop bool) {
	defer close(s.ch)
	step := fpb * s.format.Channels
	period := time.Duration(fpb) * time.Second / time.Duration(s.format.SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var seq uint64
	pos := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if pos >= len(data) {
			if !loop {
				return
			}
			pos = 0
		}
		end := min(pos+step, len(data))
		samples := make([]float32, end-pos)
		copy(samples, data[pos:end])
		pos = end

		select {
		case s.ch <- audio.AudioFrame{
			Samples:    samples,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Seq:        seq,
			Timestamp:  time.Duration(seq) * period,
		}:
		default:
		}
		seq++
	}
}

func (s *source) Frames() <-chan audio.AudioFrame { return s.ch }

func (s *source) Format() audio.Format { return s.format }

func (s *source) Close() error {
	s.once.Do(s.cancel)
	s.wg.Wait()
	return nil
}

// Recorder is a [timeline.Sink] that encodes rendered samples as 16-bit PCM
// WAV. Close finalises the header.
type Recorder struct {
	mu     sync.Mutex
	f      *os.File
	enc    *wav.Encoder
	format audio.Format
	ib     goaudio.IntBuffer
}

// NewRecorder creates path and prepares a WAV encoder for format.
func NewRecorder(path string, format audio.Format) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: create recorder: %w", err)
	}
	return &Recorder{
		f:      f,
		enc:    wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1),
		format: format,
		ib: goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

// Write implements [timeline.Sink].
func (r *Recorder) Write(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return audio.ErrOutputClosed
	}
	if cap(r.ib.Data) < len(samples) {
		r.ib.Data = make([]int, len(samples))
	}
	r.ib.Data = r.ib.Data[:len(samples)]
	for i, s := range samples {
		r.ib.Data[i] = int(audio.Quantize(s))
	}
	if err := r.enc.Write(&r.ib); err != nil {
		return fmt.Errorf("wavfile: write: %w", err)
	}
	return nil
}

// Close finalises the file. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return nil
	}
	encErr := r.enc.Close()
	fileErr := r.f.Close()
	r.enc = nil
	if encErr != nil {
		return fmt.Errorf("wavfile: close encoder: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("wavfile: close file: %w", fileErr)
	}
	return nil
}
