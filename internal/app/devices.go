package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/MrWong99/pagasa/internal/config"
	"github.com/MrWong99/pagasa/pkg/audio"
	"github.com/MrWong99/pagasa/pkg/audio/timeline"
	"github.com/MrWong99/pagasa/pkg/audio/wavfile"
)

// devices is the audio hardware selected by [config.AudioConfig].
type devices struct {
	mic     audio.Microphone
	outputs audio.OutputFactory

	// close releases the backend. May be nil.
	close func() error
}

// openDevices builds the microphone and output factory for cfg. Software
// outputs render on ctx and stop with it.
func openDevices(ctx context.Context, cfg config.AudioConfig) (devices, error) {
	switch cfg.Device {
	case config.DevicePortAudio:
		return openPortAudio(cfg)
	case config.DeviceWAV:
		d := devices{mic: noMicrophone{}, outputs: softwareOutputs(ctx, cfg.OutputDir)}
		if cfg.InputFile != "" {
			d.mic = &wavfile.Microphone{Path: cfg.InputFile, FramesPerBuffer: cfg.FramesPerBuffer, Loop: true}
		}
		return d, nil
	case config.DeviceNull, "":
		return devices{mic: noMicrophone{}, outputs: softwareOutputs(ctx, "")}, nil
	default:
		return devices{}, fmt.Errorf("app: unknown audio device %q", cfg.Device)
	}
}

// softwareOutputs renders on the wall clock. With dir set, every output is
// recorded to its own numbered WAV file.
func softwareOutputs(ctx context.Context, dir string) *timeline.Factory {
	f := &timeline.Factory{Ctx: ctx}
	if dir == "" {
		return f
	}
	var n atomic.Int64
	f.NewSink = func(format audio.Format) (timeline.Sink, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("app: create output dir: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("output-%03d.wav", n.Add(1)))
		return wavfile.NewRecorder(path, format)
	}
	return f
}

// noMicrophone is the capture side of headless deployments.
type noMicrophone struct{}

func (noMicrophone) Open(context.Context) (audio.Source, error) {
	return nil, fmt.Errorf("app: no microphone configured: %w", audio.ErrDeviceUnavailable)
}
