package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/pagasa/internal/config"
	"github.com/MrWong99/pagasa/pkg/audio"
	"github.com/MrWong99/pagasa/pkg/audio/wavfile"
)

func TestOpenDevices_Null(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := openDevices(ctx, config.AudioConfig{Device: config.DeviceNull})
	if err != nil {
		t.Fatalf("openDevices: %v", err)
	}
	if _, err := d.mic.Open(ctx); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("mic.Open() = %v, want ErrDeviceUnavailable", err)
	}
	out, err := d.outputs.NewOutput(audio.Format{SampleRate: audio.OutputRate, Channels: 1})
	if err != nil {
		t.Fatalf("NewOutput: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOpenDevices_WAV(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	d, err := openDevices(ctx, config.AudioConfig{
		Device:    config.DeviceWAV,
		InputFile: filepath.Join(dir, "missing.wav"),
		OutputDir: filepath.Join(dir, "out"),
	})
	if err != nil {
		t.Fatalf("openDevices: %v", err)
	}
	if _, ok := d.mic.(*wavfile.Microphone); !ok {
		t.Errorf("mic = %T, want *wavfile.Microphone", d.mic)
	}
	if _, err := d.mic.Open(ctx); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("mic.Open() on missing file = %v, want ErrDeviceUnavailable", err)
	}

	format := audio.Format{SampleRate: audio.OutputRate, Channels: 1}
	for range 2 {
		if _, err := d.outputs.NewOutput(format); err != nil {
			t.Fatalf("NewOutput: %v", err)
		}
	}
	for _, name := range []string{"output-001.wav", "output-002.wav"} {
		if _, err := os.Stat(filepath.Join(dir, "out", name)); err != nil {
			t.Errorf("recording %s: %v", name, err)
		}
	}
}

func TestOpenDevices_Unknown(t *testing.T) {
	t.Parallel()
	if _, err := openDevices(context.Background(), config.AudioConfig{Device: "alsa"}); err == nil {
		t.Fatal("expected error for unknown device")
	}
}
