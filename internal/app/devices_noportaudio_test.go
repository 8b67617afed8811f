//go:build !portaudio

package app

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/pagasa/internal/config"
	"github.com/MrWong99/pagasa/pkg/audio"
)

func TestOpenDevices_PortAudioNotBuilt(t *testing.T) {
	t.Parallel()
	_, err := openDevices(context.Background(), config.AudioConfig{Device: config.DevicePortAudio})
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("openDevices() = %v, want ErrDeviceUnavailable", err)
	}
}
