//go:build !portaudio

package app

import (
	"fmt"

	"github.com/MrWong99/pagasa/internal/config"
	"github.com/MrWong99/pagasa/pkg/audio"
)

func openPortAudio(config.AudioConfig) (devices, error) {
	return devices{}, fmt.Errorf("app: portaudio device: %w: binary built without -tags portaudio", audio.ErrDeviceUnavailable)
}
