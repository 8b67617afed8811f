//go:build portaudio

package app

import (
	"github.com/MrWong99/pagasa/internal/config"
	"github.com/MrWong99/pagasa/pkg/audio/portaudio"
)

func openPortAudio(cfg config.AudioConfig) (devices, error) {
	terminate, err := portaudio.Init()
	if err != nil {
		return devices{}, err
	}
	return devices{
		mic:     &portaudio.Microphone{FramesPerBuffer: cfg.FramesPerBuffer},
		outputs: &portaudio.Speaker{},
		close:   terminate,
	}, nil
}
