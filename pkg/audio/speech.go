package audio

import (
	"bytes"
	"fmt"
	"mime"
	"strconv"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeSpeech turns a synthesised speech payload into a playable buffer.
//
// RIFF/WAVE payloads are decoded with their embedded format. Anything else
// is treated as raw little-endian PCM16; its rate comes from the MIME
// "rate" parameter (e.g. "audio/L16;codec=pcm;rate=24000") and defaults to
// [OutputRate] mono.
func DecodeSpeech(data []byte, mimeType string) (*goaudio.Float32Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("audio: decode speech: empty payload: %w", ErrMalformedFrame)
	}
	if isWAV(data) {
		return decodeWAV(data)
	}
	samples, err := DecodePCM16(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode speech: %w", err)
	}
	rate, channels := pcmParams(mimeType)
	return PCM16ToBuffer(samples, rate, channels), nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func decodeWAV(data []byte) (*goaudio.Float32Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("audio: decode wav: invalid file: %w", ErrMalformedFrame)
	}
	ib, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w: %v", ErrMalformedFrame, err)
	}
	depth := int(dec.BitDepth)
	if depth <= 0 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))
	out := make([]float32, len(ib.Data))
	for i, v := range ib.Data {
		out[i] = float32(v) / scale
	}
	return &goaudio.Float32Buffer{
		Format: &goaudio.Format{
			NumChannels: int(dec.NumChans),
			SampleRate:  int(dec.SampleRate),
		},
		Data:           out,
		SourceBitDepth: depth,
	}, nil
}

// pcmParams extracts rate and channel count from a PCM MIME type.
func pcmParams(mimeType string) (rate, channels int) {
	rate, channels = OutputRate, 1
	if mimeType == "" {
		return rate, channels
	}
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return rate, channels
	}
	if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
		rate = r
	}
	if c, err := strconv.Atoi(params["channels"]); err == nil && c > 0 {
		channels = c
	}
	return rate, channels
}
