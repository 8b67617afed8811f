package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
)

const (
	// TransportRate is the fixed sample rate of microphone audio on the
	// wire. It is not negotiated with the remote side.
	TransportRate = 16000

	// OutputRate is the sample rate of agent and synthesised speech.
	OutputRate = 24000

	// TransportMIMEType labels outbound chunks.
	TransportMIMEType = "audio/pcm;rate=16000"

	sampleWidth = 2
	pcmScale    = 32768.0
)

var (
	// ErrMalformedFrame is returned when an inbound payload cannot be
	// decoded into whole 16-bit samples.
	ErrMalformedFrame = errors.New("audio: malformed frame")

	// ErrRateMismatch is returned by [EncodeOutbound] when the samples are
	// not at [TransportRate].
	ErrRateMismatch = errors.New("audio: sample rate does not match transport rate")
)

// EncodeOutbound quantises mono samples in [-1, 1] to little-endian signed
// 16-bit PCM and returns the standard base64 text form. Values outside the
// range are clamped. The caller resamples to [TransportRate] beforehand.
func EncodeOutbound(samples []float32, sourceRate int) (string, error) {
	if sourceRate != TransportRate {
		return "", fmt.Errorf("audio: encode outbound at %d Hz: %w", sourceRate, ErrRateMismatch)
	}
	raw := make([]byte, len(samples)*sampleWidth)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*sampleWidth:], uint16(Quantize(s)))
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Quantize maps a normalised sample to int16 using round(x*32768), clamped
// to the int16 range.
func Quantize(s float32) int16 {
	v := math.Round(float64(s) * pcmScale)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodeInbound reverses [EncodeOutbound]: base64 text to int16 samples.
func DecodeInbound(encoded string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("audio: decode inbound: %w: %v", ErrMalformedFrame, err)
	}
	return DecodePCM16(raw)
}

// DecodePCM16 interprets raw as little-endian int16 samples.
func DecodePCM16(raw []byte) ([]int16, error) {
	if len(raw)%sampleWidth != 0 {
		return nil, fmt.Errorf("audio: decode pcm16: %d bytes is not a multiple of %d: %w",
			len(raw), sampleWidth, ErrMalformedFrame)
	}
	out := make([]int16, len(raw)/sampleWidth)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*sampleWidth:]))
	}
	return out, nil
}

// PCM16ToBuffer rescales samples to normalised floats (value / 32768) and
// tags the buffer with targetRate and channels. No resampling is done: the
// caller supplies metadata that matches what was encoded upstream.
func PCM16ToBuffer(samples []int16, targetRate, channels int) *goaudio.Float32Buffer {
	data := make([]float32, len(samples))
	for i, s := range samples {
		data[i] = float32(s) / pcmScale
	}
	return &goaudio.Float32Buffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  targetRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
}

// BufferDuration returns the playback length of buf.
func BufferDuration(buf *goaudio.Float32Buffer) time.Duration {
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(buf.NumFrames()) * time.Second / time.Duration(buf.Format.SampleRate)
}
