package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Conformer converts capture frames to mono at a target rate before they
// are encoded for the wire. It logs a warning on the first format mismatch
// and on the first misaligned frame.
// Create one per stream; not designed for shared use across goroutines.
type Conformer struct {
	TargetRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Conform returns frame as mono samples at c.TargetRate. If the frame
// already matches, its samples are returned without copying. Frames whose
// sample count is not a multiple of the channel count are dropped (nil).
func (c *Conformer) Conform(frame AudioFrame) []float32 {
	channels := frame.Channels
	if channels <= 0 {
		channels = 1
	}
	if len(frame.Samples)%channels != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio conformer: sample count not aligned to channels, dropping frame",
				"samples", len(frame.Samples),
				"channels", channels,
			)
		})
		return nil
	}

	if frame.SampleRate == c.TargetRate && channels == 1 {
		return frame.Samples
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, channels),
			"to", formatString(c.TargetRate, 1),
		)
	})

	// Downmix first so only one channel is resampled.
	mono := frame.Samples
	if channels > 1 {
		mono = DownmixToMono(frame.Samples, channels)
	}
	return Resample(mono, frame.SampleRate, c.TargetRate)
}

// DownmixToMono averages each interleaved frame of the given channel count.
func DownmixToMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. Equal or invalid rates return the input unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1

	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx < last {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// formatString returns e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
