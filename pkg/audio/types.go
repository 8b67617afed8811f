package audio

import "time"

// AudioFrame is one contiguous run of linear samples moving through the
// pipeline. Frames are handed from stage to stage by channel send; the
// receiving stage owns the Samples slice from then on.
type AudioFrame struct {
	// Samples holds interleaved, normalised samples in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 48000 from a sound card, 16000 on the wire).
	SampleRate int

	// Channels is 1 for mono, 2 for interleaved stereo.
	Channels int

	// Seq is monotonically increasing per source, starting at 0.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Frames returns the number of sample frames (samples per channel) in f.
func (f AudioFrame) Frames() int {
	if f.Channels <= 0 {
		return len(f.Samples)
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Frames()) * time.Second / time.Duration(f.SampleRate)
}
