// Package audio provides the frame type and PCM conversion primitives shared
// by the VAD, the transcription providers, and the speech engines.
//
// The pipeline operates on fixed-size frames of 32-bit float PCM: 512 samples
// at 16 kHz, i.e. 32 ms per frame. Frames are immutable and transient — they
// flow through the pipeline and are never persisted.
package audio

import "time"

const (
	// SampleRate is the fixed sample rate of the dictation pipeline in Hz.
	// All engines and the VAD operate on 16 kHz mono audio.
	SampleRate = 16000

	// FrameSamples is the number of float32 samples in one pipeline frame.
	FrameSamples = 512

	// FrameDuration is the wall-clock duration covered by one frame
	// (512 samples at 16 kHz = 32 ms).
	FrameDuration = FrameSamples * time.Second / SampleRate
)

// Frame is a single fixed-length buffer of mono float32 PCM samples in the
// range [-1, 1], plus the speech probability assigned to it. Probability is
// either supplied by the capture layer or computed by the VAD; -1 means
// "not yet classified".
type Frame struct {
	// Samples holds the PCM data. Callers may pass frames of any length;
	// consumers that require exactly [FrameSamples] samples use [Fit].
	Samples []float32

	// Probability is the speech probability in [0, 1], or -1 when unset.
	Probability float64
}

// NewFrame returns a Frame with an unset probability.
func NewFrame(samples []float32) Frame {
	return Frame{Samples: samples, Probability: -1}
}

// Duration returns the wall-clock duration of the frame at the pipeline
// sample rate.
func (f Frame) Duration() time.Duration {
	return time.Duration(len(f.Samples)) * time.Second / SampleRate
}

// Empty reports whether the frame carries no samples.
func (f Frame) Empty() bool {
	return len(f.Samples) == 0
}

// Fit returns a sample slice of exactly n samples: shorter inputs are
// zero-padded, longer inputs are truncated. Both are defined behaviours of
// the pipeline, not errors. The input slice is never mutated; padding
// allocates a fresh slice, truncation returns a sub-slice.
func Fit(samples []float32, n int) []float32 {
	switch {
	case len(samples) == n:
		return samples
	case len(samples) > n:
		return samples[:n]
	default:
		padded := make([]float32, n)
		copy(padded, samples)
		return padded
	}
}
