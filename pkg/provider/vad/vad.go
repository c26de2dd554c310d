// Package vad implements frame-level Voice Activity Detection for the
// dictation pipeline.
//
// The detector runs a compact recurrent inference pass per frame: each
// 512-sample frame is evaluated together with a short trailing context window
// from the previous frame, reduced to acoustic features (energy against an
// adaptive noise estimate, zero-crossing rate), and mapped to a raw speech
// probability. The raw probability is then smoothed by hysteresis: the public
// IsSpeaking flag asserts only after a run of consecutive speech frames and
// deasserts only after a configurable run of consecutive silence frames
// ("redemption frames"), which prevents flapping on noisy input.
//
// A Detector is stateful and NOT safe for concurrent use; the orchestrator
// serialises access with a dedicated mutex. Reset must be called at the
// start of every new recording session so that recurrent state from the
// previous session cannot leak into the next one.
package vad

import (
	"fmt"
	"math"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

const (
	// contextSamples is the length of the trailing context window carried
	// between frames. Matches the Silero streaming convention of prepending
	// a 64-sample tail at 16 kHz.
	contextSamples = 64

	// defaultSpeechThreshold is the raw-probability threshold above which a
	// frame counts as speech for the detector's own hysteresis. This is
	// intentionally independent from the (looser) threshold the buffering
	// provider applies for its flush heuristic.
	defaultSpeechThreshold = 0.1

	// defaultActivationFrames is the number of consecutive speech frames
	// required before IsSpeaking asserts.
	defaultActivationFrames = 3

	// defaultRedemptionFrames is the number of consecutive silence frames
	// required before IsSpeaking deasserts.
	defaultRedemptionFrames = 8

	// noiseFloor is the minimum RMS level used as the ambient noise
	// estimate. Energy near this floor maps to a near-zero speech
	// probability.
	noiseFloor = 0.010

	// fricativeZCR is the zero-crossing rate above which the window is
	// treated as broadband noise and the probability is discounted.
	fricativeZCR = 0.35
)

// Config holds the tunable parameters of a [Detector]. The zero value is not
// usable; call [New], which applies defaults for unset fields.
type Config struct {
	// SpeechThreshold is the raw probability above which a frame is
	// classified as speech. Range (0, 1). Default: 0.1.
	SpeechThreshold float64

	// ActivationFrames is the consecutive-speech run length required to
	// assert IsSpeaking. Must be ≥ 1. Default: 3.
	ActivationFrames int

	// RedemptionFrames is the consecutive-silence run length required to
	// deassert IsSpeaking. Must be ≥ 1. Default: 8.
	RedemptionFrames int
}

// Result is the outcome of a single [Detector.ProcessFrame] call.
type Result struct {
	// Probability is the raw speech probability for this frame in [0, 1].
	Probability float64

	// IsSpeaking is the hysteresis-smoothed speaking flag.
	IsSpeaking bool
}

// Detector is a stateful frame-level voice activity detector.
type Detector struct {
	cfg Config

	// Recurrent inference state carried between frames: the adaptive noise
	// estimate and the trailing sample context of the previous frame.
	noiseLevel float64
	context    []float32

	// Hysteresis counters.
	speechRun  int
	silenceRun int
	isSpeaking bool
}

// New creates a Detector. Unset config fields receive defaults; out-of-range
// fields are rejected.
func New(cfg Config) (*Detector, error) {
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = defaultSpeechThreshold
	}
	if cfg.ActivationFrames == 0 {
		cfg.ActivationFrames = defaultActivationFrames
	}
	if cfg.RedemptionFrames == 0 {
		cfg.RedemptionFrames = defaultRedemptionFrames
	}

	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold >= 1 {
		return nil, fmt.Errorf("vad: speech threshold %v out of range (0, 1)", cfg.SpeechThreshold)
	}
	if cfg.ActivationFrames < 1 {
		return nil, fmt.Errorf("vad: activation frames must be ≥ 1, got %d", cfg.ActivationFrames)
	}
	if cfg.RedemptionFrames < 1 {
		return nil, fmt.Errorf("vad: redemption frames must be ≥ 1, got %d", cfg.RedemptionFrames)
	}

	return &Detector{
		cfg:        cfg,
		noiseLevel: noiseFloor,
		context:    make([]float32, contextSamples),
	}, nil
}

// ProcessFrame classifies one frame of float32 PCM. Frames shorter than the
// fixed window are zero-padded and longer frames are truncated — both are
// defined behaviours, not errors.
func (d *Detector) ProcessFrame(frame []float32) (Result, error) {
	samples := audio.Fit(frame, audio.FrameSamples)

	prob := d.infer(samples)

	if prob > d.cfg.SpeechThreshold {
		d.speechRun++
		d.silenceRun = 0
		if !d.isSpeaking && d.speechRun >= d.cfg.ActivationFrames {
			d.isSpeaking = true
		}
	} else {
		d.silenceRun++
		d.speechRun = 0
		if d.isSpeaking && d.silenceRun >= d.cfg.RedemptionFrames {
			d.isSpeaking = false
		}
	}

	return Result{Probability: prob, IsSpeaking: d.isSpeaking}, nil
}

// Reset zeroes the recurrent state, the context buffer, and the hysteresis
// counters. Must be called at the start of every new recording session.
func (d *Detector) Reset() {
	d.noiseLevel = noiseFloor
	for i := range d.context {
		d.context[i] = 0
	}
	d.speechRun = 0
	d.silenceRun = 0
	d.isSpeaking = false
}

// infer runs one inference pass: the frame's energy is compared against the
// adaptive noise estimate, the zero-crossing rate over the combined
// context+frame window gates out broadband noise, the noise estimate is
// updated, and the context buffer is replaced with the frame's tail.
func (d *Detector) infer(samples []float32) float64 {
	energy := audio.RMS(samples)

	// Combined window for the crossing-rate feature so that the measure is
	// continuous across frame boundaries.
	window := make([]float32, 0, contextSamples+len(samples))
	window = append(window, d.context...)
	window = append(window, samples...)
	crossings := zeroCrossingRate(window)

	// Adaptive noise estimate: tracks downwards quickly and upwards slowly
	// so that brief speech does not inflate the floor.
	if energy < d.noiseLevel {
		d.noiseLevel = 0.9*d.noiseLevel + 0.1*energy
	} else {
		d.noiseLevel = 0.999*d.noiseLevel + 0.001*energy
	}
	if d.noiseLevel < noiseFloor {
		d.noiseLevel = noiseFloor
	}

	// Logistic squashing of the signal-to-noise ratio. Voiced speech has
	// moderate zero-crossing rates; very high rates indicate fricative or
	// broadband noise and are discounted.
	snr := energy / d.noiseLevel
	raw := 1 / (1 + math.Exp(-(snr-2.5)))
	if crossings > fricativeZCR {
		raw *= 0.5
	}

	// Update context buffer with the frame's trailing slice.
	copy(d.context, samples[len(samples)-contextSamples:])

	return raw
}

// zeroCrossingRate returns the fraction of adjacent sample pairs whose signs
// differ. Range [0, 1].
func zeroCrossingRate(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}
