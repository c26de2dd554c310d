// Package buffered implements the frame-buffering transcription provider
// that sits between the dictation orchestrator and a speech engine.
//
// The provider accumulates incoming audio frames together with their speech
// probabilities and decides when enough context has been gathered to be worth
// an engine invocation. Two heuristics trigger a flush, evaluated on every
// Transcribe call:
//
//   - the buffered trailing silence exceeds the silence-flush window
//     (default 3 s), or
//   - the total buffered audio exceeds the hard cap (default 30 s),
//     regardless of the silence/speech pattern.
//
// Silence classification for these heuristics uses its own probability
// threshold (default 0.2), deliberately independent from the VAD's internal
// threshold — the two are separately tunable layers.
//
// The provider works identically over a local subprocess engine and a cloud
// API engine; it only depends on [stt.Engine]. It is not safe for concurrent
// use on its own: the orchestrator serialises access through its
// transcription mutex, and exactly one logical buffer is active per provider
// instance.
package buffered

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

const (
	// defaultSilenceProbability is the speech probability at or below which
	// a frame counts as silence for the flush heuristic.
	defaultSilenceProbability = 0.2

	// defaultSilenceFlush is the trailing-silence duration that triggers a
	// flush.
	defaultSilenceFlush = 3 * time.Second

	// defaultMaxBuffer is the hard cap on buffered audio. Reaching it
	// forces a flush regardless of the silence pattern.
	defaultMaxBuffer = 30 * time.Second
)

// Config holds the tunable parameters of a [Provider]. Zero fields receive
// defaults in [New].
type Config struct {
	// SilenceProbability classifies a frame as silence when its speech
	// probability does not exceed this value. Default: 0.2.
	SilenceProbability float64

	// SilenceFlush is the trailing-silence duration that fires the flush
	// heuristic. Default: 3 s.
	SilenceFlush time.Duration

	// MaxBuffer is the buffered-audio duration that forces a flush.
	// Default: 30 s.
	MaxBuffer time.Duration

	// SkipSilent skips the engine call entirely when every buffered frame
	// is silent; the buffer is still cleared and empty text returned.
	SkipSilent bool

	// OnFlush, when set, is called with the trigger reason ("silence",
	// "max_buffer" or "finalize") each time the buffer is flushed. Used for
	// metrics.
	OnFlush func(reason string)

	// OnRecognize, when set, is called with the wall-clock duration of each
	// engine invocation, successful or not. Used for metrics.
	OnRecognize func(elapsed time.Duration)
}

// Context carries the per-session information used to build the engine's
// initial prompt.
type Context struct {
	// Vocabulary is the user's custom vocabulary terms.
	Vocabulary []string

	// Language is the BCP-47 dictation language code.
	Language string

	// AggregatedText is the transcription accumulated so far in this
	// session.
	AggregatedText string

	// TextBeforeCursor is the text preceding the insertion point, taken
	// from the accessibility snapshot. Used as prompt context only until
	// the session has produced its own text.
	TextBeforeCursor string
}

// Provider buffers frames and invokes an [stt.Engine] when a flush heuristic
// fires.
type Provider struct {
	engine stt.Engine
	cfg    Config

	// Buffer state. Cleared atomically whenever a transcription attempt is
	// issued, whether or not it produces text.
	frames  [][]float32
	probs   []float64
	total   time.Duration
	silence time.Duration
}

// New creates a Provider over the given engine. engine must not be nil.
func New(engine stt.Engine, cfg Config) (*Provider, error) {
	if engine == nil {
		return nil, fmt.Errorf("buffered: engine must not be nil")
	}
	if cfg.SilenceProbability == 0 {
		cfg.SilenceProbability = defaultSilenceProbability
	}
	if cfg.SilenceFlush == 0 {
		cfg.SilenceFlush = defaultSilenceFlush
	}
	if cfg.MaxBuffer == 0 {
		cfg.MaxBuffer = defaultMaxBuffer
	}
	if cfg.SilenceProbability < 0 || cfg.SilenceProbability > 1 {
		return nil, fmt.Errorf("buffered: silence probability %v out of range [0, 1]", cfg.SilenceProbability)
	}
	return &Provider{engine: engine, cfg: cfg}, nil
}

// Transcribe appends frame to the internal buffer and, when a flush
// heuristic fires, aggregates the buffer and invokes the engine. It returns
// empty text when no flush occurred. An engine failure is returned as-is;
// the buffer has already been cleared, the provider stays usable, and the
// caller decides whether the session survives.
func (p *Provider) Transcribe(ctx context.Context, frame audio.Frame, sctx Context) (string, error) {
	if !frame.Empty() {
		p.frames = append(p.frames, frame.Samples)
		p.probs = append(p.probs, frame.Probability)
		p.total += frame.Duration()

		if frame.Probability > p.cfg.SilenceProbability {
			p.silence = 0
		} else {
			p.silence += frame.Duration()
		}
	}

	switch {
	case p.silence > p.cfg.SilenceFlush:
		return p.flush(ctx, sctx, "silence")
	case p.total > p.cfg.MaxBuffer:
		return p.flush(ctx, sctx, "max_buffer")
	}
	return "", nil
}

// Flush forces aggregation and engine invocation on whatever is buffered.
// Returns empty text if nothing is buffered. Used when the session ends.
func (p *Provider) Flush(ctx context.Context, sctx Context) (string, error) {
	if len(p.frames) == 0 {
		return "", nil
	}
	return p.flush(ctx, sctx, "finalize")
}

// Reset discards all buffered frames without invoking the engine. Used on
// cancellation so that buffered audio cannot bleed into the next session.
func (p *Provider) Reset() {
	p.clear()
}

// Buffered returns the duration of audio currently held in the buffer.
func (p *Provider) Buffered() time.Duration {
	return p.total
}

// flush aggregates the buffer into one contiguous sample array, clears the
// internal state, and invokes the engine. The state is cleared before the
// engine call so a failure cannot leave stale audio behind.
func (p *Provider) flush(ctx context.Context, sctx Context, reason string) (string, error) {
	frames := p.frames
	probs := p.probs
	p.clear()

	if p.cfg.OnFlush != nil {
		p.cfg.OnFlush(reason)
	}

	if p.cfg.SkipSilent && allSilent(probs, p.cfg.SilenceProbability) {
		return "", nil
	}

	var n int
	for _, f := range frames {
		n += len(f)
	}
	samples := make([]float32, 0, n)
	for _, f := range frames {
		samples = append(samples, f...)
	}

	start := time.Now()
	text, err := p.engine.Recognize(ctx, samples, stt.RecognizeRequest{
		Language: sctx.Language,
		Prompt:   buildPrompt(sctx),
	})
	if p.cfg.OnRecognize != nil {
		p.cfg.OnRecognize(time.Since(start))
	}
	if err != nil {
		return "", fmt.Errorf("buffered: engine recognize: %w", err)
	}
	return text, nil
}

// clear empties the frame buffer, the probability array, and the duration
// counters.
func (p *Provider) clear() {
	p.frames = nil
	p.probs = nil
	p.total = 0
	p.silence = 0
}

// allSilent reports whether every recorded probability is at or below the
// silence threshold. An empty buffer counts as silent.
func allSilent(probs []float64, threshold float64) bool {
	for _, pr := range probs {
		if pr > threshold {
			return false
		}
	}
	return true
}

// buildPrompt assembles the engine's initial prompt: custom vocabulary terms
// first, then the running transcription, or — when the session has produced
// no text yet — the text preceding the cursor. Downstream engines truncate
// long prompts themselves, so no bound is applied here.
func buildPrompt(sctx Context) string {
	var parts []string
	if len(sctx.Vocabulary) > 0 {
		parts = append(parts, strings.Join(sctx.Vocabulary, ", "))
	}
	switch {
	case sctx.AggregatedText != "":
		parts = append(parts, sctx.AggregatedText)
	case sctx.TextBeforeCursor != "":
		parts = append(parts, sctx.TextBeforeCursor)
	}
	return strings.Join(parts, "\n")
}
