// Package dictation contains the per-session orchestration of the streaming
// transcription pipeline: voice-activity gating, delegation to the buffering
// transcription provider, and the finalize/cancel protocol with formatting,
// vocabulary replacement and persistence.
//
// Concurrency model: two independent mutexes serialize the pipeline. The VAD
// mutex guards the shared detector's recurrent state; the transcription mutex
// guards the session map and the provider's buffer. For any one frame the
// acquisition order is VAD first, then transcription, never the reverse.
// Cancellation takes the transcription mutex too, so no chunk can be appended
// to a session once cancellation has begun.
package dictation

import (
	"context"
	"time"

	"github.com/MrWong99/voxscribe/internal/helper"
	"github.com/MrWong99/voxscribe/internal/vocab"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt/buffered"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
)

// Provider is the buffering transcription provider consumed by the
// orchestrator. Implemented by [buffered.Provider] over any speech engine, so
// the orchestrator is engine-agnostic.
type Provider interface {
	// Transcribe buffers one frame and returns text when a flush heuristic
	// fired, empty text otherwise.
	Transcribe(ctx context.Context, frame audio.Frame, sctx buffered.Context) (string, error)

	// Flush transcribes whatever is buffered. Empty buffer returns empty
	// text without error.
	Flush(ctx context.Context, sctx buffered.Context) (string, error)

	// Reset discards buffered audio without an engine call.
	Reset()
}

// Detector classifies audio frames as speech or silence. Implemented by
// [vad.Detector]; a single instance is shared across all sessions.
type Detector interface {
	ProcessFrame(samples []float32) (vad.Result, error)
}

// SettingsReader supplies the per-session dictation settings.
type SettingsReader interface {
	// Language returns the BCP-47 dictation language, empty for
	// auto-detection.
	Language() string

	// Vocabulary returns up to limit custom vocabulary terms for the
	// engine prompt.
	Vocabulary(limit int) []string

	// Replacements returns the text replacement rules applied after
	// formatting.
	Replacements() []vocab.Replacement
}

// ContextSource supplies the accessibility snapshot taken once per session.
// Implemented by [helper.Bridge].
type ContextSource interface {
	Snapshot(ctx context.Context) (*helper.AccessibilitySnapshot, error)
}

// Formatter rewrites a raw transcript into cleaned-up text. A Format error is
// never fatal: the orchestrator falls back to the unformatted text.
type Formatter interface {
	Format(ctx context.Context, transcript string) (string, error)
}

// staticSettings is the zero-configuration SettingsReader used when none is
// injected.
type staticSettings struct {
	language     string
	vocabulary   []string
	replacements []vocab.Replacement
}

func (s staticSettings) Language() string { return s.language }

func (s staticSettings) Vocabulary(limit int) []string {
	if limit > 0 && limit < len(s.vocabulary) {
		return s.vocabulary[:limit]
	}
	return s.vocabulary
}

func (s staticSettings) Replacements() []vocab.Replacement { return s.replacements }

// StaticSettings returns a SettingsReader with fixed values, e.g. loaded once
// from the config file.
func StaticSettings(language string, vocabulary []string, replacements []vocab.Replacement) SettingsReader {
	return staticSettings{language: language, vocabulary: vocabulary, replacements: replacements}
}

// State is the lifecycle state of a dictation session.
type State int

const (
	// StateUnstarted is the implicit state before the first frame arrives.
	StateUnstarted State = iota

	// StateActive means frames are being processed.
	StateActive

	// StateFinalizing means the end-of-session protocol is running.
	StateFinalizing

	// StateCompleted means the session finalized and was removed.
	StateCompleted

	// StateCancelled means the session was cancelled and its audio
	// discarded.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// session is one in-flight dictation, owned exclusively by the orchestrator.
type session struct {
	id    string
	state State

	// chunks are the partial transcriptions in arrival order. Whisper-style
	// engines emit each chunk with its own leading space, so aggregation is
	// plain concatenation.
	chunks []string

	// sctx is the provider context built once at session creation.
	sctx buffered.Context

	// hasCursorContext records whether an accessibility snapshot was
	// available. Distinguishes "empty text before cursor" from "unknown",
	// which matters for the leading-space correction.
	hasCursorContext bool
	focusedApp       string

	audioBuffered time.Duration

	// Lifecycle timestamps: recordingStartedAt is session creation (first
	// contact), firstChunkAt the first non-empty frame, recordingStoppedAt
	// the start of finalize or cancel.
	recordingStartedAt time.Time
	firstChunkAt       time.Time
	recordingStoppedAt time.Time
	finalizeAt         time.Time
}

// aggregated returns the session's accumulated text.
func (s *session) aggregated() string {
	var n int
	for _, c := range s.chunks {
		n += len(c)
	}
	buf := make([]byte, 0, n)
	for _, c := range s.chunks {
		buf = append(buf, c...)
	}
	return string(buf)
}
