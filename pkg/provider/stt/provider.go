// Package stt defines the Engine interface for speech-to-text backends.
//
// An Engine is a batch recogniser: it receives a contiguous array of float32
// PCM samples (an aggregated utterance) together with recognition hints and
// returns the transcribed text. Streaming behaviour — deciding when enough
// audio has accumulated to be worth an inference call — is the responsibility
// of the buffering provider in the buffered sub-package, which is engine-
// agnostic. This split keeps each backend a thin client around one inference
// request.
//
// Implementations must be safe for concurrent use, although the dictation
// orchestrator serialises calls through its transcription mutex.
package stt

import (
	"context"
	"errors"
)

// ErrEngineUnavailable indicates that no speech engine is initialised or
// reachable. The failure is fatal for the current transcription attempt but
// the session is kept alive so the next chunk can retry.
var ErrEngineUnavailable = errors.New("stt: speech engine unavailable")

// RecognizeRequest carries the per-invocation recognition hints.
type RecognizeRequest struct {
	// Language is the BCP-47 language code (e.g. "en", "de"). Empty lets
	// the engine auto-detect, if supported.
	Language string

	// Prompt is the initial-prompt string giving the engine short-term
	// context: custom vocabulary terms followed by either the running
	// transcription or the text preceding the cursor. Engines truncate
	// long prompts themselves; callers need not bound it.
	Prompt string
}

// Engine is the abstraction over any speech-to-text backend, local or cloud.
type Engine interface {
	// Recognize transcribes a contiguous buffer of mono float32 PCM at the
	// pipeline sample rate and returns the recognised text, which may be
	// empty. A failure is returned as-is; engines do not retry internally.
	Recognize(ctx context.Context, samples []float32, req RecognizeRequest) (string, error)
}
