// Package history defines the dictation history: every finalized session is
// persisted as one Entry so the user can review or re-insert past
// transcriptions. The in-memory store backs single-machine setups and tests;
// the postgres sub-package persists across restarts.
package history

import (
	"context"
	"time"
)

// Entry is one finalized dictation session.
type Entry struct {
	// SessionID identifies the dictation session that produced this entry.
	SessionID string `json:"session_id"`

	// Text is the final transcription after formatting and vocabulary
	// replacement.
	Text string `json:"text"`

	// RawText is the transcription before post-processing.
	RawText string `json:"raw_text,omitempty"`

	// Language is the BCP-47 language tag the session was transcribed in,
	// empty for auto-detection.
	Language string `json:"language,omitempty"`

	// FocusedApp names the application that had keyboard focus, when known.
	FocusedApp string `json:"focused_app,omitempty"`

	// AudioDuration is the total duration of speech audio in the session.
	AudioDuration time.Duration `json:"audio_duration_ns,omitempty"`

	// CreatedAt is the finalization time.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists finalized dictations.
type Store interface {
	// Save appends one entry.
	Save(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}
