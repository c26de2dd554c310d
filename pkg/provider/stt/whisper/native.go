// This file contains the Native engine backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// Compile-time assertion that Native satisfies stt.Engine.
var _ stt.Engine = (*Native)(nil)

// Native is a speech engine using the whisper.cpp Go bindings in-process.
// The model is loaded once at construction and shared across calls; each
// Recognize call creates a fresh whisper context, which is cheap relative to
// inference. A mutex serialises inference because whisper contexts are not
// thread-safe and concurrent inference on one model gains nothing on CPU.
type Native struct {
	mu       sync.Mutex
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a [Native].
type NativeOption func(*Native)

// WithNativeLanguage sets the fallback BCP-47 language code used when a
// request carries none. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// NewNative creates a Native engine that loads the whisper.cpp model from
// the given file path, typically resolved through the model locator. The
// caller must call Close when the engine is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model. Safe to call more than once.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.model != nil {
		err := n.model.Close()
		n.model = nil
		return err
	}
	return nil
}

// Recognize runs whisper.cpp inference over samples using a fresh context.
// The per-segment texts are concatenated verbatim so that a leading space
// emitted by the model survives for the dictation layer to handle.
func (n *Native) Recognize(ctx context.Context, samples []float32, req stt.RecognizeRequest) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context cancelled: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.model == nil {
		return "", fmt.Errorf("whisper: %w", stt.ErrEngineUnavailable)
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = n.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if req.Prompt != "" {
		wctx.SetInitialPrompt(req.Prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		sb.WriteString(segment.Text)
	}

	return sb.String(), nil
}
