// Package openai provides a cloud speech engine backed by the OpenAI audio
// transcription API (or any OpenAI-compatible endpoint via a base URL
// override). It satisfies the same [stt.Engine] contract as the local
// whisper engines, so the buffering provider and the orchestrator stay
// engine-agnostic.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

const defaultModel = string(oai.AudioModelWhisper1)

// Compile-time assertion that Engine implements stt.Engine.
var _ stt.Engine = (*Engine)(nil)

// config holds optional configuration for the engine.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for [New].
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, enabling
// OpenAI-compatible transcription services.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTranscriptionModel sets the transcription model identifier.
// Default: whisper-1.
func WithTranscriptionModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Engine is a cloud speech engine over the OpenAI audio API. It is safe for
// concurrent use.
type Engine struct {
	client oai.Client
	model  string
}

// New constructs a cloud Engine. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Engine{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
	}, nil
}

// Recognize encodes samples as WAV and submits one transcription request.
// The returned text is passed through verbatim — leading-space handling is
// the dictation layer's concern.
func (e *Engine) Recognize(ctx context.Context, samples []float32, req stt.RecognizeRequest) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	wav := audio.EncodeWAV(samples, audio.SampleRate)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(e.model),
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcription request: %w", err)
	}
	return resp.Text, nil
}
