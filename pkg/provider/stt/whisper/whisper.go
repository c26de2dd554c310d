// Package whisper provides the two local whisper.cpp-backed speech engines.
//
// Server connects to a running whisper-server binary (which exposes a REST
// API at POST /inference) and submits each aggregated utterance as a batch
// inference request. Native loads a model file through the whisper.cpp CGO
// bindings and runs inference in-process, eliminating HTTP overhead; the
// whisper.cpp static library (libwhisper.a) and headers must be available at
// link time.
//
// Both types satisfy [stt.Engine]; the buffering provider decides when an
// utterance is complete, so engines here are pure batch recognisers.
//
// Usage:
//
//	eng, err := whisper.NewServer("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := eng.Recognize(ctx, samples, stt.RecognizeRequest{Prompt: "Grafana"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

const (
	defaultLanguage = "en"

	// defaultRequestTimeout bounds a single inference round-trip. Batch
	// whisper inference on a 30 s utterance can take a while on CPU.
	defaultRequestTimeout = 30 * time.Second
)

// Compile-time assertion that Server implements stt.Engine.
var _ stt.Engine = (*Server)(nil)

// ServerOption is a functional option for configuring a [Server].
type ServerOption func(*Server)

// WithModel sets the model identifier forwarded to the whisper-server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) ServerOption {
	return func(s *Server) { s.model = model }
}

// WithLanguage sets the fallback BCP-47 language code used when a request
// carries none. Defaults to "en".
func WithLanguage(lang string) ServerOption {
	return func(s *Server) { s.language = lang }
}

// WithHTTPClient overrides the HTTP client, e.g. to adjust timeouts or for
// tests.
func WithHTTPClient(c *http.Client) ServerOption {
	return func(s *Server) { s.client = c }
}

// Server is a speech engine backed by a whisper-server subprocess reachable
// over HTTP. It is safe for concurrent use; each Recognize call is an
// independent request.
type Server struct {
	serverURL string
	model     string
	language  string
	client    *http.Client
}

// NewServer creates a Server engine that connects to the whisper-server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func NewServer(serverURL string, opts ...ServerOption) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL: serverURL,
		language:  defaultLanguage,
		client:    &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Recognize encodes samples as a WAV file and POSTs it to the whisper-server
// /inference endpoint as multipart/form-data, together with the language,
// prompt, and model hint fields. It returns the transcribed text verbatim —
// including any leading space the model emits, which the dictation layer
// handles during finalisation.
func (s *Server) Recognize(ctx context.Context, samples []float32, req stt.RecognizeRequest) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	wav := audio.EncodeWAV(samples, audio.SampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = s.language
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if req.Prompt != "" {
		if err := mw.WriteField("prompt", req.Prompt); err != nil {
			return "", fmt.Errorf("whisper: write prompt field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := s.serverURL + "/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return result.Text, nil
}
