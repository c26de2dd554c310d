package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/helper"
	"github.com/MrWong99/voxscribe/internal/history"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// fakeEngine returns its text on the first recognition call and empty text
// afterwards, mimicking an utterance followed by silence.
type fakeEngine struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (e *fakeEngine) Recognize(_ context.Context, _ []float32, _ stt.RecognizeRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls == 1 {
		return e.text, nil
	}
	return "", nil
}

// stubTransport is an in-process helper that answers every request
// successfully and records inserted text.
type stubTransport struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	exit    chan helper.ExitStatus

	mu      sync.Mutex
	inserts []string
}

func newStubTransport() *stubTransport {
	t := &stubTransport{exit: make(chan helper.ExitStatus, 1)}
	t.stdinR, t.stdinW = io.Pipe()
	t.stdoutR, t.stdoutW = io.Pipe()
	return t
}

func (t *stubTransport) Start(context.Context) (io.WriteCloser, io.ReadCloser, error) {
	go t.serve()
	return t.stdinW, t.stdoutR, nil
}

func (t *stubTransport) serve() {
	sc := bufio.NewScanner(t.stdinR)
	for sc.Scan() {
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}

		var result string
		switch req.Method {
		case "accessibility.snapshot":
			result = `{"focused_app":"TextEdit","text_before_cursor":"","text_after_cursor":"","selected_text":""}`
		case "permission.check":
			result = `{"granted":true}`
		case "text.insert":
			var p struct {
				Text string `json:"text"`
			}
			_ = json.Unmarshal(req.Params, &p)
			t.mu.Lock()
			t.inserts = append(t.inserts, p.Text)
			t.mu.Unlock()
			result = `{}`
		default:
			result = `{}`
		}
		fmt.Fprintf(t.stdoutW, `{"id":%q,"result":%s}`+"\n", req.ID, result)
	}
}

func (t *stubTransport) Wait() (helper.ExitStatus, error) {
	return <-t.exit, nil
}

func (t *stubTransport) Terminate() error {
	select {
	case t.exit <- helper.ExitStatus{}:
	default:
	}
	t.stdoutW.Close()
	t.stdinR.Close()
	return nil
}

func (t *stubTransport) Kill() error { return t.Terminate() }

func (t *stubTransport) inserted() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.inserts...)
}

// testConfig builds a config whose buffer flushes after roughly two frames
// of audio, so short uploads produce text immediately.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Buffer.SilenceFlushMs = 40
	cfg.Buffer.MaxBufferMs = 80
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	ctx := context.Background()

	opts = append(opts, WithMetrics(testMetrics(t)))
	a, err := New(ctx, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// chunkBody returns count frames of silent PCM16 audio.
func chunkBody(count int) []byte {
	samples := make([]float32, count*audio.FrameSamples)
	return audio.Float32ToPCM16(samples)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body []byte, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return rec
}

func TestChunkFinalizeRoundTrip(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{text: "hello world"}
	a := newTestApp(t, testConfig(), WithEngine(engine))
	h := a.Handler()

	var chunk transcriptionResponse
	rec := doJSON(t, h, http.MethodPost, "/v1/sessions/s1/chunks", chunkBody(4), &chunk)
	if rec.Code != http.StatusOK {
		t.Fatalf("chunks returned %d: %s", rec.Code, rec.Body.String())
	}
	if chunk.Text != "hello world" {
		t.Fatalf("partial = %q, want %q", chunk.Text, "hello world")
	}

	// A follow-up upload whose frames fire no flush still reports the text
	// accumulated so far.
	var chunk2 transcriptionResponse
	rec = doJSON(t, h, http.MethodPost, "/v1/sessions/s1/chunks", chunkBody(1), &chunk2)
	if rec.Code != http.StatusOK || chunk2.Text != "hello world" {
		t.Fatalf("non-flush chunk = %d %q, want 200 %q", rec.Code, chunk2.Text, "hello world")
	}

	var final transcriptionResponse
	rec = doJSON(t, h, http.MethodPost, "/v1/sessions/s1/finalize", nil, &final)
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize returned %d: %s", rec.Code, rec.Body.String())
	}
	if final.Text != "hello world" {
		t.Fatalf("final = %q, want %q", final.Text, "hello world")
	}

	var last struct {
		Text string `json:"text"`
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/transcriptions/last", nil, &last)
	if rec.Code != http.StatusOK || last.Text != "hello world" {
		t.Fatalf("last = %d %q", rec.Code, last.Text)
	}

	var recent struct {
		Transcriptions []history.Entry `json:"transcriptions"`
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/transcriptions/recent?limit=5", nil, &recent)
	if rec.Code != http.StatusOK {
		t.Fatalf("recent returned %d", rec.Code)
	}
	if len(recent.Transcriptions) != 1 || recent.Transcriptions[0].Text != "hello world" {
		t.Fatalf("recent = %+v", recent.Transcriptions)
	}
}

func TestChunkValidation(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), WithEngine(&fakeEngine{}))
	h := a.Handler()

	if rec := doJSON(t, h, http.MethodPost, "/v1/sessions/s1/chunks", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("empty chunk returned %d, want 400", rec.Code)
	}

	big := make([]byte, maxChunkBytes+2)
	if rec := doJSON(t, h, http.MethodPost, "/v1/sessions/s1/chunks", big, nil); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized chunk returned %d, want 413", rec.Code)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), WithEngine(&fakeEngine{text: "discarded"}))
	h := a.Handler()

	doJSON(t, h, http.MethodPost, "/v1/sessions/s1/chunks", chunkBody(1), nil)

	for i := 0; i < 2; i++ {
		if rec := doJSON(t, h, http.MethodPost, "/v1/sessions/s1/cancel", nil, nil); rec.Code != http.StatusNoContent {
			t.Fatalf("cancel #%d returned %d, want 204", i+1, rec.Code)
		}
	}

	if rec := doJSON(t, h, http.MethodGet, "/v1/transcriptions/last", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("last after cancel returned %d, want 404", rec.Code)
	}
}

func TestRecentRejectsBadLimit(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), WithEngine(&fakeEngine{}))

	rec := doJSON(t, a.Handler(), http.MethodGet, "/v1/transcriptions/recent?limit=zero", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("recent returned %d, want 400", rec.Code)
	}
}

func TestFinalizeInsertsThroughHelper(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{text: "insert me"}
	stub := newStubTransport()
	a := newTestApp(t, testConfig(),
		WithEngine(engine),
		WithTransportFactory(func() helper.Transport { return stub }),
	)
	h := a.Handler()

	doJSON(t, h, http.MethodPost, "/v1/sessions/s1/chunks", chunkBody(4), nil)

	var final transcriptionResponse
	rec := doJSON(t, h, http.MethodPost, "/v1/sessions/s1/finalize", nil, &final)
	if rec.Code != http.StatusOK || final.Text != "insert me" {
		t.Fatalf("finalize = %d %q", rec.Code, final.Text)
	}

	inserts := stub.inserted()
	if len(inserts) != 1 || inserts[0] != "insert me" {
		t.Fatalf("inserted = %v, want [insert me]", inserts)
	}
}

func TestPermissionEndpoint(t *testing.T) {
	t.Parallel()

	stub := newStubTransport()
	a := newTestApp(t, testConfig(),
		WithEngine(&fakeEngine{}),
		WithTransportFactory(func() helper.Transport { return stub }),
	)
	h := a.Handler()

	var resp struct {
		Granted bool `json:"granted"`
	}
	rec := doJSON(t, h, http.MethodGet, "/v1/permissions/accessibility", nil, &resp)
	if rec.Code != http.StatusOK || !resp.Granted {
		t.Fatalf("permission = %d granted=%v", rec.Code, resp.Granted)
	}

	if rec := doJSON(t, h, http.MethodGet, "/v1/permissions/camera", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown permission returned %d, want 404", rec.Code)
	}
}

func TestHealthAndStatus(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), WithEngine(&fakeEngine{}))
	h := a.Handler()

	if rec := doJSON(t, h, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/readyz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz returned %d: %s", rec.Code, rec.Body.String())
	}

	rec := doJSON(t, h, http.MethodGet, "/statusz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("statusz returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(config.EngineWhisperNative)) {
		t.Errorf("statusz body missing engine name: %s", rec.Body.String())
	}
}

func TestNewRejectsUnknownEngine(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Engine.Name = "sphinx"

	if _, err := New(context.Background(), cfg, WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("New accepted unknown engine")
	}
}
