package whisper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(""); err == nil {
		t.Fatal("empty serverURL accepted")
	}
	if _, err := NewServer("http://localhost:8080"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestServerRecognize(t *testing.T) {
	t.Parallel()

	var gotLanguage, gotPrompt, gotModel string
	var gotWAVSize int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		gotModel = r.FormValue("model")

		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		if hdr.Filename != "audio.wav" {
			http.Error(w, "unexpected filename", http.StatusBadRequest)
			return
		}
		gotWAVSize = hdr.Size

		json.NewEncoder(w).Encode(map[string]string{"text": " hello world"})
	}))
	defer ts.Close()

	eng, err := NewServer(ts.URL, WithModel("base.en"))
	if err != nil {
		t.Fatal(err)
	}

	samples := make([]float32, 1600)
	text, err := eng.Recognize(context.Background(), samples, stt.RecognizeRequest{
		Language: "de",
		Prompt:   "Grafana, Kubernetes",
	})
	if err != nil {
		t.Fatal(err)
	}

	// The engine must return the text verbatim, leading space included.
	if text != " hello world" {
		t.Fatalf("text = %q, want %q", text, " hello world")
	}
	if gotLanguage != "de" {
		t.Fatalf("language field = %q, want %q", gotLanguage, "de")
	}
	if gotPrompt != "Grafana, Kubernetes" {
		t.Fatalf("prompt field = %q, want %q", gotPrompt, "Grafana, Kubernetes")
	}
	if gotModel != "base.en" {
		t.Fatalf("model field = %q, want %q", gotModel, "base.en")
	}
	if want := int64(44 + len(samples)*2); gotWAVSize != want {
		t.Fatalf("wav upload size = %d, want %d", gotWAVSize, want)
	}
}

func TestServerRecognizeEmptyBuffer(t *testing.T) {
	t.Parallel()

	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	eng, _ := NewServer(ts.URL)
	text, err := eng.Recognize(context.Background(), nil, stt.RecognizeRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if text != "" {
		t.Fatalf("text = %q, want empty", text)
	}
	if called {
		t.Fatal("server contacted for empty sample buffer")
	}
}

func TestServerRecognizeHTTPError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer ts.Close()

	eng, _ := NewServer(ts.URL)
	_, err := eng.Recognize(context.Background(), make([]float32, 160), stt.RecognizeRequest{})
	if err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestServerDefaultLanguageApplied(t *testing.T) {
	t.Parallel()

	var gotLanguage string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(10 << 20)
		gotLanguage = r.FormValue("language")
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer ts.Close()

	eng, _ := NewServer(ts.URL, WithLanguage("fr"))
	if _, err := eng.Recognize(context.Background(), make([]float32, 160), stt.RecognizeRequest{}); err != nil {
		t.Fatal(err)
	}
	if gotLanguage != "fr" {
		t.Fatalf("language field = %q, want fallback %q", gotLanguage, "fr")
	}
}
