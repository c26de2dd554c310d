package whisper

import (
	"os"
	"path/filepath"
	"testing"
)

func writeModel(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLocateModelPrefersMostCapable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, dir, "ggml-tiny.bin", 10)
	writeModel(t, dir, "ggml-medium.bin", 10)
	writeModel(t, dir, "ggml-base.en.bin", 10)

	got, err := LocateModel(dir)
	if err != nil {
		t.Fatalf("LocateModel: %v", err)
	}
	if got != filepath.Join(dir, "ggml-medium.bin") {
		t.Errorf("expected medium model, got %q", got)
	}
}

func TestLocateModelSkipsBrokenDownloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, dir, "ggml-large-v3.bin", 0) // truncated
	writeModel(t, dir, "ggml-small-q5_1.bin", 10)

	got, err := LocateModel(dir)
	if err != nil {
		t.Fatalf("LocateModel: %v", err)
	}
	if got != filepath.Join(dir, "ggml-small-q5_1.bin") {
		t.Errorf("expected quantized small model, got %q", got)
	}
}

func TestLocateModelIgnoresUnrelatedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, dir, "notes.txt", 10)
	writeModel(t, dir, "ggml-vocab.json", 10)

	if _, err := LocateModel(dir); err == nil {
		t.Fatal("expected error for directory without models")
	}
}

func TestLocateModelMissingDir(t *testing.T) {
	t.Parallel()

	if _, err := LocateModel(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
