package whisper

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// modelPreference ranks whisper.cpp model families from most to least
// capable. LocateModel picks the best family present on disk.
var modelPreference = []string{
	"large-v3-turbo",
	"large-v3",
	"large-v2",
	"large",
	"medium",
	"small",
	"base",
	"tiny",
}

// LocateModel scans dir for ggml whisper model files (ggml-*.bin) and
// returns the path of the most capable one found. Zero-byte files are
// treated as broken downloads and skipped.
func LocateModel(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("whisper: read model dir %q: %w", dir, err)
	}

	found := map[string]string{} // family -> path
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "ggml-") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		family := strings.TrimSuffix(strings.TrimPrefix(name, "ggml-"), ".bin")
		// Quantized variants like "base.en-q5_1" still match their family
		// by prefix.
		for _, pref := range modelPreference {
			if strings.HasPrefix(family, pref) {
				if _, ok := found[pref]; !ok {
					found[pref] = filepath.Join(dir, name)
				}
				break
			}
		}
	}

	for _, pref := range modelPreference {
		if path, ok := found[pref]; ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("whisper: no usable ggml model found in %q", dir)
}
