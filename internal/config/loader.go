package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !cfg.Engine.Name.IsValid() {
		errs = append(errs, fmt.Errorf("engine.name %q is invalid; valid values: whisper-native, whisper-server, openai", cfg.Engine.Name))
	} else {
		switch cfg.Engine.Name {
		case EngineWhisperNative:
			if cfg.Engine.ModelPath == "" && cfg.Engine.ModelDir == "" {
				errs = append(errs, errors.New("engine.model_path or engine.model_dir is required for the whisper-native engine"))
			}
		case EngineWhisperServer:
			if cfg.Engine.ServerURL == "" {
				errs = append(errs, errors.New("engine.server_url is required for the whisper-server engine"))
			}
		case EngineOpenAI:
			if cfg.Engine.APIKey == "" {
				errs = append(errs, errors.New("engine.api_key is required for the openai engine"))
			}
		}
	}

	if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %v is out of range [0, 1]", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.ActivationFrames < 1 {
		errs = append(errs, fmt.Errorf("vad.activation_frames %d must be at least 1", cfg.VAD.ActivationFrames))
	}
	if cfg.VAD.RedemptionFrames < 1 {
		errs = append(errs, fmt.Errorf("vad.redemption_frames %d must be at least 1", cfg.VAD.RedemptionFrames))
	}

	if cfg.Buffer.SilenceProbability < 0 || cfg.Buffer.SilenceProbability > 1 {
		errs = append(errs, fmt.Errorf("buffer.silence_probability %v is out of range [0, 1]", cfg.Buffer.SilenceProbability))
	}
	if cfg.Buffer.SilenceFlushMs < 0 {
		errs = append(errs, fmt.Errorf("buffer.silence_flush_ms %d must not be negative", cfg.Buffer.SilenceFlushMs))
	}
	if cfg.Buffer.MaxBufferMs <= cfg.Buffer.SilenceFlushMs {
		errs = append(errs, fmt.Errorf("buffer.max_buffer_ms %d must exceed buffer.silence_flush_ms %d", cfg.Buffer.MaxBufferMs, cfg.Buffer.SilenceFlushMs))
	}

	if cfg.Helper.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("helper.max_restarts %d must not be negative", cfg.Helper.MaxRestarts))
	}

	if cfg.Formatter.Enabled {
		if cfg.Formatter.APIKey == "" {
			errs = append(errs, errors.New("formatter.api_key is required when the formatter is enabled"))
		}
		if cfg.Formatter.Model == "" {
			errs = append(errs, errors.New("formatter.model is required when the formatter is enabled"))
		}
	}

	for i, r := range cfg.Dictation.Replacements {
		if r.From == "" {
			errs = append(errs, fmt.Errorf("dictation.replacements[%d].from must not be empty", i))
		}
	}

	return errors.Join(errs...)
}
