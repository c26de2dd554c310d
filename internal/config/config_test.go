package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: "127.0.0.1:9999"
  log_level: debug
engine:
  name: whisper-server
  server_url: "http://localhost:8080"
vad:
  speech_threshold: 0.15
buffer:
  silence_probability: 0.25
  silence_flush_ms: 2000
  skip_silent: true
helper:
  command: /usr/local/libexec/voxscribe-helper
  call_timeout_ms: 2500
formatter:
  enabled: true
  api_key: sk-test
  model: gpt-4o-mini
dictation:
  language: en
  vocabulary: [Grafana, Kubernetes]
  replacements:
    - from: grafana
      to: Grafana
history:
  postgres_dsn: "postgres://localhost/voxscribe"
`

func TestLoadFromReaderValid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9999" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server config not decoded: %+v", cfg.Server)
	}
	if cfg.Engine.Name != EngineWhisperServer || cfg.Engine.ServerURL != "http://localhost:8080" {
		t.Errorf("engine config not decoded: %+v", cfg.Engine)
	}
	if cfg.VAD.SpeechThreshold != 0.15 {
		t.Errorf("vad override lost: %+v", cfg.VAD)
	}
	if cfg.Buffer.SilenceFlush() != 2*time.Second || !cfg.Buffer.SkipSilent {
		t.Errorf("buffer config not decoded: %+v", cfg.Buffer)
	}
	if cfg.Helper.CallTimeout() != 2500*time.Millisecond {
		t.Errorf("helper timeout not decoded: %+v", cfg.Helper)
	}
	if len(cfg.Dictation.Replacements) != 1 || cfg.Dictation.Replacements[0].To != "Grafana" {
		t.Errorf("replacements not decoded: %+v", cfg.Dictation)
	}
}

func TestLoadFromReaderDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(`
engine:
  name: openai
  api_key: sk-test
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.VAD.SpeechThreshold != 0.1 || cfg.VAD.ActivationFrames != 3 || cfg.VAD.RedemptionFrames != 8 {
		t.Errorf("vad defaults not applied: %+v", cfg.VAD)
	}
	if cfg.Buffer.SilenceProbability != 0.2 {
		t.Errorf("buffer silence probability default not applied: %+v", cfg.Buffer)
	}
	if cfg.Buffer.SilenceFlush() != 3*time.Second || cfg.Buffer.MaxBuffer() != 30*time.Second {
		t.Errorf("buffer duration defaults not applied: %+v", cfg.Buffer)
	}
	if cfg.Helper.CallTimeout() != 5*time.Second || cfg.Helper.MaxRestarts != 3 ||
		cfg.Helper.RestartDelay() != time.Second || cfg.Helper.StabilityWindow() != 30*time.Second {
		t.Errorf("helper defaults not applied: %+v", cfg.Helper)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log level default not applied: %+v", cfg.Server)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(`
engine:
  name: openai
  api_key: sk-test
  typo_field: true
`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\nengine:\n  name: openai\n  api_key: k\n",
			want: "server.log_level",
		},
		{
			name: "bad engine name",
			yaml: "engine:\n  name: siri\n",
			want: "engine.name",
		},
		{
			name: "native engine without model",
			yaml: "engine:\n  name: whisper-native\n",
			want: "engine.model_path",
		},
		{
			name: "server engine without url",
			yaml: "engine:\n  name: whisper-server\n",
			want: "engine.server_url",
		},
		{
			name: "openai engine without key",
			yaml: "engine:\n  name: openai\n",
			want: "engine.api_key",
		},
		{
			name: "threshold out of range",
			yaml: "engine:\n  name: openai\n  api_key: k\nvad:\n  speech_threshold: 1.5\n",
			want: "vad.speech_threshold",
		},
		{
			name: "cap below silence window",
			yaml: "engine:\n  name: openai\n  api_key: k\nbuffer:\n  silence_flush_ms: 4000\n  max_buffer_ms: 3000\n",
			want: "buffer.max_buffer_ms",
		},
		{
			name: "formatter enabled without key",
			yaml: "engine:\n  name: openai\n  api_key: k\nformatter:\n  enabled: true\n  model: m\n",
			want: "formatter.api_key",
		},
		{
			name: "empty replacement source",
			yaml: "engine:\n  name: openai\n  api_key: k\ndictation:\n  replacements:\n    - from: \"\"\n      to: x\n",
			want: "dictation.replacements[0]",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
