// Package config provides the configuration schema and loader for the
// Voxscribe dictation service.
package config

import (
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// EngineName selects the speech-to-text engine implementation.
type EngineName string

const (
	// EngineWhisperNative runs whisper.cpp in-process via its Go bindings.
	EngineWhisperNative EngineName = "whisper-native"

	// EngineWhisperServer talks to a whisper.cpp server over HTTP.
	EngineWhisperServer EngineName = "whisper-server"

	// EngineOpenAI uses the OpenAI transcription API.
	EngineOpenAI EngineName = "openai"
)

// IsValid reports whether e is a recognised engine name.
func (e EngineName) IsValid() bool {
	switch e {
	case EngineWhisperNative, EngineWhisperServer, EngineOpenAI:
		return true
	}
	return false
}

// Config is the root configuration structure for Voxscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	VAD       VADConfig       `yaml:"vad"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Helper    HelperConfig    `yaml:"helper"`
	Formatter FormatterConfig `yaml:"formatter"`
	Dictation DictationConfig `yaml:"dictation"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig holds the health/metrics endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the health and metrics endpoints
	// (e.g., "127.0.0.1:8090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// EngineConfig selects and configures the speech-to-text engine.
type EngineConfig struct {
	// Name selects the engine implementation.
	Name EngineName `yaml:"name"`

	// ModelPath is the whisper.cpp model file for the native engine. Empty
	// means the best model found under the model directory is used.
	ModelPath string `yaml:"model_path"`

	// ModelDir is searched for whisper models when ModelPath is empty.
	ModelDir string `yaml:"model_dir"`

	// ServerURL is the whisper.cpp server base URL for the server engine.
	ServerURL string `yaml:"server_url"`

	// APIKey authenticates against the OpenAI API for the cloud engine.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the cloud engine's API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the cloud transcription model (e.g., "whisper-1").
	Model string `yaml:"model"`
}

// VADConfig tunes the voice-activity detector.
type VADConfig struct {
	// SpeechThreshold is the probability above which a frame counts as
	// speech for the hysteresis. Default: 0.1.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// ActivationFrames is the number of consecutive speech frames required
	// to assert speaking. Default: 3.
	ActivationFrames int `yaml:"activation_frames"`

	// RedemptionFrames is the number of consecutive silence frames required
	// to deassert speaking. Default: 8.
	RedemptionFrames int `yaml:"redemption_frames"`
}

// BufferConfig tunes the transcription provider's flush heuristics.
type BufferConfig struct {
	// SilenceProbability classifies a frame as silence for the flush
	// heuristic. Deliberately independent from vad.speech_threshold.
	// Default: 0.2.
	SilenceProbability float64 `yaml:"silence_probability"`

	// SilenceFlushMs is the trailing-silence duration that triggers a
	// flush. Default: 3000.
	SilenceFlushMs int `yaml:"silence_flush_ms"`

	// MaxBufferMs is the buffered-audio hard cap. Default: 30000.
	MaxBufferMs int `yaml:"max_buffer_ms"`

	// SkipSilent skips the engine call when every buffered frame is silent.
	SkipSilent bool `yaml:"skip_silent"`
}

// HelperConfig configures the native helper subprocess bridge.
type HelperConfig struct {
	// Command is the helper executable path. Empty disables the helper;
	// sessions then run without accessibility context.
	Command string `yaml:"command"`

	// Args are passed to the helper executable.
	Args []string `yaml:"args"`

	// CallTimeoutMs is the per-RPC response deadline. Default: 5000.
	CallTimeoutMs int `yaml:"call_timeout_ms"`

	// MaxRestarts caps consecutive crash restarts. Default: 3.
	MaxRestarts int `yaml:"max_restarts"`

	// RestartDelayMs is the pause before a respawn. Default: 1000.
	RestartDelayMs int `yaml:"restart_delay_ms"`

	// StabilityWindowMs is the uptime after which the restart counter
	// resets. Default: 30000.
	StabilityWindowMs int `yaml:"stability_window_ms"`

	// PermissionTTLMs is how long a permission check result is cached.
	// Default: 60000.
	PermissionTTLMs int `yaml:"permission_ttl_ms"`
}

// FormatterConfig configures the optional LLM transcript formatter.
type FormatterConfig struct {
	// Enabled turns LLM formatting on. Formatting failures always fall
	// back to the raw transcript.
	Enabled bool `yaml:"enabled"`

	// APIKey authenticates against the chat-completion API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API endpoint, e.g. for a local server.
	BaseURL string `yaml:"base_url"`

	// Model selects the chat model (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// MaxTokens caps the completion length. 0 means no explicit cap.
	MaxTokens int64 `yaml:"max_tokens"`
}

// ReplacementRule is one text replacement applied after formatting.
type ReplacementRule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DictationConfig holds the user-facing dictation settings.
type DictationConfig struct {
	// Language is the BCP-47 dictation language, empty for auto-detection.
	Language string `yaml:"language"`

	// Vocabulary lists custom terms fed to the engine prompt.
	Vocabulary []string `yaml:"vocabulary"`

	// PhoneticCorrection aligns near-miss recognitions of vocabulary terms
	// ("grafanna" → "Grafana") during finalize. Needs a non-empty
	// vocabulary to do anything.
	PhoneticCorrection bool `yaml:"phonetic_correction"`

	// Replacements are applied to the final text with Unicode-aware
	// word-boundary matching.
	Replacements []ReplacementRule `yaml:"replacements"`
}

// HistoryConfig selects where finalized transcriptions are persisted.
type HistoryConfig struct {
	// PostgresDSN enables the PostgreSQL store. Empty keeps history
	// in memory only.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MaxEntries caps the in-memory store. Default: 1000.
	MaxEntries int `yaml:"max_entries"`
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr        = "127.0.0.1:8090"
	DefaultSpeechThreshold   = 0.1
	DefaultActivationFrames  = 3
	DefaultRedemptionFrames  = 8
	DefaultSilenceProb       = 0.2
	DefaultSilenceFlushMs    = 3000
	DefaultMaxBufferMs       = 30000
	DefaultCallTimeoutMs     = 5000
	DefaultMaxRestarts       = 3
	DefaultRestartDelayMs    = 1000
	DefaultStabilityWindowMs = 30000
	DefaultPermissionTTLMs   = 60000
)

// ApplyDefaults fills zero fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Engine.Name == "" {
		c.Engine.Name = EngineWhisperNative
	}
	if c.VAD.SpeechThreshold == 0 {
		c.VAD.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.VAD.ActivationFrames == 0 {
		c.VAD.ActivationFrames = DefaultActivationFrames
	}
	if c.VAD.RedemptionFrames == 0 {
		c.VAD.RedemptionFrames = DefaultRedemptionFrames
	}
	if c.Buffer.SilenceProbability == 0 {
		c.Buffer.SilenceProbability = DefaultSilenceProb
	}
	if c.Buffer.SilenceFlushMs == 0 {
		c.Buffer.SilenceFlushMs = DefaultSilenceFlushMs
	}
	if c.Buffer.MaxBufferMs == 0 {
		c.Buffer.MaxBufferMs = DefaultMaxBufferMs
	}
	if c.Helper.CallTimeoutMs == 0 {
		c.Helper.CallTimeoutMs = DefaultCallTimeoutMs
	}
	if c.Helper.MaxRestarts == 0 {
		c.Helper.MaxRestarts = DefaultMaxRestarts
	}
	if c.Helper.RestartDelayMs == 0 {
		c.Helper.RestartDelayMs = DefaultRestartDelayMs
	}
	if c.Helper.StabilityWindowMs == 0 {
		c.Helper.StabilityWindowMs = DefaultStabilityWindowMs
	}
	if c.Helper.PermissionTTLMs == 0 {
		c.Helper.PermissionTTLMs = DefaultPermissionTTLMs
	}
}

// SilenceFlush returns the silence-flush window as a duration.
func (b BufferConfig) SilenceFlush() time.Duration {
	return time.Duration(b.SilenceFlushMs) * time.Millisecond
}

// MaxBuffer returns the buffered-audio hard cap as a duration.
func (b BufferConfig) MaxBuffer() time.Duration {
	return time.Duration(b.MaxBufferMs) * time.Millisecond
}

// CallTimeout returns the per-RPC deadline as a duration.
func (h HelperConfig) CallTimeout() time.Duration {
	return time.Duration(h.CallTimeoutMs) * time.Millisecond
}

// RestartDelay returns the respawn pause as a duration.
func (h HelperConfig) RestartDelay() time.Duration {
	return time.Duration(h.RestartDelayMs) * time.Millisecond
}

// StabilityWindow returns the restart-counter reset window as a duration.
func (h HelperConfig) StabilityWindow() time.Duration {
	return time.Duration(h.StabilityWindowMs) * time.Millisecond
}

// PermissionTTL returns the permission cache TTL as a duration.
func (h HelperConfig) PermissionTTL() time.Duration {
	return time.Duration(h.PermissionTTLMs) * time.Millisecond
}
