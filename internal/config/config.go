// Package config provides the configuration schema and loader for the
// Voxgate gateway.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxgate/pkg/types"
)

// LogLevel controls log verbosity for the Voxgate server.
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

// Duration wraps time.Duration with YAML support for strings like "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Voxgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	TextGen TextGenConfig `yaml:"textgen"`
	Speech  SpeechConfig  `yaml:"speech"`
	TTS     TTSConfig     `yaml:"tts"`
}

// ServerConfig holds network and logging settings for the Voxgate server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists origins permitted to open WebSocket connections.
	// Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown. Zero means 15s.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProviderEntry is the common configuration block shared by all adapter
// backends.
type ProviderEntry struct {
	// Provider selects the backend implementation (e.g., "openai",
	// "anthropic", "deepgram", "elevenlabs").
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for the backend's API if any. When
	// empty, the loader falls back to the backend's conventional environment
	// variable (OPENAI_API_KEY, DEEPGRAM_API_KEY, ...).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	// Leave empty to use the built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend (e.g., "gpt-4o-mini",
	// "nova-3").
	Model string `yaml:"model"`
}

// TextGenConfig configures the text-generation stage of chat turns.
type TextGenConfig struct {
	// Primary is the first backend tried for every turn.
	Primary ProviderEntry `yaml:"primary"`

	// Fallbacks are tried in order when the primary fails or its circuit
	// breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// SystemPrompt is prepended to every generation request.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens caps each completion. Zero means 500.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls sampling. Zero means 0.7.
	Temperature float64 `yaml:"temperature"`

	// Timeout bounds each generation call. Zero means 10s.
	Timeout Duration `yaml:"timeout"`
}

// SpeechConfig configures the streaming speech-recognition stage.
type SpeechConfig struct {
	ProviderEntry `yaml:",inline"`

	// Language is the BCP-47 recognition language (e.g., "en").
	Language string `yaml:"language"`

	// SampleRate is the PCM sample rate in Hz fed to the recognizer.
	// Zero means 16000.
	SampleRate int `yaml:"sample_rate"`

	// Keywords boosts recognition of domain proper nouns and also drives
	// phonetic correction of final transcripts.
	Keywords []KeywordConfig `yaml:"keywords"`
}

// KeywordConfig is one recognition boost keyword.
type KeywordConfig struct {
	// Keyword is the text to boost.
	Keyword string `yaml:"keyword"`

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64 `yaml:"boost"`
}

// TTSConfig configures the speech-synthesis stage.
type TTSConfig struct {
	ProviderEntry `yaml:",inline"`

	// Voice is the provider-specific voice identifier.
	Voice string `yaml:"voice"`

	// Speed adjusts the speaking rate (0.5–2.0, 0 = default).
	Speed float64 `yaml:"speed"`

	// OutputFormat selects the provider audio encoding (e.g., "mp3_44100_128").
	OutputFormat string `yaml:"output_format"`
}

// KeywordBoosts converts the configured keywords into the shared type used by
// the recognizer and the transcript corrector.
func (s SpeechConfig) KeywordBoosts() []types.KeywordBoost {
	if len(s.Keywords) == 0 {
		return nil
	}
	out := make([]types.KeywordBoost, 0, len(s.Keywords))
	for _, k := range s.Keywords {
		out = append(out, types.KeywordBoost{Keyword: k.Keyword, Boost: k.Boost})
	}
	return out
}
