package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known backend names per adapter kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"textgen": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"speech":  {"deepgram"},
	"tts":     {"elevenlabs"},
}

// envKeyByProvider maps backend names to the environment variable consulted
// when api_key is left empty.
var envKeyByProvider = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"groq":       "GROQ_API_KEY",
	"deepgram":   "DEEPGRAM_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, applies environment fallbacks
// for missing API keys, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnvFallbacks(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvFallbacks fills in empty api_key fields from the conventional
// environment variable of each configured backend.
func ApplyEnvFallbacks(cfg *Config) {
	fillKey(&cfg.TextGen.Primary)
	for i := range cfg.TextGen.Fallbacks {
		fillKey(&cfg.TextGen.Fallbacks[i])
	}
	fillKey(&cfg.Speech.ProviderEntry)
	fillKey(&cfg.TTS.ProviderEntry)
}

// fillKey resolves the API key for a single provider entry from its
// environment variable when the config leaves it empty.
func fillKey(e *ProviderEntry) {
	if e.Provider == "" || e.APIKey != "" {
		return
	}
	if env, ok := envKeyByProvider[e.Provider]; ok {
		e.APIKey = os.Getenv(env)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("textgen", cfg.TextGen.Primary.Provider)
	for _, fb := range cfg.TextGen.Fallbacks {
		validateProviderName("textgen", fb.Provider)
	}
	validateProviderName("speech", cfg.Speech.Provider)
	validateProviderName("tts", cfg.TTS.Provider)

	// TextGen
	if cfg.TextGen.Primary.Provider == "" && len(cfg.TextGen.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("textgen.fallbacks configured without textgen.primary"))
	}
	if cfg.TextGen.Temperature < 0 || cfg.TextGen.Temperature > 2 {
		errs = append(errs, fmt.Errorf("textgen.temperature %.2f is out of range [0, 2]", cfg.TextGen.Temperature))
	}
	if cfg.TextGen.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("textgen.max_tokens must not be negative"))
	}
	if cfg.TextGen.Timeout < 0 {
		errs = append(errs, fmt.Errorf("textgen.timeout must not be negative"))
	}
	if cfg.TextGen.Primary.Provider == "" {
		slog.Warn("no textgen provider configured; chat turns will fall back to echo replies")
	}

	// Speech
	if cfg.Speech.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("speech.sample_rate must not be negative"))
	}
	for i, kw := range cfg.Speech.Keywords {
		if kw.Keyword == "" {
			errs = append(errs, fmt.Errorf("speech.keywords[%d].keyword is required", i))
		}
	}
	if cfg.Speech.Provider == "" {
		slog.Warn("no speech provider configured; audio messages will be acknowledged without recognition")
	}

	// TTS
	if cfg.TTS.Speed != 0 {
		if cfg.TTS.Speed < 0.5 || cfg.TTS.Speed > 2.0 {
			errs = append(errs, fmt.Errorf("tts.speed %.2f is out of range [0.5, 2.0]", cfg.TTS.Speed))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
