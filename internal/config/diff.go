package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that can
// be hot-reloaded, or that are worth warning about, are tracked.
type ConfigDiff struct {
	// LogLevelChanged is safe to apply without restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// The remaining flags mark changes that take effect for new sessions
	// only after a restart.
	SystemPromptChanged bool
	KeywordsChanged     bool
	ProvidersChanged    bool
}

// Any reports whether the diff contains any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.SystemPromptChanged || d.KeywordsChanged || d.ProvidersChanged
}

// RestartRequired reports whether the diff contains changes that cannot be
// applied to a running server.
func (d ConfigDiff) RestartRequired() bool {
	return d.SystemPromptChanged || d.KeywordsChanged || d.ProvidersChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.TextGen.SystemPrompt != new.TextGen.SystemPrompt {
		d.SystemPromptChanged = true
	}

	if !slices.Equal(old.Speech.Keywords, new.Speech.Keywords) {
		d.KeywordsChanged = true
	}

	if providerChanged(old.TextGen.Primary, new.TextGen.Primary) ||
		len(old.TextGen.Fallbacks) != len(new.TextGen.Fallbacks) ||
		providerChanged(old.Speech.ProviderEntry, new.Speech.ProviderEntry) ||
		providerChanged(old.TTS.ProviderEntry, new.TTS.ProviderEntry) {
		d.ProvidersChanged = true
	}

	return d
}

func providerChanged(old, new ProviderEntry) bool {
	return old.Provider != new.Provider || old.Model != new.Model || old.BaseURL != new.BaseURL
}
