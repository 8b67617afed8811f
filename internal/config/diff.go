package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LocationChanged bool
	NewLocation     string

	// PromptChanged is set when the persona text changed, either through an
	// edit of the prompt file or by pointing prompt_file elsewhere. An empty
	// NewPrompt restores the built-in persona.
	PromptChanged bool
	NewPrompt     string

	// RestartRequired lists top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LocationChanged && !d.PromptChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Analysis.Location != new.Analysis.Location {
		d.LocationChanged = true
		d.NewLocation = new.Analysis.Location
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Analysis.Prompt != new.Analysis.Prompt {
		d.PromptChanged = true
		d.NewPrompt = new.Analysis.Prompt
	}
	a, b := old.Analysis, new.Analysis
	a.Location, b.Location = "", ""
	a.PromptFile, b.PromptFile = "", ""
	a.Prompt, b.Prompt = "", ""
	if a != b {
		d.RestartRequired = append(d.RestartRequired, "analysis")
	}
	if old.Cycle != new.Cycle {
		d.RestartRequired = append(d.RestartRequired, "cycle")
	}
	if old.LiveUpdate != new.LiveUpdate {
		d.RestartRequired = append(d.RestartRequired, "live_update")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameProviders(a, b ProvidersConfig) bool {
	ae, be := a.entries(), b.entries()
	for i := range ae {
		if !sameEntry(*ae[i], *be[i]) {
			return false
		}
	}
	return true
}

// sameEntry compares the fields that select and authenticate a backend.
// Options are not compared.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !sameEntry(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
