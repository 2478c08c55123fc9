package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CritiqueKeyChanged bool
	TTSKeysChanged     []string // provider names whose key changed

	// RestartRequired lists sections that changed but are only read at startup.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CritiqueKeyChanged && len(d.TTSKeysChanged) == 0 && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Critique.APIKey != new.Critique.APIKey {
		d.CritiqueKeyChanged = true
	}

	oldKeys := make(map[string]string, len(old.TTS.Providers))
	for _, p := range old.TTS.Providers {
		oldKeys[p.Name] = p.APIKey
	}
	for _, p := range new.TTS.Providers {
		if k, ok := oldKeys[p.Name]; ok && k != p.APIKey {
			d.TTSKeysChanged = append(d.TTSKeysChanged, p.Name)
		}
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Engine != new.Engine {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	oc, nc := old.Critique, new.Critique
	oc.APIKey, nc.APIKey = "", ""
	if oc != nc {
		d.RestartRequired = append(d.RestartRequired, "critique")
	}
	if !sameProviders(old.TTS.Providers, new.TTS.Providers) {
		d.RestartRequired = append(d.RestartRequired, "tts")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if old.Events != new.Events {
		d.RestartRequired = append(d.RestartRequired, "events")
	}
	if old.Courses != new.Courses {
		d.RestartRequired = append(d.RestartRequired, "courses")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

// sameProviders compares provider lists ignoring API keys.
func sameProviders(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		x.APIKey, y.APIKey = "", ""
		if x != y {
			return false
		}
	}
	return true
}
