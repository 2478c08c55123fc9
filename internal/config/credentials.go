package config

import "sync/atomic"

// Credentials holds the API keys that may change while the server runs.
// Readers always see a consistent snapshot; it is safe for concurrent use.
type Credentials struct {
	critique atomic.Pointer[string]
	tts      atomic.Pointer[map[string]string]
}

// NewCredentials returns a store seeded from cfg.
func NewCredentials(cfg *Config) *Credentials {
	c := &Credentials{}
	c.Update(cfg)
	return c
}

// Update replaces every stored key with the values in cfg.
func (c *Credentials) Update(cfg *Config) {
	key := cfg.Critique.APIKey
	c.critique.Store(&key)

	tts := make(map[string]string, len(cfg.TTS.Providers))
	for _, p := range cfg.TTS.Providers {
		tts[p.Name] = p.APIKey
	}
	c.tts.Store(&tts)
}

// CritiqueKey returns the current critique API key, or "" when unset. Its
// signature matches the credential source expected by the critique client.
func (c *Credentials) CritiqueKey() string {
	if p := c.critique.Load(); p != nil {
		return *p
	}
	return ""
}

// TTSKey returns a function reporting the current key of the named TTS
// provider.
func (c *Credentials) TTSKey(provider string) func() string {
	return func() string {
		if m := c.tts.Load(); m != nil {
			return (*m)[provider]
		}
		return ""
	}
}
