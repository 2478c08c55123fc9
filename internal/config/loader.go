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

// ValidTTSProviders lists the TTS provider names the registry knows about.
var ValidTTSProviders = []string{"azure", "openai"}

// ValidExporters lists the accepted telemetry.exporter values.
var ValidExporters = []string{"", "none", "stdout", "otlp"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills empty API keys from the
// environment, applies defaults and validates the result. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv copies credentials from the environment into empty key fields.
// lookup has the signature of [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg.Critique.APIKey == "" {
		if v, ok := lookup(EnvCritiqueAPIKey); ok {
			cfg.Critique.APIKey = v
		}
	}
	if v, ok := lookup(EnvTTSAPIKey); ok {
		for i := range cfg.TTS.Providers {
			if cfg.TTS.Providers[i].APIKey == "" {
				cfg.TTS.Providers[i].APIKey = v
			}
		}
	}
}

// ApplyDefaults fills zero values with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Engine.Language == "" {
		cfg.Engine.Language = DefaultLanguage
	}
	if cfg.Critique.Timeout == 0 {
		cfg.Critique.Timeout = DefaultCritiqueTimeout
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = HistorySQLite
	}
	if cfg.History.Driver == HistorySQLite && cfg.History.DSN == "" {
		cfg.History.DSN = DefaultHistoryDSN
	}
	if cfg.History.MaxRecords == 0 {
		cfg.History.MaxRecords = DefaultMaxRecords
	}
	if cfg.Events.Servers != "" && cfg.Events.Subject == "" {
		cfg.Events.Subject = DefaultEventsSubject
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

	// Engine
	if cfg.Engine.Workers < 0 {
		errs = append(errs, fmt.Errorf("engine.workers %d must not be negative", cfg.Engine.Workers))
	}
	if cfg.Engine.ModelPath != "" && cfg.Engine.VocabPath == "" {
		errs = append(errs, errors.New("engine.vocab_path is required when engine.model_path is set"))
	}
	if cfg.Engine.ModelPath == "" {
		slog.Warn("engine.model_path is empty; pronunciation scoring will report the engine as not ready")
	}

	// Critique
	if cfg.Critique.Timeout < 0 {
		errs = append(errs, fmt.Errorf("critique.timeout %s must not be negative", cfg.Critique.Timeout))
	}
	if cfg.Critique.APIKey == "" {
		slog.Warn("critique.api_key is empty; audio critique is disabled until a key is configured",
			"env", EnvCritiqueAPIKey)
	}

	// TTS
	seen := make(map[string]int, len(cfg.TTS.Providers))
	for i, p := range cfg.TTS.Providers {
		prefix := fmt.Sprintf("tts.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if !slices.Contains(ValidTTSProviders, p.Name) {
			errs = append(errs, fmt.Errorf("%s.name %q is unknown; valid values: %v", prefix, p.Name, ValidTTSProviders))
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tts.providers[%d]", prefix, p.Name, prev))
		}
		seen[p.Name] = i
		if p.Name == "azure" && p.Region == "" && p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s: azure requires region or base_url", prefix))
		}
		if p.APIKey == "" {
			slog.Warn("TTS provider has no API key", "provider", p.Name, "env", EnvTTSAPIKey)
		}
	}

	// History
	if !cfg.History.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("history.driver %q is invalid; valid values: sqlite, postgres", cfg.History.Driver))
	}
	if cfg.History.Driver == HistoryPostgres && cfg.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn is required when history.driver is postgres"))
	}
	if cfg.History.MaxRecords < 0 {
		errs = append(errs, fmt.Errorf("history.max_records %d must not be negative", cfg.History.MaxRecords))
	}

	// Telemetry
	if !slices.Contains(ValidExporters, cfg.Telemetry.Exporter) {
		errs = append(errs, fmt.Errorf("telemetry.exporter %q is invalid; valid values: none, stdout, otlp", cfg.Telemetry.Exporter))
	}
	if cfg.Telemetry.Exporter == "otlp" && cfg.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry.exporter is otlp"))
	}

	return errors.Join(errs...)
}
