// Package config provides the configuration schema, loader, credential store
// and TTS provider registry for the speakwise server.
package config

import "time"

// LogLevel controls log verbosity for the speakwise server.
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

// HistoryDriver selects the score history backend.
type HistoryDriver string

const (
	HistorySQLite   HistoryDriver = "sqlite"
	HistoryPostgres HistoryDriver = "postgres"
)

// IsValid reports whether d is a recognised history driver.
func (d HistoryDriver) IsValid() bool {
	return d == HistorySQLite || d == HistoryPostgres
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultLanguage        = "en-us"
	DefaultCritiqueTimeout = 60 * time.Second
	DefaultMaxRecords      = 100
	DefaultHistoryDSN      = "speakwise.db"
	DefaultEventsSubject   = "speakwise.scores"
)

// Environment variables consulted when the corresponding key is empty.
const (
	EnvCritiqueAPIKey = "SPEAKWISE_CRITIQUE_API_KEY"
	EnvTTSAPIKey      = "SPEAKWISE_TTS_API_KEY"
)

// Config is the root configuration structure for speakwise.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Critique  CritiqueConfig  `yaml:"critique"`
	TTS       TTSConfig       `yaml:"tts"`
	History   HistoryConfig   `yaml:"history"`
	Events    EventsConfig    `yaml:"events"`
	Courses   CoursesConfig   `yaml:"courses"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// EngineConfig locates the scoring model and its companions.
type EngineConfig struct {
	ModelPath string `yaml:"model_path"`
	VocabPath string `yaml:"vocab_path"`
	DataPath  string `yaml:"data_path"`

	// RuntimeLibrary is the path to the onnxruntime shared library. Empty
	// uses the platform default search path.
	RuntimeLibrary string `yaml:"runtime_library"`

	// PhonemizerCommand is the espeak-ng command line, e.g. "espeak-ng".
	// Arguments are split shell-style.
	PhonemizerCommand string `yaml:"phonemizer_command"`

	// Language is the initial phonemizer language tag.
	Language string `yaml:"language"`

	// Workers bounds concurrent scoring jobs. Zero selects NumCPU.
	Workers int `yaml:"workers"`
}

// CritiqueConfig configures the realtime critique endpoint.
type CritiqueConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	Language     string        `yaml:"language"`
	Timeout      time.Duration `yaml:"timeout"`
	FallbackText string        `yaml:"fallback_text"`
}

// TTSConfig lists speech synthesis providers in failover order.
type TTSConfig struct {
	Providers []ProviderEntry `yaml:"providers"`
}

// ProviderEntry configures one TTS provider.
type ProviderEntry struct {
	// Name selects the implementation: "azure" or "openai".
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	Region  string `yaml:"region"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`
	BaseURL string `yaml:"base_url"`
}

// HistoryConfig selects and sizes the score history store.
type HistoryConfig struct {
	Driver     HistoryDriver `yaml:"driver"`
	DSN        string        `yaml:"dsn"`
	MaxRecords int           `yaml:"max_records"`
}

// EventsConfig enables publication of score records to NATS. Publication is
// disabled when Servers is empty.
type EventsConfig struct {
	Servers string `yaml:"servers"`
	Subject string `yaml:"subject"`
}

// CoursesConfig locates the course catalogue.
type CoursesConfig struct {
	Dir string `yaml:"dir"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	// Exporter is one of "none", "stdout" or "otlp".
	Exporter     string `yaml:"exporter"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}
