// Package engine binds the phoneme-scoring engine to the rest of the
// application.
//
// An [Engine] is the raw capability: acoustic model inference, phonemization
// and alignment. It is not assumed to be safe for concurrent use and may
// fail in arbitrary ways, including panics from native code.
//
// A [Binding] owns exactly one Engine for the lifetime of the process. It
// initialises the engine once, serialises every call, and translates every
// fault into a classified [types.Error] so that no engine failure can crash
// the caller. Calls made before a successful initialisation, after a failed
// one, or after [Binding.Shutdown] fail fast with [types.KindEngineNotReady].
package engine

import "github.com/MrWong99/speakwise/pkg/types"

// DefaultLanguage is the phonemizer language active until SetLanguage is
// called.
const DefaultLanguage = "en-us"

// Engine is the native scoring capability reached through a [Binding].
//
// Implementations return plain errors; the Binding classifies them.
type Engine interface {
	// AnalyzeFile decodes the waveform file at path and scores it against
	// text.
	AnalyzeFile(path, text string) (types.AnalysisResult, error)

	// AnalyzeSamples scores float samples in [-1, 1] against text. channels
	// is 1 or 2; the engine resamples internally.
	AnalyzeSamples(samples []float32, sampleRate, channels int, text string) (types.AnalysisResult, error)

	// Phonemize returns the IPA transcription of text in the active language.
	Phonemize(text string) (string, error)

	// SetLanguage changes the active language for subsequent calls.
	SetLanguage(tag string) error

	// Close releases all resources held by the engine.
	Close() error
}

// Paths locates the artifact set an engine is built from.
type Paths struct {
	// Model is the acoustic model file.
	Model string

	// Vocab maps phoneme tokens to model output indices.
	Vocab string

	// Data is the phoneme-rules data directory used by the phonemizer.
	Data string
}

// Opener constructs an Engine from its artifacts.
type Opener func(Paths) (Engine, error)
