// Package mock provides a test double for the engine.Engine interface.
//
// The zero value is a working engine that scores every word of the target
// text with Score and phonemizes by echoing the text with a language prefix.
// Set the *Err fields or Panic to exercise failure paths.
package mock

import (
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/speakwise/pkg/engine"
	"github.com/MrWong99/speakwise/pkg/types"
)

// AnalyzeFileCall records a single invocation of AnalyzeFile.
type AnalyzeFileCall struct {
	Path string
	Text string
}

// AnalyzeSamplesCall records a single invocation of AnalyzeSamples.
type AnalyzeSamplesCall struct {
	// Samples is a copy of the slice passed to AnalyzeSamples.
	Samples    []float32
	SampleRate int
	Channels   int
	Text       string
}

// Engine is a mock implementation of engine.Engine.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Result, if non-nil, is returned by both analyze methods instead of the
	// generated per-word result.
	Result *types.AnalysisResult

	// Score is the score given to every generated word and phoneme.
	Score float64

	// AnalyzeErr is returned by both analyze methods when non-nil.
	AnalyzeErr error

	// PhonemizeErr is returned by Phonemize when non-nil.
	PhonemizeErr error

	// SetLanguageErr is returned by SetLanguage when non-nil.
	SetLanguageErr error

	// Panic, if non-empty, makes every method except Close panic with it.
	Panic string

	// --- Call records ---

	AnalyzeFileCalls    []AnalyzeFileCall
	AnalyzeSamplesCalls []AnalyzeSamplesCall
	PhonemizeCalls      []string
	SetLanguageCalls    []string
	CloseCalls          int

	language string
}

var _ engine.Engine = (*Engine)(nil)

// Opener returns an engine.Opener that always yields e.
func Opener(e *Engine) engine.Opener {
	return func(engine.Paths) (engine.Engine, error) { return e, nil }
}

// FailingOpener returns an engine.Opener that always fails with err.
func FailingOpener(err error) engine.Opener {
	return func(engine.Paths) (engine.Engine, error) { return nil, err }
}

// AnalyzeFile records the call and returns the configured result.
func (e *Engine) AnalyzeFile(path, text string) (types.AnalysisResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybePanic()
	e.AnalyzeFileCalls = append(e.AnalyzeFileCalls, AnalyzeFileCall{Path: path, Text: text})
	return e.result(text)
}

// AnalyzeSamples records the call and returns the configured result.
func (e *Engine) AnalyzeSamples(samples []float32, sampleRate, channels int, text string) (types.AnalysisResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybePanic()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	e.AnalyzeSamplesCalls = append(e.AnalyzeSamplesCalls, AnalyzeSamplesCall{
		Samples: cp, SampleRate: sampleRate, Channels: channels, Text: text,
	})
	return e.result(text)
}

// Phonemize records the call and returns "<language>:<text>".
func (e *Engine) Phonemize(text string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybePanic()
	e.PhonemizeCalls = append(e.PhonemizeCalls, text)
	if e.PhonemizeErr != nil {
		return "", e.PhonemizeErr
	}
	return e.lang() + ":" + text, nil
}

// SetLanguage records the call and switches the language used by Phonemize.
func (e *Engine) SetLanguage(tag string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybePanic()
	e.SetLanguageCalls = append(e.SetLanguageCalls, tag)
	if e.SetLanguageErr != nil {
		return e.SetLanguageErr
	}
	e.language = tag
	return nil
}

// Close records the call.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCalls++
	return nil
}

// Language returns the active language.
func (e *Engine) Language() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lang()
}

func (e *Engine) lang() string {
	if e.language == "" {
		return engine.DefaultLanguage
	}
	return e.language
}

func (e *Engine) maybePanic() {
	if e.Panic != "" {
		panic(e.Panic)
	}
}

func (e *Engine) result(text string) (types.AnalysisResult, error) {
	if e.AnalyzeErr != nil {
		return types.AnalysisResult{}, e.AnalyzeErr
	}
	if e.Result != nil {
		return *e.Result, nil
	}
	res := types.AnalysisResult{OverallScore: e.Score}
	for _, w := range strings.Fields(text) {
		res.Words = append(res.Words, types.WordScore{
			Word:  w,
			Score: e.Score,
			Phonemes: []types.PhonemeScore{
				{IPA: fmt.Sprintf("/%s/", strings.ToLower(w[:1])), Score: e.Score, IsGood: e.Score > 0.5},
			},
		})
	}
	return res, nil
}
