// Package app is the single entry point into pronunciation analysis.
//
// A [Coach] owns the engine binding, the scoring manager, the critique
// provider and the optional speech synthesiser, and exposes them as one
// facade. Every error it returns is a *types.Error: transport and native
// failures are classified before they leave the package, so callers only
// ever deal with the taxonomy kinds.
//
// For testing, inject doubles through [New]'s interfaces; the engine mock,
// the critique mock and the TTS mock cover every collaborator.
package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/internal/scoring"
	"github.com/MrWong99/speakwise/pkg/provider/critique"
	"github.com/MrWong99/speakwise/pkg/provider/tts"
	"github.com/MrWong99/speakwise/pkg/types"
)

// Engine is the part of the engine binding the facade drives directly.
type Engine interface {
	Ready() bool
	Language() string
	SetLanguage(tag string) error
	Phonemize(text string) (string, error)
	Shutdown() error
}

// Scorer runs pronunciation scoring. *scoring.Manager satisfies it.
type Scorer interface {
	Score(ctx context.Context, in scoring.Audio, text string) (types.AnalysisResult, error)
}

// Status summarises which capabilities are currently usable.
type Status struct {
	EngineReady        bool   `json:"engine_ready"`
	Language           string `json:"language"`
	CritiqueConfigured bool   `json:"critique_configured"`
	TTSConfigured      bool   `json:"tts_configured"`
}

// Assessment combines a score with a critique of the same recording.
type Assessment struct {
	Result   types.AnalysisResult `json:"result"`
	Critique string               `json:"critique,omitempty"`

	// CritiqueError is set when the score succeeded but the critique did
	// not.
	CritiqueError *types.Error `json:"critique_error,omitempty"`
}

// Option is a functional option for New.
type Option func(*Coach)

// WithTTS sets the speech synthesiser. Without it Synthesize reports
// not-configured.
func WithTTS(p tts.Provider) Option {
	return func(c *Coach) { c.tts = p }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coach) { c.metrics = m }
}

// Coach is the orchestration facade.
type Coach struct {
	engine   Engine
	scorer   Scorer
	critique critique.Provider
	tts      tts.Provider
	metrics  *observe.Metrics

	closeOnce sync.Once
	closeErr  error
}

// New assembles a Coach. engine, scorer and critic are required.
func New(engine Engine, scorer Scorer, critic critique.Provider, opts ...Option) *Coach {
	c := &Coach{engine: engine, scorer: scorer, critique: critic}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// ─── Scoring ─────────────────────────────────────────────────────────────────

// ScorePronunciation scores audio against targetText.
func (c *Coach) ScorePronunciation(ctx context.Context, audio scoring.Audio, targetText string) (types.AnalysisResult, error) {
	if strings.TrimSpace(targetText) == "" {
		return types.AnalysisResult{}, types.Errorf(types.KindInvalidArgument, "target text is empty")
	}
	res, err := c.scorer.Score(ctx, audio, targetText)
	if err != nil {
		return types.AnalysisResult{}, c.fail(ctx, "score", err, types.KindAnalysis)
	}
	return res, nil
}

// SetLanguage switches the phonemizer language for subsequent calls.
func (c *Coach) SetLanguage(tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return types.Errorf(types.KindInvalidArgument, "language tag is empty")
	}
	if err := c.engine.SetLanguage(tag); err != nil {
		return c.fail(context.Background(), "set_language", err, types.KindPhonemize)
	}
	return nil
}

// Phonemize returns the IPA transcription of text in the active language.
func (c *Coach) Phonemize(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", types.Errorf(types.KindInvalidArgument, "text is empty")
	}
	ipa, err := c.engine.Phonemize(text)
	if err != nil {
		return "", c.fail(context.Background(), "phonemize", err, types.KindPhonemize)
	}
	return ipa, nil
}

// IsEngineReady reports whether the scoring engine initialised successfully.
func (c *Coach) IsEngineReady() bool { return c.engine.Ready() }

// ─── Critique ────────────────────────────────────────────────────────────────

// CritiqueAudio asks the remote model for feedback on audio. An empty prompt
// selects the default prompt. Starting a critique supersedes the one in
// flight.
func (c *Coach) CritiqueAudio(ctx context.Context, audio []byte, prompt string) (string, error) {
	if len(audio) == 0 {
		return "", types.Errorf(types.KindInvalidArgument, "no audio supplied")
	}

	ctx, span := observe.StartSpan(ctx, "app.CritiqueAudio")
	var err error
	defer func() { observe.EndSpan(span, err) }()

	c.metrics.ActiveCritiques.Add(ctx, 1)
	defer c.metrics.ActiveCritiques.Add(context.WithoutCancel(ctx), -1)

	start := time.Now()
	text, err := c.critique.Critique(ctx, audio, prompt)
	outcome := "completed"
	if err != nil {
		err = c.fail(ctx, "critique", err, types.KindConnection)
		outcome = string(types.KindOf(err))
	}
	c.metrics.RecordCritique(context.WithoutCancel(ctx), outcome, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return text, nil
}

// IsCritiqueConfigured reports whether a critique credential is available.
func (c *Coach) IsCritiqueConfigured() bool { return c.critique.Configured() }

// Assess scores data against targetText and critiques it concurrently. A
// scoring failure fails the whole call and aborts the critique; a critique
// failure is reported inside the Assessment.
func (c *Coach) Assess(ctx context.Context, data []byte, targetText, prompt string) (Assessment, error) {
	var a Assessment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := c.ScorePronunciation(gctx, scoring.EncodedAudio{Data: data}, targetText)
		a.Result = res
		return err
	})
	if c.critique.Configured() {
		g.Go(func() error {
			text, err := c.CritiqueAudio(gctx, data, prompt)
			if err != nil {
				a.CritiqueError = types.Classify(err, types.KindConnection)
				return nil
			}
			a.Critique = text
			return nil
		})
	} else {
		a.CritiqueError = types.Errorf(types.KindNotConfigured, "critique API key is not configured")
	}
	if err := g.Wait(); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

// ─── Speech synthesis ────────────────────────────────────────────────────────

// Synthesize renders text as a WAV file in the given language.
func (c *Coach) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if c.tts == nil {
		return nil, types.Errorf(types.KindNotConfigured, "speech synthesis is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, types.Errorf(types.KindInvalidArgument, "text is empty")
	}
	data, err := c.tts.Synthesize(ctx, text, lang)
	if err != nil {
		return nil, c.fail(ctx, "synthesize", err, types.KindSynthesis)
	}
	return data, nil
}

// SupportedLanguages lists the languages with a synthesis voice.
func (c *Coach) SupportedLanguages() []tts.Language { return tts.SupportedLanguages() }

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Status reports the current capability state.
func (c *Coach) Status() Status {
	return Status{
		EngineReady:        c.engine.Ready(),
		Language:           c.engine.Language(),
		CritiqueConfigured: c.critique.Configured(),
		TTSConfigured:      c.tts != nil && c.tts.Configured(),
	}
}

// Close aborts any in-flight critique and then releases the engine. It is
// safe to call more than once.
func (c *Coach) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if err := c.critique.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := c.engine.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// fail classifies err and logs it at a level matching its kind.
func (c *Coach) fail(ctx context.Context, op string, err error, fallback types.Kind) *types.Error {
	te := types.Classify(err, fallback)
	log := observe.Logger(ctx).With("op", op, "kind", te.Kind, "err", te)
	switch te.Kind {
	case types.KindSuperseded, types.KindCanceled, types.KindInvalidArgument, types.KindNotConfigured, types.KindEngineNotReady:
		log.Debug("app: request not served")
	default:
		log.Warn("app: request failed")
	}
	return te
}
