// Package native implements engine.Engine with a CTC acoustic model run
// through onnxruntime and an external espeak-ng phonemizer.
//
// Scoring follows the goodness-of-pronunciation recipe: the target text is
// phonemized word by word, the phonemes are force-aligned to the model's
// per-frame log-posteriors with CTC Viterbi, and each phoneme is scored by
// its mean log-posterior over the aligned frames. Exported scores are the
// exponential of that mean, i.e. the geometric-mean posterior in [0, 1].
package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/MrWong99/speakwise/pkg/audio"
	"github.com/MrWong99/speakwise/pkg/engine"
	"github.com/MrWong99/speakwise/pkg/types"
)

// modelSampleRate is the rate the acoustic model was trained on.
const modelSampleRate = 16000

// stdFloor keeps silent input from dividing by zero during normalisation.
const stdFloor = 1e-5

// Engine scores pronunciation against a target text.
type Engine struct {
	model      AcousticModel
	vocab      *Vocabulary
	phonemizer Phonemizer

	runtimeLib string
	command    string

	mu       sync.Mutex
	language string
}

var _ engine.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithRuntimeLibrary sets the path of the onnxruntime shared library.
func WithRuntimeLibrary(path string) Option {
	return func(e *Engine) { e.runtimeLib = path }
}

// WithPhonemizerCommand overrides [DefaultPhonemizerCommand].
func WithPhonemizerCommand(cmd string) Option {
	return func(e *Engine) { e.command = cmd }
}

// WithLanguage sets the initial phonemizer voice. Defaults to
// engine.DefaultLanguage.
func WithLanguage(tag string) Option {
	return func(e *Engine) { e.language = tag }
}

// WithAcousticModel supplies a preloaded model instead of loading
// paths.Model.
func WithAcousticModel(m AcousticModel) Option {
	return func(e *Engine) { e.model = m }
}

// WithPhonemizer supplies a phonemizer instead of running a command.
func WithPhonemizer(p Phonemizer) Option {
	return func(e *Engine) { e.phonemizer = p }
}

// New loads the vocabulary, acoustic model and phonemizer named by paths.
func New(paths engine.Paths, opts ...Option) (*Engine, error) {
	e := &Engine{language: engine.DefaultLanguage}
	for _, o := range opts {
		o(e)
	}

	vocab, err := LoadVocabulary(paths.Vocab)
	if err != nil {
		return nil, err
	}
	e.vocab = vocab

	if e.phonemizer == nil {
		p, err := NewCommandPhonemizer(e.command, paths.Data)
		if err != nil {
			return nil, err
		}
		e.phonemizer = p
	}
	if e.model == nil {
		m, err := LoadONNXModel(paths.Model, e.runtimeLib)
		if err != nil {
			return nil, err
		}
		e.model = m
	}
	return e, nil
}

// Opener adapts [New] to engine.Opener.
func Opener(opts ...Option) engine.Opener {
	return func(paths engine.Paths) (engine.Engine, error) {
		return New(paths, opts...)
	}
}

// Close releases the acoustic model.
func (e *Engine) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}

// SetLanguage switches the phonemizer voice after checking that it can
// transcribe a probe word.
func (e *Engine) SetLanguage(tag string) error {
	if _, err := e.phonemizer.Transcribe(context.Background(), "a", tag); err != nil {
		return fmt.Errorf("native: set language %q: %w", tag, err)
	}
	e.mu.Lock()
	e.language = tag
	e.mu.Unlock()
	slog.Info("native: language changed", "language", tag)
	return nil
}

func (e *Engine) voice() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.language
}

// Phonemize returns the space-separated IPA of each word of text.
func (e *Engine) Phonemize(text string) (string, error) {
	voice := e.voice()
	var parts []string
	for _, w := range strings.Fields(text) {
		clean := stripPunct(w)
		if clean == "" {
			continue
		}
		ipa, err := e.phonemizer.Transcribe(context.Background(), clean, voice)
		if err != nil {
			return "", err
		}
		parts = append(parts, ipa)
	}
	return strings.Join(parts, " "), nil
}

// AnalyzeFile decodes the file and scores it exactly as AnalyzeSamples
// would score the decoded samples.
func (e *Engine) AnalyzeFile(path, text string) (types.AnalysisResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("native: read %q: %w", path, err)
	}
	pcm, err := audio.DecodeFloat(data, 0, 0)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	if pcm.Channels > 2 {
		pcm.Samples = audio.Mix(pcm.Samples, pcm.Channels, 1)
		pcm.Channels = 1
	}
	return e.AnalyzeSamples(pcm.Samples, pcm.SampleRate, pcm.Channels, text)
}

// AnalyzeSamples scores interleaved float samples against text.
func (e *Engine) AnalyzeSamples(samples []float32, sampleRate, channels int, text string) (types.AnalysisResult, error) {
	words, targets, err := e.targets(text)
	if err != nil {
		return types.AnalysisResult{}, err
	}

	input := preprocess(samples, sampleRate, channels)
	if len(input) == 0 {
		return types.AnalysisResult{}, errors.New("native: no audio samples")
	}
	lp, err := e.model.Logits(input)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	if lp.Frames*lp.Vocab != len(lp.Data) {
		return types.AnalysisResult{}, fmt.Errorf("native: logits size %d does not match %dx%d", len(lp.Data), lp.Frames, lp.Vocab)
	}
	if lp.Vocab < e.vocab.Size() {
		return types.AnalysisResult{}, fmt.Errorf("native: model emits %d classes, vocabulary needs %d", lp.Vocab, e.vocab.Size())
	}
	logSoftmax(lp)

	segs, err := align(lp, targets, e.vocab.Blank())
	if err != nil {
		return types.AnalysisResult{}, err
	}
	return buildResult(words, segs), nil
}

// targets phonemizes text and flattens the known phonemes of every word.
func (e *Engine) targets(text string) ([]string, []target, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil, errors.New("native: target text is empty")
	}
	voice := e.voice()
	var targets []target
	for i, w := range words {
		clean := stripPunct(w)
		if clean == "" {
			continue
		}
		ipa, err := e.phonemizer.Transcribe(context.Background(), clean, voice)
		if err != nil {
			return nil, nil, err
		}
		for _, tok := range e.vocab.Tokenize(ipa) {
			id, _ := e.vocab.ID(tok)
			if id == e.vocab.Blank() {
				continue
			}
			targets = append(targets, target{word: i, token: id, ipa: tok})
		}
	}
	return words, targets, nil
}

// preprocess mixes to mono, resamples to the model rate and normalises to
// zero mean and unit variance.
func preprocess(samples []float32, rate, channels int) []float32 {
	mono := audio.Mix(samples, channels, 1)
	mono = audio.Resample(mono, 1, rate, modelSampleRate)
	if len(mono) == 0 {
		return nil
	}
	out := make([]float32, len(mono))
	copy(out, mono)

	var sum float64
	for _, v := range out {
		sum += float64(v)
	}
	mean := sum / float64(len(out))
	var sq float64
	for _, v := range out {
		d := float64(v) - mean
		sq += d * d
	}
	std := max(math.Sqrt(sq/float64(len(out))), stdFloor)
	for i, v := range out {
		out[i] = float32((float64(v) - mean) / std)
	}
	return out
}

// buildResult aggregates aligned segments into word and utterance scores.
// Words keep the order of the target text.
func buildResult(words []string, segs []segment) types.AnalysisResult {
	res := types.AnalysisResult{Words: make([]types.WordScore, len(words))}
	sums := make([]float64, len(words))
	counts := make([]int, len(words))
	for i, w := range words {
		res.Words[i] = types.WordScore{Word: w, Phonemes: []types.PhonemeScore{}}
	}
	for _, s := range segs {
		ws := &res.Words[s.word]
		ws.Phonemes = append(ws.Phonemes, types.PhonemeScore{
			IPA:    s.ipa,
			Score:  toScore(s.logProb),
			IsGood: s.logProb > goodLogProb,
		})
		if s.logProb > floorLogProb {
			sums[s.word] += s.logProb
			counts[s.word]++
		}
	}

	var total float64
	var valid int
	for i := range res.Words {
		wordLP := missedLogProb
		if counts[i] > 0 {
			wordLP = sums[i] / float64(counts[i])
		}
		res.Words[i].Score = toScore(wordLP)
		if wordLP > missedLogProb {
			total += wordLP
			valid++
		}
	}
	if valid > 0 {
		res.OverallScore = toScore(total / float64(valid))
	}
	return res
}

// toScore maps a mean log-probability to [0, 1]. Missed phonemes score 0.
func toScore(lp float64) float64 {
	if lp <= missedLogProb {
		return 0
	}
	return math.Min(1, math.Exp(lp))
}

func stripPunct(w string) string {
	return strings.TrimFunc(strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, w), unicode.IsSpace)
}
