package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/speakwise/pkg/types"
)

// ErrAlreadyInitialized is returned when Initialize is called a second time.
var ErrAlreadyInitialized = errors.New("engine: already initialized")

// Binding owns the process-wide Engine. The zero value is not usable; create
// one with [NewBinding].
type Binding struct {
	open Opener

	once sync.Once

	// callMu serialises engine calls. It is never taken while holding mu.
	callMu sync.Mutex

	// mu guards the state below. It is held for field access only, never
	// across an engine call.
	mu       sync.RWMutex
	eng      Engine
	initErr  error
	language string
	closed   bool
}

// NewBinding returns a Binding that will build its engine with open.
func NewBinding(open Opener) *Binding {
	return &Binding{open: open, language: DefaultLanguage}
}

// Initialize builds the engine from paths. It runs at most once; a failure is
// recorded and every later call on the Binding returns
// [types.KindEngineNotReady]. Subsequent Initialize calls return the recorded
// outcome wrapped in [ErrAlreadyInitialized].
func (b *Binding) Initialize(paths Paths) error {
	first := false
	b.once.Do(func() {
		first = true
		err := b.initialize(paths)
		b.mu.Lock()
		b.initErr = err
		b.mu.Unlock()
	})
	err := b.InitErr()
	if first {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAlreadyInitialized, err)
	}
	return ErrAlreadyInitialized
}

func (b *Binding) initialize(paths Paths) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.KindEngineNotReady, "initialize: engine fault: %v", r)
		}
	}()

	eng, err := b.open(paths)
	if err != nil {
		slog.Error("engine: initialization failed", "model", paths.Model, "err", err)
		return types.Errorf(types.KindEngineNotReady, "initialize: %v", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = eng.Close()
		return types.Errorf(types.KindEngineNotReady, "initialize: binding shut down")
	}
	b.eng = eng
	slog.Info("engine: initialized", "model", paths.Model, "language", b.language)
	return nil
}

// Ready reports whether the engine is initialised and not shut down.
func (b *Binding) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.eng != nil
}

// InitErr returns the recorded initialisation failure, if any.
func (b *Binding) InitErr() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initErr
}

// Language returns the active phonemizer language.
func (b *Binding) Language() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.language
}

// AnalyzeFile scores the waveform file at path against text.
func (b *Binding) AnalyzeFile(path, text string) (types.AnalysisResult, error) {
	var res types.AnalysisResult
	err := b.call("analyze file", types.KindAnalysis, func(e Engine) error {
		var err error
		res, err = e.AnalyzeFile(path, text)
		return err
	})
	return res, err
}

// AnalyzeSamples scores float samples against text. channels must be 1 or 2.
func (b *Binding) AnalyzeSamples(samples []float32, sampleRate, channels int, text string) (types.AnalysisResult, error) {
	if channels != 1 && channels != 2 {
		return types.AnalysisResult{}, types.Errorf(types.KindAnalysis, "analyze samples: unsupported channel count %d", channels)
	}
	if sampleRate <= 0 {
		return types.AnalysisResult{}, types.Errorf(types.KindAnalysis, "analyze samples: invalid sample rate %d", sampleRate)
	}
	var res types.AnalysisResult
	err := b.call("analyze samples", types.KindAnalysis, func(e Engine) error {
		var err error
		res, err = e.AnalyzeSamples(samples, sampleRate, channels, text)
		return err
	})
	return res, err
}

// Phonemize returns the IPA transcription of text in the active language.
func (b *Binding) Phonemize(text string) (string, error) {
	var ipa string
	err := b.call("phonemize", types.KindPhonemize, func(e Engine) error {
		var err error
		ipa, err = e.Phonemize(text)
		return err
	})
	return ipa, err
}

// SetLanguage changes the active language. It takes effect for calls issued
// after it returns.
func (b *Binding) SetLanguage(tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return types.Errorf(types.KindInvalidArgument, "set language: empty language tag")
	}
	return b.call("set language", types.KindPhonemize, func(e Engine) error {
		if err := e.SetLanguage(tag); err != nil {
			return err
		}
		b.mu.Lock()
		b.language = tag
		b.mu.Unlock()
		return nil
	})
}

// Shutdown closes the engine once any in-flight call returns. Later calls
// fail with [types.KindEngineNotReady]. It is safe to call more than once.
func (b *Binding) Shutdown() error {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	b.mu.Lock()
	b.closed = true
	eng := b.eng
	b.eng = nil
	b.mu.Unlock()

	if eng == nil {
		return nil
	}
	if err := eng.Close(); err != nil {
		return fmt.Errorf("engine: shutdown: %w", err)
	}
	slog.Info("engine: shut down")
	return nil
}

// call runs fn against the engine under the call lock, translating plain
// errors and panics into errors of kind.
func (b *Binding) call(op string, kind types.Kind, fn func(Engine) error) (err error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	b.mu.RLock()
	eng := b.eng
	if eng == nil {
		err = b.notReady(op)
	}
	b.mu.RUnlock()
	if eng == nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: recovered fault", "op", op, "panic", r)
			err = types.Errorf(kind, "%s: engine fault: %v", op, r)
		}
	}()

	if err := fn(eng); err != nil {
		var te *types.Error
		if errors.As(err, &te) {
			return te
		}
		return &types.Error{Kind: kind, Reason: op + ": " + err.Error(), Err: err}
	}
	return nil
}

// notReady describes why no engine is available. b.mu must be held.
func (b *Binding) notReady(op string) error {
	switch {
	case b.closed:
		return types.Errorf(types.KindEngineNotReady, "%s: engine shut down", op)
	case b.initErr != nil:
		return &types.Error{Kind: types.KindEngineNotReady, Reason: op + ": initialization failed", Err: b.initErr}
	default:
		return types.Errorf(types.KindEngineNotReady, "%s: engine not initialized", op)
	}
}
