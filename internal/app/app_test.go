package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/speakwise/internal/app"
	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/internal/scoring"
	"github.com/MrWong99/speakwise/pkg/audio"
	"github.com/MrWong99/speakwise/pkg/engine"
	enginemock "github.com/MrWong99/speakwise/pkg/engine/mock"
	critiquemock "github.com/MrWong99/speakwise/pkg/provider/critique/mock"
	ttsmock "github.com/MrWong99/speakwise/pkg/provider/tts/mock"
	"github.com/MrWong99/speakwise/pkg/types"
)

type fixture struct {
	coach  *app.Coach
	engine *enginemock.Engine
	critic *critiquemock.Provider
	tts    *ttsmock.Provider
}

func newFixture(t *testing.T, ready bool, opts ...app.Option) *fixture {
	t.Helper()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		engine: &enginemock.Engine{Score: 0.9},
		critic: &critiquemock.Provider{Text: "Stress the second syllable."},
		tts:    &ttsmock.Provider{Audio: []byte("RIFF")},
	}
	b := engine.NewBinding(enginemock.Opener(f.engine))
	if ready {
		if err := b.Initialize(engine.Paths{}); err != nil {
			t.Fatal(err)
		}
	}
	opts = append([]app.Option{app.WithMetrics(m), app.WithTTS(f.tts)}, opts...)
	f.coach = app.New(b, scoring.New(b, scoring.WithMetrics(m)), f.critic, opts...)
	t.Cleanup(func() { _ = f.coach.Close() })
	return f
}

func TestScorePronunciation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)

	res, err := f.coach.ScorePronunciation(context.Background(),
		scoring.SamplesAudio{Samples: make([]float32, 160), SampleRate: 16000, Channels: 1}, "good morning")
	if err != nil {
		t.Fatalf("ScorePronunciation: %v", err)
	}
	if len(res.Words) != 2 {
		t.Errorf("words = %+v", res.Words)
	}

	_, err = f.coach.ScorePronunciation(context.Background(), scoring.FileAudio{Path: "x.wav"}, "  ")
	if !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("blank text: expected ErrInvalidArgument, got %v", err)
	}
}

func TestScorePronunciation_EngineNotReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)

	if f.coach.IsEngineReady() {
		t.Fatal("engine reported ready before Initialize")
	}
	_, err := f.coach.ScorePronunciation(context.Background(), scoring.FileAudio{Path: "x.wav"}, "hi")
	var te *types.Error
	if !errors.As(err, &te) || te.Kind != types.KindEngineNotReady {
		t.Errorf("expected *types.Error of kind engine_not_ready, got %v", err)
	}
	if _, err := f.coach.Phonemize("hi"); !errors.Is(err, types.ErrEngineNotReady) {
		t.Errorf("Phonemize: expected ErrEngineNotReady, got %v", err)
	}
}

func TestLanguageAndPhonemize(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)

	if err := f.coach.SetLanguage(""); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("empty tag: expected ErrInvalidArgument, got %v", err)
	}
	if err := f.coach.SetLanguage("de"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	ipa, err := f.coach.Phonemize("Hallo")
	if err != nil {
		t.Fatalf("Phonemize: %v", err)
	}
	if ipa != "de:Hallo" {
		t.Errorf("ipa = %q", ipa)
	}
	if st := f.coach.Status(); st.Language != "de" || !st.EngineReady {
		t.Errorf("status = %+v", st)
	}

	f.engine.PhonemizeErr = errors.New("espeak exited 1")
	_, err = f.coach.Phonemize("Hallo")
	if !errors.Is(err, types.ErrPhonemize) {
		t.Errorf("expected ErrPhonemize, got %v", err)
	}
}

func TestCritiqueAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)

	text, err := f.coach.CritiqueAudio(context.Background(), []byte("wav"), "")
	if err != nil {
		t.Fatalf("CritiqueAudio: %v", err)
	}
	if text != "Stress the second syllable." {
		t.Errorf("text = %q", text)
	}
	if _, err := f.coach.CritiqueAudio(context.Background(), nil, ""); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("no audio: expected ErrInvalidArgument, got %v", err)
	}

	f.critic.Err = errors.New("dial tcp: refused")
	_, err = f.coach.CritiqueAudio(context.Background(), []byte("wav"), "")
	if !errors.Is(err, types.ErrConnection) {
		t.Errorf("unclassified failure: expected ErrConnection, got %v", err)
	}
}

func TestCritiqueAudio_NotConfigured(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.critic.Unconfigured = true

	if f.coach.IsCritiqueConfigured() {
		t.Error("IsCritiqueConfigured = true")
	}
	if _, err := f.coach.CritiqueAudio(context.Background(), []byte("wav"), ""); !errors.Is(err, types.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCritiqueAudio_CanceledByContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.critic.Block = make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.coach.CritiqueAudio(ctx, []byte("wav"), "")
	if !errors.Is(err, types.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestAssess(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)

	wav := silenceWAV(t)
	a, err := f.coach.Assess(context.Background(), wav, "one two", "")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if len(a.Result.Words) != 2 || a.Critique == "" || a.CritiqueError != nil {
		t.Errorf("assessment = %+v", a)
	}

	f.critic.Err = types.Errorf(types.KindServer, "quota exceeded")
	a, err = f.coach.Assess(context.Background(), wav, "one two", "")
	if err != nil {
		t.Fatalf("Assess with failing critique: %v", err)
	}
	if a.CritiqueError == nil || a.CritiqueError.Kind != types.KindServer {
		t.Errorf("critique error = %v, want server", a.CritiqueError)
	}

	if _, err := f.coach.Assess(context.Background(), []byte("junk"), "one", ""); !errors.Is(err, types.ErrDecode) {
		t.Errorf("undecodable audio: expected ErrDecode, got %v", err)
	}
}

func TestAssess_CritiqueUnconfigured(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.critic.Unconfigured = true

	a, err := f.coach.Assess(context.Background(), silenceWAV(t), "one", "")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.CritiqueError == nil || a.CritiqueError.Kind != types.KindNotConfigured {
		t.Errorf("critique error = %v", a.CritiqueError)
	}
	if n := len(f.critic.Calls()); n != 0 {
		t.Errorf("critique called %d times", n)
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)

	data, err := f.coach.Synthesize(context.Background(), "hello", "en")
	if err != nil || string(data) != "RIFF" {
		t.Fatalf("Synthesize = %q, %v", data, err)
	}
	if calls := f.tts.Calls(); len(calls) != 1 || calls[0].Lang != "en" {
		t.Errorf("calls = %+v", calls)
	}
	if _, err := f.coach.Synthesize(context.Background(), "", "en"); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("empty text: expected ErrInvalidArgument, got %v", err)
	}

	f.tts.Err = errors.New("boom")
	if _, err := f.coach.Synthesize(context.Background(), "hello", "en"); !errors.Is(err, types.ErrSynthesis) {
		t.Errorf("expected ErrSynthesis, got %v", err)
	}
}

func TestSynthesize_WithoutProvider(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, app.WithTTS(nil))

	if f.coach.Status().TTSConfigured {
		t.Error("TTSConfigured = true without a provider")
	}
	if _, err := f.coach.Synthesize(context.Background(), "hello", "en"); !errors.Is(err, types.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if len(f.coach.SupportedLanguages()) == 0 {
		t.Error("SupportedLanguages is empty")
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)

	if err := f.coach.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.coach.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if f.critic.CloseCalls != 1 || f.engine.CloseCalls != 1 {
		t.Errorf("critique closes=%d engine closes=%d, want 1 each", f.critic.CloseCalls, f.engine.CloseCalls)
	}
	if f.coach.IsEngineReady() {
		t.Error("engine still ready after Close")
	}
}

func silenceWAV(t *testing.T) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(audio.PCMBuffer{
		Data:   make([]byte, 3200),
		Format: audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16},
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}
