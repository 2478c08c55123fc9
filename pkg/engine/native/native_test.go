package native

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/speakwise/pkg/audio"
	"github.com/MrWong99/speakwise/pkg/engine"
)

// dictPhonemizer looks words up per voice.
type dictPhonemizer struct {
	mu     sync.Mutex
	dict   map[string]map[string]string
	voices []string
}

func (d *dictPhonemizer) Transcribe(_ context.Context, word, voice string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.voices = append(d.voices, voice)
	words, ok := d.dict[voice]
	if !ok {
		return "", fmt.Errorf("unknown voice %q", voice)
	}
	ipa, ok := words[strings.ToLower(word)]
	if !ok {
		return "", nil
	}
	return ipa, nil
}

// energyModel emits one frame per 320 input samples and cycles its argmax
// through the non-blank classes in order, with a blank frame between each,
// so any target sequence in ascending class order aligns. Frame energy
// sharpens the distribution, making output depend on the input samples.
type energyModel struct {
	vocab  int
	inputs [][]float32
	closed bool
}

func (m *energyModel) Logits(samples []float32) (Matrix, error) {
	m.inputs = append(m.inputs, samples)
	frames := len(samples) / 320
	out := Matrix{Frames: frames, Vocab: m.vocab, Data: make([]float32, frames*m.vocab)}
	for t := range frames {
		var energy float64
		for _, s := range samples[t*320 : (t+1)*320] {
			energy += float64(s) * float64(s)
		}
		peak := float32(4 + math.Sqrt(energy/320))
		class := 0
		if t%2 == 1 {
			class = 1 + (t/2)%(m.vocab-1)
		}
		out.Data[t*m.vocab+class] = peak
	}
	return out, nil
}

func (m *energyModel) Close() error { m.closed = true; return nil }

func newTestEngine(t *testing.T) (*Engine, *energyModel, *dictPhonemizer) {
	t.Helper()
	dir := t.TempDir()
	vocabPath := filepath.Join(dir, "vocab.json")
	if err := os.WriteFile(vocabPath, []byte(`{"<pad>":0,"h":1,"ə":2,"l":3,"oʊ":4,"w":5,"ɜː":6,"d":7}`), 0o644); err != nil {
		t.Fatal(err)
	}
	model := &energyModel{vocab: 8}
	ph := &dictPhonemizer{dict: map[string]map[string]string{
		"en-us": {"hello": "həˈloʊ", "world": "wˈɜːld"},
		"fr":    {"hello": "ɛlo"},
	}}
	e, err := New(engine.Paths{Vocab: vocabPath}, WithAcousticModel(model), WithPhonemizer(ph))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, model, ph
}

// tone returns n samples of a 220 Hz tone at rate.
func tone(n, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return out
}

func TestEngine_AnalyzeSamples(t *testing.T) {
	t.Parallel()

	e, model, _ := newTestEngine(t)
	res, err := e.AnalyzeSamples(tone(16000, 16000), 16000, 1, "Hello, world!")
	if err != nil {
		t.Fatalf("AnalyzeSamples: %v", err)
	}

	if len(res.Words) != 2 || res.Words[0].Word != "Hello," || res.Words[1].Word != "world!" {
		t.Fatalf("words out of order or missing: %+v", res.Words)
	}
	var ipa []string
	for _, w := range res.Words {
		for _, p := range w.Phonemes {
			ipa = append(ipa, p.IPA)
			if p.Score < 0 || p.Score > 1 {
				t.Errorf("phoneme %q score %v outside [0,1]", p.IPA, p.Score)
			}
		}
		if w.Score < 0 || w.Score > 1 {
			t.Errorf("word %q score %v outside [0,1]", w.Word, w.Score)
		}
	}
	if got := strings.Join(ipa, " "); got != "h ə l oʊ w ɜː l d" {
		t.Errorf("phonemes = %q", got)
	}
	if res.OverallScore <= 0 || res.OverallScore > 1 {
		t.Errorf("overall score %v outside (0,1]", res.OverallScore)
	}

	// The model saw normalised 16 kHz input.
	in := model.inputs[0]
	var sum float64
	for _, v := range in {
		sum += float64(v)
	}
	if math.Abs(sum/float64(len(in))) > 1e-3 {
		t.Errorf("model input mean = %v, want ~0", sum/float64(len(in)))
	}
}

func TestEngine_AnalyzeFileMatchesSamples(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)

	samples := tone(44100, 44100)
	stereo := audio.Mix(samples, 1, 2)
	wav, err := audio.EncodeWAV(audio.PCMBuffer{
		Data:   audio.Quantize(stereo, 16),
		Format: audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16},
	})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "take.wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		t.Fatal(err)
	}

	byPath, err := e.AnalyzeFile(path, "hello world")
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	pcm, err := audio.DecodeFloat(wav, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	bySamples, err := e.AnalyzeSamples(pcm.Samples, pcm.SampleRate, pcm.Channels, "hello world")
	if err != nil {
		t.Fatalf("AnalyzeSamples: %v", err)
	}
	if !reflect.DeepEqual(byPath, bySamples) {
		t.Errorf("path and samples results differ:\n%+v\n%+v", byPath, bySamples)
	}
}

func TestEngine_UnknownWordScoresZero(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	res, err := e.AnalyzeSamples(tone(16000, 16000), 16000, 1, "hello xyzzy")
	if err != nil {
		t.Fatalf("AnalyzeSamples: %v", err)
	}
	if len(res.Words) != 2 {
		t.Fatalf("got %d words, want 2", len(res.Words))
	}
	if res.Words[1].Score != 0 || len(res.Words[1].Phonemes) != 0 {
		t.Errorf("unknown word = %+v, want zero score and no phonemes", res.Words[1])
	}
}

func TestEngine_AnalyzeErrors(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	if _, err := e.AnalyzeSamples(tone(16000, 16000), 16000, 1, "   "); err == nil {
		t.Error("expected error for empty text")
	}
	if _, err := e.AnalyzeSamples(tone(16000, 16000), 16000, 1, "xyzzy"); !errors.Is(err, errNoTargets) {
		t.Errorf("expected errNoTargets, got %v", err)
	}
	// 100 samples yield no model frames.
	if _, err := e.AnalyzeSamples(tone(100, 16000), 16000, 1, "hello"); !errors.Is(err, errNoFrames) {
		t.Errorf("expected errNoFrames, got %v", err)
	}
	if _, err := e.AnalyzeFile(filepath.Join(t.TempDir(), "missing.wav"), "hello"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEngine_LanguageSwitch(t *testing.T) {
	t.Parallel()

	e, _, ph := newTestEngine(t)
	got, err := e.Phonemize("hello world")
	if err != nil {
		t.Fatalf("Phonemize: %v", err)
	}
	if got != "həˈloʊ wˈɜːld" {
		t.Errorf("default language: got %q", got)
	}

	if err := e.SetLanguage("fr"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	got, _ = e.Phonemize("hello")
	if got != "ɛlo" {
		t.Errorf("french: got %q, want %q", got, "ɛlo")
	}

	if err := e.SetLanguage("klingon"); err == nil {
		t.Error("expected error for unknown voice")
	}
	if e.voice() != "fr" {
		t.Errorf("failed switch changed voice to %q", e.voice())
	}
	if ph.voices[0] != engine.DefaultLanguage {
		t.Errorf("first call used voice %q, want %q", ph.voices[0], engine.DefaultLanguage)
	}
}

func TestEngine_Close(t *testing.T) {
	t.Parallel()

	e, model, _ := newTestEngine(t)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if !model.closed {
		t.Error("model not closed")
	}
}

func TestPreprocess_SilenceStaysFinite(t *testing.T) {
	t.Parallel()

	out := preprocess(make([]float32, 3200), 16000, 1)
	for i, v := range out {
		if v != 0 || math.IsNaN(float64(v)) {
			t.Fatalf("sample %d = %v, want 0", i, v)
		}
	}
}

func TestPreprocess_ResamplesAndMixes(t *testing.T) {
	t.Parallel()

	out := preprocess(make([]float32, 48000*2), 48000, 2)
	if len(out) != 16000 {
		t.Errorf("got %d samples, want 16000", len(out))
	}
}

func TestBuildResult_Aggregation(t *testing.T) {
	t.Parallel()

	segs := []segment{
		{target: target{word: 0, ipa: "a"}, logProb: math.Log(0.5)},
		{target: target{word: 0, ipa: "b"}, logProb: missedLogProb},
		{target: target{word: 1, ipa: "c"}, logProb: math.Log(0.04)},
	}
	res := buildResult([]string{"ab", "c"}, segs)

	if got := res.Words[0].Score; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("word 0 score = %v, want 0.5 (missed phoneme excluded)", got)
	}
	if res.Words[0].Phonemes[1].Score != 0 || res.Words[0].Phonemes[1].IsGood {
		t.Errorf("missed phoneme = %+v", res.Words[0].Phonemes[1])
	}
	if !res.Words[0].Phonemes[0].IsGood {
		t.Error("phoneme at log(0.5) should be good")
	}
	if res.Words[1].Phonemes[0].IsGood {
		t.Error("phoneme at log(0.04) should not be good")
	}
	want := math.Exp((math.Log(0.5) + math.Log(0.04)) / 2)
	if math.Abs(res.OverallScore-want) > 1e-9 {
		t.Errorf("overall = %v, want %v", res.OverallScore, want)
	}
}
