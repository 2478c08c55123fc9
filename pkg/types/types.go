// Package types defines the scoring data model shared by the engine, the
// scoring manager and the HTTP API.
//
// Results are plain values owned by the caller; nothing in this package keeps
// a reference to a returned result.
package types

import "time"

// PhonemeScore is the assessment of a single phoneme inside a word.
type PhonemeScore struct {
	// IPA is the phoneme symbol in the International Phonetic Alphabet.
	IPA string `json:"ipa"`

	// Score is the goodness-of-pronunciation in [0, 1].
	Score float64 `json:"score"`

	// IsGood reports whether the phoneme passed the engine's acceptance
	// threshold.
	IsGood bool `json:"is_good"`
}

// WordScore is the assessment of a single word of the target text. Phonemes
// are listed in utterance order.
type WordScore struct {
	Word     string         `json:"word"`
	Score    float64        `json:"score"`
	Phonemes []PhonemeScore `json:"phonemes"`
}

// AnalysisResult is the outcome of scoring one utterance against its target
// text. Words appear in the order they occur in the target text.
type AnalysisResult struct {
	OverallScore float64     `json:"overall_score"`
	Words        []WordScore `json:"words"`
}

// PCM describes raw float32 samples in [-1, 1], interleaved when Channels > 1.
type PCM struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the playback length of p.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}
