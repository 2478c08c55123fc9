// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider turns a short reference sentence into a complete WAV file so
// learners can hear the target pronunciation. Synthesis is request/response:
// course sentences are short and the caller plays the result as one clip.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in the language identified by lang and returns
	// a complete RIFF/WAVE file. lang is a short code ("en", "zh") or one of
	// the aliases accepted by [LookupVoice]; unknown languages fall back to
	// English.
	//
	// A provider without credentials returns an error matching
	// types.ErrNotConfigured. Remote failures match types.ErrSynthesis.
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)

	// Configured reports whether the provider currently holds credentials.
	Configured() bool
}
