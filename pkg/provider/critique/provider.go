// Package critique defines the interface for remote pronunciation critique.
//
// A critique provider sends a learner's recording together with a short
// instruction to a realtime language model and returns the model's free-text
// feedback. Implementations are single-flight: starting a new critique aborts
// any critique still in progress, which then fails with types.ErrSuperseded.
package critique

import "context"

// DefaultPrompt is sent when the caller does not supply one.
const DefaultPrompt = "请评价这段音频的发音质量。"

// FallbackText is returned when the model completes without producing text.
const FallbackText = "未能获取到分析结果"

// Provider is the abstraction over any realtime critique backend.
//
// Implementations must be safe for concurrent use. Concurrent calls to
// Critique do not queue: the newest call wins and every earlier in-flight
// call returns an error matching types.ErrSuperseded.
type Provider interface {
	// Critique normalises audio (any container the audio package can decode),
	// sends it with prompt and blocks until the response completes, fails,
	// times out, is superseded or ctx is cancelled. An empty prompt selects
	// [DefaultPrompt].
	Critique(ctx context.Context, audio []byte, prompt string) (string, error)

	// Configured reports whether a credential is currently available.
	Configured() bool

	// Close aborts any in-flight critique. Subsequent calls fail.
	Close() error
}
