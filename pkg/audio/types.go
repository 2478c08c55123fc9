package audio

import (
	"fmt"
	"time"
)

// Format describes interleaved little-endian linear PCM.
type Format struct {
	SampleRate int
	Channels   int

	// BitDepth is one of 8 (unsigned), 16, 24 or 32 (signed).
	BitDepth int
}

// Formats used across the analysis core.
var (
	// EngineFormat is what the scoring engine consumes natively.
	EngineFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

	// CritiqueFormat is what the realtime critique protocol expects.
	CritiqueFormat = Format{SampleRate: 24000, Channels: 1, BitDepth: 16}
)

// Validate reports whether f can be produced by [Normalize].
func (f Format) Validate() error {
	if f.SampleRate < 1000 || f.SampleRate > 384000 {
		return fmt.Errorf("audio: unsupported sample rate %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 8 {
		return fmt.Errorf("audio: unsupported channel count %d", f.Channels)
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("audio: unsupported bit depth %d", f.BitDepth)
	}
	return nil
}

// FrameSize returns the number of bytes per interleaved frame.
func (f Format) FrameSize() int { return f.Channels * f.BitDepth / 8 }

func (f Format) String() string {
	return fmt.Sprintf("%s %d-bit", formatString(f.SampleRate, f.Channels), f.BitDepth)
}

// PCMBuffer is a fully assembled block of linear PCM.
type PCMBuffer struct {
	Data   []byte
	Format Format
}

// Frames returns the number of complete frames in b.
func (b PCMBuffer) Frames() int {
	fs := b.Format.FrameSize()
	if fs == 0 {
		return 0
	}
	return len(b.Data) / fs
}

// Duration returns the playback length of b.
func (b PCMBuffer) Duration() time.Duration {
	if b.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.Format.SampleRate)
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
