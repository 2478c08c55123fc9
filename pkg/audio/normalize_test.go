package audio_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/speakwise/pkg/audio"
	"github.com/MrWong99/speakwise/pkg/types"
)

// sineWAV returns a WAV file holding a 440 Hz tone.
func sineWAV(t *testing.T, format audio.Format, frames int) []byte {
	t.Helper()
	samples := make([]float32, frames*format.Channels)
	for i := range frames {
		v := float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(format.SampleRate)))
		for c := range format.Channels {
			samples[i*format.Channels+c] = v
		}
	}
	data, err := audio.EncodeWAV(audio.PCMBuffer{Data: audio.Quantize(samples, format.BitDepth), Format: format})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

func TestNormalize_WAVToEngineFormat(t *testing.T) {
	t.Parallel()

	const frames = 44100
	src := audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
	buf, err := audio.Normalize(sineWAV(t, src, frames), audio.EngineFormat)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if buf.Format != audio.EngineFormat {
		t.Errorf("format = %v, want %v", buf.Format, audio.EngineFormat)
	}
	wantFrames := frames * 16000 / 44100
	if d := buf.Frames() - wantFrames; d < -1 || d > 1 {
		t.Errorf("frames = %d, want %d ± 1", buf.Frames(), wantFrames)
	}
}

func TestNormalize_DurationWithinOneFrame(t *testing.T) {
	t.Parallel()

	sources := []audio.Format{
		{SampleRate: 8000, Channels: 1, BitDepth: 8},
		{SampleRate: 22050, Channels: 2, BitDepth: 24},
		{SampleRate: 48000, Channels: 1, BitDepth: 32},
	}
	for _, src := range sources {
		t.Run(src.String(), func(t *testing.T) {
			t.Parallel()
			const frames = 9999
			buf, err := audio.Normalize(sineWAV(t, src, frames), audio.CritiqueFormat)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			inDur := float64(frames) / float64(src.SampleRate)
			outDur := buf.Duration().Seconds()
			if diff := math.Abs(inDur - outDur); diff > 1.0/float64(audio.CritiqueFormat.SampleRate) {
				t.Errorf("duration drift %.6fs exceeds one frame", diff)
			}
		})
	}
}

func TestNormalize_PreservesSignal(t *testing.T) {
	t.Parallel()

	src := audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	buf, err := audio.Normalize(sineWAV(t, src, 1600), audio.EngineFormat)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	samples := audio.Dequantize(buf.Data, 16)
	var peak float32
	for _, s := range samples {
		peak = max(peak, s)
	}
	if peak < 0.49 || peak > 0.51 {
		t.Errorf("peak amplitude = %v, want about 0.5", peak)
	}
}

func TestNormalize_Errors(t *testing.T) {
	t.Parallel()

	valid := sineWAV(t, audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}, 4000)

	tests := []struct {
		name   string
		data   []byte
		target audio.Format
	}{
		{"empty", nil, audio.EngineFormat},
		{"garbage", []byte("definitely not audio"), audio.EngineFormat},
		{"truncated wav", valid[:len(valid)-1000], audio.EngineFormat},
		{"header only", valid[:44], audio.EngineFormat},
		{"bad target depth", valid, audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 12}},
		{"bad target channels", valid, audio.Format{SampleRate: 16000, Channels: 0, BitDepth: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf, err := audio.Normalize(tt.data, tt.target)
			if !errors.Is(err, types.ErrDecode) {
				t.Fatalf("expected decode error, got %v", err)
			}
			if len(buf.Data) != 0 {
				t.Errorf("expected no partial buffer, got %d bytes", len(buf.Data))
			}
		})
	}
}

func TestDecodeFloat_KeepsSourceWhenZero(t *testing.T) {
	t.Parallel()

	src := audio.Format{SampleRate: 22050, Channels: 2, BitDepth: 16}
	pcm, err := audio.DecodeFloat(sineWAV(t, src, 2205), 0, 0)
	if err != nil {
		t.Fatalf("DecodeFloat: %v", err)
	}
	if pcm.SampleRate != 22050 || pcm.Channels != 2 {
		t.Errorf("got %d Hz %d ch, want 22050 Hz 2 ch", pcm.SampleRate, pcm.Channels)
	}
	if len(pcm.Samples) != 2205*2 {
		t.Errorf("got %d samples, want %d", len(pcm.Samples), 2205*2)
	}

	mono, err := audio.DecodeFloat(sineWAV(t, src, 2205), 16000, 1)
	if err != nil {
		t.Fatalf("DecodeFloat: %v", err)
	}
	if mono.SampleRate != 16000 || mono.Channels != 1 {
		t.Errorf("got %d Hz %d ch, want 16000 Hz 1 ch", mono.SampleRate, mono.Channels)
	}
}

func TestSniff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want audio.Container
	}{
		{"wav", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), audio.ContainerWAV},
		{"ogg", []byte("OggS\x00\x02"), audio.ContainerOgg},
		{"mp3 id3", []byte("ID3\x04\x00"), audio.ContainerMP3},
		{"mp3 sync", []byte{0xFF, 0xFB, 0x90, 0x00}, audio.ContainerMP3},
		{"unknown", []byte("fLaC"), audio.ContainerUnknown},
		{"short", []byte{0xFF}, audio.ContainerUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPCMBuffer_Base64(t *testing.T) {
	t.Parallel()

	buf := audio.PCMBuffer{Data: []byte{1, 2, 3}, Format: audio.CritiqueFormat}
	if got := buf.Base64(); got != "AQID" {
		t.Errorf("Base64 = %q, want %q", got, "AQID")
	}
}
