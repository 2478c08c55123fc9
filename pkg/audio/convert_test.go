package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/speakwise/pkg/audio"
)

func approxEqual(a, b, tol float32) bool {
	return float32(math.Abs(float64(a-b))) <= tol
}

func TestMix_MonoToStereo(t *testing.T) {
	t.Parallel()

	got := audio.Mix([]float32{0.1, 0.2, 0.3}, 1, 2)
	want := []float32{0.1, 0.1, 0.2, 0.2, 0.3, 0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMix_StereoToMono(t *testing.T) {
	t.Parallel()

	// Two stereo frames: L=0.2,R=0.4 and L=-0.2,R=-0.4
	got := audio.Mix([]float32{0.2, 0.4, -0.2, -0.4}, 2, 1)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approxEqual(got[i], want[i], 1e-6) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMix_FoldsSurroundOntoStereo(t *testing.T) {
	t.Parallel()

	// One 4-channel frame: channels 0 and 2 fold onto L, 1 and 3 onto R.
	got := audio.Mix([]float32{0.2, 0.4, 0.6, 0.8}, 4, 2)
	want := []float32{0.4, 0.6}
	for i := range want {
		if !approxEqual(got[i], want[i], 1e-6) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMix_SameLayoutIsNoop(t *testing.T) {
	t.Parallel()

	in := []float32{0.5, -0.5}
	got := audio.Mix(in, 2, 2)
	if &got[0] != &in[0] {
		t.Error("expected input slice to be returned unchanged")
	}
}

func TestResample_DurationWithinOneFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		frames, channels int
		src, dst         int
	}{
		{"44.1k to 16k mono", 44100, 1, 44100, 16000},
		{"48k to 24k stereo", 4801, 2, 48000, 24000},
		{"8k to 16k mono", 333, 1, 8000, 16000},
		{"22.05k to 24k mono", 12345, 1, 22050, 24000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := make([]float32, tt.frames*tt.channels)
			out := audio.Resample(in, tt.channels, tt.src, tt.dst)

			inDur := float64(tt.frames) / float64(tt.src)
			outDur := float64(len(out)/tt.channels) / float64(tt.dst)
			if diff := math.Abs(inDur - outDur); diff > 1/float64(tt.dst) {
				t.Errorf("duration drift %.6fs exceeds one frame (%.6fs)", diff, 1/float64(tt.dst))
			}
		})
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()

	// Upsampling 2x inserts midpoints.
	got := audio.Resample([]float32{0, 1, 0}, 1, 8000, 16000)
	want := []float32{0, 0.5, 1, 0.5, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approxEqual(got[i], want[i], 1e-6) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResample_SameRate(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2}
	if got := audio.Resample(in, 1, 16000, 16000); len(got) != 2 || got[1] != 0.2 {
		t.Errorf("expected unchanged samples, got %v", got)
	}
}

func TestQuantize_RoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.5, 0.999, -1}
	for _, depth := range []int{8, 16, 24, 32} {
		data := audio.Quantize(in, depth)
		if len(data) != len(in)*depth/8 {
			t.Fatalf("%d-bit: got %d bytes, want %d", depth, len(data), len(in)*depth/8)
		}
		out := audio.Dequantize(data, depth)
		tol := float32(2.0 / float64(int64(1)<<(depth-1)))
		for i := range in {
			if !approxEqual(out[i], in[i], tol) {
				t.Errorf("%d-bit sample %d: got %v, want %v", depth, i, out[i], in[i])
			}
		}
	}
}

func TestQuantize_Clamps(t *testing.T) {
	t.Parallel()

	data := audio.Quantize([]float32{2, -2}, 16)
	out := audio.Dequantize(data, 16)
	if out[0] < 0.999 || out[1] > -0.999 {
		t.Errorf("expected clamped samples, got %v", out)
	}
}

func TestQuantize_EightBitIsUnsigned(t *testing.T) {
	t.Parallel()

	data := audio.Quantize([]float32{0}, 8)
	if data[0] != 128 {
		t.Errorf("silence should encode as 128, got %d", data[0])
	}
}
