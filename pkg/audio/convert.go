package audio

import (
	"encoding/binary"
	"math"
)

// Mix converts interleaved float samples from one channel layout to another.
// Downmixing to mono averages all channels; upmixing from mono duplicates the
// single channel. Other layouts fold source channel j onto output channel
// j mod to.
func Mix(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}
	frames := len(samples) / from
	out := make([]float32, frames*to)

	switch {
	case to == 1:
		for i := range frames {
			var sum float32
			for c := range from {
				sum += samples[i*from+c]
			}
			out[i] = sum / float32(from)
		}
	case from == 1:
		for i := range frames {
			for c := range to {
				out[i*to+c] = samples[i]
			}
		}
	case to > from:
		for i := range frames {
			for c := range to {
				out[i*to+c] = samples[i*from+c%from]
			}
		}
	default:
		counts := make([]float32, to)
		for j := range from {
			counts[j%to]++
		}
		for i := range frames {
			for j := range from {
				out[i*to+j%to] += samples[i*from+j]
			}
			for c := range to {
				out[i*to+c] /= counts[c]
			}
		}
	}
	return out
}

// Resample converts interleaved float samples from srcRate to dstRate using
// linear interpolation. The output holds floor(frames*dstRate/srcRate)
// frames, so its duration matches the input within one frame.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < channels {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcFrames - 1
		}
		for c := range channels {
			s0 := samples[srcIdx*channels+c]
			s1 := samples[next*channels+c]
			out[i*channels+c] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// Quantize encodes float samples in [-1, 1] as little-endian PCM of the given
// bit depth. Out-of-range samples are clamped. 8-bit output is unsigned.
func Quantize(samples []float32, bitDepth int) []byte {
	width := bitDepth / 8
	out := make([]byte, len(samples)*width)
	for i, s := range samples {
		v := quantizeSample(s, bitDepth)
		o := out[i*width:]
		switch bitDepth {
		case 8:
			o[0] = byte(v)
		case 16:
			binary.LittleEndian.PutUint16(o, uint16(int16(v)))
		case 24:
			o[0] = byte(v)
			o[1] = byte(v >> 8)
			o[2] = byte(v >> 16)
		case 32:
			binary.LittleEndian.PutUint32(o, uint32(int32(v)))
		}
	}
	return out
}

// Dequantize is the inverse of [Quantize].
func Dequantize(data []byte, bitDepth int) []float32 {
	width := bitDepth / 8
	if width == 0 {
		return nil
	}
	out := make([]float32, len(data)/width)
	for i := range out {
		b := data[i*width:]
		var v int
		switch bitDepth {
		case 8:
			v = int(b[0])
		case 16:
			v = int(int16(binary.LittleEndian.Uint16(b)))
		case 24:
			v = int(int32(uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16) << 8 >> 8)
		case 32:
			v = int(int32(binary.LittleEndian.Uint32(b)))
		}
		out[i] = intToFloat(v, bitDepth)
	}
	return out
}

// quantizeSample maps s to the integer range of bitDepth. 8-bit values are
// offset to the unsigned range [0, 255].
func quantizeSample(s float32, bitDepth int) int {
	f := float64(s)
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	peak := float64(int64(1)<<(bitDepth-1) - 1)
	v := int(math.Round(f * peak))
	if bitDepth == 8 {
		v += 128
	}
	return v
}

// intToFloat maps a decoded integer sample of the given depth to [-1, 1].
func intToFloat(v, bitDepth int) float32 {
	if bitDepth == 8 {
		return float32(v-128) / 128
	}
	return float32(float64(v) / float64(int64(1)<<(bitDepth-1)))
}
