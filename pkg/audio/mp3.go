package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/MrWong99/speakwise/pkg/types"
)

// go-mp3 always yields 16-bit little-endian stereo.
const mp3Channels = 2

func decodeMP3(data []byte) (types.PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return types.PCM{}, fmt.Errorf("mp3: open stream: %w", err)
	}

	var (
		samples []float32
		total   int64
		chunk   = make([]byte, decodeChunkFrames*mp3Channels*2)
	)
	if l := dec.Length(); l > 0 {
		samples = make([]float32, 0, l/2)
	}
	for {
		// Decoded frames are 4-byte aligned and chunk is a multiple of 4,
		// so n never splits a sample.
		n, err := dec.Read(chunk)
		samples = append(samples, Dequantize(chunk[:n], 16)...)
		total += int64(n)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.PCM{}, fmt.Errorf("mp3: decode frame: %w", err)
		}
	}
	if l := dec.Length(); l > 0 && total < l {
		return types.PCM{}, fmt.Errorf("mp3: truncated stream: decoded %d of %d bytes", total, l)
	}
	samples = samples[:len(samples)/mp3Channels*mp3Channels]

	return types.PCM{Samples: samples, SampleRate: dec.SampleRate(), Channels: mp3Channels}, nil
}
