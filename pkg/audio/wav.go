package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/speakwise/pkg/types"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// decodeWAV reads a RIFF/WAVE buffer in chunks of decodeChunkFrames.
func decodeWAV(data []byte) (types.PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return types.PCM{}, fmt.Errorf("wav: invalid file: %w", err)
		}
		return types.PCM{}, errors.New("wav: invalid file")
	}

	channels := int(dec.NumChans)
	depth := int(dec.BitDepth)
	isFloat := false
	switch dec.WavAudioFormat {
	case wavFormatPCM, wavFormatExtensible:
	case wavFormatFloat:
		if depth != 32 {
			return types.PCM{}, fmt.Errorf("wav: unsupported float depth %d", depth)
		}
		isFloat = true
	default:
		return types.PCM{}, fmt.Errorf("wav: unsupported audio format %#x", dec.WavAudioFormat)
	}
	switch depth {
	case 8, 16, 24, 32:
	default:
		return types.PCM{}, fmt.Errorf("wav: unsupported bit depth %d", depth)
	}

	if err := dec.FwdToPCM(); err != nil {
		return types.PCM{}, fmt.Errorf("wav: locate data chunk: %w", err)
	}
	if dec.PCMChunk == nil {
		return types.PCM{}, wav.ErrPCMChunkNotFound
	}
	declared := dec.PCMLen() / int64(depth/8)
	samples := make([]float32, 0, min(declared, int64(len(data))))
	buf := &goaudio.IntBuffer{
		Data:   make([]int, decodeChunkFrames*channels),
		Format: dec.Format(),
	}
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return types.PCM{}, fmt.Errorf("wav: read samples: %w", err)
		}
		if n == 0 {
			break
		}
		for _, v := range buf.Data[:n] {
			if isFloat {
				samples = append(samples, math.Float32frombits(uint32(int32(v))))
				continue
			}
			samples = append(samples, intToFloat(v, depth))
		}
	}

	if int64(len(samples)) < declared {
		return types.PCM{}, fmt.Errorf("wav: truncated data chunk: got %d of %d samples", len(samples), declared)
	}
	// Drop a trailing partial frame.
	samples = samples[:len(samples)/channels*channels]

	return types.PCM{Samples: samples, SampleRate: int(dec.SampleRate), Channels: channels}, nil
}

// EncodeWAV wraps b in a RIFF/WAVE container.
func EncodeWAV(b PCMBuffer) ([]byte, error) {
	if err := b.Format.Validate(); err != nil {
		return nil, err
	}
	ints := make([]int, 0, len(b.Data)/(b.Format.BitDepth/8))
	for _, s := range Dequantize(b.Data, b.Format.BitDepth) {
		ints = append(ints, quantizeSample(s, b.Format.BitDepth))
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, b.Format.SampleRate, b.Format.BitDepth, b.Format.Channels, wavFormatPCM)
	err := enc.Write(&goaudio.IntBuffer{
		Data:           ints,
		Format:         &goaudio.Format{NumChannels: b.Format.Channels, SampleRate: b.Format.SampleRate},
		SourceBitDepth: b.Format.BitDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalise wav: %w", err)
	}
	return ws.buf, nil
}

// writeSeeker is an in-memory io.WriteSeeker for the wav encoder, which
// seeks back to patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(w.pos)
	case io.SeekEnd:
		base = int64(len(w.buf))
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("audio: negative seek position")
	}
	w.pos = int(next)
	return next, nil
}
