package audio

import (
	"bytes"

	"github.com/MrWong99/speakwise/pkg/types"
)

// Container identifies an encoded audio container recognised by [Decode].
type Container string

const (
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
	ContainerOgg     Container = "ogg"
	ContainerUnknown Container = "unknown"
)

// decodeChunkFrames is the number of frames requested per decode step.
const decodeChunkFrames = 4096

// Sniff identifies the container of data from its leading bytes.
func Sniff(data []byte) Container {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return ContainerWAV
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return ContainerOgg
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return ContainerMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return ContainerMP3
	}
	return ContainerUnknown
}

// Decode decodes an encoded audio buffer into interleaved float samples at
// the source rate and channel layout. Input is consumed chunk by chunk; any
// decode failure, including a stream that ends before its declared length,
// yields a [types.KindDecode] error rather than partial audio.
func Decode(data []byte) (types.PCM, error) {
	if len(data) == 0 {
		return types.PCM{}, types.Errorf(types.KindDecode, "empty input")
	}

	var (
		pcm types.PCM
		err error
	)
	switch c := Sniff(data); c {
	case ContainerWAV:
		pcm, err = decodeWAV(data)
	case ContainerMP3:
		pcm, err = decodeMP3(data)
	case ContainerOgg:
		pcm, err = decodeOggOpus(data)
	default:
		return types.PCM{}, types.Errorf(types.KindDecode, "unrecognised audio container")
	}
	if err != nil {
		return types.PCM{}, types.Wrap(types.KindDecode, err)
	}
	if len(pcm.Samples) < pcm.Channels || pcm.Channels == 0 {
		return types.PCM{}, types.Errorf(types.KindDecode, "no audio frames decoded")
	}
	return pcm, nil
}
