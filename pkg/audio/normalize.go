package audio

import (
	"encoding/base64"

	"github.com/MrWong99/speakwise/pkg/types"
)

// Normalize decodes an encoded audio buffer and converts it to interleaved
// PCM at exactly the target rate, channel count and bit depth. Malformed or
// unsupported input yields a [types.KindDecode] error; no partial buffer is
// ever returned.
func Normalize(data []byte, target Format) (PCMBuffer, error) {
	if err := target.Validate(); err != nil {
		return PCMBuffer{}, types.Wrap(types.KindDecode, err)
	}
	pcm, err := Decode(data)
	if err != nil {
		return PCMBuffer{}, err
	}
	return Convert(pcm, target), nil
}

// Convert resamples, remixes and quantises already decoded samples. target
// must be valid.
func Convert(pcm types.PCM, target Format) PCMBuffer {
	samples := Mix(pcm.Samples, pcm.Channels, target.Channels)
	samples = Resample(samples, target.Channels, pcm.SampleRate, target.SampleRate)
	return PCMBuffer{
		Data:   Quantize(samples, target.BitDepth),
		Format: target,
	}
}

// DecodeFloat decodes an encoded audio buffer into float samples at the
// requested rate and channel count. A rate or channel count of zero keeps
// the source value.
func DecodeFloat(data []byte, rate, channels int) (types.PCM, error) {
	pcm, err := Decode(data)
	if err != nil {
		return types.PCM{}, err
	}
	if channels > 0 && channels != pcm.Channels {
		pcm.Samples = Mix(pcm.Samples, pcm.Channels, channels)
		pcm.Channels = channels
	}
	if rate > 0 && rate != pcm.SampleRate {
		pcm.Samples = Resample(pcm.Samples, pcm.Channels, pcm.SampleRate, rate)
		pcm.SampleRate = rate
	}
	return pcm, nil
}

// Base64 returns the standard base64 encoding of b's sample data.
func (b PCMBuffer) Base64() string {
	return base64.StdEncoding.EncodeToString(b.Data)
}
