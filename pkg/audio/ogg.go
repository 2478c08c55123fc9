package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/speakwise/pkg/types"
)

// Opus always decodes at 48 kHz; 120 ms is the largest legal frame.
const (
	opusSampleRate   = 48000
	opusMaxFrameSize = opusSampleRate * 120 / 1000
	oggHeaderSize    = 27
)

var (
	errOggTruncated = errors.New("ogg: truncated page")
	errOggChecksum  = errors.New("ogg: page checksum mismatch")
)

// oggStream is the logical bitstream of the first serial number seen.
type oggStream struct {
	packets     [][]byte
	lastGranule int64
}

// demuxOgg splits data into the packets of its first logical bitstream.
// Pages must be contiguous, checksummed and in sequence.
func demuxOgg(data []byte) (oggStream, error) {
	var (
		s       oggStream
		serial  uint32
		seq     uint32
		started bool
		partial []byte
	)
	for pos := 0; pos < len(data); {
		if len(data)-pos < oggHeaderSize {
			return s, errOggTruncated
		}
		hdr := data[pos : pos+oggHeaderSize]
		if !bytes.Equal(hdr[0:4], []byte("OggS")) {
			return s, fmt.Errorf("ogg: bad capture pattern at offset %d", pos)
		}
		if hdr[4] != 0 {
			return s, fmt.Errorf("ogg: unsupported stream version %d", hdr[4])
		}
		nseg := int(hdr[26])
		if len(data)-pos < oggHeaderSize+nseg {
			return s, errOggTruncated
		}
		lacing := data[pos+oggHeaderSize : pos+oggHeaderSize+nseg]
		bodyLen := 0
		for _, l := range lacing {
			bodyLen += int(l)
		}
		pageLen := oggHeaderSize + nseg + bodyLen
		if len(data)-pos < pageLen {
			return s, errOggTruncated
		}
		page := data[pos : pos+pageLen]
		if binary.LittleEndian.Uint32(hdr[22:26]) != oggChecksum(page) {
			return s, errOggChecksum
		}
		pos += pageLen

		pageSerial := binary.LittleEndian.Uint32(hdr[14:18])
		pageSeq := binary.LittleEndian.Uint32(hdr[18:22])
		if !started {
			serial, seq, started = pageSerial, pageSeq, true
		} else if pageSerial != serial {
			continue
		} else if pageSeq != seq+1 {
			return s, fmt.Errorf("ogg: missing page after sequence %d", seq)
		} else {
			seq = pageSeq
		}
		if granule := int64(binary.LittleEndian.Uint64(hdr[6:14])); granule >= 0 {
			s.lastGranule = granule
		}

		body := page[oggHeaderSize+nseg:]
		for _, l := range lacing {
			partial = append(partial, body[:l]...)
			body = body[l:]
			if l < 255 {
				s.packets = append(s.packets, partial)
				partial = nil
			}
		}
	}
	if len(partial) > 0 {
		return s, errors.New("ogg: stream ends inside a packet")
	}
	return s, nil
}

func decodeOggOpus(data []byte) (types.PCM, error) {
	stream, err := demuxOgg(data)
	if err != nil {
		return types.PCM{}, err
	}
	if len(stream.packets) < 2 {
		return types.PCM{}, errors.New("ogg: missing opus headers")
	}
	head := stream.packets[0]
	if len(head) < 19 || !bytes.Equal(head[0:8], []byte("OpusHead")) {
		return types.PCM{}, errors.New("ogg: first packet is not an OpusHead")
	}
	channels := int(head[9])
	preSkip := int(binary.LittleEndian.Uint16(head[10:12]))
	if mapping := head[18]; mapping != 0 || channels < 1 || channels > 2 {
		return types.PCM{}, fmt.Errorf("ogg: unsupported opus layout (%d channels, mapping %d)", channels, mapping)
	}
	if !bytes.HasPrefix(stream.packets[1], []byte("OpusTags")) {
		return types.PCM{}, errors.New("ogg: second packet is not an OpusTags")
	}

	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return types.PCM{}, fmt.Errorf("opus: create decoder: %w", err)
	}
	var samples []float32
	for i, pkt := range stream.packets[2:] {
		pcm, err := dec.Decode(pkt, opusMaxFrameSize, false)
		if err != nil {
			return types.PCM{}, fmt.Errorf("opus: decode packet %d: %w", i, err)
		}
		for _, v := range pcm {
			samples = append(samples, float32(v)/32768)
		}
	}

	frames := len(samples) / channels
	if want := int(stream.lastGranule) - preSkip; want >= 0 && want < frames-preSkip {
		frames = want + preSkip
	}
	if frames <= preSkip {
		return types.PCM{}, errors.New("opus: no audio after pre-skip")
	}
	samples = samples[preSkip*channels : frames*channels]

	return types.PCM{Samples: samples, SampleRate: opusSampleRate, Channels: channels}, nil
}

var oggCRCTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04C11DB7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// oggChecksum computes the page CRC with the checksum field treated as zero.
func oggChecksum(page []byte) uint32 {
	var crc uint32
	for i, b := range page {
		if i >= 22 && i < 26 {
			b = 0
		}
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
