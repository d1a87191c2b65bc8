package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Sniff identifies the container of an encoded clip from its first bytes.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// Decode decodes a WAV or MP3 clip into mono PCM16.
func Decode(data []byte) (*Buffer, error) {
	switch Sniff(data) {
	case FormatWAV:
		return DecodeWAV(data)
	case FormatMP3:
		return DecodeMP3(data)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// DecodeWAV parses a PCM16 WAV clip, downmixing multi-channel audio to mono.
func DecodeWAV(data []byte) (*Buffer, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  int
		bitsPerSamp uint16
		pcmData     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcmData = chunk
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	switch {
	case !haveFmt:
		return nil, fmt.Errorf("wav fmt chunk missing")
	case pcmData == nil:
		return nil, fmt.Errorf("wav data chunk missing")
	case audioFormat != 1:
		return nil, fmt.Errorf("unsupported wav audio format %d", audioFormat)
	case bitsPerSamp != 16:
		return nil, fmt.Errorf("unsupported wav bits_per_sample %d", bitsPerSamp)
	case channels == 0:
		return nil, fmt.Errorf("invalid wav channels=0")
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return &Buffer{
		Samples:    samplesFromPCM16LE(pcmData, int(channels)),
		SampleRate: sampleRate,
	}, nil
}

// DecodeMP3 decodes an MP3 clip. The decoder always yields 16-bit stereo,
// which is downmixed to mono.
func DecodeMP3(data []byte) (*Buffer, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open mp3: %w", err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("mp3 has no frames")
	}
	return &Buffer{
		Samples:    samplesFromPCM16LE(pcm, 2),
		SampleRate: d.SampleRate(),
	}, nil
}
