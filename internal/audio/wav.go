package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// defaultSampleRate is assumed when a header or caller gives none.
const defaultSampleRate = 16000

// wavHeader is the 44-byte header of a PCM WAV stream with a single fmt
// chunk followed by the data chunk.
type wavHeader struct {
	RIFF          [4]byte
	RIFFSize      uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

const wavHeaderSize = 44

func pcm16Header(dataSize, sampleRate, channels int) wavHeader {
	blockAlign := channels * 2
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		RIFFSize:      uint32(wavHeaderSize - 8 + dataSize),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
}

// writePCM16WAV writes interleaved PCM16LE samples as a WAV stream.
func writePCM16WAV(out io.Writer, pcm []byte, sampleRate, channels int) error {
	if channels <= 0 {
		return fmt.Errorf("invalid wav channels=%d", channels)
	}
	if len(pcm)%(channels*2) != 0 {
		return fmt.Errorf("pcm length %d is not a whole number of frames", len(pcm))
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if err := binary.Write(out, binary.LittleEndian, pcm16Header(len(pcm), sampleRate, channels)); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// EncodeWAVPCM16LE wraps mono PCM16LE bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	if err := writePCM16WAV(&buf, pcm, sampleRate, 1); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeWAV encodes b for renderers, which play WAV regardless of the
// container the TTS engine returned.
func EncodeWAV(b *Buffer) ([]byte, error) {
	if b == nil {
		return nil, ErrUnsupportedFormat
	}
	return EncodeWAVPCM16LE(b.PCM16LE(), b.SampleRate)
}

func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	return writePCM16WAV(out, pcm, sampleRate, 1)
}

// WriteWAVPCM16LEFile writes mono PCM16LE bytes to path as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAVPCM16LETo(f, pcm, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
