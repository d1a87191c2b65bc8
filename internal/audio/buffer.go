package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Buffer is decoded mono PCM16 audio ready for playback.
type Buffer struct {
	Samples    []int16
	SampleRate int
}

func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// SampleAt returns the sample index reached after elapsed playback time.
func (b *Buffer) SampleAt(elapsed time.Duration) int {
	if b == nil || b.SampleRate <= 0 || elapsed <= 0 {
		return 0
	}
	idx := int(elapsed * time.Duration(b.SampleRate) / time.Second)
	if idx > len(b.Samples) {
		return len(b.Samples)
	}
	return idx
}

// RMS returns the normalised root-mean-square level of Samples[from:to], in [0,1].
func (b *Buffer) RMS(from, to int) float64 {
	if b == nil {
		return 0
	}
	if from < 0 {
		from = 0
	}
	if to > len(b.Samples) {
		to = len(b.Samples)
	}
	if to <= from {
		return 0
	}
	var sum float64
	for _, s := range b.Samples[from:to] {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(to-from))
}

// PCM16LE returns the samples as little-endian bytes.
func (b *Buffer) PCM16LE() []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b.Samples)*2)
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samplesFromPCM16LE(pcm []byte, channels int) []int16 {
	if channels <= 0 {
		channels = 1
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[base+ch*2:])))
		}
		out[i] = int16(sum / channels)
	}
	return out
}
