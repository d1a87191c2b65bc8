package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func TestDecodeWAVRoundTrip(t *testing.T) {
	pcm := []byte{
		0x00, 0x00,
		0xE8, 0x03, // 1000
		0x18, 0xFC, // -1000
	}
	wav, err := EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if Sniff(wav) != FormatWAV {
		t.Fatalf("Sniff() = %q, want %q", Sniff(wav), FormatWAV)
	}
	buf, err := Decode(wav)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if buf.SampleRate != 24000 {
		t.Fatalf("SampleRate = %d, want 24000", buf.SampleRate)
	}
	want := []int16{0, 1000, -1000}
	if len(buf.Samples) != len(want) {
		t.Fatalf("len(Samples) = %d, want %d", len(buf.Samples), len(want))
	}
	for i := range want {
		if buf.Samples[i] != want[i] {
			t.Fatalf("Samples[%d] = %d, want %d", i, buf.Samples[i], want[i])
		}
	}
	if !bytes.Equal(buf.PCM16LE(), pcm) {
		t.Fatalf("PCM16LE() = %v, want %v", buf.PCM16LE(), pcm)
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	// Frame 1: L=1000, R=-1000 => avg=0
	// Frame 2: L=3000, R=1000  => avg=2000
	var stereo bytes.Buffer
	for _, s := range []int16{1000, -1000, 3000, 1000} {
		_ = binary.Write(&stereo, binary.LittleEndian, s)
	}
	wav := stereoWAV(stereo.Bytes(), 16000)

	buf, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if len(buf.Samples) != 2 || buf.Samples[0] != 0 || buf.Samples[1] != 2000 {
		t.Fatalf("Samples = %v, want [0 2000]", buf.Samples)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("definitely not audio")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Decode() error = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := DecodeWAV([]byte("RIFF\x00\x00\x00\x00WAVE")); err == nil {
		t.Fatalf("DecodeWAV() without chunks error = nil")
	}
	if _, err := DecodeMP3([]byte{0xFF, 0xFB, 0x00}); err == nil {
		t.Fatalf("DecodeMP3() on truncated frame error = nil")
	}
}

func TestSniff(t *testing.T) {
	cases := []struct {
		in   []byte
		want Format
	}{
		{[]byte("ID3\x04"), FormatMP3},
		{[]byte{0xFF, 0xFB, 0x90}, FormatMP3},
		{[]byte("RIFF\x00\x00\x00\x00WAVE"), FormatWAV},
		{[]byte("OggS"), FormatUnknown},
		{nil, FormatUnknown},
	}
	for _, tc := range cases {
		if got := Sniff(tc.in); got != tc.want {
			t.Fatalf("Sniff(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBufferTiming(t *testing.T) {
	b := &Buffer{Samples: make([]int16, 16000), SampleRate: 16000}
	if b.Duration() != time.Second {
		t.Fatalf("Duration() = %v, want 1s", b.Duration())
	}
	if got := b.SampleAt(500 * time.Millisecond); got != 8000 {
		t.Fatalf("SampleAt(500ms) = %d, want 8000", got)
	}
	if got := b.SampleAt(5 * time.Second); got != 16000 {
		t.Fatalf("SampleAt(5s) = %d, want clamp to 16000", got)
	}
}

func TestBufferRMS(t *testing.T) {
	b := &Buffer{Samples: []int16{16384, -16384, 16384, -16384, 0, 0}, SampleRate: 8000}
	if got := b.RMS(0, 4); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("RMS(0,4) = %v, want 0.5", got)
	}
	if got := b.RMS(4, 6); got != 0 {
		t.Fatalf("RMS(4,6) = %v, want 0", got)
	}
	if got := b.RMS(3, 3); got != 0 {
		t.Fatalf("RMS(3,3) = %v, want 0", got)
	}
}

func stereoWAV(pcm []byte, sampleRate int) []byte {
	var b bytes.Buffer
	_ = writePCM16WAV(&b, pcm, sampleRate, 2)
	return b.Bytes()
}
