package transcode

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRoundTripBytes(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xff, 0xfe, 0xfd},
		[]byte("RIFF....WAVEfmt "),
		bytes.Repeat([]byte{0x01, 0x80, 0x7f}, 1000),
	}
	for _, in := range cases {
		s, err := Encode(bytes.NewReader(in))
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if s != EncodeBytes(in) {
			t.Fatalf("Encode() = %q, EncodeBytes() = %q", s, EncodeBytes(in))
		}
		out, err := Decode(s)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", s, err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("Decode(Encode(x)) = %v, want %v", out, in)
		}
	}
}

func TestEncodeOfDecodeIsIdentityForCanonicalText(t *testing.T) {
	for _, s := range []string{"", "AA==", "AAE=", "AAEC", "SGVsbG8gd29ybGQ="} {
		b, err := Decode(s)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", s, err)
		}
		if got := EncodeBytes(b); got != s {
			t.Fatalf("Encode(Decode(%q)) = %q", s, got)
		}
	}
}

func TestDecodeStripsDataURLHeader(t *testing.T) {
	got, err := Decode("data:audio/wav;base64,SGk=")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if string(got) != "Hi" {
		t.Fatalf("Decode() = %q, want %q", got, "Hi")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, s := range []string{"not base64!", "AAE", "data:audio/wav;base64"} {
		if _, err := Decode(s); err == nil {
			t.Fatalf("Decode(%q) error = nil, want error", s)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestEncodeReadFailure(t *testing.T) {
	if _, err := Encode(failingReader{}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Encode() error = %v, want read failure", err)
	}
	if _, err := Encode(nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Encode(nil) error = %v, want ErrEmpty", err)
	}
}
