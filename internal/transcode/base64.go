// Package transcode converts binary payloads to and from the base64 text
// form used by the ADH wire contract.
package transcode

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrEmpty = errors.New("empty payload")

// Encode reads r to completion and returns its standard padded base64 form.
func Encode(r io.Reader) (string, error) {
	if r == nil {
		return "", ErrEmpty
	}
	var out strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &out)
	if _, err := io.Copy(enc, r); err != nil {
		_ = enc.Close()
		return "", fmt.Errorf("read payload: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("flush encoder: %w", err)
	}
	return out.String(), nil
}

func EncodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode parses standard padded base64. A leading data URL header such as
// "data:audio/wav;base64," is stripped first.
func Decode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, fmt.Errorf("malformed data url")
		}
		s = s[idx+1:]
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return out, nil
}
