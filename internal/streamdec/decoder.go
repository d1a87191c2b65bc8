// Package streamdec turns a chunked HTTP response body into ordered text
// deltas without splitting multi-byte characters across deltas.
package streamdec

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const readBufSize = 4 << 10

// ChunkFunc receives each decoded delta. index starts at 0 and increases by one per call.
type ChunkFunc func(index int, delta string)

// EndFunc is called once after the final chunk with the number of chunks delivered.
type EndFunc func(count int)

// Decode reads body until EOF, emitting every non-empty decoded delta in
// arrival order. The UTF-8 decoder holds back a sequence split across reads
// until it completes; an incomplete sequence left at EOF is flushed as one
// U+FFFD. onEnd runs only when the stream completes normally;
// cancellation and read failures return an error instead. body is always closed.
func Decode(ctx context.Context, body io.ReadCloser, onChunk ChunkFunc, onEnd EndFunc) error {
	if body == nil {
		return errors.New("nil stream body")
	}
	defer body.Close()

	r := transform.NewReader(body, unicode.UTF8.NewDecoder())
	buf := make([]byte, readBufSize)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if onChunk != nil {
				onChunk(count, string(buf[:n]))
			}
			count++
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if onEnd != nil {
				onEnd(count)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("stream read: %w", err)
	}
}
