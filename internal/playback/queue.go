// Package playback plays synthesized audio clips strictly one at a time in
// enqueue order.
package playback

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/sentio/internal/audio"
)

const DefaultDecodeTimeout = 5 * time.Second

// Decoder turns an encoded clip into PCM.
type Decoder interface {
	Decode(ctx context.Context, clip []byte) (*audio.Buffer, error)
}

type DecoderFunc func(ctx context.Context, clip []byte) (*audio.Buffer, error)

func (f DecoderFunc) Decode(ctx context.Context, clip []byte) (*audio.Buffer, error) {
	return f(ctx, clip)
}

// Source is one clip being played by an Output.
type Source interface {
	Stop()
	// Level is the current output loudness in [0,1].
	Level() float64
}

// Output starts playback of decoded audio. onEnded must be called once when
// playback finishes naturally. It is not required after Source.Stop.
type Output interface {
	Start(buf *audio.Buffer, onEnded func()) (Source, error)
}

// Observer receives queue events. *observability.Metrics implements it.
type Observer interface {
	ObservePlayback(event string)
	SetQueueDepth(n int)
}

type Options struct {
	Decoder       Decoder
	Output        Output
	DecodeTimeout time.Duration
	Logger        *slog.Logger
	Observer      Observer
}

// Queue is a FIFO of encoded clips with a single playback slot.
type Queue struct {
	dec           Decoder
	out           Output
	decodeTimeout time.Duration
	log           *slog.Logger
	obs           Observer

	mu      sync.Mutex
	pending [][]byte
	playing bool
	source  Source
	gen     uint64
	idle    chan struct{}
	wake    chan struct{}
}

func NewQueue(opts Options) *Queue {
	if opts.Decoder == nil {
		opts.Decoder = DecoderFunc(func(_ context.Context, clip []byte) (*audio.Buffer, error) {
			return audio.Decode(clip)
		})
	}
	if opts.Output == nil {
		opts.Output = &ClockOutput{}
	}
	if opts.DecodeTimeout <= 0 {
		opts.DecodeTimeout = DefaultDecodeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		dec:           opts.Decoder,
		out:           opts.Output,
		decodeTimeout: opts.DecodeTimeout,
		log:           opts.Logger.With("component", "playback"),
		obs:           opts.Observer,
		idle:          idle,
		wake:          make(chan struct{}, 1),
	}
}

// Enqueue appends clip to the tail. It never blocks and never rejects.
func (q *Queue) Enqueue(clip []byte) {
	q.mu.Lock()
	q.pending = append(q.pending, clip)
	depth := len(q.pending)
	q.mu.Unlock()

	q.observeDepth(depth)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop removes and returns the head clip.
func (q *Queue) Pop() ([]byte, bool) {
	q.mu.Lock()
	clip, ok := q.popLocked()
	depth := len(q.pending)
	q.mu.Unlock()
	if ok {
		q.observeDepth(depth)
	}
	return clip, ok
}

func (q *Queue) popLocked() ([]byte, bool) {
	if len(q.pending) == 0 {
		return nil, false
	}
	clip := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	return clip, true
}

// Play starts the head clip when nothing is playing. It returns immediately;
// decoding and output start happen in the background. It reports whether a
// clip was taken from the queue.
func (q *Queue) Play() bool {
	q.mu.Lock()
	if q.playing {
		q.mu.Unlock()
		return false
	}
	clip, ok := q.popLocked()
	if !ok {
		q.mu.Unlock()
		return false
	}
	q.playing = true
	q.gen++
	gen := q.gen
	q.idle = make(chan struct{})
	depth := len(q.pending)
	q.mu.Unlock()

	q.observeDepth(depth)
	go q.start(gen, bytes.Clone(clip))
	return true
}

type decodeResult struct {
	buf *audio.Buffer
	err error
}

func (q *Queue) start(gen uint64, clip []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), q.decodeTimeout)
	defer cancel()

	// The decoder may ignore ctx; its result is dropped after the deadline.
	done := make(chan decodeResult, 1)
	go func() {
		buf, err := q.dec.Decode(ctx, clip)
		done <- decodeResult{buf: buf, err: err}
	}()

	var res decodeResult
	select {
	case res = <-done:
	case <-ctx.Done():
		q.fail(gen, "decode_timeout", ctx.Err(), len(clip))
		return
	}
	buf, err := res.buf, res.err
	if err == nil && buf == nil {
		err = errors.New("decoder returned no audio")
	}
	if err != nil {
		q.fail(gen, "decode_failed", err, len(clip))
		return
	}
	if !q.isGeneration(gen) {
		return
	}

	src, err := q.out.Start(buf, func() { q.ended(gen) })
	if err != nil {
		q.fail(gen, "start_failed", err, len(clip))
		return
	}

	q.mu.Lock()
	switch {
	case q.gen != gen:
		// Stopped while starting.
		q.mu.Unlock()
		src.Stop()
		return
	case !q.playing:
		// Ended before Start returned.
		q.mu.Unlock()
		return
	}
	q.source = src
	q.mu.Unlock()
	q.observe("started")
}

func (q *Queue) ended(gen uint64) {
	q.mu.Lock()
	if q.gen != gen || !q.playing {
		q.mu.Unlock()
		return
	}
	q.resetLocked()
	q.mu.Unlock()
	q.observe("completed")
}

func (q *Queue) fail(gen uint64, event string, err error, size int) {
	q.mu.Lock()
	current := q.gen == gen && q.playing
	if current {
		q.resetLocked()
	}
	q.mu.Unlock()

	q.observe(event)
	q.log.Warn("playback clip dropped", "event", event, "bytes", size, "stale", !current, "error", err)
}

// resetLocked returns the queue to idle. q.mu must be held.
func (q *Queue) resetLocked() {
	q.playing = false
	q.source = nil
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

// Stop drops all pending clips and stops the active clip, if any. Any decode
// still in flight is discarded when it completes.
func (q *Queue) Stop() {
	q.mu.Lock()
	src := q.source
	wasActive := q.playing || len(q.pending) > 0
	q.pending = nil
	q.gen++
	q.resetLocked()
	q.mu.Unlock()

	if src != nil {
		src.Stop()
	}
	q.observeDepth(0)
	if wasActive {
		q.observe("stopped")
	}
}

func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Level returns the loudness of the active clip, or 0 when none is audible.
func (q *Queue) Level() float64 {
	q.mu.Lock()
	src := q.source
	q.mu.Unlock()
	if src == nil {
		return 0
	}
	return src.Level()
}

// Idle returns a channel closed once the queue is not playing. The channel
// for a given clip is closed when that clip completes, fails or is stopped.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

// Wake is signalled after Enqueue. A frame loop can park on it while the
// queue is idle and empty.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// WaitDrained blocks until nothing is pending or playing. Someone must keep
// calling Play for pending clips to drain.
func (q *Queue) WaitDrained(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	for {
		q.mu.Lock()
		drained := !q.playing && len(q.pending) == 0
		playing := q.playing
		idle := q.idle
		q.mu.Unlock()
		if drained {
			return nil
		}
		if playing {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-idle:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (q *Queue) isGeneration(gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen == gen && q.playing
}

func (q *Queue) observe(event string) {
	if q.obs != nil {
		q.obs.ObservePlayback(event)
	}
}

func (q *Queue) observeDepth(n int) {
	if q.obs != nil {
		q.obs.SetQueueDepth(n)
	}
}
