package playback

import (
	"context"
	"math"
	"time"
)

const (
	DefaultRenderTick = 16 * time.Millisecond
	DefaultLipFactor  = 5.0
)

// LipSyncSink receives the mouth-open weight in [0,1] once per frame.
type LipSyncSink interface {
	SetLipSyncWeight(w float64)
}

// Driver is the per-frame loop: it calls Play on every tick and converts the
// active clip's loudness into a lip-sync weight.
type Driver struct {
	q         *Queue
	sink      LipSyncSink
	tick      time.Duration
	lipFactor float64

	last float64
}

func NewDriver(q *Queue, sink LipSyncSink, tick time.Duration, lipFactor float64) *Driver {
	if tick <= 0 {
		tick = DefaultRenderTick
	}
	if lipFactor <= 0 {
		lipFactor = DefaultLipFactor
	}
	return &Driver{q: q, sink: sink, tick: tick, lipFactor: lipFactor, last: -1}
}

// Tick runs one frame and returns the published weight.
func (d *Driver) Tick() float64 {
	d.q.Play()
	w := LipWeight(d.q.Level(), d.lipFactor)
	d.publish(w)
	return w
}

// Run ticks until ctx is done. While the queue is idle and empty it parks on
// the queue's wake channel instead of spinning.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	for {
		if !d.q.IsPlaying() && d.q.Len() == 0 {
			d.publish(0)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.q.Wake():
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Tick()
		}
	}
}

func (d *Driver) publish(w float64) {
	if d.sink == nil || w == d.last {
		return
	}
	d.last = w
	d.sink.SetLipSyncWeight(w)
}

// LipWeight scales a loudness level by factor and clamps it to [0,1].
func LipWeight(level, factor float64) float64 {
	w := level * factor
	if math.IsNaN(w) || w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
