package playback

import (
	"sync"
	"time"

	"github.com/ent0n29/sentio/internal/audio"
)

const defaultLevelWindow = 50 * time.Millisecond

// ClockOutput plays a buffer against the wall clock. It produces no sound by
// itself; OnStart and OnStop let a transport forward the audio to the device
// that does, while the clock supplies completion and loudness.
type ClockOutput struct {
	OnStart func(buf *audio.Buffer)
	OnStop  func()
	// Window is the span of audio behind the play head used for Level.
	Window time.Duration
}

func (o *ClockOutput) Start(buf *audio.Buffer, onEnded func()) (Source, error) {
	window := o.Window
	if window <= 0 {
		window = defaultLevelWindow
	}
	s := &clockSource{
		buf:     buf,
		window:  window,
		started: time.Now(),
		onStop:  o.OnStop,
	}
	if o.OnStart != nil {
		o.OnStart(buf)
	}
	t := time.AfterFunc(buf.Duration(), func() {
		if s.finish() && onEnded != nil {
			onEnded()
		}
	})
	s.mu.Lock()
	s.timer = t
	s.mu.Unlock()
	return s, nil
}

type clockSource struct {
	buf     *audio.Buffer
	window  time.Duration
	started time.Time
	onStop  func()

	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

func (s *clockSource) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	return true
}

func (s *clockSource) Stop() {
	s.mu.Lock()
	t := s.timer
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
	if s.finish() && s.onStop != nil {
		s.onStop()
	}
}

func (s *clockSource) Level() float64 {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done {
		return 0
	}
	elapsed := time.Since(s.started)
	end := s.buf.SampleAt(elapsed)
	from := s.buf.SampleAt(elapsed - s.window)
	return s.buf.RMS(from, end)
}
