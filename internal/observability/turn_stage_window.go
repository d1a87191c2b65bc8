package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Stages of a spoken turn, in the order a turn passes through them.
const (
	StageASR        = "asr"
	StageFirstText  = "first_text"
	StageTTS        = "tts"
	StageFirstAudio = "first_audio"
	StageTurnTotal  = "turn_total"
)

var stageOrder = []string{StageASR, StageFirstText, StageTTS, StageFirstAudio, StageTurnTotal}

// p95 budgets in milliseconds for a turn against an ADH server on the same host.
var stageTargetsMS = map[string]float64{
	StageASR:        800,
	StageFirstText:  550,
	StageTTS:        700,
	StageFirstAudio: 1400,
	StageTurnTotal:  3200,
}

// TurnStageStats summarizes the retained samples of one stage.
type TurnStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  int     `json:"over_target,omitempty"`
}

// TurnIndicator counts a turn outcome such as "superseded" or "no_speech".
type TurnIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type TurnStageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []TurnStageStats `json:"stages"`
	Indicators  []TurnIndicator  `json:"indicators,omitempty"`
}

// Stage returns the stats for name.
func (s TurnStageSnapshot) Stage(name string) (TurnStageStats, bool) {
	for _, st := range s.Stages {
		if st.Stage == name {
			return st, true
		}
	}
	return TurnStageStats{}, false
}

// turnStageWindow keeps the most recent samples per stage.
type turnStageWindow struct {
	mu         sync.Mutex
	size       int
	rings      map[string]*sampleRing
	indicators map[string]int
}

// sampleRing overwrites its oldest sample once full.
type sampleRing struct {
	samples []float64
	pos     int
	n       int
}

func (r *sampleRing) add(ms float64) {
	r.samples[r.pos] = ms
	r.pos = (r.pos + 1) % len(r.samples)
	if r.n < len(r.samples) {
		r.n++
	}
}

func (r *sampleRing) last() float64 {
	return r.samples[(r.pos-1+len(r.samples))%len(r.samples)]
}

func newTurnStageWindow(size int) *turnStageWindow {
	if size <= 0 {
		size = 256
	}
	w := &turnStageWindow{size: size}
	w.clear()
	return w
}

func (w *turnStageWindow) clear() {
	w.rings = make(map[string]*sampleRing)
	w.indicators = make(map[string]int)
}

func (w *turnStageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &sampleRing{samples: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.add(ms)
}

func (w *turnStageWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *turnStageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.clear()
	w.mu.Unlock()
}

// Snapshot reports known stages in pipeline order, then any others by name.
func (w *turnStageWindow) Snapshot() TurnStageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := TurnStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]TurnStageStats, 0, len(w.rings)),
	}
	for _, name := range w.stageNames() {
		if r := w.rings[name]; r != nil && r.n > 0 {
			snap.Stages = append(snap.Stages, summarize(name, r))
		}
	}

	names := make([]string, 0, len(w.indicators))
	for name, n := range w.indicators {
		if n > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		snap.Indicators = append(snap.Indicators, TurnIndicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

func (w *turnStageWindow) stageNames() []string {
	var extra []string
	for name := range w.rings {
		if !slices.Contains(stageOrder, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(slices.Clone(stageOrder), extra...)
}

func summarize(stage string, r *sampleRing) TurnStageStats {
	sorted := slices.Clone(r.samples[:r.n])
	slices.Sort(sorted)

	target := stageTargetsMS[stage]
	sum, over := 0.0, 0
	for _, v := range sorted {
		sum += v
		if target > 0 && v > target {
			over++
		}
	}
	return TurnStageStats{
		Stage:       stage,
		Samples:     r.n,
		LastMS:      round2(r.last()),
		AvgMS:       round2(sum / float64(r.n)),
		P50MS:       round2(nearestRank(sorted, 0.50)),
		P95MS:       round2(nearestRank(sorted, 0.95)),
		MaxMS:       round2(sorted[len(sorted)-1]),
		TargetP95MS: target,
		OverTarget:  over,
	}
}

// nearestRank returns the smallest sample with at least q of the samples at
// or below it. sorted must be ascending and non-empty.
func nearestRank(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
