package observability

import "testing"

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(8)
	w.Observe(StageFirstAudio, 500)
	w.Observe(StageFirstAudio, 1500)
	w.Observe(StageFirstAudio, 700)
	w.ObserveIndicator("superseded")
	w.ObserveIndicator("superseded")
	w.ObserveIndicator("  ")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	s, ok := snap.Stage(StageFirstAudio)
	if !ok || len(snap.Stages) != 1 {
		t.Fatalf("Stages = %+v, want only %s", snap.Stages, StageFirstAudio)
	}
	if s.Samples != 3 || s.LastMS != 700 {
		t.Fatalf("Samples, LastMS = %d, %.2f, want 3, 700", s.Samples, s.LastMS)
	}
	if s.P50MS != 700 || s.P95MS != 1500 || s.MaxMS != 1500 {
		t.Fatalf("P50/P95/Max = %.2f/%.2f/%.2f, want 700/1500/1500", s.P50MS, s.P95MS, s.MaxMS)
	}
	if s.TargetP95MS != 1400 || s.OverTarget != 1 {
		t.Fatalf("TargetP95MS, OverTarget = %.2f, %d, want 1400, 1", s.TargetP95MS, s.OverTarget)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0] != (TurnIndicator{Name: "superseded", Count: 2}) {
		t.Fatalf("Indicators = %+v, want superseded x2", snap.Indicators)
	}
}

func TestTurnStageWindowPipelineOrder(t *testing.T) {
	w := newTurnStageWindow(4)
	for _, stage := range []string{"warmup", StageTurnTotal, StageTTS, StageASR, StageFirstText} {
		w.Observe(stage, 10)
	}
	want := []string{StageASR, StageFirstText, StageTTS, StageTurnTotal, "warmup"}
	snap := w.Snapshot()
	if len(snap.Stages) != len(want) {
		t.Fatalf("len(Stages) = %d, want %d", len(snap.Stages), len(want))
	}
	for i, s := range snap.Stages {
		if s.Stage != want[i] {
			t.Fatalf("Stages[%d] = %q, want %q", i, s.Stage, want[i])
		}
	}
	if snap.Stages[4].TargetP95MS != 0 {
		t.Fatalf("unknown stage has target %.2f", snap.Stages[4].TargetP95MS)
	}
}

func TestTurnStageWindowWrapsAndIgnoresInvalid(t *testing.T) {
	w := newTurnStageWindow(2)
	w.Observe("", 10)
	w.Observe(StageASR, -1)
	w.Observe(StageASR, 100)
	w.Observe(StageASR, 200)
	w.Observe(StageASR, 300)

	s, ok := w.Snapshot().Stage(StageASR)
	if !ok {
		t.Fatalf("asr stage missing")
	}
	if s.Samples != 2 || s.AvgMS != 250 || s.LastMS != 300 {
		t.Fatalf("stats = %+v, want 2 samples avg 250 last 300", s)
	}

	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) after Reset = %d, want 0", got)
	}
}

func TestNearestRank(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := []struct {
		q    float64
		want float64
	}{
		{0, 1},
		{0.5, 5},
		{0.95, 10},
		{1, 10},
	}
	for _, tc := range cases {
		if got := nearestRank(sorted, tc.q); got != tc.want {
			t.Fatalf("nearestRank(%v) = %v, want %v", tc.q, got, tc.want)
		}
	}
}
