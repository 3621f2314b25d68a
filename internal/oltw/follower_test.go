package oltw

import (
	"context"
	"testing"

	"github.com/flippy-go/flippy/internal/feature"
	"github.com/flippy-go/flippy/internal/stream"
)

func runFollower(t *testing.T, cfg Config, s, p []feature.FeatureVector) []stream.AlignMsg {
	t.Helper()
	f, err := NewFollower(cfg, s)
	if err != nil {
		t.Fatalf("NewFollower: %v", err)
	}

	in := make(chan stream.FeatureMsg, len(p)+1)
	out := make(chan stream.AlignMsg, 64)
	for _, v := range p {
		in <- stream.FeatureMsg{Vec: v}
	}
	in <- stream.EndFeatureMsg()
	close(in)

	if err := f.Run(context.Background(), in, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(out)

	var got []stream.AlignMsg
	for msg := range out {
		got = append(got, msg)
	}
	return got
}

func TestSingleFrameAgainstSingleScoreFrame(t *testing.T) {
	s := []feature.FeatureVector{{1.0}}
	p := []feature.FeatureVector{{2.0}}
	got := runFollower(t, Config{SearchWindow: 3, MaxRunCount: 3, Wa: 1, Wb: 1, Wc: 1}, s, p)

	if len(got) != 2 {
		t.Fatalf("expected 2 emissions (one position + end), got %d: %+v", len(got), got)
	}
	if got[0].PerfIdx != 0 || got[0].ScoreIdx != 0 {
		t.Errorf("expected (0,0), got (%d,%d)", got[0].PerfIdx, got[0].ScoreIdx)
	}
	if !got[1].End {
		t.Errorf("expected end-of-stream sentinel, got %+v", got[1])
	}
}

func vec(xs ...float64) feature.FeatureVector { return feature.FeatureVector(xs) }

func TestDiagonalAlignmentPath(t *testing.T) {
	p := []feature.FeatureVector{vec(1, 2), vec(3, 3), vec(2, 2), vec(2, 3), vec(6, 6)}
	s := []feature.FeatureVector{vec(1, 2), vec(3, 3), vec(2, 2), vec(4, 3), vec(2, 2)}

	got := runFollower(t, Config{SearchWindow: 3, MaxRunCount: 999, Wa: 1, Wb: 1, Wc: 1}, s, p)

	want := [][2]int{{0, 0}, {1, 1}, {2, 2}, {3, 2}, {3, 3}, {3, 4}}
	if len(got) != len(want)+1 {
		t.Fatalf("expected %d emissions + end, got %d: %+v", len(want), len(got), got)
	}
	for idx, w := range want {
		if got[idx].PerfIdx != w[0] || got[idx].ScoreIdx != w[1] {
			t.Errorf("emission %d: got (%d,%d), want (%d,%d)", idx, got[idx].PerfIdx, got[idx].ScoreIdx, w[0], w[1])
		}
	}
	last := got[len(got)-1]
	if !last.End {
		t.Errorf("expected final emission to be end-of-stream, got %+v", last)
	}
	// Final j = 4 = |S|-1 must have triggered termination.
	if got[len(want)-1].ScoreIdx != len(s)-1 {
		t.Errorf("expected last real emission at j=%d, got j=%d", len(s)-1, got[len(want)-1].ScoreIdx)
	}
}

func TestMonotonicityOfI(t *testing.T) {
	p := []feature.FeatureVector{vec(1, 2), vec(3, 3), vec(2, 2), vec(2, 3), vec(6, 6)}
	s := []feature.FeatureVector{vec(1, 2), vec(3, 3), vec(2, 2), vec(4, 3), vec(2, 2)}
	got := runFollower(t, Config{SearchWindow: 3, MaxRunCount: 999, Wa: 1, Wb: 1, Wc: 1}, s, p)

	prev := -1
	for _, m := range got {
		if m.End {
			continue
		}
		if m.PerfIdx < prev {
			t.Errorf("i decreased: prev=%d, got=%d", prev, m.PerfIdx)
		}
		prev = m.PerfIdx
	}
}

func TestAntiStallForcesComplementaryDirection(t *testing.T) {
	v := vec(1, 1, 1)
	s := []feature.FeatureVector{v, v, v, v, v}

	f, err := NewFollower(Config{SearchWindow: 2, MaxRunCount: 2, Wa: 1, Wb: 1, Wc: 1}, s)
	if err != nil {
		t.Fatalf("NewFollower: %v", err)
	}

	// Push the follower past warm-up and simulate a run of {I} selections
	// long enough to cross MaxRunCount; selectDirection must then force {J}.
	f.i, f.j = 3, 1
	f.iPrime, f.jPrime = 3, 1 // not behind in either axis, so only the
	// run-count rule can fire
	f.previous = dirI
	f.runCount = f.cfg.MaxRunCount + 1

	got := f.selectDirection()
	if got != dirJ {
		t.Errorf("after %d consecutive {I} selections, expected forced {J}, got %v", f.runCount-1, got)
	}

	f.previous = dirJ
	got = f.selectDirection()
	if got != dirI {
		t.Errorf("after consecutive {J} selections, expected forced {I}, got %v", got)
	}
}

func TestWarmUpAlwaysBoth(t *testing.T) {
	s := []feature.FeatureVector{vec(1), vec(1), vec(1), vec(1), vec(1)}
	f, err := NewFollower(Config{SearchWindow: 3, MaxRunCount: 999, Wa: 1, Wb: 1, Wc: 1}, s)
	if err != nil {
		t.Fatalf("NewFollower: %v", err)
	}
	for i := 0; i < f.cfg.SearchWindow; i++ {
		f.i = i
		if got := f.selectDirection(); got != dirBoth {
			t.Errorf("i=%d < C=%d: expected dirBoth, got %v", i, f.cfg.SearchWindow, got)
		}
	}
}
