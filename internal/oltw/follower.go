// Package oltw implements the Online Time-Warping score follower: an
// incremental, bounded-memory dynamic-programming aligner that consumes
// performance feature vectors as they arrive and, after each one, emits
// its best current estimate of the score position.
package oltw

import (
	"context"
	"fmt"
	"math"

	"github.com/flippy-go/flippy/internal/feature"
	"github.com/flippy-go/flippy/internal/stream"
)

// direction is the bitmask of axes the follower advances on one
// iteration: {I}, {J}, or {I,J} (always {I,J} during warm-up).
type direction uint8

const (
	dirNone direction = 0
	dirI    direction = 1 << 0
	dirJ    direction = 1 << 1
	dirBoth direction = dirI | dirJ
)

// Config holds the OLTW tunables: search window, anti-stall bound, and
// direction weights.
type Config struct {
	SearchWindow int // C, >= 1
	MaxRunCount  int // MRC, >= 1
	Wa, Wb, Wc   float64
}

// DefaultConfig returns the direction weights' defaults (1,1,1).
func DefaultConfig(searchWindow, maxRunCount int) Config {
	return Config{SearchWindow: searchWindow, MaxRunCount: maxRunCount, Wa: 1, Wb: 1, Wc: 1}
}

// Follower runs the OLTW algorithm over a fixed score sequence S and a
// streaming performance sequence P delivered over a channel.
type Follower struct {
	cfg Config
	s   []feature.FeatureVector

	ringSize int
	dRing    [][]float64 // ringSize rows x len(S) cols
	dOwner   []int       // which i each ring row currently holds, -1 if unset
	pRing    []feature.FeatureVector
	pOwner   []int

	i, j           int
	iPrime, jPrime int
	previous       direction
	runCount       int
}

// NewFollower constructs a Follower for score sequence s. s must be
// non-empty.
func NewFollower(cfg Config, s []feature.FeatureVector) (*Follower, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("oltw: score sequence S must be non-empty")
	}
	if cfg.SearchWindow < 1 {
		return nil, fmt.Errorf("oltw: search window C must be >= 1, got %d", cfg.SearchWindow)
	}
	if cfg.MaxRunCount < 1 {
		return nil, fmt.Errorf("oltw: max run count MRC must be >= 1, got %d", cfg.MaxRunCount)
	}
	if cfg.Wa == 0 && cfg.Wb == 0 && cfg.Wc == 0 {
		cfg.Wa, cfg.Wb, cfg.Wc = 1, 1, 1
	}

	// ringSize must exceed SearchWindow by at least one slot so that row
	// i and row i-1 never alias to the same ring slot, even when C==1.
	ringSize := cfg.SearchWindow + 1

	f := &Follower{
		cfg:      cfg,
		s:        s,
		ringSize: ringSize,
		dRing:    make([][]float64, ringSize),
		dOwner:   make([]int, ringSize),
		pRing:    make([]feature.FeatureVector, ringSize),
		pOwner:   make([]int, ringSize),
	}
	for k := range f.dRing {
		f.dRing[k] = make([]float64, len(s))
		f.dOwner[k] = -1
		f.pOwner[k] = -1
	}
	return f, nil
}

// Run consumes FeatureMsg values from in, aligns them against S, and
// writes one AlignMsg for the initial (0,0) position and one after every
// advance step, including steps that advance only j and consume no
// performance frame (plus a final end-of-stream AlignMsg) to out. Returns when either stream ends or ctx
// is cancelled.
func (f *Follower) Run(ctx context.Context, in <-chan stream.FeatureMsg, out chan<- stream.AlignMsg) error {
	first, ok, err := recvFeature(ctx, in)
	if err != nil {
		return err
	}
	if !ok || first.End {
		return sendAlign(ctx, out, stream.EndAlignMsg())
	}

	f.i, f.j = 0, 0
	f.previous = dirNone
	f.runCount = 1
	f.newRow(0)
	f.storeP(0, first.Vec)
	f.setD(0, 0, feature.L1Distance(first.Vec, f.s[0]))
	f.iPrime, f.jPrime = 0, 0

	if err := sendAlign(ctx, out, stream.AlignMsg{PerfIdx: 0, ScoreIdx: 0}); err != nil {
		return err
	}

	for {
		if f.j == len(f.s)-1 {
			if err := sendAlign(ctx, out, stream.EndAlignMsg()); err != nil {
				return err
			}
			// The score end was reached while the performance may still be
			// playing. Keep consuming upstream so the Slicer and extractor
			// never block on a full channel, until their sentinel arrives.
			return drainFeatures(ctx, in)
		}

		cur := f.selectDirection()

		if cur&dirI != 0 {
			msg, ok, err := recvFeature(ctx, in)
			if err != nil {
				return err
			}
			if !ok || msg.End {
				return sendAlign(ctx, out, stream.EndAlignMsg())
			}
			f.i++
			f.storeP(f.i, msg.Vec)
			f.newRow(f.i)
			lo := max(0, f.j-f.cfg.SearchWindow+1)
			for J := lo; J <= f.j; J++ {
				f.fillCell(f.i, J)
			}
		}

		if cur&dirJ != 0 {
			f.j++
			lo := max(0, f.i-f.cfg.SearchWindow+1)
			for I := lo; I <= f.i; I++ {
				f.fillCell(I, f.j)
			}
		}

		if cur == f.previous && f.previous != dirBoth {
			f.runCount++
		} else {
			f.runCount = 1
		}
		f.previous = cur

		f.updateBestRecent()

		if err := sendAlign(ctx, out, stream.AlignMsg{PerfIdx: f.iPrime, ScoreIdx: f.jPrime}); err != nil {
			return err
		}
	}
}

// selectDirection picks the axes to advance this iteration: both during
// warm-up, the complement of the previous axis once a single-direction
// run exceeds MaxRunCount, otherwise whichever axis the best recent cell
// is ahead on.
func (f *Follower) selectDirection() direction {
	if f.i < f.cfg.SearchWindow {
		return dirBoth
	}
	if f.runCount > f.cfg.MaxRunCount {
		if f.previous == dirI {
			return dirJ
		}
		return dirI
	}
	if f.iPrime < f.i {
		return dirJ
	}
	if f.jPrime < f.j {
		return dirI
	}
	return dirBoth
}

// fillCell computes D[i,j] = d(P[i],S[j]) + min(Wc*D[i-1,j-1],
// Wa*D[i-1,j], Wb*D[i,j-1]). (0,0) is never passed here since it is
// seeded by Run directly.
func (f *Follower) fillCell(i, j int) {
	d := feature.L1Distance(f.p(i), f.s[j])
	diag := f.get(i-1, j-1) * f.cfg.Wc
	up := f.get(i-1, j) * f.cfg.Wa
	left := f.get(i, j-1) * f.cfg.Wb
	f.setD(i, j, d+min3(diag, up, left))
}

// newRow prepares ring slot for row i: resets every column to +Inf and
// marks the slot as owned by i.
func (f *Follower) newRow(i int) {
	slot := i % f.ringSize
	row := f.dRing[slot]
	for k := range row {
		row[k] = math.Inf(1)
	}
	f.dOwner[slot] = i
}

func (f *Follower) storeP(i int, v feature.FeatureVector) {
	slot := i % f.ringSize
	f.pRing[slot] = v
	f.pOwner[slot] = i
}

func (f *Follower) p(i int) feature.FeatureVector {
	slot := i % f.ringSize
	if f.pOwner[slot] != i {
		return nil
	}
	return f.pRing[slot]
}

// get returns D[i,j], or +Inf for any cell outside the currently
// materialised window (including genuinely out-of-range indices).
func (f *Follower) get(i, j int) float64 {
	if i < 0 || j < 0 || j >= len(f.s) {
		return math.Inf(1)
	}
	slot := i % f.ringSize
	if f.dOwner[slot] != i {
		return math.Inf(1)
	}
	return f.dRing[slot][j]
}

func (f *Follower) setD(i, j int, v float64) {
	slot := i % f.ringSize
	f.dRing[slot][j] = v
}

// updateBestRecent scans the last SearchWindow cells of column j and of
// row i for the minimum accumulated cost: column before row, both
// head-first, strict comparison so the earlier-scanned cell wins ties.
func (f *Follower) updateBestRecent() {
	bestVal := math.Inf(1)
	bestI, bestJ := f.i, f.j

	colLo := max(0, f.i-f.cfg.SearchWindow+1)
	for I := f.i; I >= colLo; I-- {
		if v := f.get(I, f.j); v < bestVal {
			bestVal, bestI, bestJ = v, I, f.j
		}
	}

	rowLo := max(0, f.j-f.cfg.SearchWindow+1)
	for J := f.j; J >= rowLo; J-- {
		if v := f.get(f.i, J); v < bestVal {
			bestVal, bestI, bestJ = v, f.i, J
		}
	}

	f.iPrime, f.jPrime = bestI, bestJ
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func drainFeatures(ctx context.Context, in <-chan stream.FeatureMsg) error {
	for {
		msg, ok, err := recvFeature(ctx, in)
		if err != nil {
			return err
		}
		if !ok || msg.End {
			return nil
		}
	}
}

func recvFeature(ctx context.Context, in <-chan stream.FeatureMsg) (stream.FeatureMsg, bool, error) {
	select {
	case <-ctx.Done():
		return stream.FeatureMsg{}, false, ctx.Err()
	case msg, ok := <-in:
		return msg, ok, nil
	}
}

func sendAlign(ctx context.Context, out chan<- stream.AlignMsg, msg stream.AlignMsg) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- msg:
		return nil
	}
}
