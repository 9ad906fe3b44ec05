package threshold

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"cogradio/confusion"
)

func scenarioConfig() Config {
	return Config{Initial: 10, MinLimit: 1, MaxLimit: 20, Step: 1, MissCost: 1}
}

func mustLearner(t *testing.T, cfg Config) *Learner {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func decideWith(t *testing.T, l *Learner, label confusion.State, samples ...float64) Decision {
	t.Helper()
	if err := l.SetFeedback(label); err != nil {
		t.Fatalf("SetFeedback: %v", err)
	}
	dec, err := l.Decide(samples)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	return dec
}

func TestNewRejectsMalformedConfig(t *testing.T) {
	cases := map[string]Config{
		"zero step":      {Initial: 1, MinLimit: 0, MaxLimit: 2, Step: 0, MissCost: 1},
		"negative step":  {Initial: 1, MinLimit: 0, MaxLimit: 2, Step: -1, MissCost: 1},
		"inverted":       {Initial: 1, MinLimit: 3, MaxLimit: 2, Step: 1, MissCost: 1},
		"nan initial":    {Initial: math.NaN(), MinLimit: 0, MaxLimit: 2, Step: 1, MissCost: 1},
		"inf initial":    {Initial: math.Inf(1), MinLimit: 0, MaxLimit: 2, Step: 1, MissCost: 1},
		"initial beyond": {Initial: 5, MinLimit: 0, MaxLimit: 2, Step: 1, MissCost: 1},
		"negative cost":  {Initial: 1, MinLimit: 0, MaxLimit: 2, Step: 1, MissCost: -1},
	}
	for name, cfg := range cases {
		if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
	if _, err := New(DefaultConfig()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestDecideWithoutFeedbackLeavesStateUntouched(t *testing.T) {
	l := mustLearner(t, Config{Initial: 10, MinLimit: 1, MaxLimit: 20, Step: 0.0015, MissCost: 1})
	dec, err := l.Decide([]float64{9})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Hypothesis != confusion.Free || dec.Reserved != 0 {
		t.Fatalf("expected (free, 0), got (%s, %v)", dec.Hypothesis, dec.Reserved)
	}
	if dec.Labeled {
		t.Fatalf("expected unlabeled decision")
	}
	if l.Global().Counts.Total() != 0 {
		t.Fatalf("expected no global counts, got %d", l.Global().Counts.Total())
	}
	grid := l.Grid()
	if len(grid) != 1 || grid[0].PD != 1 || grid[0].PF != 1 || grid[0].PM != 1 || grid[0].Risk != 0 {
		t.Fatalf("unexpected grid after unlabeled decision: %+v", grid)
	}
}

func TestDecideRejectsInvalidBatch(t *testing.T) {
	l := mustLearner(t, scenarioConfig())
	if err := l.SetFeedback(confusion.Occupied); err != nil {
		t.Fatalf("SetFeedback: %v", err)
	}
	if _, err := l.Decide(nil); !errors.Is(err, ErrInvalidBatch) {
		t.Fatalf("expected ErrInvalidBatch for empty batch, got %v", err)
	}
	if _, err := l.Decide([]float64{1, math.NaN()}); !errors.Is(err, ErrInvalidBatch) {
		t.Fatalf("expected ErrInvalidBatch for NaN, got %v", err)
	}
	if l.Global().Counts.Total() != 0 {
		t.Fatalf("rejected batches must not update statistics")
	}
	// The label is still pending after a rejected batch.
	dec, err := l.Decide([]float64{15})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !dec.Labeled {
		t.Fatalf("expected pending label to survive rejected batches")
	}
}

func TestSetFeedbackRejectsInvalidLabel(t *testing.T) {
	l := mustLearner(t, scenarioConfig())
	if err := l.SetFeedback(confusion.State(3)); err == nil {
		t.Fatalf("expected invalid label to be rejected")
	}
	if _, ok := l.Feedback(); ok {
		t.Fatalf("expected no feedback recorded")
	}
	_ = l.SetFeedback(confusion.Free)
	if got, ok := l.Feedback(); !ok || got != confusion.Free {
		t.Fatalf("expected feedback free, got %s ok=%v", got, ok)
	}
}

func TestScenarioOccupiedDetections(t *testing.T) {
	l := mustLearner(t, scenarioConfig())
	for i := 0; i < 5; i++ {
		dec := decideWith(t, l, confusion.Occupied, 11, 12, 13)
		if dec.Hypothesis != confusion.Occupied {
			t.Fatalf("cycle %d: expected occupied hypothesis", i)
		}
		if dec.Outcome != confusion.Outcome11 {
			t.Fatalf("cycle %d: expected outcome 11, got %s", i, dec.Outcome)
		}
	}
	if got := l.Threshold(); got != 10 {
		t.Fatalf("expected threshold to stay at 10, got %v", got)
	}
	cur := l.Current()
	if cur.PD != 1 {
		t.Fatalf("expected pd 1.0, got %v", cur.PD)
	}
	if cur.PF != 0 {
		t.Fatalf("expected pf 0.0, got %v", cur.PF)
	}
	if cur.PM != 0 {
		t.Fatalf("expected pm 0.0, got %v", cur.PM)
	}
	if cur.Risk != 0 {
		t.Fatalf("expected risk 0.0, got %v", cur.Risk)
	}
	g := l.Global()
	if g.Counts.Count(confusion.Outcome11) != 5 || g.Counts.Total() != 5 {
		t.Fatalf("unexpected global counts: %+v", g.Counts)
	}
	if g.PH1 != 1 || g.PH0 != 0 || g.PD != 1 || g.PF != 0 {
		t.Fatalf("unexpected global rates: %+v", g)
	}
}

func TestFalseAlarmGrowsGridUpward(t *testing.T) {
	l := mustLearner(t, scenarioConfig())
	dec := decideWith(t, l, confusion.Free, 15)
	if dec.Outcome != confusion.Outcome10 {
		t.Fatalf("expected false alarm, got %s", dec.Outcome)
	}
	grid := l.Grid()
	if len(grid) != 2 || grid[0].Threshold != 10 || grid[1].Threshold != 11 {
		t.Fatalf("expected grid [10 11], got %+v", grid)
	}
	for _, e := range grid {
		if e.PF != 1 || e.Risk != 1 {
			t.Fatalf("expected pf=1 risk=1 at %v, got %+v", e.Threshold, e)
		}
	}
	// Equal risks: the biased comparison lets the later (higher) entry win.
	if got := l.Threshold(); got != 11 {
		t.Fatalf("expected threshold 11 after false alarm, got %v", got)
	}
}

func TestMissGrowsGridDownward(t *testing.T) {
	l := mustLearner(t, scenarioConfig())
	dec := decideWith(t, l, confusion.Occupied, 5)
	if dec.Outcome != confusion.Outcome01 {
		t.Fatalf("expected miss, got %s", dec.Outcome)
	}
	grid := l.Grid()
	if len(grid) != 2 || grid[0].Threshold != 9 || grid[1].Threshold != 10 {
		t.Fatalf("expected grid [9 10], got %+v", grid)
	}
	if grid[0].PM != 1 || grid[0].Risk != 1 {
		t.Fatalf("unexpected new entry stats: %+v", grid[0])
	}
	if got := l.Threshold(); got != 10 {
		t.Fatalf("expected threshold 10 after miss, got %v", got)
	}
}

func TestGrowthStopsAtLimits(t *testing.T) {
	upper := mustLearner(t, Config{Initial: 20, MinLimit: 1, MaxLimit: 20, Step: 1, MissCost: 1})
	decideWith(t, upper, confusion.Free, 25)
	if n := len(upper.Grid()); n != 1 {
		t.Fatalf("expected no growth beyond max limit, grid size %d", n)
	}

	lower := mustLearner(t, Config{Initial: 1, MinLimit: 1, MaxLimit: 20, Step: 1, MissCost: 1})
	decideWith(t, lower, confusion.Occupied, 0.5)
	if n := len(lower.Grid()); n != 1 {
		t.Fatalf("expected no growth below min limit, grid size %d", n)
	}
}

func TestNeighborsShareClassification(t *testing.T) {
	l := mustLearner(t, scenarioConfig())
	decideWith(t, l, confusion.Free, 15) // grid [10 11], current 11
	decideWith(t, l, confusion.Free, 15) // false alarm at 11 grows to 12
	grid := l.Grid()
	if len(grid) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(grid))
	}
	// 10 and 11 saw both cycles, 12 only the second.
	if c := grid[0].Counts.Count(confusion.Outcome10); c != 2 {
		t.Fatalf("threshold 10: expected 2 false alarms, got %d", c)
	}
	if c := grid[1].Counts.Count(confusion.Outcome10); c != 2 {
		t.Fatalf("threshold 11: expected 2 false alarms, got %d", c)
	}
	if c := grid[2].Counts.Count(confusion.Outcome10); c != 1 {
		t.Fatalf("threshold 12: expected 1 false alarm, got %d", c)
	}
	if grid[2].PF != 0.5 || grid[2].Risk != 0.5 {
		t.Fatalf("threshold 12: expected pf=risk=0.5, got %+v", grid[2])
	}
	if got := l.Threshold(); got != 12 {
		t.Fatalf("expected lowest-risk threshold 12, got %v", got)
	}
}

func TestRepeatedDetectionsDrivePDToOne(t *testing.T) {
	l := mustLearner(t, scenarioConfig())
	decideWith(t, l, confusion.Occupied, 5) // one miss first: pm(10)=1
	for i := 0; i < 200; i++ {
		decideWith(t, l, confusion.Occupied, 50)
	}
	var at10 Entry
	for _, e := range l.Grid() {
		if e.Threshold == 10 {
			at10 = e
		}
	}
	if at10.PD < 0.99 || at10.PM > 0.01 {
		t.Fatalf("expected pd -> 1 and pm -> 0, got pd=%v pm=%v", at10.PD, at10.PM)
	}
}

func TestGridInvariantsUnderRandomFeedback(t *testing.T) {
	cfg := Config{Initial: 5, MinLimit: 0, MaxLimit: 10, Step: 0.25, MissCost: 2}
	l := mustLearner(t, cfg)
	rng := rand.New(rand.NewSource(42))
	labeled := uint64(0)
	prevSize := 1
	for i := 0; i < 2000; i++ {
		samples := []float64{rng.Float64() * 10, rng.Float64() * 10}
		if rng.Intn(4) != 0 {
			label := confusion.Free
			if rng.Intn(2) == 0 {
				label = confusion.Occupied
			}
			if err := l.SetFeedback(label); err != nil {
				t.Fatalf("SetFeedback: %v", err)
			}
			labeled++
		}
		if _, err := l.Decide(samples); err != nil {
			t.Fatalf("Decide: %v", err)
		}

		grid := l.Grid()
		if len(grid) < prevSize {
			t.Fatalf("grid shrank from %d to %d", prevSize, len(grid))
		}
		prevSize = len(grid)
		for j, e := range grid {
			for _, p := range []float64{e.PD, e.PF, e.PM} {
				if p < 0 || p > 1 {
					t.Fatalf("rate out of range at %v: %+v", e.Threshold, e)
				}
			}
			if e.Threshold < cfg.MinLimit-1e-9 || e.Threshold > cfg.MaxLimit+1e-9 {
				t.Fatalf("threshold %v outside limits", e.Threshold)
			}
			if j > 0 && math.Abs(e.Threshold-grid[j-1].Threshold-cfg.Step) > 1e-9 {
				t.Fatalf("grid not contiguous at %d: %v -> %v", j, grid[j-1].Threshold, e.Threshold)
			}
		}
		if got := l.Global().Counts.Total(); got != labeled {
			t.Fatalf("global total %d != labeled decisions %d", got, labeled)
		}
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	a := mustLearner(t, scenarioConfig())
	b := mustLearner(t, scenarioConfig())
	batches := [][]float64{{15}, {3}, {10.5, 9.5}, {12}, {8}}
	labels := []confusion.State{confusion.Free, confusion.Occupied, confusion.Occupied, confusion.Free, confusion.Occupied}
	for i := range batches {
		da := decideWith(t, a, labels[i], batches[i]...)
		db := decideWith(t, b, labels[i], batches[i]...)
		if da != db {
			t.Fatalf("cycle %d: decisions diverged: %+v vs %+v", i, da, db)
		}
	}
	if a.Threshold() != b.Threshold() {
		t.Fatalf("thresholds diverged: %v vs %v", a.Threshold(), b.Threshold())
	}
}
