// Package threshold implements the Bayes-risk threshold learner: an energy
// detector whose operating threshold is re-selected from a growing grid of
// candidates every time a ground-truth label is available.
//
// The grid is stored by integer offset from the initial threshold, so entries
// stay exactly Step apart regardless of how far the grid grows.
package threshold

import (
	"errors"
	"fmt"
	"math"

	"cogradio/confusion"
)

// RiskBias scales a candidate's risk before it is compared with the best risk
// found so far during the ascending scan.
const RiskBias = 0.998

// ErrInvalidBatch is returned by Decide for empty or non-finite sample batches.
var ErrInvalidBatch = errors.New("threshold: invalid sample batch")

// Entry is the statistics record for one grid threshold.
type Entry struct {
	Threshold float64
	PD        float64
	PF        float64
	PM        float64
	Risk      float64
	Counts    confusion.Matrix
}

// Global aggregates outcomes over every labeled decision.
type Global struct {
	Counts confusion.Matrix
	PH0    float64
	PH1    float64
	PD     float64
	PF     float64
}

// Decision is the result of one Decide call.
type Decision struct {
	Hypothesis confusion.State
	// Reserved keeps the confidence slot of the decision interface. No
	// confidence is computed; it is always 0.
	Reserved  float64
	Threshold float64 // threshold the hypothesis was taken against
	Energy    float64 // mean energy of the batch
	Labeled   bool    // a label was consumed and statistics were updated
	Outcome   confusion.Outcome
}

// Learner owns one threshold grid. It is not safe for concurrent use; each
// sensing session owns its own Learner.
type Learner struct {
	cfg Config

	entries []Entry // ascending; entries[i] sits at offset low+i
	low     int
	cur     int // offset of the current threshold

	global Global

	pending    confusion.State
	hasPending bool
	last       confusion.State
	hasLast    bool
}

// New builds a learner with a single grid entry at cfg.Initial.
func New(cfg Config) (*Learner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Learner{cfg: cfg}
	l.entries = []Entry{newEntry(cfg.Initial)}
	return l, nil
}

func newEntry(th float64) Entry {
	return Entry{Threshold: th, PD: 1, PF: 1, PM: 1}
}

// Config returns the configuration the learner was built with.
func (l *Learner) Config() Config {
	return l.cfg
}

// SetFeedback supplies the ground-truth label used by the next Decide call.
func (l *Learner) SetFeedback(label confusion.State) error {
	if !label.Valid() {
		return fmt.Errorf("threshold: invalid feedback label %d", uint8(label))
	}
	l.pending = label
	l.hasPending = true
	l.last = label
	l.hasLast = true
	return nil
}

// Feedback returns the most recently supplied label.
func (l *Learner) Feedback() (confusion.State, bool) {
	return l.last, l.hasLast
}

// Decide classifies the batch against the current threshold. When a label
// was supplied since the previous call it is consumed here: global and
// per-threshold statistics are updated, the grid may grow and the next
// operating threshold is selected. Without a label only the hypothesis is
// returned and no state changes.
func (l *Learner) Decide(samples []float64) (Decision, error) {
	energy, err := MeanEnergy(samples)
	if err != nil {
		return Decision{}, err
	}
	th := l.value(l.cur)
	hyp := confusion.Free
	if energy > th {
		hyp = confusion.Occupied
	}
	dec := Decision{Hypothesis: hyp, Threshold: th, Energy: energy}

	if !l.hasPending {
		return dec, nil
	}
	label := l.pending
	l.hasPending = false

	outcome := confusion.Classify(label, hyp)
	l.updateGlobal(outcome)
	l.grow(outcome)
	l.updateNeighborhood(outcome)
	l.cur = l.selectMinRisk()

	dec.Labeled = true
	dec.Outcome = outcome
	return dec, nil
}

// MeanEnergy validates a sample batch and returns its mean. Empty batches and
// non-finite samples are rejected with ErrInvalidBatch.
func MeanEnergy(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: empty batch", ErrInvalidBatch)
	}
	var sum float64
	for i, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return 0, fmt.Errorf("%w: sample %d is not finite", ErrInvalidBatch, i)
		}
		sum += s
	}
	return sum / float64(len(samples)), nil
}

func (l *Learner) updateGlobal(o confusion.Outcome) {
	g := &l.global
	g.Counts.Add(o)
	g.PH0 = g.Counts.PH0()
	g.PH1 = g.Counts.PH1()
	g.PD = g.Counts.PD()
	g.PF = g.Counts.PF()
}

// grow extends the grid by one entry when the current threshold sits on an
// edge and the outcome pushes past it: false alarms push up, misses push down.
func (l *Learner) grow(o confusion.Outcome) {
	high := l.low + len(l.entries) - 1
	switch {
	case o.FalseAlarm() && l.cur == high:
		next := l.value(high + 1)
		if l.withinLimits(next) {
			l.entries = append(l.entries, newEntry(next))
		}
	case o.Miss() && l.cur == l.low:
		next := l.value(l.low - 1)
		if l.withinLimits(next) {
			l.entries = append([]Entry{newEntry(next)}, l.entries...)
			l.low--
		}
	}
}

func (l *Learner) withinLimits(th float64) bool {
	tol := l.cfg.Step * 1e-9
	return th >= l.cfg.MinLimit-tol && th <= l.cfg.MaxLimit+tol
}

func (l *Learner) updateNeighborhood(o confusion.Outcome) {
	for _, off := range [...]int{l.cur, l.cur - 1, l.cur + 1} {
		if e := l.entryAt(off); e != nil {
			l.updateEntry(e, o)
		}
	}
}

// updateEntry recomputes the rates of one threshold. PM shares the PD
// denominator (all occupied labels).
func (l *Learner) updateEntry(e *Entry, o confusion.Outcome) {
	e.Counts.Add(o)
	g := l.global
	e.PF = confusion.Ratio(e.Counts.Count(confusion.Outcome10), g.Counts.LabeledFree())
	e.PD = confusion.Ratio(e.Counts.Count(confusion.Outcome11), g.Counts.LabeledOccupied())
	e.PM = confusion.Ratio(e.Counts.Count(confusion.Outcome01), g.Counts.LabeledOccupied())
	e.Risk = e.PF*g.PH0 + l.cfg.MissCost*e.PM*g.PH1
}

func (l *Learner) selectMinRisk() int {
	best := math.Inf(1)
	bestOff := l.cur
	for i := range l.entries {
		risk := l.entries[i].Risk
		if risk*RiskBias < best {
			best = risk
			bestOff = l.low + i
		}
	}
	return bestOff
}

func (l *Learner) entryAt(off int) *Entry {
	i := off - l.low
	if i < 0 || i >= len(l.entries) {
		return nil
	}
	return &l.entries[i]
}

func (l *Learner) value(off int) float64 {
	return l.cfg.Initial + float64(off)*l.cfg.Step
}

// Threshold returns the current operating threshold.
func (l *Learner) Threshold() float64 {
	return l.value(l.cur)
}

// Current returns a copy of the current threshold's statistics.
func (l *Learner) Current() Entry {
	return *l.entryAt(l.cur)
}

// Grid returns a copy of all grid entries in ascending threshold order.
func (l *Learner) Grid() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Global returns the aggregate statistics.
func (l *Learner) Global() Global {
	return l.global
}
