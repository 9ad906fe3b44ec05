// Package confusion keeps the 2x2 outcome counts (ground-truth label x
// hypothesis) shared by the threshold learner and derives detection, false
// alarm and prior rates from them.
package confusion

import "fmt"

// State is a channel occupancy value. It is used both for ground-truth labels
// and for hypotheses.
type State uint8

const (
	Free     State = 0
	Occupied State = 1
)

// Valid reports whether s is Free or Occupied.
func (s State) Valid() bool {
	return s == Free || s == Occupied
}

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Occupied:
		return "occupied"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Outcome identifies one cell of the confusion matrix. The name carries the
// label digit first and the hypothesis digit second.
type Outcome uint8

const (
	Outcome00 Outcome = iota // label free, hypothesis free
	Outcome01                // label occupied, hypothesis free (miss)
	Outcome10                // label free, hypothesis occupied (false alarm)
	Outcome11                // label occupied, hypothesis occupied
)

var outcomeNames = [...]string{"00", "01", "10", "11"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// Classify maps a (label, hypothesis) pair to its matrix cell.
func Classify(label, hyp State) Outcome {
	if label == Free {
		if hyp == Free {
			return Outcome00
		}
		return Outcome10
	}
	if hyp == Occupied {
		return Outcome11
	}
	return Outcome01
}

// FalseAlarm reports whether o is a false alarm (free channel declared occupied).
func (o Outcome) FalseAlarm() bool { return o == Outcome10 }

// Miss reports whether o is a missed detection.
func (o Outcome) Miss() bool { return o == Outcome01 }

// Matrix holds the four outcome counters.
type Matrix struct {
	c [4]uint64
}

// Add increments the counter for o.
func (m *Matrix) Add(o Outcome) {
	if int(o) < len(m.c) {
		m.c[o]++
	}
}

// Count returns the counter for o.
func (m Matrix) Count(o Outcome) uint64 {
	if int(o) < len(m.c) {
		return m.c[o]
	}
	return 0
}

// Total returns the sum of all counters.
func (m Matrix) Total() uint64 {
	return m.c[0] + m.c[1] + m.c[2] + m.c[3]
}

// LabeledFree is c00+c10, the number of cycles whose label was free.
func (m Matrix) LabeledFree() uint64 {
	return m.c[Outcome00] + m.c[Outcome10]
}

// LabeledOccupied is c01+c11, the number of cycles whose label was occupied.
func (m Matrix) LabeledOccupied() uint64 {
	return m.c[Outcome01] + m.c[Outcome11]
}

// PH0 is the empirical prior that the channel is free.
func (m Matrix) PH0() float64 {
	return Ratio(m.LabeledFree(), m.Total())
}

// PH1 is the empirical prior that the channel is occupied.
func (m Matrix) PH1() float64 {
	return Ratio(m.LabeledOccupied(), m.Total())
}

// PD is the aggregate probability of detection c11/(c01+c11).
func (m Matrix) PD() float64 {
	return Ratio(m.c[Outcome11], m.LabeledOccupied())
}

// PF is the aggregate probability of false alarm c10/(c00+c10).
func (m Matrix) PF() float64 {
	return Ratio(m.c[Outcome10], m.LabeledFree())
}

// Ratio divides num by den and returns 0 when den is zero.
func Ratio(num, den uint64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
