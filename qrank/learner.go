package qrank

import "cogradio/buffer"

// Learner keeps an exponentially weighted Q-value over a bounded history.
type Learner struct {
	alpha   float64
	weights []float64
	history *buffer.RingBuffer
	seeded  int // values pushed by seeding or restore, not by Update
}

// newLearner seeds the history with one zero per weight so the first update
// yields alpha*reward.
func newLearner(cfg LearnerConfig) *Learner {
	l := &Learner{
		alpha:   cfg.Alpha,
		weights: append([]float64(nil), cfg.Weights...),
		history: buffer.NewRingBuffer(cfg.Lookback),
	}
	for range cfg.Weights {
		l.history.Push(0)
	}
	l.seeded = l.history.GetCount()
	return l
}

// Update folds reward into a new Q-value and appends it to the history.
func (l *Learner) Update(reward float64) float64 {
	var hist float64
	n := l.history.Len()
	if len(l.weights) < n {
		n = len(l.weights)
	}
	for i := 0; i < n; i++ {
		hist += l.history.At(i) * l.weights[i]
	}
	q := l.alpha*reward + (1-l.alpha)*hist
	l.history.Push(q)
	return q
}

// Q returns the newest Q-value (0 before any update).
func (l *Learner) Q() float64 {
	return l.history.Last()
}

// Updates returns how many rewards were folded in since the learner was
// created or restored.
func (l *Learner) Updates() int {
	return l.history.GetCount() - l.seeded
}

// History returns the retained Q-values oldest first.
func (l *Learner) History() []float64 {
	return l.history.Values()
}

func (l *Learner) restore(values []float64) {
	l.history = buffer.NewRingBuffer(l.history.Capacity())
	for _, v := range values {
		l.history.Push(v)
	}
	l.seeded = l.history.GetCount()
}
