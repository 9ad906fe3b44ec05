package feedback

import (
	"fmt"
	"time"
)

// CycleConfig tunes CycleGate.
type CycleConfig struct {
	Initial int `yaml:"initial"`
	Min     int `yaml:"min"`
	Max     int `yaml:"max"`
	Step    int `yaml:"step"`
}

// DefaultCycleConfig consults every cycle at first and backs off to every 64th.
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{Initial: 1, Min: 1, Max: 64, Step: 1}
}

// Validate checks bounds and step.
func (c CycleConfig) Validate() error {
	if c.Min <= 0 {
		return fmt.Errorf("%w: cycle min must be > 0 (got %d)", ErrInvalidConfig, c.Min)
	}
	if c.Max < c.Min {
		return fmt.Errorf("%w: cycle max %d below min %d", ErrInvalidConfig, c.Max, c.Min)
	}
	if c.Step <= 0 {
		return fmt.Errorf("%w: cycle step must be > 0 (got %d)", ErrInvalidConfig, c.Step)
	}
	return nil
}

// CycleGate counts sensing cycles instead of wall time: ground truth is due
// every interval cycles. Widen and Narrow move the interval by Step.
type CycleGate struct {
	interval int
	min      int
	max      int
	step     int
	since    int // cycles since the last poll
}

// NewCycleGate builds a gate; the initial interval is clamped into range.
func NewCycleGate(cfg CycleConfig) (*CycleGate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &CycleGate{min: cfg.Min, max: cfg.Max, step: cfg.Step}
	g.interval = g.clamp(cfg.Initial)
	g.since = g.interval - 1
	return g, nil
}

// Wait counts one cycle; the timestamp is not needed.
func (g *CycleGate) Wait(_ time.Time) {
	g.since++
}

// ShouldConsult reports whether interval cycles have passed since the last poll.
func (g *CycleGate) ShouldConsult() bool {
	return g.since >= g.interval
}

// Widen adds Step to the interval and restarts the count.
func (g *CycleGate) Widen() {
	g.interval = g.clamp(g.interval + g.step)
	g.since = 0
}

// Narrow subtracts Step from the interval and restarts the count.
func (g *CycleGate) Narrow() {
	g.interval = g.clamp(g.interval - g.step)
	g.since = 0
}

// Interval returns the current interval in cycles.
func (g *CycleGate) Interval() int {
	return g.interval
}

func (g *CycleGate) clamp(n int) int {
	if n < g.min {
		return g.min
	}
	if n > g.max {
		return g.max
	}
	return n
}
