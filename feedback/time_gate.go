package feedback

import (
	"fmt"
	"time"
)

// TimeConfig tunes TimeGate. Durations are expressed in milliseconds in YAML.
type TimeConfig struct {
	InitialMS    int     `yaml:"initial_ms"`
	MinMS        int     `yaml:"min_ms"`
	MaxMS        int     `yaml:"max_ms"`
	WidenFactor  float64 `yaml:"widen_factor"`  // > 1
	NarrowFactor float64 `yaml:"narrow_factor"` // in (0, 1)
}

// DefaultTimeConfig polls once per second initially, between 100ms and 30s.
func DefaultTimeConfig() TimeConfig {
	return TimeConfig{
		InitialMS:    1000,
		MinMS:        100,
		MaxMS:        30000,
		WidenFactor:  2,
		NarrowFactor: 0.5,
	}
}

// Validate checks bounds and factors.
func (c TimeConfig) Validate() error {
	if c.MinMS <= 0 {
		return fmt.Errorf("%w: min_ms must be > 0 (got %d)", ErrInvalidConfig, c.MinMS)
	}
	if c.MaxMS < c.MinMS {
		return fmt.Errorf("%w: max_ms %d below min_ms %d", ErrInvalidConfig, c.MaxMS, c.MinMS)
	}
	if !(c.WidenFactor > 1) {
		return fmt.Errorf("%w: widen_factor must be > 1 (got %v)", ErrInvalidConfig, c.WidenFactor)
	}
	if !(c.NarrowFactor > 0 && c.NarrowFactor < 1) {
		return fmt.Errorf("%w: narrow_factor must be within (0,1) (got %v)", ErrInvalidConfig, c.NarrowFactor)
	}
	return nil
}

// TimeGate consults ground truth once the configured interval has elapsed
// since the last poll. The interval doubles (by default) after each correct
// decision and halves after each incorrect one, clamped to [min, max].
type TimeGate struct {
	interval time.Duration
	min      time.Duration
	max      time.Duration
	widen    float64
	narrow   float64

	lastPoll time.Time
	lastSeen time.Time
	elapsed  time.Duration
}

// NewTimeGate builds a gate; the initial interval is clamped into range.
func NewTimeGate(cfg TimeConfig) (*TimeGate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &TimeGate{
		min:    time.Duration(cfg.MinMS) * time.Millisecond,
		max:    time.Duration(cfg.MaxMS) * time.Millisecond,
		widen:  cfg.WidenFactor,
		narrow: cfg.NarrowFactor,
	}
	g.interval = g.clamp(time.Duration(cfg.InitialMS) * time.Millisecond)
	return g, nil
}

// Wait records the cycle timestamp and updates the time since the last poll.
// The first call starts the clock and makes the gate due immediately. A zero
// now carries no clock reading and leaves the gate as it was.
func (g *TimeGate) Wait(now time.Time) {
	if now.IsZero() {
		return
	}
	g.lastSeen = now
	if g.lastPoll.IsZero() {
		g.elapsed = g.interval
		return
	}
	g.elapsed = now.Sub(g.lastPoll)
}

// ShouldConsult reports whether the interval has elapsed.
func (g *TimeGate) ShouldConsult() bool {
	return g.elapsed >= g.interval
}

// Widen lengthens the interval and restarts the poll timer.
func (g *TimeGate) Widen() {
	g.interval = g.clamp(time.Duration(float64(g.interval) * g.widen))
	g.markPolled()
}

// Narrow shortens the interval and restarts the poll timer.
func (g *TimeGate) Narrow() {
	g.interval = g.clamp(time.Duration(float64(g.interval) * g.narrow))
	g.markPolled()
}

// Interval returns the current polling interval.
func (g *TimeGate) Interval() time.Duration {
	return g.interval
}

func (g *TimeGate) markPolled() {
	g.lastPoll = g.lastSeen
	g.elapsed = 0
}

func (g *TimeGate) clamp(d time.Duration) time.Duration {
	if d < g.min {
		return g.min
	}
	if d > g.max {
		return g.max
	}
	return d
}
