package threshold

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned by New when the grid bounds or costs are malformed.
var ErrInvalidConfig = errors.New("threshold: invalid config")

// Config holds the learner's grid bounds and the Bayes cost of misses.
type Config struct {
	Initial  float64 `yaml:"initial"`   // first operating threshold
	MinLimit float64 `yaml:"min_limit"` // absolute lower bound for grid growth
	MaxLimit float64 `yaml:"max_limit"` // absolute upper bound for grid growth
	Step     float64 `yaml:"step"`      // spacing between grid entries
	MissCost float64 `yaml:"miss_cost"` // k: cost of a miss relative to a false alarm
}

// DefaultConfig starts at 0 and may grow up to 10 in steps of 0.001.
func DefaultConfig() Config {
	return Config{
		Initial:  0,
		MinLimit: 0,
		MaxLimit: 10,
		Step:     0.001,
		MissCost: 1,
	}
}

// Validate reports the first malformed field.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"initial", c.Initial},
		{"min_limit", c.MinLimit},
		{"max_limit", c.MaxLimit},
		{"step", c.Step},
		{"miss_cost", c.MissCost},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s must be finite (got %v)", ErrInvalidConfig, f.name, f.v)
		}
	}
	if c.Step <= 0 {
		return fmt.Errorf("%w: step must be > 0 (got %v)", ErrInvalidConfig, c.Step)
	}
	if c.MinLimit > c.MaxLimit {
		return fmt.Errorf("%w: min_limit %v exceeds max_limit %v", ErrInvalidConfig, c.MinLimit, c.MaxLimit)
	}
	if c.Initial < c.MinLimit || c.Initial > c.MaxLimit {
		return fmt.Errorf("%w: initial %v outside [%v, %v]", ErrInvalidConfig, c.Initial, c.MinLimit, c.MaxLimit)
	}
	if c.MissCost < 0 {
		return fmt.Errorf("%w: miss_cost must be >= 0 (got %v)", ErrInvalidConfig, c.MissCost)
	}
	return nil
}
