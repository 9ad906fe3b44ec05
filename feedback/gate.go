// Package feedback decides, cycle by cycle, whether the sensing loop should
// consult ground truth. Policies poll less often after correct decisions and
// more often after incorrect ones. None of them sleep: elapsed time is
// derived from the timestamps handed to Wait.
package feedback

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig is returned when a policy's bounds or factors are malformed.
var ErrInvalidConfig = errors.New("feedback: invalid config")

// Policy is the feedback polling contract.
type Policy interface {
	// Wait records that a sensing cycle happened at now.
	Wait(now time.Time)
	// ShouldConsult reports whether ground truth should be requested this cycle.
	ShouldConsult() bool
	// Widen polls less often; called after a decision matched ground truth.
	Widen()
	// Narrow polls more often; called after a mismatch.
	Narrow()
}

const (
	KindTime  = "time"
	KindCycle = "cycle"
)

// Config selects and tunes a policy.
type Config struct {
	Kind  string      `yaml:"kind"` // "time" (default) or "cycle"
	Time  TimeConfig  `yaml:"time"`
	Cycle CycleConfig `yaml:"cycle"`
}

// DefaultConfig returns a time-based policy.
func DefaultConfig() Config {
	return Config{
		Kind:  KindTime,
		Time:  DefaultTimeConfig(),
		Cycle: DefaultCycleConfig(),
	}
}

// Validate checks the selected variant.
func (c Config) Validate() error {
	switch normalizeKind(c.Kind) {
	case KindTime:
		return c.Time.Validate()
	case KindCycle:
		return c.Cycle.Validate()
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, c.Kind)
	}
}

// New builds the configured policy.
func New(cfg Config) (Policy, error) {
	switch normalizeKind(cfg.Kind) {
	case KindTime:
		return NewTimeGate(cfg.Time)
	case KindCycle:
		return NewCycleGate(cfg.Cycle)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, cfg.Kind)
	}
}

func normalizeKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	if k == "" {
		return KindTime
	}
	return k
}
