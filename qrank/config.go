package qrank

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// ErrInvalidConfig is returned when learner or ranker settings are malformed.
var ErrInvalidConfig = errors.New("qrank: invalid config")

// LearnerConfig tunes one Q-value learner.
type LearnerConfig struct {
	Alpha    float64   `yaml:"alpha"`    // weight of the fresh reward
	Lookback int       `yaml:"lookback"` // history length L
	Weights  []float64 `yaml:"weights"`  // applied to history oldest first; len <= lookback
}

// RewardBucket maps strengths strictly below Below to Reward.
type RewardBucket struct {
	Below  float64 `yaml:"below"`
	Reward float64 `yaml:"reward"`
}

// Config holds the per-channel learner settings and the score weights.
type Config struct {
	NoiseWeight    float64        `yaml:"noise_weight"`
	HistoricWeight float64        `yaml:"historic_weight"`
	Noise          LearnerConfig  `yaml:"noise"`
	Historic       LearnerConfig  `yaml:"historic"`
	RewardTable    []RewardBucket `yaml:"reward_table"` // ascending by Below
}

// DefaultRewardTable maps linear signal strength to a noise reward.
func DefaultRewardTable() []RewardBucket {
	return []RewardBucket{
		{Below: 1e-6, Reward: 1.0},
		{Below: 1e-5, Reward: 0.75},
		{Below: 3e-5, Reward: 0.50},
		{Below: 6e-5, Reward: 0.25},
		{Below: 1e-3, Reward: 0.10},
	}
}

// DefaultConfig returns equal noise/historic weighting with a three-deep history.
func DefaultConfig() Config {
	return Config{
		NoiseWeight:    0.5,
		HistoricWeight: 0.5,
		Noise:          LearnerConfig{Alpha: 0.5, Lookback: 3, Weights: []float64{0.2, 0.35, 0.45}},
		Historic:       LearnerConfig{Alpha: 0.5, Lookback: 3, Weights: []float64{0.2, 0.35, 0.45}},
		RewardTable:    DefaultRewardTable(),
	}
}

// Validate checks a single learner's settings.
func (c LearnerConfig) Validate() error {
	if math.IsNaN(c.Alpha) || c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be within [0,1] (got %v)", ErrInvalidConfig, c.Alpha)
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("%w: lookback must be > 0 (got %d)", ErrInvalidConfig, c.Lookback)
	}
	if len(c.Weights) > c.Lookback {
		return fmt.Errorf("%w: %d weights exceed lookback %d", ErrInvalidConfig, len(c.Weights), c.Lookback)
	}
	for i, w := range c.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: weight %d must be finite and >= 0 (got %v)", ErrInvalidConfig, i, w)
		}
	}
	return nil
}

// Validate checks every section of the ranker configuration.
func (c Config) Validate() error {
	for _, w := range []struct {
		name string
		v    float64
	}{{"noise_weight", c.NoiseWeight}, {"historic_weight", c.HistoricWeight}} {
		if math.IsNaN(w.v) || math.IsInf(w.v, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidConfig, w.name)
		}
	}
	if err := c.Noise.Validate(); err != nil {
		return fmt.Errorf("noise learner: %w", err)
	}
	if err := c.Historic.Validate(); err != nil {
		return fmt.Errorf("historic learner: %w", err)
	}
	if len(c.RewardTable) == 0 {
		return fmt.Errorf("%w: reward table is empty", ErrInvalidConfig)
	}
	for i, b := range c.RewardTable {
		if math.IsNaN(b.Below) || math.IsInf(b.Below, 0) {
			return fmt.Errorf("%w: reward bucket %d bound must be finite", ErrInvalidConfig, i)
		}
		if math.IsNaN(b.Reward) || b.Reward < 0 || b.Reward > 1 {
			return fmt.Errorf("%w: reward bucket %d reward must be within [0,1] (got %v)", ErrInvalidConfig, i, b.Reward)
		}
		if i > 0 && b.Below <= c.RewardTable[i-1].Below {
			return fmt.Errorf("%w: reward table must be strictly ascending at bucket %d", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Fingerprint hashes the learner-shaping settings. Histories saved under one
// fingerprint are only meaningful to a registry built with the same one.
func (c Config) Fingerprint() uint64 {
	var b strings.Builder
	writeLearner := func(tag string, lc LearnerConfig) {
		b.WriteString(tag)
		b.WriteString(strconv.FormatFloat(lc.Alpha, 'g', -1, 64))
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(lc.Lookback))
		for _, w := range lc.Weights {
			b.WriteByte('|')
			b.WriteString(strconv.FormatFloat(w, 'g', -1, 64))
		}
		b.WriteByte(';')
	}
	writeLearner("n:", c.Noise)
	writeLearner("h:", c.Historic)
	for _, rb := range c.RewardTable {
		b.WriteString(strconv.FormatFloat(rb.Below, 'g', -1, 64))
		b.WriteByte('>')
		b.WriteString(strconv.FormatFloat(rb.Reward, 'g', -1, 64))
		b.WriteByte(';')
	}
	return xxh3.HashString(b.String())
}
