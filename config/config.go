// Package config loads the sensing configuration from YAML. Every section is
// owned by the component it configures; this package only aggregates them,
// fills zero values and validates the result.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cogradio/feedback"
	"cogradio/logging"
	"cogradio/qrank"
	"cogradio/recorder"
	"cogradio/session"
	"cogradio/threshold"

	"gopkg.in/yaml.v3"
)

// Config represents the complete sensing configuration.
type Config struct {
	Threshold  threshold.Config `yaml:"threshold"`
	Feedback   feedback.Config  `yaml:"feedback"`
	Ranker     qrank.Config     `yaml:"ranker"`
	Recorder   recorder.Config  `yaml:"recorder"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    logging.Config   `yaml:"logging"`
	Simulation SimulationConfig `yaml:"simulation"`

	// LoadedFrom is the file or directory the config was read from.
	LoadedFrom string `yaml:"-"`
}

// CheckpointConfig controls the Pebble checkpoint of ranker histories.
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SimulationConfig drives cmd/sensesim.
type SimulationConfig struct {
	Radios               []string `yaml:"radios"`
	Channels             int      `yaml:"channels"`
	FFTSize              int      `yaml:"fft_size"`
	Cycles               int      `yaml:"cycles"`
	CycleMS              int      `yaml:"cycle_ms"`
	RankEvery            int      `yaml:"rank_every"`
	SubSenses            int      `yaml:"sub_senses"`
	FeedbackAvailability float64  `yaml:"feedback_availability"` // probability a poll returns a label
	OccupyProbability    float64  `yaml:"occupy_probability"`    // free -> occupied per cycle
	ReleaseProbability   float64  `yaml:"release_probability"`   // occupied -> free per cycle
	NoiseFloorMin        float64  `yaml:"noise_floor_min"`       // per-channel noise power range
	NoiseFloorMax        float64  `yaml:"noise_floor_max"`
	SignalPower          float64  `yaml:"signal_power"`
	Seed                 int64    `yaml:"seed"`
}

// Default returns a config with every section at its component default.
func Default() Config {
	return Config{
		Threshold:  threshold.DefaultConfig(),
		Feedback:   feedback.DefaultConfig(),
		Ranker:     qrank.DefaultConfig(),
		Recorder:   recorder.DefaultConfig(),
		Checkpoint: CheckpointConfig{Enabled: false, Path: "data/qstore"},
		Logging:    logging.DefaultConfig(),
		Simulation: defaultSimulation(),
	}
}

func defaultSimulation() SimulationConfig {
	return SimulationConfig{
		Radios:               []string{"radio-1"},
		Channels:             8,
		FFTSize:              64,
		Cycles:               2000,
		CycleMS:              100,
		RankEvery:            50,
		SubSenses:            5,
		FeedbackAvailability: 0.6,
		OccupyProbability:    0.2,
		ReleaseProbability:   0.3,
		NoiseFloorMin:        1e-7,
		NoiseFloorMax:        1e-4,
		SignalPower:          5e-3,
		Seed:                 1,
	}
}

// Load reads a YAML file, or every *.yaml/*.yml file of a directory in
// lexical order, over the defaults. Later files override earlier ones key by
// key; lists are replaced whole.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	cfg := Default()
	if path == "" {
		cfg.normalize()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	files, err := configFiles(path)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", file, err)
		}
	}
	cfg.LoadedFrom = path
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("config: read dir %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("config: no yaml files in %s", path)
	}
	sort.Strings(files)
	return files, nil
}

// normalize fills zero values left by partial YAML files.
func (c *Config) normalize() {
	c.Feedback.Kind = strings.ToLower(strings.TrimSpace(c.Feedback.Kind))
	if c.Feedback.Kind == "" {
		c.Feedback.Kind = feedback.KindTime
	}
	if len(c.Ranker.RewardTable) == 0 {
		c.Ranker.RewardTable = qrank.DefaultRewardTable()
	}
	if c.Recorder.QueueSize <= 0 {
		c.Recorder.QueueSize = recorder.DefaultConfig().QueueSize
	}
	if strings.TrimSpace(c.Recorder.Path) == "" {
		c.Recorder.Path = recorder.DefaultConfig().Path
	}
	if strings.TrimSpace(c.Checkpoint.Path) == "" {
		c.Checkpoint.Path = Default().Checkpoint.Path
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = logging.DefaultConfig().Dir
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = logging.DefaultConfig().RetentionDays
	}

	def := defaultSimulation()
	sim := &c.Simulation
	radios := sim.Radios[:0]
	for _, r := range sim.Radios {
		if r = strings.TrimSpace(r); r != "" {
			radios = append(radios, r)
		}
	}
	sim.Radios = radios
	if len(sim.Radios) == 0 {
		sim.Radios = def.Radios
	}
	if sim.Channels <= 0 {
		sim.Channels = def.Channels
	}
	if sim.FFTSize <= 0 {
		sim.FFTSize = def.FFTSize
	}
	if sim.Cycles <= 0 {
		sim.Cycles = def.Cycles
	}
	if sim.CycleMS <= 0 {
		sim.CycleMS = def.CycleMS
	}
	if sim.RankEvery <= 0 {
		sim.RankEvery = def.RankEvery
	}
	if sim.SubSenses <= 0 {
		sim.SubSenses = def.SubSenses
	}
	if sim.SignalPower <= 0 {
		sim.SignalPower = def.SignalPower
	}
	if sim.NoiseFloorMin <= 0 {
		sim.NoiseFloorMin = def.NoiseFloorMin
	}
	if sim.NoiseFloorMax < sim.NoiseFloorMin {
		sim.NoiseFloorMax = sim.NoiseFloorMin
	}
}

// Validate runs every component's checks plus the simulation bounds.
func (c *Config) Validate() error {
	if err := c.Threshold.Validate(); err != nil {
		return fmt.Errorf("config: threshold: %w", err)
	}
	if err := c.Feedback.Validate(); err != nil {
		return fmt.Errorf("config: feedback: %w", err)
	}
	if err := c.Ranker.Validate(); err != nil {
		return fmt.Errorf("config: ranker: %w", err)
	}
	sim := c.Simulation
	for name, p := range map[string]float64{
		"feedback_availability": sim.FeedbackAvailability,
		"occupy_probability":    sim.OccupyProbability,
		"release_probability":   sim.ReleaseProbability,
	} {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("config: simulation.%s must be within [0,1] (got %v)", name, p)
		}
	}
	if sim.FFTSize&(sim.FFTSize-1) != 0 {
		return fmt.Errorf("config: simulation.fft_size must be a power of two (got %d)", sim.FFTSize)
	}
	seen := make(map[string]bool, len(sim.Radios))
	for _, r := range sim.Radios {
		if strings.Contains(r, "|") {
			return fmt.Errorf("config: simulation radio %q must not contain '|'", r)
		}
		if seen[r] {
			return fmt.Errorf("config: simulation radio %q listed twice", r)
		}
		seen[r] = true
	}
	return nil
}

// Session returns the per-radio session settings.
func (c *Config) Session() session.Config {
	return session.Config{
		Threshold: c.Threshold,
		Feedback:  c.Feedback,
		Ranker:    c.Ranker,
	}
}

// ApplyEnv overrides output paths from prefix-named variables:
// <prefix>RECORDER_PATH, <prefix>CHECKPOINT_PATH and <prefix>LOG_DIR.
// getenv is usually os.Getenv.
func (c *Config) ApplyEnv(prefix string, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(prefix + "RECORDER_PATH")); v != "" {
		c.Recorder.Path = v
		c.Recorder.Enabled = true
	}
	if v := strings.TrimSpace(getenv(prefix + "CHECKPOINT_PATH")); v != "" {
		c.Checkpoint.Path = v
		c.Checkpoint.Enabled = true
	}
	if v := strings.TrimSpace(getenv(prefix + "LOG_DIR")); v != "" {
		c.Logging.Dir = v
	}
}

// Print displays the effective configuration.
func (c *Config) Print() {
	fmt.Printf("Threshold: initial=%g limits=[%g, %g] step=%g miss_cost=%g\n",
		c.Threshold.Initial, c.Threshold.MinLimit, c.Threshold.MaxLimit, c.Threshold.Step, c.Threshold.MissCost)
	switch c.Feedback.Kind {
	case feedback.KindCycle:
		fmt.Printf("Feedback: cycle gate interval=%d [%d, %d] step=%d\n",
			c.Feedback.Cycle.Initial, c.Feedback.Cycle.Min, c.Feedback.Cycle.Max, c.Feedback.Cycle.Step)
	default:
		fmt.Printf("Feedback: time gate interval=%dms [%d, %d] widen=%g narrow=%g\n",
			c.Feedback.Time.InitialMS, c.Feedback.Time.MinMS, c.Feedback.Time.MaxMS,
			c.Feedback.Time.WidenFactor, c.Feedback.Time.NarrowFactor)
	}
	fmt.Printf("Ranker: weights noise=%g historic=%g lookback=%d/%d\n",
		c.Ranker.NoiseWeight, c.Ranker.HistoricWeight, c.Ranker.Noise.Lookback, c.Ranker.Historic.Lookback)
	if c.Recorder.Enabled {
		fmt.Printf("Recorder: %s (queue %d)\n", c.Recorder.Path, c.Recorder.QueueSize)
	}
	if c.Checkpoint.Enabled {
		fmt.Printf("Checkpoint: %s\n", c.Checkpoint.Path)
	}
	fmt.Printf("Simulation: radios=%s channels=%d cycles=%d rank_every=%d\n",
		strings.Join(c.Simulation.Radios, ","), c.Simulation.Channels, c.Simulation.Cycles, c.Simulation.RankEvery)
}
