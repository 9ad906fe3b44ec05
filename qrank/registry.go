// Package qrank scores candidate channels for handoff. Each channel keeps two
// Q-value learners: one rewards a low noise floor observed while the channel
// was free, the other rewards a high idle ratio. Scores are comparable across
// channels of the same registry.
package qrank

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"cogradio/confusion"
)

// ErrInvalidBatch is returned by Evaluate when any batch is malformed. No
// channel is updated when it is returned.
var ErrInvalidBatch = errors.New("qrank: invalid batch")

// ChannelID identifies a candidate channel.
type ChannelID int

// ChannelBatch is one row of an evaluation matrix.
type ChannelBatch struct {
	Channel      ChannelID
	Observations []Observation
}

// Score is one row of Evaluate's output.
type Score struct {
	Channel  ChannelID
	Score    float64
	Noise    float64 // noise learner Q
	Historic float64 // historic learner Q
	Final    confusion.State
	Updates  int // batches this channel has seen since creation or restore
}

// ChannelState is the exported history of one channel.
type ChannelState struct {
	Channel  ChannelID `json:"channel"`
	Noise    []float64 `json:"noise"`
	Historic []float64 `json:"historic"`
}

// Registry owns the channels of one ranking session. It is not safe for
// concurrent use.
type Registry struct {
	cfg      Config
	channels map[ChannelID]*Channel
}

// NewRegistry validates cfg and returns an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.RewardTable = append([]RewardBucket(nil), cfg.RewardTable...)
	return &Registry{
		cfg:      cfg,
		channels: make(map[ChannelID]*Channel),
	}, nil
}

// Config returns the registry configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// Evaluate updates each channel in matrix order and returns one score per row.
// Channels are created on first sight. The whole matrix is validated before
// any channel changes.
func (r *Registry) Evaluate(matrix []ChannelBatch) ([]Score, error) {
	for i, row := range matrix {
		if err := validateBatch(row.Observations); err != nil {
			return nil, fmt.Errorf("row %d (channel %d): %w", i, row.Channel, err)
		}
	}
	out := make([]Score, 0, len(matrix))
	for _, row := range matrix {
		ch, ok := r.channels[row.Channel]
		if !ok {
			ch = newChannel(r.cfg)
			r.channels[row.Channel] = ch
		}
		final := majority(row.Observations)
		ch.update(final, row.Observations)
		out = append(out, Score{
			Channel:  row.Channel,
			Score:    ch.Score(),
			Noise:    ch.noise.Q(),
			Historic: ch.historic.Q(),
			Final:    final,
			Updates:  ch.historic.Updates(),
		})
	}
	return out, nil
}

func validateBatch(batch []Observation) error {
	if len(batch) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidBatch)
	}
	binaryStrengths := true
	for i, o := range batch {
		if !o.Decision.Valid() {
			return fmt.Errorf("%w: observation %d decision %d is not 0 or 1", ErrInvalidBatch, i, uint8(o.Decision))
		}
		if math.IsNaN(o.Strength) || math.IsInf(o.Strength, 0) {
			return fmt.Errorf("%w: observation %d strength is not finite", ErrInvalidBatch, i)
		}
		if o.Strength != 0 && o.Strength != 1 {
			binaryStrengths = false
		}
	}
	if binaryStrengths {
		return fmt.Errorf("%w: every strength is 0 or 1; strength and decision look swapped", ErrInvalidBatch)
	}
	return nil
}

// Channel returns the channel state for id, if it has been observed.
func (r *Registry) Channel(id ChannelID) (*Channel, bool) {
	ch, ok := r.channels[id]
	return ch, ok
}

// Len returns the number of known channels.
func (r *Registry) Len() int {
	return len(r.channels)
}

// Snapshot exports every channel's histories ordered by channel id.
func (r *Registry) Snapshot() []ChannelState {
	ids := make([]ChannelID, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]ChannelState, 0, len(ids))
	for _, id := range ids {
		ch := r.channels[id]
		out = append(out, ChannelState{
			Channel:  id,
			Noise:    ch.noise.History(),
			Historic: ch.historic.History(),
		})
	}
	return out
}

// Restore replaces the histories of the listed channels. Histories longer
// than the configured lookback keep their newest values.
func (r *Registry) Restore(states []ChannelState) error {
	for _, st := range states {
		for _, vals := range [][]float64{st.Noise, st.Historic} {
			for _, v := range vals {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("qrank: restore channel %d: non-finite history value", st.Channel)
				}
			}
		}
	}
	for _, st := range states {
		ch := newChannel(r.cfg)
		ch.noise.restore(st.Noise)
		ch.historic.restore(st.Historic)
		r.channels[st.Channel] = ch
	}
	return nil
}

// Rank returns scores sorted best first. Ties keep input order.
func Rank(scores []Score) []Score {
	out := append([]Score(nil), scores...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
