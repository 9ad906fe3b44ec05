package qrank

import "cogradio/confusion"

// Observation is one sub-sensing result inside a channel batch.
type Observation struct {
	Strength float64
	Decision confusion.State
}

// Channel combines a noise learner (fed only when the channel looked free)
// and a historic occupancy learner into one score.
type Channel struct {
	noise          *Learner
	historic       *Learner
	noiseWeight    float64
	historicWeight float64
	table          []RewardBucket
}

func newChannel(cfg Config) *Channel {
	return &Channel{
		noise:          newLearner(cfg.Noise),
		historic:       newLearner(cfg.Historic),
		noiseWeight:    cfg.NoiseWeight,
		historicWeight: cfg.HistoricWeight,
		table:          cfg.RewardTable,
	}
}

// update applies one validated batch.
func (c *Channel) update(final confusion.State, batch []Observation) {
	if final == confusion.Free {
		c.noise.Update(noiseReward(c.table, batch))
	}
	c.historic.Update(idleRatio(batch))
}

// Score is the weighted sum of both learners' current Q-values.
func (c *Channel) Score() float64 {
	return c.noiseWeight*c.noise.Q() + c.historicWeight*c.historic.Q()
}

// Noise returns the noise learner.
func (c *Channel) Noise() *Learner { return c.noise }

// Historic returns the historic occupancy learner.
func (c *Channel) Historic() *Learner { return c.historic }

// noiseReward averages the strength of free observations and maps it through
// the reward table.
func noiseReward(table []RewardBucket, batch []Observation) float64 {
	var sum float64
	count := 0
	for _, o := range batch {
		if o.Decision == confusion.Free {
			sum += o.Strength
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return lookupReward(table, sum/float64(count))
}

func lookupReward(table []RewardBucket, strength float64) float64 {
	for _, b := range table {
		if strength < b.Below {
			return b.Reward
		}
	}
	return 0
}

func idleRatio(batch []Observation) float64 {
	if len(batch) == 0 {
		return 0
	}
	idle := 0
	for _, o := range batch {
		if o.Decision == confusion.Free {
			idle++
		}
	}
	return float64(idle) / float64(len(batch))
}

// majority returns Occupied unless free observations strictly outnumber
// occupied ones.
func majority(batch []Observation) confusion.State {
	occupied := 0
	for _, o := range batch {
		if o.Decision == confusion.Occupied {
			occupied++
		}
	}
	if free := len(batch) - occupied; free > occupied {
		return confusion.Free
	}
	return confusion.Occupied
}
