package main

import (
	"math"
	"math/rand"

	"cogradio/config"
	"cogradio/confusion"
	"cogradio/qrank"

	"github.com/mjibson/go-dsp/fft"
)

// channelModel is one simulated channel: a fixed noise power and a two-state
// Markov occupancy.
type channelModel struct {
	noise    float64
	occupied bool
	toneBin  int
}

// spectrum is the shared radio environment. It is driven from a single
// goroutine.
type spectrum struct {
	rng      *rand.Rand
	channels []channelModel
	pOccupy  float64
	pRelease float64
	signal   float64
	fftSize  int
}

// newSpectrum draws each channel's noise floor log-uniformly from
// [NoiseFloorMin, NoiseFloorMax].
func newSpectrum(sim config.SimulationConfig, rng *rand.Rand) *spectrum {
	s := &spectrum{
		rng:      rng,
		channels: make([]channelModel, sim.Channels),
		pOccupy:  sim.OccupyProbability,
		pRelease: sim.ReleaseProbability,
		signal:   sim.SignalPower,
		fftSize:  sim.FFTSize,
	}
	lo, hi := math.Log(sim.NoiseFloorMin), math.Log(sim.NoiseFloorMax)
	for i := range s.channels {
		s.channels[i] = channelModel{
			noise:   math.Exp(lo + rng.Float64()*(hi-lo)),
			toneBin: 1 + i%(max(sim.FFTSize-1, 1)),
		}
	}
	return s
}

// advance moves every channel one Markov step.
func (s *spectrum) advance() {
	for i := range s.channels {
		ch := &s.channels[i]
		if ch.occupied {
			if s.rng.Float64() < s.pRelease {
				ch.occupied = false
			}
		} else if s.rng.Float64() < s.pOccupy {
			ch.occupied = true
		}
	}
}

func (s *spectrum) state(ch int) confusion.State {
	if s.channels[ch].occupied {
		return confusion.Occupied
	}
	return confusion.Free
}

// energyBins synthesizes one block of complex baseband samples for ch (noise,
// plus a tone when occupied) and returns the per-bin energy |X_k|^2 / N.
// By Parseval the mean of the bins equals the block's mean sample power.
func (s *spectrum) energyBins(ch int) []float64 {
	m := s.channels[ch]
	n := s.fftSize
	sigma := math.Sqrt(m.noise / 2)
	amp := math.Sqrt(s.signal)
	x := make([]complex128, n)
	for i := range x {
		re := s.rng.NormFloat64() * sigma
		im := s.rng.NormFloat64() * sigma
		if m.occupied {
			phase := 2 * math.Pi * float64(m.toneBin) * float64(i) / float64(n)
			re += amp * math.Cos(phase)
			im += amp * math.Sin(phase)
		}
		x[i] = complex(re, im)
	}
	freq := fft.FFT(x)
	bins := make([]float64, n)
	for k, v := range freq {
		bins[k] = (real(v)*real(v) + imag(v)*imag(v)) / float64(n)
	}
	return bins
}

func (s *spectrum) strength(ch int) float64 {
	bins := s.energyBins(ch)
	var sum float64
	for _, b := range bins {
		sum += b
	}
	return sum / float64(len(bins))
}

// rankingMatrix takes subSenses strength measurements per channel and labels
// each against the radio's current threshold.
func (s *spectrum) rankingMatrix(subSenses int, threshold float64) []qrank.ChannelBatch {
	matrix := make([]qrank.ChannelBatch, len(s.channels))
	for ch := range s.channels {
		obs := make([]qrank.Observation, subSenses)
		for i := range obs {
			strength := s.strength(ch)
			dec := confusion.Free
			if strength > threshold {
				dec = confusion.Occupied
			}
			obs[i] = qrank.Observation{Strength: strength, Decision: dec}
		}
		matrix[ch] = qrank.ChannelBatch{Channel: qrank.ChannelID(ch), Observations: obs}
	}
	return matrix
}

// oracle answers ground-truth polls for the channel a radio is sensing, but
// only with probability availability.
type oracle struct {
	env          *spectrum
	sensed       *int
	availability float64
}

func (o *oracle) Poll() (confusion.State, bool) {
	if o.env.rng.Float64() >= o.availability {
		return confusion.Free, false
	}
	return o.env.state(*o.sensed), true
}
