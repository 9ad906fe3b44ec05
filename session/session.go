// Package session runs one radio's sensing loop: it asks the feedback policy
// whether ground truth is due, hands any label to the threshold learner, takes
// the decision and adapts the polling rate to whether the decision was right.
//
// Purpose: keep the learner, policy and ranker of one radio together with
// explicit state, so several radios can run side by side without sharing.
// Upstream: energy batches and ranking matrices from the receiver.
// Downstream: optional Sink (recorder) and stats.Tracker.
package session

import (
	"errors"
	"fmt"
	"time"

	"cogradio/confusion"
	"cogradio/feedback"
	"cogradio/qrank"
	"cogradio/stats"
	"cogradio/threshold"

	"github.com/google/uuid"
)

// ErrZeroTime is returned when a cycle is stepped without a timestamp.
var ErrZeroTime = errors.New("session: zero timestamp")

// Config bundles the per-component configuration of a session.
type Config struct {
	Threshold threshold.Config
	Feedback  feedback.Config
	Ranker    qrank.Config
}

// DefaultConfig returns component defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: threshold.DefaultConfig(),
		Feedback:  feedback.DefaultConfig(),
		Ranker:    qrank.DefaultConfig(),
	}
}

// GroundTruth supplies labels on demand. Poll must not block; it returns
// false when no label is available this cycle.
type GroundTruth interface {
	Poll() (confusion.State, bool)
}

// GroundTruthFunc adapts a function to GroundTruth.
type GroundTruthFunc func() (confusion.State, bool)

// Poll calls f.
func (f GroundTruthFunc) Poll() (confusion.State, bool) { return f() }

// Record is one sensing cycle as handed to a Sink.
type Record struct {
	SessionID  string
	Cycle      uint64
	Time       time.Time
	Energy     float64
	Threshold  float64
	Hypothesis confusion.State
	Final      confusion.State
	Consulted  bool
	Labeled    bool
	Outcome    confusion.Outcome // valid only when Labeled

	// Statistics of the operating threshold after the cycle.
	Risk float64
	PD   float64
	PF   float64
	PM   float64
}

// Sink receives cycle records and ranking results. Implementations must not
// block the caller.
type Sink interface {
	RecordDecision(rec Record)
	RecordScores(sessionID string, ts time.Time, ranked []qrank.Score)
}

// Checkpointer persists ranker histories. The fingerprint identifies the
// learner settings the histories were built with.
type Checkpointer interface {
	SaveRegistry(fingerprint uint64, states []qrank.ChannelState) error
	LoadRegistry(fingerprint uint64) ([]qrank.ChannelState, bool, error)
}

// StepResult is the outcome of one Step.
type StepResult struct {
	Cycle     uint64
	Decision  threshold.Decision
	Final     confusion.State // label when one was used, otherwise the hypothesis
	Consulted bool            // the policy was due and ground truth was polled
	Label     confusion.State // valid only when Decision.Labeled
}

// Session owns the state of one radio. It is not safe for concurrent use.
type Session struct {
	id       string
	learner  *threshold.Learner
	policy   feedback.Policy
	registry *qrank.Registry
	truth    GroundTruth
	sink     Sink
	stats    *stats.Tracker
	cycle    uint64
}

// New builds a session from cfg. truth may be nil, in which case the session
// never learns and only reports hypotheses.
func New(cfg Config, truth GroundTruth) (*Session, error) {
	learner, err := threshold.New(cfg.Threshold)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	policy, err := feedback.New(cfg.Feedback)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	registry, err := qrank.NewRegistry(cfg.Ranker)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &Session{
		id:       uuid.NewString(),
		learner:  learner,
		policy:   policy,
		registry: registry,
		truth:    truth,
	}, nil
}

// SetSink attaches an optional sink; nil detaches it.
func (s *Session) SetSink(sink Sink) {
	s.sink = sink
}

// SetTracker attaches an optional stats tracker; nil detaches it.
func (s *Session) SetTracker(t *stats.Tracker) {
	s.stats = t
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Learner exposes the threshold learner for inspection.
func (s *Session) Learner() *threshold.Learner { return s.learner }

// Policy exposes the feedback policy for inspection.
func (s *Session) Policy() feedback.Policy { return s.policy }

// Registry exposes the channel ranker for inspection.
func (s *Session) Registry() *qrank.Registry { return s.registry }

// Cycles returns the number of completed steps.
func (s *Session) Cycles() uint64 { return s.cycle }

// Step runs one sensing cycle at now over samples. The batch is validated
// before anything else; a rejected batch or a zero timestamp leaves the
// session untouched and ground truth unpolled.
func (s *Session) Step(now time.Time, samples []float64) (StepResult, error) {
	if now.IsZero() {
		s.stats.RecordRejected()
		return StepResult{}, ErrZeroTime
	}
	if _, err := threshold.MeanEnergy(samples); err != nil {
		s.stats.RecordRejected()
		return StepResult{}, fmt.Errorf("session: %w", err)
	}
	s.policy.Wait(now)

	consulted := false
	if s.truth != nil && s.policy.ShouldConsult() {
		consulted = true
		s.stats.RecordConsult()
		if label, ok := s.truth.Poll(); ok {
			if err := s.learner.SetFeedback(label); err != nil {
				return StepResult{}, fmt.Errorf("session: %w", err)
			}
		}
	}

	dec, err := s.learner.Decide(samples)
	if err != nil {
		return StepResult{}, fmt.Errorf("session: %w", err)
	}

	res := StepResult{
		Cycle:     s.cycle,
		Decision:  dec,
		Final:     dec.Hypothesis,
		Consulted: consulted,
	}
	if dec.Labeled {
		label, _ := s.learner.Feedback()
		res.Label = label
		res.Final = label
		correct := dec.Hypothesis == label
		if correct {
			s.policy.Widen()
		} else {
			s.policy.Narrow()
		}
		s.stats.RecordOutcome(dec.Outcome.String(), correct)
	}
	s.cycle++
	s.stats.RecordCycle(res.Final.String())

	if s.sink != nil {
		cur := s.learner.Current()
		s.sink.RecordDecision(Record{
			SessionID:  s.id,
			Cycle:      res.Cycle,
			Time:       now,
			Energy:     dec.Energy,
			Threshold:  dec.Threshold,
			Hypothesis: dec.Hypothesis,
			Final:      res.Final,
			Consulted:  consulted,
			Labeled:    dec.Labeled,
			Outcome:    dec.Outcome,
			Risk:       cur.Risk,
			PD:         cur.PD,
			PF:         cur.PF,
			PM:         cur.PM,
		})
	}
	return res, nil
}

// Rank evaluates one ranking matrix and returns the scores best-first.
func (s *Session) Rank(now time.Time, matrix []qrank.ChannelBatch) ([]qrank.Score, error) {
	if now.IsZero() {
		s.stats.RecordRejected()
		return nil, ErrZeroTime
	}
	scores, err := s.registry.Evaluate(matrix)
	if err != nil {
		s.stats.RecordRejected()
		return nil, fmt.Errorf("session: %w", err)
	}
	ranked := qrank.Rank(scores)
	s.stats.RecordRankPass()
	if s.sink != nil {
		s.sink.RecordScores(s.id, now, ranked)
	}
	return ranked, nil
}

// Checkpoint saves the ranker histories.
func (s *Session) Checkpoint(store Checkpointer) error {
	if store == nil {
		return nil
	}
	if err := store.SaveRegistry(s.registry.Config().Fingerprint(), s.registry.Snapshot()); err != nil {
		return fmt.Errorf("session: checkpoint: %w", err)
	}
	return nil
}

// RestoreFrom loads ranker histories saved under the same learner settings.
// It reports whether anything was restored.
func (s *Session) RestoreFrom(store Checkpointer) (bool, error) {
	if store == nil {
		return false, nil
	}
	states, ok, err := store.LoadRegistry(s.registry.Config().Fingerprint())
	if err != nil {
		return false, fmt.Errorf("session: restore: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := s.registry.Restore(states); err != nil {
		return false, fmt.Errorf("session: restore: %w", err)
	}
	return true, nil
}
