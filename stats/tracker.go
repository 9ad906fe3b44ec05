// Package stats tracks sensing-loop counters (cycles, ground-truth polls,
// outcome classes, ranking passes) for periodic console output.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker accumulates counters for one or more sessions. It is safe for
// concurrent use so a reporter goroutine can read while the loop writes.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-cycle increments don't fight over a mutex
	outcomeCounts  sync.Map // "00".."11" -> *atomic.Uint64
	decisionCounts sync.Map // "free"/"occupied" -> *atomic.Uint64
	start          atomic.Int64
	cycles         atomic.Uint64
	consulted      atomic.Uint64
	labeled        atomic.Uint64
	correct        atomic.Uint64
	incorrect      atomic.Uint64
	rankPasses     atomic.Uint64
	rejected       atomic.Uint64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// RecordCycle counts one completed sensing cycle and its final decision.
func (t *Tracker) RecordCycle(final string) {
	if t == nil {
		return
	}
	t.cycles.Add(1)
	incrementCounter(&t.decisionCounts, final)
}

// RecordConsult counts a ground-truth poll, whether or not it returned a label.
func (t *Tracker) RecordConsult() {
	if t == nil {
		return
	}
	t.consulted.Add(1)
}

// RecordOutcome counts a labeled decision by its confusion class.
func (t *Tracker) RecordOutcome(outcome string, correct bool) {
	if t == nil {
		return
	}
	t.labeled.Add(1)
	if correct {
		t.correct.Add(1)
	} else {
		t.incorrect.Add(1)
	}
	incrementCounter(&t.outcomeCounts, outcome)
}

// RecordRankPass counts one ranking evaluation.
func (t *Tracker) RecordRankPass() {
	if t == nil {
		return
	}
	t.rankPasses.Add(1)
}

// RecordRejected counts a batch rejected by validation.
func (t *Tracker) RecordRejected() {
	if t == nil {
		return
	}
	t.rejected.Add(1)
}

// Cycles returns the number of completed sensing cycles.
func (t *Tracker) Cycles() uint64 { return t.cycles.Load() }

// Consulted returns the number of ground-truth polls.
func (t *Tracker) Consulted() uint64 { return t.consulted.Load() }

// Labeled returns the number of cycles that consumed a label.
func (t *Tracker) Labeled() uint64 { return t.labeled.Load() }

// Correct returns the number of labeled cycles whose hypothesis matched.
func (t *Tracker) Correct() uint64 { return t.correct.Load() }

// Incorrect returns the number of labeled cycles whose hypothesis missed.
func (t *Tracker) Incorrect() uint64 { return t.incorrect.Load() }

// RankPasses returns the number of ranking evaluations.
func (t *Tracker) RankPasses() uint64 { return t.rankPasses.Load() }

// Rejected returns the number of rejected batches.
func (t *Tracker) Rejected() uint64 { return t.rejected.Load() }

// OutcomeCounts returns a copy of the per-class counts.
func (t *Tracker) OutcomeCounts() map[string]uint64 {
	return copyCounts(&t.outcomeCounts)
}

// DecisionCounts returns a copy of the final-decision counts.
func (t *Tracker) DecisionCounts() map[string]uint64 {
	return copyCounts(&t.decisionCounts)
}

// Accuracy is correct/labeled, or 0 before the first label.
func (t *Tracker) Accuracy() float64 {
	labeled := t.labeled.Load()
	if labeled == 0 {
		return 0
	}
	return float64(t.correct.Load()) / float64(labeled)
}

// Uptime returns the time since the tracker was created.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(time.Unix(0, t.start.Load()))
}

// SnapshotLines formats the counters for console output.
func (t *Tracker) SnapshotLines() []string {
	lines := make([]string, 0, 4)
	lines = append(lines, fmt.Sprintf("Cycles: %s (polled %s, labeled %s, rejected %s)",
		humanize.Comma(int64(t.cycles.Load())),
		humanize.Comma(int64(t.consulted.Load())),
		humanize.Comma(int64(t.labeled.Load())),
		humanize.Comma(int64(t.rejected.Load()))))
	lines = append(lines, fmt.Sprintf("Accuracy: %.1f%% (%s correct, %s incorrect)",
		t.Accuracy()*100,
		humanize.Comma(int64(t.correct.Load())),
		humanize.Comma(int64(t.incorrect.Load()))))
	lines = append(lines, formatMapCounts("Outcomes", &t.outcomeCounts))
	lines = append(lines, formatMapCounts("Decisions", &t.decisionCounts))
	return lines
}

func copyCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func formatMapCounts(label string, counts *sync.Map) string {
	snapshot := copyCounts(counts)
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%s", k, humanize.Comma(int64(snapshot[k])))
	}
	if len(keys) == 0 {
		builder.WriteString("(none)")
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
