package feedback

import (
	"errors"
	"testing"
	"time"
)

func TestTimeGateConsultsOnFirstCycle(t *testing.T) {
	g, err := NewTimeGate(DefaultTimeConfig())
	if err != nil {
		t.Fatalf("NewTimeGate: %v", err)
	}
	g.Wait(time.Unix(100, 0))
	if !g.ShouldConsult() {
		t.Fatalf("expected first cycle to consult ground truth")
	}
}

func TestTimeGateIgnoresZeroTimestamp(t *testing.T) {
	g, err := NewTimeGate(TimeConfig{InitialMS: 1000, MinMS: 250, MaxMS: 4000, WidenFactor: 2, NarrowFactor: 0.5})
	if err != nil {
		t.Fatalf("NewTimeGate: %v", err)
	}
	start := time.Unix(1000, 0)
	g.Wait(start)
	g.Widen()
	g.Wait(start.Add(500 * time.Millisecond))
	if g.ShouldConsult() {
		t.Fatalf("expected gate closed 0.5s into a 2s interval")
	}
	g.Wait(time.Time{})
	if g.ShouldConsult() {
		t.Fatalf("a zero timestamp must not open the gate")
	}
	g.Widen()
	g.Wait(start.Add(2500 * time.Millisecond))
	if g.ShouldConsult() {
		t.Fatalf("expected timer restarted at the last real timestamp, not the zero one")
	}
	g.Wait(start.Add(4500 * time.Millisecond))
	if !g.ShouldConsult() {
		t.Fatalf("expected gate open 4s after the last real timestamp")
	}
}

func TestTimeGateWidenAndNarrow(t *testing.T) {
	g, err := NewTimeGate(TimeConfig{InitialMS: 1000, MinMS: 250, MaxMS: 4000, WidenFactor: 2, NarrowFactor: 0.5})
	if err != nil {
		t.Fatalf("NewTimeGate: %v", err)
	}
	start := time.Unix(1000, 0)
	g.Wait(start)
	g.Widen()
	if g.Interval() != 2*time.Second {
		t.Fatalf("expected 2s after widen, got %s", g.Interval())
	}

	g.Wait(start.Add(1500 * time.Millisecond))
	if g.ShouldConsult() {
		t.Fatalf("expected gate closed 1.5s into a 2s interval")
	}
	g.Wait(start.Add(2 * time.Second))
	if !g.ShouldConsult() {
		t.Fatalf("expected gate open once the interval elapsed")
	}

	g.Narrow()
	if g.Interval() != time.Second {
		t.Fatalf("expected 1s after narrow, got %s", g.Interval())
	}
	g.Wait(start.Add(2500 * time.Millisecond))
	if g.ShouldConsult() {
		t.Fatalf("expected poll timer to restart at the narrow")
	}
	g.Wait(start.Add(3 * time.Second))
	if !g.ShouldConsult() {
		t.Fatalf("expected gate open 1s after the last poll")
	}
}

func TestTimeGateClampsInterval(t *testing.T) {
	g, err := NewTimeGate(TimeConfig{InitialMS: 10000, MinMS: 100, MaxMS: 800, WidenFactor: 3, NarrowFactor: 0.1})
	if err != nil {
		t.Fatalf("NewTimeGate: %v", err)
	}
	if g.Interval() != 800*time.Millisecond {
		t.Fatalf("expected initial interval clamped to max, got %s", g.Interval())
	}
	for i := 0; i < 5; i++ {
		g.Widen()
	}
	if g.Interval() != 800*time.Millisecond {
		t.Fatalf("expected widen to stay at max, got %s", g.Interval())
	}
	prev := g.Interval()
	for i := 0; i < 5; i++ {
		g.Narrow()
		if g.Interval() > prev {
			t.Fatalf("narrow must never lengthen the interval")
		}
		prev = g.Interval()
	}
	if g.Interval() != 100*time.Millisecond {
		t.Fatalf("expected narrow to stop at min, got %s", g.Interval())
	}
}

func TestTimeGateKeepsConsultingUntilLabelArrives(t *testing.T) {
	g, err := NewTimeGate(DefaultTimeConfig())
	if err != nil {
		t.Fatalf("NewTimeGate: %v", err)
	}
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		g.Wait(now.Add(time.Duration(i) * time.Millisecond))
		if !g.ShouldConsult() {
			t.Fatalf("cycle %d: expected gate to stay open while no label was used", i)
		}
	}
}

func TestCycleGate(t *testing.T) {
	g, err := NewCycleGate(CycleConfig{Initial: 1, Min: 1, Max: 3, Step: 1})
	if err != nil {
		t.Fatalf("NewCycleGate: %v", err)
	}
	g.Wait(time.Time{})
	if !g.ShouldConsult() {
		t.Fatalf("expected first cycle to consult")
	}
	g.Widen()
	g.Wait(time.Time{})
	if g.ShouldConsult() {
		t.Fatalf("expected interval 2 to skip one cycle")
	}
	g.Wait(time.Time{})
	if !g.ShouldConsult() {
		t.Fatalf("expected consult on the second cycle")
	}
	g.Widen()
	g.Widen()
	if g.Interval() != 3 {
		t.Fatalf("expected interval clamped to 3, got %d", g.Interval())
	}
	g.Narrow()
	g.Narrow()
	g.Narrow()
	if g.Interval() != 1 {
		t.Fatalf("expected interval clamped to 1, got %d", g.Interval())
	}
}

func TestNewSelectsVariant(t *testing.T) {
	p, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(*TimeGate); !ok {
		t.Fatalf("expected default policy to be *TimeGate, got %T", p)
	}
	cfg := DefaultConfig()
	cfg.Kind = " Cycle "
	p, err = New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(*CycleGate); !ok {
		t.Fatalf("expected *CycleGate, got %T", p)
	}
	cfg.Kind = "random"
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unknown kind, got %v", err)
	}
}

func TestTimeConfigValidation(t *testing.T) {
	bad := []TimeConfig{
		{InitialMS: 1, MinMS: 0, MaxMS: 10, WidenFactor: 2, NarrowFactor: 0.5},
		{InitialMS: 1, MinMS: 10, MaxMS: 5, WidenFactor: 2, NarrowFactor: 0.5},
		{InitialMS: 1, MinMS: 1, MaxMS: 5, WidenFactor: 1, NarrowFactor: 0.5},
		{InitialMS: 1, MinMS: 1, MaxMS: 5, WidenFactor: 2, NarrowFactor: 1},
	}
	for i, cfg := range bad {
		if _, err := NewTimeGate(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}
