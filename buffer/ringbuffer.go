// Package buffer provides the bounded FIFO history used by the channel
// Q-value learners. Once the ring is full, each Push evicts the oldest value,
// so the buffer always holds the most recent Capacity values in arrival order.
package buffer

// RingBuffer is a fixed-capacity circular buffer of float64 values. It is not
// safe for concurrent use; every learner owns its own ring.
type RingBuffer struct {
	slots    []float64
	capacity int
	total    uint64 // Total values pushed (may exceed capacity)
}

// NewRingBuffer allocates a ring with the given capacity. A non-positive
// capacity is treated as 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		slots:    make([]float64, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest value when the ring is full.
func (rb *RingBuffer) Push(v float64) {
	idx := rb.total % uint64(rb.capacity)
	rb.slots[idx] = v
	rb.total++
}

// Len returns the number of values currently held.
func (rb *RingBuffer) Len() int {
	if rb.total > uint64(rb.capacity) {
		return rb.capacity
	}
	return int(rb.total)
}

// Capacity returns the maximum number of values retained.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// At returns the i-th retained value, 0 being the oldest.
func (rb *RingBuffer) At(i int) float64 {
	n := rb.Len()
	if i < 0 || i >= n {
		return 0
	}
	start := rb.total - uint64(n)
	return rb.slots[(start+uint64(i))%uint64(rb.capacity)]
}

// Last returns the newest value, or 0 when the ring is empty.
func (rb *RingBuffer) Last() float64 {
	if rb.total == 0 {
		return 0
	}
	return rb.slots[(rb.total-1)%uint64(rb.capacity)]
}

// Values returns the retained values oldest first.
func (rb *RingBuffer) Values() []float64 {
	n := rb.Len()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = rb.At(i)
	}
	return out
}

// GetCount returns the total number of values pushed (may be > capacity).
func (rb *RingBuffer) GetCount() int {
	return int(rb.total)
}
