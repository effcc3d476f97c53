package safety

import (
	"sync"

	"github.com/homeems/core/domain"
)

// ViolationRing is a fixed-capacity, thread-safe ring of SafetyViolation
// with the same O(1) evict-oldest discipline as domain.SampleRing —
// kept package-local since violations are safety-specific state, not a
// generally shared domain type.
type ViolationRing struct {
	mu       sync.Mutex
	buf      []domain.SafetyViolation
	capacity int
	start    int
	size     int
	total    int // cumulative count, including evicted entries
}

// NewViolationRing creates a ring holding at most capacity violations.
func NewViolationRing(capacity int) *ViolationRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &ViolationRing{buf: make([]domain.SafetyViolation, capacity), capacity: capacity}
}

// Push records a violation, evicting the oldest in O(1) if full.
func (r *ViolationRing) Push(v domain.SafetyViolation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if r.size < r.capacity {
		idx := (r.start + r.size) % r.capacity
		r.buf[idx] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % r.capacity
}

// Snapshot returns a copy of all retained violations, oldest first.
func (r *ViolationRing) Snapshot() []domain.SafetyViolation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SafetyViolation, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%r.capacity]
	}
	return out
}

// Total returns the cumulative count of violations ever pushed, including
// ones since evicted — used to verify "counted regardless of log
// rate-limiting" per spec.
func (r *ViolationRing) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
