// Package metrics keeps in-memory statistics of processed migration requests.
package metrics

import (
	"sync"
	"time"
)

// DefaultCapacity is the default number of retained samples.
const DefaultCapacity = 1000

// Sample is the outcome of one processed request.
type Sample struct {
	Finished time.Time
	Duration time.Duration
	Failed   bool
}

// IsValid returns false for samples with a zero time or negative duration.
func (s Sample) IsValid() bool {
	return !s.Finished.IsZero() && s.Duration >= 0
}

// Summary aggregates samples.
type Summary struct {
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Mean      time.Duration `json:"mean"`
	Max       time.Duration `json:"max"`
	Last      time.Time     `json:"last,omitempty"`
}

// Requests is a fixed-size ring of request samples. It is safe for
// concurrent use; the oldest sample is evicted when full.
type Requests struct {
	mu       sync.RWMutex
	data     []Sample
	capacity int
	head     int // Next write position
	size     int
}

// NewRequests returns a ring holding up to capacity samples.
func NewRequests(capacity int) *Requests {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Requests{data: make([]Sample, capacity), capacity: capacity}
}

// Record adds a sample. Invalid samples are dropped.
func (r *Requests) Record(s Sample) {
	if !s.IsValid() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[r.head] = s
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Recent returns up to n of the latest samples, oldest first.
func (r *Requests) Recent(n int) []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.size == 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}

	out := make([]Sample, n)
	start := (r.head - n + r.capacity) % r.capacity
	for i := 0; i < n; i++ {
		out[i] = r.data[(start+i)%r.capacity]
	}
	return out
}

// Since summarizes the samples finished at or after since.
func (r *Requests) Since(since time.Time) Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sum Summary
	var total time.Duration
	oldest := (r.head - r.size + r.capacity) % r.capacity
	for i := 0; i < r.size; i++ {
		s := r.data[(oldest+i)%r.capacity]
		if s.Finished.Before(since) {
			continue
		}
		if s.Failed {
			sum.Failed++
		} else {
			sum.Completed++
		}
		total += s.Duration
		if s.Duration > sum.Max {
			sum.Max = s.Duration
		}
		if s.Finished.After(sum.Last) {
			sum.Last = s.Finished
		}
	}
	if n := sum.Completed + sum.Failed; n > 0 {
		sum.Mean = total / time.Duration(n)
	}
	return sum
}

// Len returns the number of retained samples.
func (r *Requests) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
