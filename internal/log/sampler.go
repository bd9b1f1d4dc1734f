package log

import "sync/atomic"

// Sampler lets one in every N events through. It is used to keep per-block
// diagnostics (dropped frames, absent peers) from flooding the log.
type Sampler struct {
	every uint64
	n     atomic.Uint64
}

// NewSampler returns a sampler admitting every n-th event. n <= 1 admits all.
func NewSampler(n int) *Sampler {
	if n < 1 {
		n = 1
	}
	return &Sampler{every: uint64(n)}
}

// Allow records an event and reports whether it should be logged.
// The first event is always allowed.
func (s *Sampler) Allow() bool {
	return (s.n.Add(1)-1)%s.every == 0
}

// Count returns the number of events seen.
func (s *Sampler) Count() uint64 {
	return s.n.Load()
}
