// Package frame provides the fixed-size arena of sample buffers that carries
// audio from the capture stage to the dispatch stage.
//
// A Pool owns N preallocated slots and hands them out round-robin. Unlike a
// bare ring of buffers, every slot carries an in-use bit: a slot is never
// reissued until the holder releases it, so a lagging consumer can never see
// its frame overwritten. When all slots are outstanding Acquire fails with
// ErrExhausted and the caller drops the frame.
package frame

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Common errors returned by the pool.
var (
	ErrExhausted = errors.New("frame: pool exhausted")
	ErrTooLarge  = errors.New("frame: sample count exceeds slot capacity")
	ErrNegative  = errors.New("frame: negative sample count")
	ErrNotOwned  = errors.New("frame: frame not held from this pool")
)

// Frame is a borrowed pool slot holding one filtered audio block.
// It stays valid until Release.
type Frame struct {
	pool *Pool
	slot int
	data []int32
	n    int

	peak       int32
	capturedAt time.Time
}

// Samples returns the frame's samples (length Len).
func (f *Frame) Samples() []int32 {
	return f.data[:f.n]
}

// Len returns the declared sample count.
func (f *Frame) Len() int {
	return f.n
}

// Cap returns the slot capacity in samples.
func (f *Frame) Cap() int {
	return len(f.data)
}

// Slot returns the pool slot index backing this frame.
func (f *Frame) Slot() int {
	return f.slot
}

// Peak returns the peak magnitude recorded by the capture stage.
func (f *Frame) Peak() int32 {
	return f.peak
}

// SetPeak records the block's peak magnitude for the encoder.
func (f *Frame) SetPeak(p int32) {
	f.peak = p
}

// CapturedAt returns when the block was read from the source.
func (f *Frame) CapturedAt() time.Time {
	return f.capturedAt
}

// SetCapturedAt stamps the capture time.
func (f *Frame) SetCapturedAt(t time.Time) {
	f.capturedAt = t
}

// Release returns the frame's slot to its pool.
func (f *Frame) Release() error {
	if f == nil || f.pool == nil {
		return ErrNotOwned
	}
	return f.pool.Release(f)
}

// Pool is a fixed arena of frame slots.
type Pool struct {
	mu     sync.Mutex
	frames []Frame
	inUse  []uint64 // one bit per slot
	next   int
	held   int

	slotSamples int
}

// NewPool preallocates slots buffers of slotSamples samples each.
func NewPool(slots, slotSamples int) (*Pool, error) {
	if slots < 1 {
		return nil, fmt.Errorf("frame: slots must be positive, got %d", slots)
	}
	if slotSamples < 1 {
		return nil, fmt.Errorf("frame: slot samples must be positive, got %d", slotSamples)
	}

	p := &Pool{
		frames:      make([]Frame, slots),
		inUse:       make([]uint64, (slots+63)/64),
		slotSamples: slotSamples,
	}

	// One backing array keeps the arena contiguous.
	backing := make([]int32, slots*slotSamples)
	for i := range p.frames {
		p.frames[i] = Frame{
			pool: p,
			slot: i,
			data: backing[i*slotSamples : (i+1)*slotSamples : (i+1)*slotSamples],
		}
	}
	return p, nil
}

// Acquire hands out the next free slot, sized to count samples.
func (p *Pool) Acquire(count int) (*Frame, error) {
	switch {
	case count < 0:
		return nil, fmt.Errorf("%w: %d", ErrNegative, count)
	case count > p.slotSamples:
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, count, p.slotSamples)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.held == len(p.frames) {
		return nil, ErrExhausted
	}

	for i := 0; i < len(p.frames); i++ {
		slot := (p.next + i) % len(p.frames)
		if p.busy(slot) {
			continue
		}

		p.setBusy(slot, true)
		p.held++
		p.next = (slot + 1) % len(p.frames)

		f := &p.frames[slot]
		f.n = count
		f.peak = 0
		f.capturedAt = time.Time{}
		return f, nil
	}

	return nil, ErrExhausted
}

// Release marks f's slot free again.
func (p *Pool) Release(f *Frame) error {
	if f == nil || f.pool != p {
		return ErrNotOwned
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.busy(f.slot) {
		return fmt.Errorf("%w: slot %d already released", ErrNotOwned, f.slot)
	}
	p.setBusy(f.slot, false)
	p.held--
	return nil
}

// InUse returns the number of outstanding frames.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// Slots returns the pool size.
func (p *Pool) Slots() int {
	return len(p.frames)
}

// SlotSamples returns the per-slot capacity in samples.
func (p *Pool) SlotSamples() int {
	return p.slotSamples
}

func (p *Pool) busy(slot int) bool {
	return p.inUse[slot/64]&(1<<uint(slot%64)) != 0
}

func (p *Pool) setBusy(slot int, v bool) {
	if v {
		p.inUse[slot/64] |= 1 << uint(slot%64)
	} else {
		p.inUse[slot/64] &^= 1 << uint(slot%64)
	}
}
