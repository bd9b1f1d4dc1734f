package dsp

import (
	"errors"
	"math"
)

// DefaultTaps is a 17-tap voice-band design (~300 Hz to 3 kHz at 16 kHz).
var DefaultTaps = []float64{
	-0.0007, -0.0001, 0.0017, 0.0048, 0.0093, 0.0151,
	0.0217, 0.0283, 0.0340, 0.0378, 0.0390, 0.0378,
	0.0340, 0.0283, 0.0217, 0.0151, 0.0093,
}

// FIR is a streaming fixed-tap convolution filter. Its history persists
// across Apply calls so consecutive blocks filter as one continuous signal.
// A FIR is not safe for concurrent use; the capture goroutine owns it.
type FIR struct {
	taps    []float64
	history []int32
	idx     int
}

// NewFIR creates a filter with a copy of taps.
func NewFIR(taps []float64) (*FIR, error) {
	if len(taps) == 0 {
		return nil, errors.New("dsp: filter needs at least one tap")
	}
	t := make([]float64, len(taps))
	copy(t, taps)
	return &FIR{
		taps:    t,
		history: make([]int32, len(taps)),
	}, nil
}

// Taps returns the tap count.
func (f *FIR) Taps() int {
	return len(f.taps)
}

// Apply filters src into dst and returns dst[:len(src)]. dst is grown only
// when it is too short; pass a reusable buffer to stay allocation free.
// y[n] = taps[0]*x[n] + taps[1]*x[n-1] + ... + taps[K-1]*x[n-K+1]
func (f *FIR) Apply(dst, src []int32) []int32 {
	if cap(dst) < len(src) {
		dst = make([]int32, len(src))
	}
	dst = dst[:len(src)]

	k := len(f.taps)
	for i, x := range src {
		f.history[f.idx] = x

		var acc float64
		h := f.idx
		for j := 0; j < k; j++ {
			acc += f.taps[j] * float64(f.history[h])
			h--
			if h < 0 {
				h = k - 1
			}
		}
		dst[i] = saturate32(math.Round(acc))

		f.idx++
		if f.idx == k {
			f.idx = 0
		}
	}
	return dst
}

// Reset clears the history. Only call it when (re)initializing a stream;
// resetting mid-stream produces an audible transient.
func (f *FIR) Reset() {
	clear(f.history)
	f.idx = 0
}
