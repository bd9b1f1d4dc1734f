package dsp

// DefaultSilenceThreshold is the mean rectified 16-bit level below which a
// block counts as silence (tuned against phone-speaker music playback).
const DefaultSilenceThreshold = 25

// Reading is the energy gate's verdict on one block.
type Reading struct {
	// Active is true when AvgEnergy exceeds the silence threshold.
	Active bool

	// AvgEnergy is the mean |sample| in the gate's 16-bit view.
	AvgEnergy uint32

	// Level is the max |sample| in the gate's 16-bit view.
	Level int32

	// Peak is the max |sample| of the significant (24-bit) value.
	// The encoder selects its shift from it.
	Peak int32
}

// Gate classifies filtered blocks as active or silent.
type Gate struct {
	threshold uint32
	format    SampleFormat
}

// NewGate creates a gate with a fixed threshold.
func NewGate(threshold uint32, format SampleFormat) *Gate {
	return &Gate{threshold: threshold, format: format}
}

// Threshold returns the silence threshold.
func (g *Gate) Threshold() uint32 {
	return g.threshold
}

// Classify measures samples without modifying them.
func (g *Gate) Classify(samples []int32) Reading {
	if len(samples) == 0 {
		return Reading{}
	}

	var (
		sum   uint64
		level int64
		peak  int64
	)
	for _, s := range samples {
		sig := g.format.Significant(s)
		if a := abs32(sig); a > peak {
			peak = a
		}

		v := abs32(sig >> g.format.HeadroomBits)
		sum += uint64(v)
		if v > level {
			level = v
		}
	}

	avg := uint32(sum / uint64(len(samples)))
	return Reading{
		Active:    avg > g.threshold,
		AvgEnergy: avg,
		Level:     clampPeak(level),
		Peak:      clampPeak(peak),
	}
}

// clampPeak keeps |MinInt32| representable when PadBits is zero.
func clampPeak(v int64) int32 {
	if v > 1<<31-1 {
		return 1<<31 - 1
	}
	return int32(v)
}
