// Package dsp implements the per-block signal stages of the capture
// pipeline: a streaming FIR band-limit filter, an energy gate that separates
// speech from silence, and an adaptive encoder that reduces 24-bit captures
// to 16-bit transport samples.
//
// # Sample convention
//
// All stages operate on one capture format: 24 significant bits,
// left-justified in a signed 32-bit container (the I2S 32-bit slot layout).
// The low PadBits of every sample are zero padding. Sources producing
// narrower data widen into this container before the pipeline sees it.
package dsp

import (
	"fmt"
	"math"
)

// SampleFormat describes how significant bits sit inside an int32 sample.
type SampleFormat struct {
	// PadBits is the number of low-order padding bits in the container.
	// Default: 8 (24-bit data in a 32-bit slot)
	PadBits uint `yaml:"pad_bits" json:"pad_bits"`

	// HeadroomBits is dropped from the significant value to obtain the
	// 16-bit view the energy gate measures.
	// Default: 8
	HeadroomBits uint `yaml:"headroom_bits" json:"headroom_bits"`
}

// DefaultFormat returns the canonical 24-in-32 capture format.
func DefaultFormat() SampleFormat {
	return SampleFormat{PadBits: 8, HeadroomBits: 8}
}

// Validate checks the format fits a 32-bit container.
func (f SampleFormat) Validate() error {
	if f.PadBits+f.HeadroomBits >= 32 {
		return fmt.Errorf("dsp: pad_bits+headroom_bits must be < 32, got %d", f.PadBits+f.HeadroomBits)
	}
	return nil
}

// SignificantBits returns the number of meaningful bits per sample.
func (f SampleFormat) SignificantBits() uint {
	return 32 - f.PadBits
}

// Significant drops the padding bits of s.
func (f SampleFormat) Significant(s int32) int32 {
	return s >> f.PadBits
}

// Widen converts a sample of the given bit depth into the 32-bit container.
func Widen(s int32, bitDepth int) int32 {
	if bitDepth >= 32 || bitDepth <= 0 {
		return s
	}
	return s << uint(32-bitDepth)
}

// abs32 returns |v| without overflowing on math.MinInt32.
func abs32(v int32) int64 {
	if v < 0 {
		return -int64(v)
	}
	return int64(v)
}

func saturate32(v float64) int32 {
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}

func saturate16(v int64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
