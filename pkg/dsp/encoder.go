package dsp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Default encoder tiers, in the significant (24-bit) domain.
const (
	DefaultStrongThreshold = 1 << 16
	DefaultWeakThreshold   = 1 << 10

	DefaultShiftStrong = 8  // keep low-order detail
	DefaultShiftMedium = 11 // balanced
	DefaultShiftWeak   = 14 // drop the noise floor

	DefaultGain = 10
)

// EncoderConfig holds the peak tiers, shifts and gain of the encoder.
type EncoderConfig struct {
	// StrongThreshold: peaks above it use ShiftStrong.
	StrongThreshold int32 `yaml:"strong_threshold" json:"strong_threshold"`

	// WeakThreshold: peaks below it use ShiftWeak.
	WeakThreshold int32 `yaml:"weak_threshold" json:"weak_threshold"`

	ShiftStrong uint `yaml:"shift_strong" json:"shift_strong"`
	ShiftMedium uint `yaml:"shift_medium" json:"shift_medium"`
	ShiftWeak   uint `yaml:"shift_weak" json:"shift_weak"`

	// Gain multiplies every shifted sample before saturation.
	Gain int32 `yaml:"gain" json:"gain"`
}

// DefaultEncoderConfig returns the stock three-tier policy.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		StrongThreshold: DefaultStrongThreshold,
		WeakThreshold:   DefaultWeakThreshold,
		ShiftStrong:     DefaultShiftStrong,
		ShiftMedium:     DefaultShiftMedium,
		ShiftWeak:       DefaultShiftWeak,
		Gain:            DefaultGain,
	}
}

// Validate checks the tiers are ordered and the shifts fit the container.
func (c EncoderConfig) Validate() error {
	var errs []error
	if c.WeakThreshold < 0 || c.StrongThreshold < c.WeakThreshold {
		errs = append(errs, fmt.Errorf("need 0 <= weak_threshold <= strong_threshold, got %d/%d", c.WeakThreshold, c.StrongThreshold))
	}
	shifts := []struct {
		name  string
		shift uint
	}{
		{"shift_strong", c.ShiftStrong},
		{"shift_medium", c.ShiftMedium},
		{"shift_weak", c.ShiftWeak},
	}
	for _, s := range shifts {
		if s.shift > 31 {
			errs = append(errs, fmt.Errorf("%s must be <= 31, got %d", s.name, s.shift))
		}
	}
	if c.Gain < 1 {
		errs = append(errs, fmt.Errorf("gain must be positive, got %d", c.Gain))
	}
	if len(errs) > 0 {
		return fmt.Errorf("dsp: invalid encoder config: %w", errors.Join(errs...))
	}
	return nil
}

// Encoder reduces capture samples to saturated int16. It holds no per-block
// state and is safe for concurrent use.
type Encoder struct {
	cfg    EncoderConfig
	format SampleFormat
}

// NewEncoder creates an encoder.
func NewEncoder(cfg EncoderConfig, format SampleFormat) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{cfg: cfg, format: format}, nil
}

// Config returns the encoder configuration.
func (e *Encoder) Config() EncoderConfig {
	return e.cfg
}

// Shift selects the right-shift for a block with the given peak.
func (e *Encoder) Shift(peak int32) uint {
	switch {
	case peak > e.cfg.StrongThreshold:
		return e.cfg.ShiftStrong
	case peak < e.cfg.WeakThreshold:
		return e.cfg.ShiftWeak
	default:
		return e.cfg.ShiftMedium
	}
}

// Sample encodes one capture sample with the given shift.
func (e *Encoder) Sample(s int32, shift uint) int16 {
	v := int64(e.format.Significant(s)) >> shift
	return saturate16(v * int64(e.cfg.Gain))
}

// Encode writes len(src) encoded samples into dst (grown if too short) and
// returns them with the shift that was applied.
func (e *Encoder) Encode(dst []int16, src []int32, peak int32) ([]int16, uint) {
	shift := e.Shift(peak)
	if cap(dst) < len(src) {
		dst = make([]int16, len(src))
	}
	dst = dst[:len(src)]
	for i, s := range src {
		dst[i] = e.Sample(s, shift)
	}
	return dst, shift
}

// AppendPCM appends src as little-endian int16 PCM to dst, one sample per
// two bytes in capture order, and returns the extended slice and the shift.
func (e *Encoder) AppendPCM(dst []byte, src []int32, peak int32) ([]byte, uint) {
	shift := e.Shift(peak)
	for _, s := range src {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(e.Sample(s, shift)))
	}
	return dst, shift
}

// PeakOf returns max |significant sample| of src, for callers that did not
// keep the gate's reading.
func (e *Encoder) PeakOf(src []int32) int32 {
	var peak int64
	for _, s := range src {
		if a := abs32(e.format.Significant(s)); a > peak {
			peak = a
		}
	}
	return clampPeak(peak)
}
