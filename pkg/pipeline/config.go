package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-micstream/pkg/dsp"
	"github.com/teslashibe/go-micstream/pkg/queue"
)

// Config holds the fixed parameters of one pipeline. It is copied by New
// and never changes while the pipeline runs.
type Config struct {
	// QueueCapacity is the number of frames that may wait for dispatch.
	// Default: 10
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// Overflow selects what happens when the queue is full:
	// "discard-oldest" (default) or "block-producer".
	Overflow string `yaml:"overflow" json:"overflow"`

	// PoolSlots is the number of preallocated frames. It should be at least
	// QueueCapacity+2 (queued, dispatching, being filled) or frames will be
	// dropped with pool-exhausted.
	// Default: 12
	PoolSlots int `yaml:"pool_slots" json:"pool_slots"`

	// SlotSamples is the largest block a frame can hold. It is also the
	// size of the capture read buffer.
	// Default: 256
	SlotSamples int `yaml:"slot_samples" json:"slot_samples"`

	// Taps are the FIR coefficients in tap order. Empty means dsp.DefaultTaps.
	Taps []float64 `yaml:"taps,omitempty" json:"taps,omitempty"`

	// Format is the capture sample layout.
	Format dsp.SampleFormat `yaml:"format" json:"format"`

	// SilenceThreshold is the mean 16-bit level a block must exceed to be
	// sent. Default: 25
	SilenceThreshold uint32 `yaml:"silence_threshold" json:"silence_threshold"`

	// Encoder selects the shift tiers and gain.
	Encoder dsp.EncoderConfig `yaml:"encoder" json:"encoder"`

	// ReadTimeout bounds each source read. It also bounds how long a
	// stopped pipeline waits for its capture role.
	// Default: 100ms
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// RetryBackoff is the pause after a source timeout.
	// Default: 10ms
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`

	// LogEvery samples drop diagnostics and periodic stats to one line in
	// LogEvery events. Default: 100
	LogEvery int `yaml:"log_every" json:"log_every"`
}

// DefaultConfig returns the stock pipeline: 16ms blocks at 16kHz, ten
// queued frames, discard-oldest.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:    10,
		Overflow:         queue.DiscardOldest.String(),
		PoolSlots:        12,
		SlotSamples:      256,
		Format:           dsp.DefaultFormat(),
		SilenceThreshold: dsp.DefaultSilenceThreshold,
		Encoder:          dsp.DefaultEncoderConfig(),
		ReadTimeout:      100 * time.Millisecond,
		RetryBackoff:     10 * time.Millisecond,
		LogEvery:         100,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue_capacity must be >= 1, got %d", c.QueueCapacity))
	}
	if _, err := queue.ParsePolicy(c.Overflow); err != nil {
		errs = append(errs, err)
	}
	if c.PoolSlots < 1 {
		errs = append(errs, fmt.Errorf("pool_slots must be >= 1, got %d", c.PoolSlots))
	}
	if c.SlotSamples < 1 {
		errs = append(errs, fmt.Errorf("slot_samples must be >= 1, got %d", c.SlotSamples))
	}
	if err := c.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Encoder.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read_timeout must be positive, got %v", c.ReadTimeout))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry_backoff must not be negative, got %v", c.RetryBackoff))
	}

	if len(errs) > 0 {
		return fmt.Errorf("pipeline: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// policy returns the parsed overflow policy. Call after Validate.
func (c *Config) policy() queue.Policy {
	p, _ := queue.ParsePolicy(c.Overflow)
	return p
}

// taps returns the configured taps or the default design.
func (c *Config) taps() []float64 {
	if len(c.Taps) == 0 {
		return dsp.DefaultTaps
	}
	return c.Taps
}
