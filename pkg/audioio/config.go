// Package audioio provides the capture side of the pipeline: sources that
// deliver fixed-size blocks of PCM samples on demand.
//
// This package supports multiple backends:
//   - PortAudio - Live microphone capture (build with -tags portaudio)
//   - WAV - Replays a recorded clip, for development and soak tests
//   - Mock - CI/Testing without hardware (silence or a sine tone)
//
// Every backend delivers the canonical capture format: mono, 24 significant
// bits left-justified in an int32 container. Narrower inputs are widened.
package audioio

import (
	"errors"
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects WAV for .wav devices, else PortAudio when compiled in, else mock.
	BackendAuto Backend = "auto"
	// BackendPortAudio captures from a PortAudio input device.
	BackendPortAudio Backend = "portaudio"
	// BackendWAV replays a WAV file named by Device.
	BackendWAV Backend = "wav"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds capture configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the capture sample rate in Hz.
	// Default: 16000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of capture channels. Only mono is supported.
	// Default: 1
	Channels int `yaml:"channels" json:"channels"`

	// BlockSamples is the number of samples delivered per Read.
	// Default: 256 (a 1024-byte block of 32-bit samples, 16ms at 16kHz)
	BlockSamples int `yaml:"block_samples" json:"block_samples"`

	// Device is the backend-specific device identifier.
	// Examples:
	//   - PortAudio: input device name, empty for the default input
	//   - WAV: path to the file
	//   - Mock: ignored
	Device string `yaml:"device" json:"device"`

	// Loop restarts a WAV clip at end of file instead of reporting io.EOF.
	Loop bool `yaml:"loop" json:"loop"`

	// Realtime paces WAV and mock sources at the capture rate.
	// Default: true
	Realtime bool `yaml:"realtime" json:"realtime"`

	// ToneHz is the mock sine frequency; 0 produces silence.
	ToneHz float64 `yaml:"tone_hz" json:"tone_hz"`

	// ToneAmplitude is the mock sine amplitude, 0.0 to 1.0 of full scale.
	ToneAmplitude float64 `yaml:"tone_amplitude" json:"tone_amplitude"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		SampleRate:    16000,
		Channels:      1,
		BlockSamples:  256,
		Device:        "",
		Realtime:      true,
		ToneHz:        440,
		ToneAmplitude: 0.25,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.Channels != 1 {
		errs = append(errs, fmt.Errorf("channels must be 1 (mono capture only), got %d", c.Channels))
	}
	if c.BlockSamples <= 0 {
		errs = append(errs, fmt.Errorf("block_samples must be positive, got %d", c.BlockSamples))
	}
	if c.ToneAmplitude < 0 || c.ToneAmplitude > 1 {
		errs = append(errs, fmt.Errorf("tone_amplitude must be within [0, 1], got %v", c.ToneAmplitude))
	}
	if c.Backend == BackendWAV && c.Device == "" {
		errs = append(errs, errors.New("wav backend requires device (file path)"))
	}
	return errors.Join(errs...)
}

// BlockDuration returns the capture time covered by one block.
func (c *Config) BlockDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.BlockSamples) * time.Second / time.Duration(c.SampleRate)
}

// BlockBytes returns the size of a block in bytes (32-bit samples).
func (c *Config) BlockBytes() int {
	return c.BlockSamples * c.Channels * 4
}
