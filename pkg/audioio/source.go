package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

// Common errors returned by sources.
var (
	// ErrTimeout means no block became ready within the read timeout.
	// It is recoverable: callers back off briefly and read again.
	ErrTimeout = errors.New("audioio: read timeout")

	// ErrNotStarted is returned by Read before Start or after Stop.
	ErrNotStarted = errors.New("audioio: source not started")
)

// Source captures audio from a microphone or other input device.
//
// Read errors other than ErrTimeout are fatal for the caller's capture loop;
// io.EOF marks the end of a finite source.
type Source interface {
	// Start begins audio capture.
	Start(ctx context.Context) error

	// Stop halts audio capture.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read fills buf with the next block and returns the number of samples
	// written. It blocks until a block is ready, the timeout elapses
	// (ErrTimeout) or ctx is done.
	Read(ctx context.Context, buf []int32, timeout time.Duration) (int, error)

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "portaudio", "wav", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// IsTimeout reports whether err is a recoverable read timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// BlocksRead is the total number of blocks delivered.
	BlocksRead int64 `json:"blocks_read"`

	// SamplesRead is the total number of samples delivered.
	SamplesRead int64 `json:"samples_read"`

	// Timeouts is the number of reads that hit their timeout.
	Timeouts int64 `json:"timeouts"`

	// Overruns is the number of buffer overruns (dropped audio).
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// waitTick blocks until tick fires, the timeout elapses, stop closes or ctx
// is done. Sources that pace their output share it.
func waitTick(ctx context.Context, tick <-chan time.Time, stop <-chan struct{}, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrNotStarted
	case <-timer:
		return ErrTimeout
	case <-tick:
		return nil
	}
}
