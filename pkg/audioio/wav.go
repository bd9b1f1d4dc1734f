package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/wav"

	"github.com/teslashibe/go-micstream/pkg/dsp"
)

// ErrNotWAV is returned when the device file is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audioio: not a wav file")

// WAVSource replays a WAV clip as if it were a microphone.
// The clip is decoded once, reduced to its first channel, resampled to the
// configured rate and widened into the 32-bit capture container.
type WAVSource struct {
	cfg    Config
	logger *slog.Logger

	samples []int32
	srcRate int
	srcBits int

	mu      sync.Mutex
	running bool
	closed  bool
	pos     int
	stopCh  chan struct{}
	ticker  *time.Ticker

	// Stats
	blocksRead  atomic.Int64
	samplesRead atomic.Int64
	timeouts    atomic.Int64
	loops       atomic.Int64
}

// NewWAVSource decodes the file named by cfg.Device.
func NewWAVSource(cfg Config, logger *slog.Logger) (*WAVSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", cfg.Device, ErrNotWAV)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	srcRate := int(dec.SampleRate)
	if srcRate <= 0 {
		return nil, fmt.Errorf("%s: invalid sample rate %d", cfg.Device, srcRate)
	}

	mono := make([]int32, len(buf.Data)/channels)
	for i := range mono {
		mono[i] = int32(buf.Data[i*channels])
	}
	mono = Resample(mono, srcRate, cfg.SampleRate)
	for i, s := range mono {
		mono[i] = widen(s, bitDepth)
	}

	if len(mono) == 0 {
		return nil, fmt.Errorf("%s: no audio frames", cfg.Device)
	}

	logger.Debug("wav clip decoded",
		"path", cfg.Device,
		"source_rate", srcRate,
		"bit_depth", bitDepth,
		"channels", channels,
		"samples", len(mono),
	)

	return &WAVSource{
		cfg:     cfg,
		logger:  logger,
		samples: mono,
		srcRate: srcRate,
		srcBits: bitDepth,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins replay from the start of the clip.
func (w *WAVSource) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return io.ErrClosedPipe
	}
	if w.running {
		return nil
	}

	w.running = true
	w.pos = 0
	w.stopCh = make(chan struct{})
	if d := w.cfg.BlockDuration(); w.cfg.Realtime && d > 0 {
		w.ticker = time.NewTicker(d)
	}

	w.logger.Info("wav audio source started",
		"path", w.cfg.Device,
		"source_rate", w.srcRate,
		"bit_depth", w.srcBits,
		"duration", w.Duration(),
		"loop", w.cfg.Loop,
	)

	return nil
}

// Stop halts replay.
func (w *WAVSource) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)
	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}

	w.logger.Info("wav audio source stopped")

	return nil
}

// Read copies the next block of the clip into buf. At the end of the clip it
// wraps when Loop is set and returns io.EOF otherwise. The final block may be
// short.
func (w *WAVSource) Read(ctx context.Context, buf []int32, timeout time.Duration) (int, error) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return 0, ErrNotStarted
	}
	if w.pos >= len(w.samples) && !w.cfg.Loop {
		w.mu.Unlock()
		return 0, io.EOF
	}
	var tick <-chan time.Time
	if w.ticker != nil {
		tick = w.ticker.C
	}
	stop := w.stopCh
	w.mu.Unlock()

	if tick != nil {
		if err := waitTick(ctx, tick, stop, timeout); err != nil {
			if IsTimeout(err) {
				w.timeouts.Add(1)
			}
			return 0, err
		}
	} else if err := ctx.Err(); err != nil {
		return 0, err
	}

	want := min(len(buf), w.cfg.BlockSamples)

	w.mu.Lock()
	n := 0
	for n < want {
		if w.pos >= len(w.samples) {
			if !w.cfg.Loop {
				break
			}
			w.pos = 0
			w.loops.Add(1)
		}
		c := copy(buf[n:want], w.samples[w.pos:])
		n += c
		w.pos += c
	}
	w.mu.Unlock()

	if n == 0 {
		return 0, io.EOF
	}

	w.blocksRead.Add(1)
	w.samplesRead.Add(int64(n))
	return n, nil
}

// Duration returns the playback length of the clip at the capture rate.
func (w *WAVSource) Duration() time.Duration {
	return time.Duration(len(w.samples)) * time.Second / time.Duration(w.cfg.SampleRate)
}

// Loops returns how many times the clip wrapped.
func (w *WAVSource) Loops() int64 {
	return w.loops.Load()
}

// Config returns the audio configuration.
func (w *WAVSource) Config() Config {
	return w.cfg
}

// Name returns "wav".
func (w *WAVSource) Name() string {
	return "wav"
}

// Close releases resources.
func (w *WAVSource) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	return w.Stop()
}

// Stats returns source statistics.
func (w *WAVSource) Stats() SourceStats {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	return SourceStats{
		BlocksRead:  w.blocksRead.Load(),
		SamplesRead: w.samplesRead.Load(),
		Timeouts:    w.timeouts.Load(),
		Running:     running,
		Backend:     "wav",
	}
}

// widen moves a decoded sample of the given depth into the container.
// 8-bit WAV data is unsigned and is re-centred first.
func widen(s int32, bitDepth int) int32 {
	if bitDepth == 8 {
		s -= 128
	}
	return dsp.Widen(s, bitDepth)
}

var _ SourceWithStats = (*WAVSource)(nil)
