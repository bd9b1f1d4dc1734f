package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-micstream/pkg/dsp"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave) in the canonical
// 24-in-32 format.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stopCh  chan struct{}
	ticker  *time.Ticker

	// Stats
	blocksRead  atomic.Int64
	samplesRead atomic.Int64
	timeouts    atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
	paced     bool

	// Scripted behaviour for tests
	script []error
	limit  int64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithPacing overrides cfg.Realtime. An unpaced source returns blocks as
// fast as they are read.
func WithPacing(paced bool) MockSourceOption {
	return func(m *MockSource) {
		m.paced = paced
	}
}

// WithReadErrors makes the next reads return errs in order before any
// audio is produced.
func WithReadErrors(errs ...error) MockSourceOption {
	return func(m *MockSource) {
		m.script = append(m.script, errs...)
	}
}

// WithBlockLimit ends the source with io.EOF after n blocks.
func WithBlockLimit(n int) MockSourceOption {
	return func(m *MockSource) {
		m.limit = int64(n)
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		stopCh:    make(chan struct{}),
		frequency: cfg.ToneHz,
		amplitude: cfg.ToneAmplitude,
		paced:     cfg.Realtime,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	if d := m.cfg.BlockDuration(); m.paced && d > 0 {
		m.ticker = time.NewTicker(d)
	}

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
		"paced", m.paced,
	)

	return nil
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	close(m.stopCh)
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}

	m.logger.Info("mock audio source stopped")

	return nil
}

// Read fills buf with the next block.
func (m *MockSource) Read(ctx context.Context, buf []int32, timeout time.Duration) (int, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return 0, ErrNotStarted
	}
	if len(m.script) > 0 {
		err := m.script[0]
		m.script = m.script[1:]
		m.mu.Unlock()
		if IsTimeout(err) {
			m.timeouts.Add(1)
		}
		return 0, err
	}
	if m.limit > 0 && m.blocksRead.Load() >= m.limit {
		m.mu.Unlock()
		return 0, io.EOF
	}
	var tick <-chan time.Time
	if m.ticker != nil {
		tick = m.ticker.C
	}
	stop := m.stopCh
	m.mu.Unlock()

	if tick != nil {
		if err := waitTick(ctx, tick, stop, timeout); err != nil {
			if IsTimeout(err) {
				m.timeouts.Add(1)
			}
			return 0, err
		}
	} else if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := min(len(buf), m.cfg.BlockSamples)
	m.mu.Lock()
	m.synthesize(buf[:n])
	m.mu.Unlock()

	m.blocksRead.Add(1)
	m.samplesRead.Add(int64(n))
	return n, nil
}

// synthesize must be called with mu held.
func (m *MockSource) synthesize(buf []int32) {
	if m.frequency <= 0 || m.amplitude <= 0 {
		clear(buf)
		return
	}

	const fullScale = 1<<23 - 1
	step := 2 * math.Pi * m.frequency / float64(m.cfg.SampleRate)
	for i := range buf {
		v := int32(math.Round(m.amplitude * fullScale * math.Sin(m.phase)))
		buf[i] = dsp.Widen(v, 24)

		m.phase += step
		if m.phase >= 2*math.Pi {
			m.phase -= 2 * math.Pi
		}
	}
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		BlocksRead:  m.blocksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Timeouts:    m.timeouts.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)
