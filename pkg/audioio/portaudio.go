//go:build portaudio

package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

const portAudioAvailable = true

// captureRing is the number of blocks buffered between the PortAudio
// callback thread and Read.
const captureRing = 4

// PortAudioSource captures audio from a PortAudio input device.
// PortAudio's paInt32 format is full-scale 32-bit, so 24-bit converters
// arrive already left-justified in the capture container.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stream  *portaudio.Stream
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// in is the buffer bound to the stream; ring holds completed blocks.
	in    []int32
	ring  [captureRing][]int32
	ready chan int

	// Stats
	blocksRead  atomic.Int64
	samplesRead atomic.Int64
	timeouts    atomic.Int64
	overruns    atomic.Int64
}

// newPortAudioSource creates a new PortAudio audio source.
func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return NewPortAudioSource(cfg, logger)
}

// NewPortAudioSource creates a new PortAudio audio source. The stream is
// opened by Start.
func NewPortAudioSource(cfg Config, logger *slog.Logger) (*PortAudioSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &PortAudioSource{
		cfg:    cfg,
		logger: logger,
		in:     make([]int32, cfg.BlockSamples),
		stopCh: make(chan struct{}),
	}
	for i := range s.ring {
		s.ring[i] = make([]int32, cfg.BlockSamples)
	}

	return s, nil
}

// Start opens the input stream and begins capture.
func (s *PortAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	stream, err := s.openStream()
	if err != nil {
		portaudio.Terminate()
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("portaudio start: %w", err)
	}

	s.stream = stream
	s.running = true
	s.stopCh = make(chan struct{})
	s.ready = make(chan int, captureRing-2)

	s.wg.Add(1)
	go s.captureLoop(stream, s.stopCh, s.ready)

	s.logger.Info("portaudio source started",
		"device", s.deviceName(),
		"sample_rate", s.cfg.SampleRate,
		"block_samples", s.cfg.BlockSamples,
	)

	return nil
}

func (s *PortAudioSource) openStream() (*portaudio.Stream, error) {
	if s.cfg.Device == "" {
		stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.cfg.SampleRate), s.cfg.BlockSamples, s.in)
		if err != nil {
			return nil, fmt.Errorf("portaudio open default input: %w", err)
		}
		return stream, nil
	}

	dev, err := findInputDevice(s.cfg.Device)
	if err != nil {
		return nil, err
	}

	p := portaudio.LowLatencyParameters(dev, nil)
	p.Input.Channels = 1
	p.SampleRate = float64(s.cfg.SampleRate)
	p.FramesPerBuffer = s.cfg.BlockSamples

	stream, err := portaudio.OpenStream(p, s.in)
	if err != nil {
		return nil, fmt.Errorf("portaudio open %q: %w", s.cfg.Device, err)
	}
	return stream, nil
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device named %q", name)
}

func (s *PortAudioSource) deviceName() string {
	if s.cfg.Device == "" {
		return "default"
	}
	return s.cfg.Device
}

// captureLoop moves blocks from the stream into the ring until stopped.
func (s *PortAudioSource) captureLoop(stream *portaudio.Stream, stop <-chan struct{}, ready chan<- int) {
	defer s.wg.Done()
	defer close(ready)

	next := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.overruns.Add(1)
				continue
			}
			select {
			case <-stop:
			default:
				s.logger.Error("portaudio read failed", "error", err)
			}
			return
		}

		copy(s.ring[next], s.in)
		select {
		case ready <- next:
			next = (next + 1) % captureRing
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop halts capture and closes the stream.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	err := stream.Stop()
	s.wg.Wait()
	if cerr := stream.Close(); err == nil {
		err = cerr
	}
	portaudio.Terminate()

	s.logger.Info("portaudio source stopped", "overruns", s.overruns.Load())

	return err
}

// Read waits for the next captured block.
func (s *PortAudioSource) Read(ctx context.Context, buf []int32, timeout time.Duration) (int, error) {
	s.mu.Lock()
	ready := s.ready
	running := s.running
	s.mu.Unlock()
	if !running || ready == nil {
		return 0, ErrNotStarted
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer:
		s.timeouts.Add(1)
		return 0, ErrTimeout
	case idx, ok := <-ready:
		if !ok {
			return 0, io.ErrUnexpectedEOF
		}
		n := copy(buf, s.ring[idx])
		s.blocksRead.Add(1)
		s.samplesRead.Add(int64(n))
		return n, nil
	}
}

// Config returns the audio configuration.
func (s *PortAudioSource) Config() Config {
	return s.cfg
}

// Name returns "portaudio".
func (s *PortAudioSource) Name() string {
	return "portaudio"
}

// Close releases resources.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns source statistics.
func (s *PortAudioSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		BlocksRead:  s.blocksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Timeouts:    s.timeouts.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "portaudio",
	}
}

var _ SourceWithStats = (*PortAudioSource)(nil)
