// Package pipeline drives captured audio from a source to a network sink.
//
// A Pipeline runs two roles connected by a bounded queue of pooled frames:
//
//	capture:  source.Read -> FIR -> energy gate -> pool.Acquire -> queue.Push
//	dispatch: queue.Pop -> adaptive encoder -> pool.Release -> sink.Send
//
// Silent blocks never leave the capture role. Stop (or cancelling the
// context passed to Run) stops the queue; capture exits on its next read
// and dispatch drains what was already queued before exiting. A pipeline
// runs once; build a new one to restart.
//
// Supervisor starts and stops pipelines as transport peers come and go.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-micstream/internal/log"
	"github.com/teslashibe/go-micstream/internal/observe"
	"github.com/teslashibe/go-micstream/pkg/audioio"
	"github.com/teslashibe/go-micstream/pkg/dsp"
	"github.com/teslashibe/go-micstream/pkg/frame"
	"github.com/teslashibe/go-micstream/pkg/queue"
	"github.com/teslashibe/go-micstream/pkg/transport"
)

// Common errors returned by Run.
var (
	// ErrSourceFatal wraps a source error the capture role cannot recover from.
	ErrSourceFatal = errors.New("pipeline: source failed")

	// ErrSinkFatal wraps a sink error the dispatch role cannot recover from.
	ErrSinkFatal = errors.New("pipeline: sink failed")

	// ErrAlreadyRun is returned when Run is called a second time.
	ErrAlreadyRun = errors.New("pipeline: already run")
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Pipeline is one capture/dispatch session.
type Pipeline struct {
	cfg     Config
	src     audioio.Source
	sink    transport.Sink
	logger  *slog.Logger
	metrics *observe.Metrics

	pool  *frame.Pool
	queue *queue.Queue[*frame.Frame]

	// Owned by the capture role.
	fir  *dsp.FIR
	gate *dsp.Gate

	// Owned by the dispatch role.
	enc *dsp.Encoder

	dropLog *log.Sampler
	peerLog *log.Sampler
	statLog *log.Sampler

	ran           atomic.Bool
	mu            sync.Mutex
	cancelCapture context.CancelFunc
	startedAt     time.Time

	stats counters
}

// counters are written by one role each and read by Stats.
type counters struct {
	blocksRead     atomic.Uint64
	sourceTimeouts atomic.Uint64
	blocksSilent   atomic.Uint64
	blocksActive   atomic.Uint64
	enqueued       atomic.Uint64
	evicted        atomic.Uint64
	poolExhausted  atomic.Uint64
	queueFull      atomic.Uint64
	closedDrops    atomic.Uint64
	sent           atomic.Uint64
	bytesSent      atomic.Uint64
	noPeer         atomic.Uint64
	lastShift      atomic.Uint32
}

// New builds a pipeline with its own pool, queue and filter state.
func New(cfg Config, src audioio.Source, sink transport.Sink, opts ...Option) (*Pipeline, error) {
	if src == nil || sink == nil {
		return nil, errors.New("pipeline: source and sink are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Taps = append([]float64(nil), cfg.taps()...)

	p := &Pipeline{
		cfg:  cfg,
		src:  src,
		sink: sink,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}

	var err error
	if p.pool, err = frame.NewPool(cfg.PoolSlots, cfg.SlotSamples); err != nil {
		return nil, err
	}
	if p.queue, err = queue.New(cfg.QueueCapacity, cfg.policy(),
		queue.WithEvictHandler(p.onEvict)); err != nil {
		return nil, err
	}
	if p.fir, err = dsp.NewFIR(cfg.Taps); err != nil {
		return nil, err
	}
	if p.enc, err = dsp.NewEncoder(cfg.Encoder, cfg.Format); err != nil {
		return nil, err
	}
	p.gate = dsp.NewGate(cfg.SilenceThreshold, cfg.Format)

	p.dropLog = log.NewSampler(cfg.LogEvery)
	p.peerLog = log.NewSampler(cfg.LogEvery)
	p.statLog = log.NewSampler(cfg.LogEvery)

	if cfg.PoolSlots < cfg.QueueCapacity+2 {
		p.logger.Warn("frame pool smaller than queue plus in-flight frames, expect pool-exhausted drops",
			"pool_slots", cfg.PoolSlots,
			"queue_capacity", cfg.QueueCapacity,
		)
	}

	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run starts the source and runs both roles until Stop, ctx cancellation,
// the end of a finite source, or a fatal error. It returns nil on
// cooperative shutdown, otherwise an error wrapping ErrSourceFatal or
// ErrSinkFatal.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	if err := p.src.Start(ctx); err != nil {
		p.queue.Destroy()
		p.metrics.RecordPipelineRun(ctx, "source")
		return fmt.Errorf("%w: start %s: %w", ErrSourceFatal, p.src.Name(), err)
	}
	defer p.src.Stop()

	reg, err := p.metrics.ObserveGauges(p.gauges)
	if err != nil {
		p.logger.Warn("pipeline gauges unavailable", "error", err)
	} else {
		defer reg.Unregister()
	}

	g, gctx := errgroup.WithContext(ctx)
	captureCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	p.mu.Lock()
	p.cancelCapture = cancel
	p.startedAt = time.Now()
	p.mu.Unlock()

	stopWatch := context.AfterFunc(gctx, p.Stop)

	p.logger.Info("pipeline started",
		"source", p.src.Name(),
		"sink", p.sink.Name(),
		"queue_capacity", p.cfg.QueueCapacity,
		"overflow", p.cfg.Overflow,
		"pool_slots", p.cfg.PoolSlots,
	)

	// Dispatch outlives ctx so frames already queued still reach the sink;
	// only a capture failure or a dispatch error cuts it short.
	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(gctx))
	defer cancelDispatch()

	g.Go(func() error {
		err := p.capture(captureCtx)
		if err != nil {
			cancelDispatch()
		}
		return err
	})
	g.Go(func() error { return p.dispatch(dispatchCtx) })
	err = g.Wait()
	stopWatch()

	// Return frames left behind by a fatal exit before dropping the ring.
	for {
		f, perr := p.queue.Pop(false)
		if perr != nil {
			break
		}
		p.stats.closedDrops.Add(1)
		p.metrics.RecordDrop(context.Background(), observe.ReasonClosed)
		f.Release()
	}
	p.queue.Destroy()

	p.metrics.RecordPipelineRun(context.Background(), runResult(err))

	st := p.Stats()
	attrs := []any{
		"blocks", st.BlocksRead,
		"active", st.BlocksActive,
		"sent", st.FramesSent,
		"dropped", st.Dropped(),
		"pool_in_use", st.PoolInUse,
	}
	if err != nil {
		p.logger.Error("pipeline failed", append(attrs, "error", err)...)
		return err
	}
	p.logger.Info("pipeline stopped", attrs...)
	return nil
}

// Stop signals both roles to finish. Frames already queued are still sent.
// It is safe to call Stop more than once and before Run.
func (p *Pipeline) Stop() {
	p.queue.Stop()

	p.mu.Lock()
	cancel := p.cancelCapture
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// capture reads, filters and gates blocks and queues the active ones.
func (p *Pipeline) capture(ctx context.Context) error {
	block := make([]int32, p.cfg.SlotSamples)
	filtered := make([]int32, p.cfg.SlotSamples)

	for !p.queue.Stopped() {
		n, err := p.src.Read(ctx, block, p.cfg.ReadTimeout)
		if err != nil {
			if done, ferr := p.readFailed(ctx, err); done {
				return ferr
			}
			continue
		}
		if n == 0 {
			continue
		}

		p.stats.blocksRead.Add(1)
		p.metrics.BlocksCaptured.Add(ctx, 1)

		out := p.fir.Apply(filtered, block[:n])
		reading := p.gate.Classify(out)

		if p.statLog.Allow() {
			p.logStats(reading)
		}

		if !reading.Active {
			p.stats.blocksSilent.Add(1)
			p.metrics.BlocksSilent.Add(ctx, 1)
			continue
		}
		p.stats.blocksActive.Add(1)

		f, err := p.pool.Acquire(n)
		if err != nil {
			p.drop(&p.stats.poolExhausted, observe.ReasonPoolExhausted, err)
			continue
		}
		copy(f.Samples(), out)
		f.SetPeak(reading.Peak)
		f.SetCapturedAt(time.Now())

		switch err := p.queue.Push(f, false); {
		case err == nil:
			p.stats.enqueued.Add(1)
			p.metrics.FramesEnqueued.Add(ctx, 1)
		case errors.Is(err, queue.ErrFull):
			f.Release()
			p.drop(&p.stats.queueFull, observe.ReasonQueueFull, err)
		default:
			f.Release()
			p.drop(&p.stats.closedDrops, observe.ReasonClosed, err)
			return nil
		}
	}
	return nil
}

// readFailed classifies a source error and reports whether the capture
// role must exit, with a nil error for a cooperative exit.
func (p *Pipeline) readFailed(ctx context.Context, err error) (bool, error) {
	switch {
	case audioio.IsTimeout(err):
		p.stats.sourceTimeouts.Add(1)
		p.metrics.SourceTimeouts.Add(ctx, 1)
		if p.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.RetryBackoff):
			}
		}
		return false, nil

	case ctx.Err() != nil || p.queue.Stopped():
		return true, nil

	case errors.Is(err, io.EOF):
		p.logger.Info("source finished, draining queue", "source", p.src.Name())
		p.queue.Stop()
		return true, nil

	default:
		p.queue.Stop()
		return true, fmt.Errorf("%w: %s: %w", ErrSourceFatal, p.src.Name(), err)
	}
}

// dispatch encodes queued frames and hands them to the sink until the
// queue is stopped and drained.
func (p *Pipeline) dispatch(ctx context.Context) error {
	pcm := make([]byte, 0, 2*p.cfg.SlotSamples)

	for {
		f, err := p.queue.Pop(true)
		if err != nil {
			return nil
		}

		var shift uint
		pcm, shift = p.enc.AppendPCM(pcm[:0], f.Samples(), f.Peak())
		p.stats.lastShift.Store(uint32(shift))
		f.Release()

		start := time.Now()
		err = p.sink.Send(ctx, pcm)
		switch {
		case err == nil:
			p.stats.sent.Add(1)
			p.stats.bytesSent.Add(uint64(len(pcm)))
			p.metrics.RecordSend(ctx, len(pcm), time.Since(start).Seconds())

		case errors.Is(err, transport.ErrNoPeer):
			p.stats.noPeer.Add(1)
			p.metrics.RecordDrop(ctx, observe.ReasonNoPeer)
			if p.peerLog.Allow() {
				p.logger.Debug("no peer connected, frame dropped", "count", p.peerLog.Count())
			}

		case ctx.Err() != nil, errors.Is(err, transport.ErrClosed):
			p.stats.closedDrops.Add(1)
			p.metrics.RecordDrop(context.Background(), observe.ReasonClosed)
			p.queue.Stop()

		default:
			p.queue.Stop()
			return fmt.Errorf("%w: %s: %w", ErrSinkFatal, p.sink.Name(), err)
		}
	}
}

// onEvict runs on the capture goroutine when discard-oldest pushes out a
// queued frame.
func (p *Pipeline) onEvict(f *frame.Frame) {
	f.Release()
	p.drop(&p.stats.evicted, observe.ReasonEvicted, nil)
}

func (p *Pipeline) drop(c *atomic.Uint64, reason string, err error) {
	c.Add(1)
	p.metrics.RecordDrop(context.Background(), reason)
	if p.dropLog.Allow() {
		attrs := []any{"reason", reason, "drops", p.dropLog.Count()}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		p.logger.Warn("frame dropped", attrs...)
	}
}

func (p *Pipeline) logStats(r dsp.Reading) {
	p.logger.Debug("pipeline stats",
		"blocks", p.stats.blocksRead.Load(),
		"avg_energy", r.AvgEnergy,
		"level", r.Level,
		"peak", r.Peak,
		"queue_depth", p.queue.Len(),
		"pool_in_use", p.pool.InUse(),
		"shift", p.stats.lastShift.Load(),
	)
}

func (p *Pipeline) gauges() observe.Gauges {
	return observe.Gauges{
		QueueDepth: int64(p.queue.Len()),
		PoolInUse:  int64(p.pool.InUse()),
	}
}

func runResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSourceFatal):
		return "source"
	case errors.Is(err, ErrSinkFatal):
		return "sink"
	default:
		return "error"
	}
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	BlocksRead     uint64 `json:"blocks_read"`
	SourceTimeouts uint64 `json:"source_timeouts"`
	BlocksSilent   uint64 `json:"blocks_silent"`
	BlocksActive   uint64 `json:"blocks_active"`

	FramesEnqueued uint64 `json:"frames_enqueued"`
	FramesEvicted  uint64 `json:"frames_evicted"`
	PoolExhausted  uint64 `json:"pool_exhausted"`
	QueueFull      uint64 `json:"queue_full"`
	ClosedDrops    uint64 `json:"closed_drops"`

	FramesSent      uint64 `json:"frames_sent"`
	BytesSent       uint64 `json:"bytes_sent"`
	SinkUnavailable uint64 `json:"sink_unavailable"`
	LastShift       uint   `json:"last_shift"`

	QueueDepth int       `json:"queue_depth"`
	PoolInUse  int       `json:"pool_in_use"`
	StartedAt  time.Time `json:"started_at"`
}

// Dropped returns all frames lost after gating, including those no peer
// was connected for.
func (s Stats) Dropped() uint64 {
	return s.FramesEvicted + s.PoolExhausted + s.QueueFull + s.ClosedDrops + s.SinkUnavailable
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	started := p.startedAt
	p.mu.Unlock()

	return Stats{
		BlocksRead:      p.stats.blocksRead.Load(),
		SourceTimeouts:  p.stats.sourceTimeouts.Load(),
		BlocksSilent:    p.stats.blocksSilent.Load(),
		BlocksActive:    p.stats.blocksActive.Load(),
		FramesEnqueued:  p.stats.enqueued.Load(),
		FramesEvicted:   p.stats.evicted.Load(),
		PoolExhausted:   p.stats.poolExhausted.Load(),
		QueueFull:       p.stats.queueFull.Load(),
		ClosedDrops:     p.stats.closedDrops.Load(),
		FramesSent:      p.stats.sent.Load(),
		BytesSent:       p.stats.bytesSent.Load(),
		SinkUnavailable: p.stats.noPeer.Load(),
		LastShift:       uint(p.stats.lastShift.Load()),
		QueueDepth:      p.queue.Len(),
		PoolInUse:       p.pool.InUse(),
		StartedAt:       started,
	}
}
