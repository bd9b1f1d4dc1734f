package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-micstream/internal/observe"
	"github.com/teslashibe/go-micstream/pkg/audioio"
	"github.com/teslashibe/go-micstream/pkg/transport"
)

// Supervisor owns the pipeline lifecycle. In start-on-peer mode it builds
// and runs a fresh pipeline when the sink's peer count goes from zero to
// one and stops it when the count returns to zero. Otherwise it runs a
// single pipeline for as long as its context lives.
type Supervisor struct {
	cfg         Config
	src         audioio.Source
	sink        transport.Sink
	startOnPeer bool
	opts        []Option
	logger      *slog.Logger
	metrics     *observe.Metrics

	sessions atomic.Uint64
	peers    atomic.Int64

	mu      sync.Mutex
	current *Pipeline
	last    *Pipeline
}

// NewSupervisor creates a supervisor. opts are applied to every pipeline
// it builds.
func NewSupervisor(cfg Config, src audioio.Source, sink transport.Sink, startOnPeer bool, opts ...Option) (*Supervisor, error) {
	if src == nil || sink == nil {
		return nil, errors.New("pipeline: source and sink are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Resolve logger and metrics once so every session shares them.
	base := &Pipeline{}
	for _, opt := range opts {
		opt(base)
	}
	if base.logger == nil {
		base.logger = slog.Default()
	}
	if base.metrics == nil {
		base.metrics = observe.DefaultMetrics()
	}

	s := &Supervisor{
		cfg:         cfg,
		src:         src,
		sink:        sink,
		startOnPeer: startOnPeer,
		logger:      base.logger,
		metrics:     base.metrics,
	}
	s.opts = append(append(s.opts, opts...), WithLogger(s.logger), WithMetrics(s.metrics))

	if _, ok := sink.(transport.EventSource); startOnPeer && !ok {
		s.logger.Warn("sink has no peer events, streaming continuously", "sink", sink.Name())
		s.startOnPeer = false
	}
	return s, nil
}

// Run supervises pipelines until ctx is done, the sink closes, or a
// pipeline fails. A fatal pipeline error is returned as is.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.startOnPeer {
		return s.runContinuous(ctx)
	}

	es := s.sink.(transport.EventSource)
	events := es.Events()

	var (
		cur  *Pipeline
		done chan error
	)
	start := func() error {
		p, err := s.begin()
		if err != nil {
			return err
		}
		cur, done = p, make(chan error, 1)
		go func() { done <- p.Run(ctx) }()
		return nil
	}
	stop := func() error {
		if cur == nil {
			return nil
		}
		cur.Stop()
		err := <-done
		s.end(cur)
		cur, done = nil, nil
		return err
	}

	s.setPeers(ctx, es.Peers())
	if s.peers.Load() > 0 {
		if err := start(); err != nil {
			return err
		}
	}

	s.logger.Info("supervisor waiting for peers", "sink", s.sink.Name(), "peers", s.peers.Load())

	for {
		select {
		case <-ctx.Done():
			return stop()

		case ev, ok := <-events:
			if !ok {
				s.logger.Info("sink closed, stopping supervisor")
				return stop()
			}
			s.setPeers(ctx, ev.Peers)

			switch {
			case ev.Peers > 0 && cur == nil:
				s.logger.Info("peer connected, starting pipeline", "peer", ev.PeerID, "remote", ev.Remote)
				if err := start(); err != nil {
					return err
				}
			case ev.Peers == 0 && cur != nil:
				s.logger.Info("last peer left, stopping pipeline", "peer", ev.PeerID)
				if err := stop(); err != nil {
					return err
				}
			}

		case err := <-done:
			s.end(cur)
			cur, done = nil, nil
			if err != nil {
				return err
			}
			s.logger.Info("pipeline finished while peers connected", "peers", s.peers.Load())
		}
	}
}

// runContinuous runs one pipeline for the life of ctx. Peer events are
// still followed so the peer count stays current.
func (s *Supervisor) runContinuous(ctx context.Context) error {
	p, err := s.begin()
	if err != nil {
		return err
	}
	defer s.end(p)

	es, ok := s.sink.(transport.EventSource)
	if !ok {
		return p.Run(ctx)
	}

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	s.setPeers(ctx, es.Peers())
	events := es.Events()
	for {
		select {
		case err := <-done:
			return err
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.setPeers(ctx, ev.Peers)
		}
	}
}

func (s *Supervisor) begin() (*Pipeline, error) {
	p, err := New(s.cfg, s.src, s.sink, s.opts...)
	if err != nil {
		return nil, err
	}
	s.sessions.Add(1)

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	return p, nil
}

func (s *Supervisor) end(p *Pipeline) {
	s.mu.Lock()
	if s.current == p {
		s.current = nil
	}
	s.last = p
	s.mu.Unlock()
}

// setPeers tracks the sink's peer count and mirrors changes on the
// active-peers gauge.
func (s *Supervisor) setPeers(ctx context.Context, n int) {
	if prev := s.peers.Swap(int64(n)); prev != int64(n) {
		s.metrics.ActivePeers.Add(ctx, int64(n)-prev)
	}
}

// Current returns the running pipeline, or nil when idle.
func (s *Supervisor) Current() *Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SupervisorStats describes the supervisor and its latest pipeline.
type SupervisorStats struct {
	StartOnPeer bool   `json:"start_on_peer"`
	Streaming   bool   `json:"streaming"`
	Sessions    uint64 `json:"sessions"`
	Peers       int64  `json:"peers"`

	// Pipeline holds the running pipeline's counters, or the last
	// finished one's while idle.
	Pipeline *Stats `json:"pipeline,omitempty"`
}

// Stats returns supervisor statistics.
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.Lock()
	p := s.current
	streaming := p != nil
	if p == nil {
		p = s.last
	}
	s.mu.Unlock()

	st := SupervisorStats{
		StartOnPeer: s.startOnPeer,
		Streaming:   streaming,
		Sessions:    s.sessions.Load(),
		Peers:       s.peers.Load(),
	}
	if p != nil {
		ps := p.Stats()
		st.Pipeline = &ps
	}
	return st
}
