package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pion/rtp"
)

// rtpHeaderSize is the fixed RTP header without CSRCs or extensions.
const rtpHeaderSize = 12

// RTPSink sends frames to a fixed UDP destination as RTP packets carrying
// little-endian 16-bit PCM under a dynamic payload type. Frames larger than
// the MTU are split; each packet's timestamp is the sample offset of its
// first sample.
type RTPSink struct {
	cfg    Config
	logger *slog.Logger
	conn   *net.UDPConn

	mu        sync.Mutex
	closed    bool
	seq       rtp.Sequencer
	ssrc      uint32
	timestamp uint32
	pkt       rtp.Packet
	buf       []byte

	packetsSent atomic.Uint64
	framesSent  atomic.Uint64
	bytesSent   atomic.Uint64
	refused     atomic.Uint64
}

// NewRTPSink dials cfg.Remote over UDP.
func NewRTPSink(cfg Config, logger *slog.Logger) (*RTPSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raddr, err := net.ResolveUDPAddr("udp", cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("resolve rtp remote %q: %w", cfg.Remote, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial rtp remote %q: %w", cfg.Remote, err)
	}

	s := &RTPSink{
		cfg:       cfg,
		logger:    logger,
		conn:      conn,
		seq:       rtp.NewRandomSequencer(),
		ssrc:      rand.Uint32(),
		timestamp: rand.Uint32(),
		buf:       make([]byte, cfg.MTU),
	}

	logger.Info("rtp sink ready",
		"remote", raddr.String(),
		"payload_type", cfg.PayloadType,
		"ssrc", s.ssrc,
	)
	return s, nil
}

// Send packetizes pcm and writes the packets. A refused destination (no
// receiver bound) is reported as ErrNoPeer.
func (s *RTPSink) Send(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	maxPayload := s.cfg.MTU - rtpHeaderSize
	start := s.timestamp
	var sendErr error
	for off := 0; off < len(pcm); off += maxPayload {
		end := min(off+maxPayload, len(pcm))

		s.pkt.Header = rtp.Header{
			Version:        2,
			Marker:         off == 0,
			PayloadType:    s.cfg.PayloadType,
			SequenceNumber: s.seq.NextSequenceNumber(),
			Timestamp:      start + uint32(off/2),
			SSRC:           s.ssrc,
		}
		s.pkt.Payload = pcm[off:end]

		n, err := s.pkt.MarshalTo(s.buf)
		if err != nil {
			return fmt.Errorf("rtp marshal: %w", err)
		}
		if _, err := s.conn.Write(s.buf[:n]); err != nil {
			sendErr = err
			break
		}
		s.packetsSent.Add(1)
	}
	s.pkt.Payload = nil

	// The stream clock advances whether or not the receiver was there.
	s.timestamp = start + uint32(len(pcm)/2)

	if sendErr != nil {
		if errors.Is(sendErr, syscall.ECONNREFUSED) {
			s.refused.Add(1)
			return ErrNoPeer
		}
		return fmt.Errorf("rtp write: %w", sendErr)
	}

	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(len(pcm)))
	return nil
}

// Name returns "rtp".
func (s *RTPSink) Name() string {
	return "rtp"
}

// SSRC returns the stream's synchronization source identifier.
func (s *RTPSink) SSRC() uint32 {
	return s.ssrc
}

// Stats returns sink statistics. Refused sends count as dropped frames.
func (s *RTPSink) Stats() Stats {
	return Stats{
		FramesSent:    s.framesSent.Load(),
		BytesSent:     s.bytesSent.Load(),
		FramesDropped: s.refused.Load(),
	}
}

// Close releases the socket.
func (s *RTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

var _ Sink = (*RTPSink)(nil)
