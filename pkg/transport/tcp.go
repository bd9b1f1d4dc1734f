package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// TCPSink writes each frame as raw bytes to every client of a TCP listener.
// There is no framing: a client reads a continuous little-endian int16
// stream.
type TCPSink struct {
	*hub
	cfg Config
	ln  net.Listener
	wg  sync.WaitGroup
}

// NewTCPSink listens on cfg.Listen and starts accepting clients.
func NewTCPSink(cfg Config, logger *slog.Logger) (*TCPSink, error) {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", cfg.Listen, err)
	}

	s := &TCPSink{
		hub: newHub("tcp", cfg.PeerBuffer, cfg.MaxPeers, logger),
		cfg: cfg,
		ln:  ln,
	}

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("tcp sink listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the listener address.
func (s *TCPSink) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *TCPSink) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("tcp accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		p, err := s.add(conn.RemoteAddr().String())
		if err != nil {
			s.logger.Warn("rejecting tcp peer", "remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			continue
		}

		s.wg.Add(2)
		go s.readPump(conn, p)
		go s.writePump(conn, p)
	}
}

// readPump discards anything the client sends and detects disconnection.
func (s *TCPSink) readPump(conn net.Conn, p *peer) {
	defer s.wg.Done()
	io.Copy(io.Discard, conn)
	s.remove(p)
	conn.Close()
}

func (s *TCPSink) writePump(conn net.Conn, p *peer) {
	defer s.wg.Done()
	defer conn.Close()

	for frame := range p.send {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if _, err := conn.Write(frame); err != nil {
			s.logger.Debug("tcp write failed", "peer", p.id, "error", err)
			s.remove(p)
			return
		}
		s.delivered(len(frame))
	}
}

// Send queues pcm to every client. It returns ErrNoPeer when nobody is
// connected.
func (s *TCPSink) Send(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.broadcast(pcm)
}

// Name returns "tcp".
func (s *TCPSink) Name() string {
	return "tcp"
}

// Close stops accepting, disconnects all clients and waits for their
// goroutines.
func (s *TCPSink) Close() error {
	err := s.ln.Close()
	s.close()
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

var (
	_ Sink        = (*TCPSink)(nil)
	_ EventSource = (*TCPSink)(nil)
)
