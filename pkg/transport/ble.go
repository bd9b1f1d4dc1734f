package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// GATT identifiers of the audio service and its notify characteristic.
const (
	bleServiceUUID = 0x1234
	bleAudioUUID   = 0x5678
)

// bleRadio is the peripheral side of a BLE adapter: one service with one
// notify characteristic.
type bleRadio interface {
	// Start enables the adapter, registers the service and begins
	// advertising. onConnect is called from the radio's goroutine whenever
	// a central connects or disconnects.
	Start(onConnect func(remote string, connected bool)) error

	// Advertise restarts advertising after a central has left.
	Advertise() error

	// Notify sends one notification on the audio characteristic.
	Notify(chunk []byte) error

	Close() error
}

// BLESink streams frames as GATT notifications to one connected central.
// Each frame is split into BLEChunk-byte notifications (20 bytes fits the
// default ATT MTU) with BLEPause between them. After the central leaves
// the sink advertises again.
type BLESink struct {
	*hub
	cfg   Config
	radio bleRadio
	wg    sync.WaitGroup

	mu      sync.Mutex
	central *peer
	closed  bool
}

// NewBLESink enables the host adapter and starts advertising as
// cfg.BLEName. It fails unless the binary was built with the ble tag.
func NewBLESink(cfg Config, logger *slog.Logger) (*BLESink, error) {
	radio, err := newBLERadio(cfg, logger)
	if err != nil {
		return nil, err
	}
	return newBLESink(cfg, radio, logger)
}

func newBLESink(cfg Config, radio bleRadio, logger *slog.Logger) (*BLESink, error) {
	s := &BLESink{
		hub:   newHub("ble", cfg.PeerBuffer, 1, logger),
		cfg:   cfg,
		radio: radio,
	}
	if err := radio.Start(s.handleConnect); err != nil {
		return nil, err
	}

	s.logger.Info("ble sink advertising", "name", cfg.BLEName, "chunk", cfg.BLEChunk)
	return s, nil
}

// handleConnect tracks the single central. Extra centrals are ignored
// while one is streaming.
func (s *BLESink) handleConnect(remote string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if connected {
		if s.central != nil {
			s.logger.Warn("ignoring second ble central", "remote", remote, "streaming_to", s.central.remote)
			return
		}
		p, err := s.add(remote)
		if err != nil {
			s.logger.Warn("rejecting ble central", "remote", remote, "error", err)
			return
		}
		s.central = p
		s.wg.Add(1)
		go s.writePump(p)
		return
	}

	if s.central == nil || s.central.remote != remote {
		return
	}
	s.remove(s.central)
	s.central = nil

	if err := s.radio.Advertise(); err != nil {
		s.logger.Warn("ble re-advertise failed", "error", err)
	}
}

func (s *BLESink) writePump(p *peer) {
	defer s.wg.Done()

	for frame := range p.send {
		if err := s.notify(frame); err != nil {
			p.dropped.Add(1)
			s.framesDropped.Add(1)
			s.logger.Debug("ble notify failed", "peer", p.id, "error", err)
			continue
		}
		s.delivered(len(frame))
	}
}

// notify splits frame into notifications. Chunks are even-sized so a
// sample is never split across two notifications.
func (s *BLESink) notify(frame []byte) error {
	for off := 0; off < len(frame); off += s.cfg.BLEChunk {
		end := min(off+s.cfg.BLEChunk, len(frame))
		if err := s.radio.Notify(frame[off:end]); err != nil {
			return err
		}
		if s.cfg.BLEPause > 0 && end < len(frame) {
			time.Sleep(s.cfg.BLEPause)
		}
	}
	return nil
}

// Send queues pcm for the connected central. It returns ErrNoPeer while
// nothing is connected.
func (s *BLESink) Send(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.broadcast(pcm)
}

// Name returns "ble".
func (s *BLESink) Name() string {
	return "ble"
}

// Close stops advertising, drops the central and waits for the write pump.
func (s *BLESink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.central = nil
	s.mu.Unlock()

	s.close()
	s.wg.Wait()

	err := s.radio.Close()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

var (
	_ Sink        = (*BLESink)(nil)
	_ EventSource = (*BLESink)(nil)
)
