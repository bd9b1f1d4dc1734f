package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestTCPSink_Stream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = KindTCP
	cfg.Listen = "127.0.0.1:0"

	sink, err := NewTCPSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewTCPSink failed: %v", err)
	}
	defer sink.Close()

	if err := sink.Send(context.Background(), []byte{1, 2}); !errors.Is(err, ErrNoPeer) {
		t.Errorf("Send with no clients = %v, want ErrNoPeer", err)
	}

	conn, err := net.Dial("tcp", sink.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if ev := nextEvent(t, sink.Events()); ev.Kind != PeerConnected || ev.Peers != 1 {
		t.Fatalf("event = %+v, want first client connected", ev)
	}

	for _, frame := range [][]byte{{1, 2, 3, 4}, {5, 6}} {
		if err := sink.Send(context.Background(), frame); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	// No framing: both frames arrive as one byte stream.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	got := make([]byte, 6)
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("stream = %v, want concatenated frames", got)
	}

	conn.Close()
	if ev := nextEvent(t, sink.Events()); ev.Kind != PeerDisconnected || ev.Peers != 0 {
		t.Errorf("event = %+v, want client disconnected", ev)
	}
}

func TestTCPSink_CloseDropsClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = KindTCP
	cfg.Listen = "127.0.0.1:0"

	sink, err := NewTCPSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewTCPSink failed: %v", err)
	}

	conn, err := net.Dial("tcp", sink.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	nextEvent(t, sink.Events())

	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("read after Close = %v, want io.EOF", err)
	}
	if _, err := net.DialTimeout("tcp", sink.Addr().String(), 100*time.Millisecond); err == nil {
		t.Error("listener should be closed")
	}
}

func TestTCPSink_ListenError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = KindTCP
	cfg.Listen = "256.0.0.1:1"

	if _, err := NewTCPSink(cfg, nil); err == nil {
		t.Error("expected listen error for invalid address")
	}
}
