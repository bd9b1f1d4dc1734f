package transport

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeRadio records notifications and lets tests drive connections.
type fakeRadio struct {
	mu         sync.Mutex
	onConnect  func(remote string, connected bool)
	chunks     [][]byte
	advertised int
	closed     bool
	notifyErr  error
	startErr   error
}

func (r *fakeRadio) Start(onConnect func(remote string, connected bool)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.onConnect = onConnect
	r.advertised++
	return nil
}

func (r *fakeRadio) Advertise() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertised++
	return nil
}

func (r *fakeRadio) Notify(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notifyErr != nil {
		return r.notifyErr
	}
	r.chunks = append(r.chunks, append([]byte(nil), chunk...))
	return nil
}

func (r *fakeRadio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRadio) connect(remote string, connected bool) {
	r.mu.Lock()
	fn := r.onConnect
	r.mu.Unlock()
	fn(remote, connected)
}

func (r *fakeRadio) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.chunks...)
}

func (r *fakeRadio) advertisements() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advertised
}

func newTestBLESink(t *testing.T, radio *fakeRadio) *BLESink {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Kind = KindBLE
	cfg.BLEPause = 0

	s, err := newBLESink(cfg, radio, nil)
	if err != nil {
		t.Fatalf("newBLESink failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBLESink_NoCentral(t *testing.T) {
	radio := &fakeRadio{}
	s := newTestBLESink(t, radio)

	if err := s.Send(context.Background(), make([]byte, 64)); !errors.Is(err, ErrNoPeer) {
		t.Errorf("Send without central = %v, want ErrNoPeer", err)
	}
	if radio.advertisements() != 1 {
		t.Errorf("advertised %d times, want 1", radio.advertisements())
	}
}

func TestBLESink_ChunksFrames(t *testing.T) {
	radio := &fakeRadio{}
	s := newTestBLESink(t, radio)

	radio.connect("AA:BB:CC:DD:EE:FF", true)
	ev := nextEvent(t, s.Events())
	if ev.Kind != PeerConnected || ev.Remote != "AA:BB:CC:DD:EE:FF" || ev.Peers != 1 {
		t.Fatalf("event = %+v, want connected AA:BB:CC:DD:EE:FF with 1 peer", ev)
	}

	frame := make([]byte, 50)
	for i := range frame {
		frame[i] = byte(i)
	}
	if err := s.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for s.Stats().FramesSent < 1 {
		if time.Now().After(deadline) {
			t.Fatal("frame was not notified")
		}
		time.Sleep(5 * time.Millisecond)
	}

	chunks := radio.received()
	if len(chunks) != 3 {
		t.Fatalf("got %d notifications, want 3", len(chunks))
	}
	for i, want := range []int{20, 20, 10} {
		if len(chunks[i]) != want {
			t.Errorf("chunk %d has %d bytes, want %d", i, len(chunks[i]), want)
		}
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, frame) {
		t.Error("reassembled notifications differ from the frame")
	}
	if st := s.Stats(); st.BytesSent != 50 {
		t.Errorf("BytesSent = %d, want 50", st.BytesSent)
	}
}

func TestBLESink_SingleCentral(t *testing.T) {
	radio := &fakeRadio{}
	s := newTestBLESink(t, radio)

	radio.connect("central-1", true)
	nextEvent(t, s.Events())
	radio.connect("central-2", true)

	if s.Peers() != 1 {
		t.Errorf("Peers = %d, want 1", s.Peers())
	}
	// The ignored central leaving changes nothing.
	radio.connect("central-2", false)
	if s.Peers() != 1 {
		t.Errorf("Peers = %d after unknown disconnect, want 1", s.Peers())
	}
}

func TestBLESink_DisconnectReadvertises(t *testing.T) {
	radio := &fakeRadio{}
	s := newTestBLESink(t, radio)

	radio.connect("central-1", true)
	nextEvent(t, s.Events())
	radio.connect("central-1", false)

	ev := nextEvent(t, s.Events())
	if ev.Kind != PeerDisconnected || ev.Peers != 0 {
		t.Errorf("event = %+v, want disconnected with 0 peers", ev)
	}
	if radio.advertisements() != 2 {
		t.Errorf("advertised %d times, want 2", radio.advertisements())
	}
	if err := s.Send(context.Background(), make([]byte, 4)); !errors.Is(err, ErrNoPeer) {
		t.Errorf("Send after disconnect = %v, want ErrNoPeer", err)
	}

	// A new central can connect afterwards.
	radio.connect("central-2", true)
	if ev := nextEvent(t, s.Events()); ev.Kind != PeerConnected || ev.Remote != "central-2" {
		t.Errorf("event = %+v, want central-2 connected", ev)
	}
}

func TestBLESink_NotifyFailureDropsFrame(t *testing.T) {
	radio := &fakeRadio{notifyErr: errors.New("att: not subscribed")}
	s := newTestBLESink(t, radio)

	radio.connect("central-1", true)
	nextEvent(t, s.Events())

	if err := s.Send(context.Background(), make([]byte, 40)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for s.Stats().FramesDropped < 1 {
		if time.Now().After(deadline) {
			t.Fatal("failed notification was not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := s.Stats(); st.FramesSent != 0 {
		t.Errorf("FramesSent = %d, want 0", st.FramesSent)
	}
}

func TestBLESink_Close(t *testing.T) {
	radio := &fakeRadio{}
	cfg := DefaultConfig()
	cfg.Kind = KindBLE
	s, err := newBLESink(cfg, radio, nil)
	if err != nil {
		t.Fatalf("newBLESink failed: %v", err)
	}

	radio.connect("central-1", true)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	if err := s.Send(context.Background(), make([]byte, 4)); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	radio.mu.Lock()
	closed := radio.closed
	radio.mu.Unlock()
	if !closed {
		t.Error("radio was not closed")
	}

	// Connections reported after Close are ignored.
	radio.connect("central-2", true)
	if s.Peers() != 0 {
		t.Errorf("Peers = %d after Close, want 0", s.Peers())
	}
}

func TestNewBLESink_StartError(t *testing.T) {
	boom := errors.New("adapter unavailable")
	cfg := DefaultConfig()
	cfg.Kind = KindBLE
	if _, err := newBLESink(cfg, &fakeRadio{startErr: boom}, nil); !errors.Is(err, boom) {
		t.Errorf("newBLESink = %v, want %v", err, boom)
	}
}
