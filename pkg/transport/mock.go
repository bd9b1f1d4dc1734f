package transport

import (
	"context"
	"sync"
	"time"
)

// MockSink records frames in memory for testing. Peers are simulated with
// Connect and Disconnect, which publish events like a real sink.
type MockSink struct {
	*hub

	mu          sync.Mutex
	frames      [][]byte
	script      []error
	requirePeer bool
	delay       time.Duration
	notify      chan struct{}
}

// MockSinkOption configures a MockSink.
type MockSinkOption func(*MockSink)

// WithSendErrors makes the next sends return errs in order.
func WithSendErrors(errs ...error) MockSinkOption {
	return func(m *MockSink) {
		m.script = append(m.script, errs...)
	}
}

// WithPeerRequired makes Send return ErrNoPeer while no peer is connected.
func WithPeerRequired() MockSinkOption {
	return func(m *MockSink) {
		m.requirePeer = true
	}
}

// WithSendDelay makes every Send take at least d.
func WithSendDelay(d time.Duration) MockSinkOption {
	return func(m *MockSink) {
		m.delay = d
	}
}

// NewMockSink creates a new mock sink.
func NewMockSink(opts ...MockSinkOption) *MockSink {
	m := &MockSink{
		hub:    newHub("mock", 1, 0, nil),
		notify: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect simulates a peer joining and returns its ID.
func (m *MockSink) Connect(remote string) (string, error) {
	p, err := m.add(remote)
	if err != nil {
		return "", err
	}
	return p.id, nil
}

// Disconnect simulates the peer with id leaving.
func (m *MockSink) Disconnect(id string) {
	m.hub.mu.RLock()
	p, ok := m.peers[id]
	m.hub.mu.RUnlock()
	if ok {
		m.remove(p)
	}
}

// Send records a copy of pcm.
func (m *MockSink) Send(ctx context.Context, pcm []byte) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}

	m.mu.Lock()
	if len(m.script) > 0 {
		err := m.script[0]
		m.script = m.script[1:]
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if m.requirePeer && m.Peers() == 0 {
		return ErrNoPeer
	}

	m.hub.mu.RLock()
	closed := m.closed
	m.hub.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	frame := make([]byte, len(pcm))
	copy(frame, pcm)

	m.mu.Lock()
	m.frames = append(m.frames, frame)
	m.mu.Unlock()
	m.delivered(len(frame))

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Frames returns the recorded frames.
func (m *MockSink) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.frames...)
}

// WaitFrames blocks until at least n frames were recorded or timeout
// elapses, and reports whether they arrived.
func (m *MockSink) WaitFrames(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		got := len(m.frames)
		m.mu.Unlock()
		if got >= n {
			return true
		}

		select {
		case <-m.notify:
		case <-deadline.C:
			return false
		}
	}
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close closes the sink and its event channel.
func (m *MockSink) Close() error {
	m.close()
	return nil
}

var (
	_ Sink        = (*MockSink)(nil)
	_ EventSource = (*MockSink)(nil)
)
