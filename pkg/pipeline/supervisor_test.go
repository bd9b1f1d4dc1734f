package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-micstream/pkg/audioio"
	"github.com/teslashibe/go-micstream/pkg/transport"
)

// countingSink accepts every frame and has no peer events.
type countingSink struct {
	sent atomic.Int64
}

func (s *countingSink) Send(ctx context.Context, pcm []byte) error {
	s.sent.Add(1)
	return nil
}

func (s *countingSink) Name() string { return "counting" }
func (s *countingSink) Close() error { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func liveSource() *audioio.MockSource {
	return audioio.NewMockSource(audioConfig(), nil, audioio.WithSineWave(440, 0.5))
}

func startSupervisor(t *testing.T, sup *Supervisor) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return")
	}
	return nil
}

func TestSupervisor_StartOnPeer(t *testing.T) {
	sink := transport.NewMockSink()
	defer sink.Close()

	sup, err := NewSupervisor(DefaultConfig(), liveSource(), sink, true)
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}
	cancel, errCh := startSupervisor(t, sup)

	time.Sleep(50 * time.Millisecond)
	if sup.Current() != nil {
		t.Fatal("pipeline running without peers")
	}
	if n := len(sink.Frames()); n != 0 {
		t.Fatalf("sink got %d frames without peers", n)
	}

	id, _ := sink.Connect("listener")
	waitFor(t, "pipeline start", func() bool { return sup.Current() != nil })
	if !sink.WaitFrames(3, 2*time.Second) {
		t.Fatal("no frames after peer connected")
	}

	sink.Disconnect(id)
	waitFor(t, "pipeline stop", func() bool { return sup.Current() == nil })

	st := sup.Stats()
	if st.Sessions != 1 || st.Streaming || st.Peers != 0 {
		t.Errorf("Stats() = %+v, want one finished session and no peers", st)
	}
	if st.Pipeline == nil || st.Pipeline.FramesSent < 3 {
		t.Errorf("Stats().Pipeline = %+v, want last session counters", st.Pipeline)
	}

	// A new peer gets a fresh pipeline.
	sink.Connect("listener")
	waitFor(t, "second session", func() bool { return sup.Stats().Sessions == 2 })

	cancel()
	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Run after cancel = %v, want nil", err)
	}
	if sup.Current() != nil {
		t.Error("pipeline still current after supervisor exit")
	}
}

func TestSupervisor_MultiplePeersOneSession(t *testing.T) {
	sink := transport.NewMockSink()
	defer sink.Close()

	sup, err := NewSupervisor(DefaultConfig(), liveSource(), sink, true)
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}
	startSupervisor(t, sup)

	a, _ := sink.Connect("a")
	sink.Connect("b")
	waitFor(t, "two peers", func() bool { return sup.Stats().Peers == 2 })

	sink.Disconnect(a)
	waitFor(t, "one peer", func() bool { return sup.Stats().Peers == 1 })

	if st := sup.Stats(); st.Sessions != 1 || !st.Streaming {
		t.Errorf("Stats() = %+v, want one session still streaming", st)
	}
}

func TestSupervisor_PeerAlreadyConnected(t *testing.T) {
	sink := transport.NewMockSink()
	defer sink.Close()
	sink.Connect("early")

	sup, err := NewSupervisor(DefaultConfig(), liveSource(), sink, true)
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}
	startSupervisor(t, sup)

	waitFor(t, "pipeline start", func() bool { return sup.Current() != nil })
}

func TestSupervisor_Continuous(t *testing.T) {
	sink := transport.NewMockSink()
	defer sink.Close()

	sup, err := NewSupervisor(DefaultConfig(), liveSource(), sink, false)
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}
	cancel, errCh := startSupervisor(t, sup)

	if !sink.WaitFrames(3, 2*time.Second) {
		t.Fatal("continuous mode did not stream without peers")
	}

	cancel()
	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Run after cancel = %v, want nil", err)
	}
}

func TestSupervisor_ContinuousTracksPeers(t *testing.T) {
	sink := transport.NewMockSink()
	defer sink.Close()

	sup, err := NewSupervisor(DefaultConfig(), liveSource(), sink, false)
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}
	cancel, errCh := startSupervisor(t, sup)

	first, _ := sink.Connect("listener-1")
	sink.Connect("listener-2")
	waitFor(t, "two peers", func() bool { return sup.Stats().Peers == 2 })

	sink.Disconnect(first)
	waitFor(t, "one peer", func() bool { return sup.Stats().Peers == 1 })

	if st := sup.Stats(); !st.Streaming {
		t.Error("continuous pipeline should keep streaming while peers change")
	}

	cancel()
	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Run after cancel = %v, want nil", err)
	}
}

func TestSupervisor_SinkWithoutEvents(t *testing.T) {
	sink := &countingSink{}

	sup, err := NewSupervisor(DefaultConfig(), liveSource(), sink, true)
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}
	if sup.Stats().StartOnPeer {
		t.Error("start-on-peer should be disabled for a sink without events")
	}

	startSupervisor(t, sup)
	waitFor(t, "frames", func() bool { return sink.sent.Load() >= 3 })
}

func TestSupervisor_PipelineFailure(t *testing.T) {
	boom := errors.New("socket reset")
	sink := transport.NewMockSink(transport.WithSendErrors(boom))
	defer sink.Close()

	sup, err := NewSupervisor(DefaultConfig(), liveSource(), sink, true)
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}
	_, errCh := startSupervisor(t, sup)

	sink.Connect("listener")

	if err := waitResult(t, errCh); !errors.Is(err, ErrSinkFatal) {
		t.Errorf("Run = %v, want ErrSinkFatal", err)
	}
}

func TestSupervisor_SinkClosed(t *testing.T) {
	sink := transport.NewMockSink()

	sup, err := NewSupervisor(DefaultConfig(), liveSource(), sink, true)
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}
	_, errCh := startSupervisor(t, sup)

	sink.Connect("listener")
	waitFor(t, "pipeline start", func() bool { return sup.Current() != nil })

	sink.Close()
	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Run after sink Close = %v, want nil", err)
	}
}

func TestNewSupervisor_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 0
	if _, err := NewSupervisor(cfg, liveSource(), transport.NewMockSink(), true); err == nil {
		t.Error("expected error for invalid config")
	}
}
