package transport

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// eventBuffer is the capacity of a sink's event channel.
const eventBuffer = 16

// errTooManyPeers is returned by hub.add when MaxPeers is reached.
var errTooManyPeers = errors.New("transport: peer limit reached")

// peer is one connected listener. Only its write pump reads send.
type peer struct {
	id        string
	remote    string
	connected time.Time
	send      chan []byte
	dropped   atomic.Uint64
}

// hub maintains the set of connected peers and fans frames out to them.
// Each peer has a buffered channel drained by its own write pump; a peer
// whose buffer is full misses the frame instead of stalling the others.
type hub struct {
	name     string
	logger   *slog.Logger
	bufSize  int
	maxPeers int

	mu     sync.RWMutex
	peers  map[string]*peer
	closed bool

	evMu     sync.Mutex
	events   chan Event
	evClosed bool

	// Stats
	framesSent    atomic.Uint64
	bytesSent     atomic.Uint64
	framesDropped atomic.Uint64
	eventsDropped atomic.Uint64
}

func newHub(name string, bufSize, maxPeers int, logger *slog.Logger) *hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &hub{
		name:     name,
		logger:   logger,
		bufSize:  bufSize,
		maxPeers: maxPeers,
		peers:    make(map[string]*peer),
		events:   make(chan Event, eventBuffer),
	}
}

// add registers a new peer and announces it.
func (h *hub) add(remote string) (*peer, error) {
	p := &peer{
		id:        uuid.NewString(),
		remote:    remote,
		connected: time.Now(),
		send:      make(chan []byte, h.bufSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if h.maxPeers > 0 && len(h.peers) >= h.maxPeers {
		h.mu.Unlock()
		return nil, errTooManyPeers
	}
	h.peers[p.id] = p
	count := len(h.peers)
	h.publish(Event{Kind: PeerConnected, PeerID: p.id, Remote: remote, Peers: count, At: p.connected})
	h.mu.Unlock()

	h.logger.Info("peer connected", "transport", h.name, "peer", p.id, "remote", remote, "peers", count)
	return p, nil
}

// remove unregisters p and closes its send channel. It is safe to call
// more than once.
func (h *hub) remove(p *peer) {
	h.mu.Lock()
	if _, ok := h.peers[p.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, p.id)
	close(p.send)
	count := len(h.peers)
	h.publish(Event{Kind: PeerDisconnected, PeerID: p.id, Remote: p.remote, Peers: count, At: time.Now()})
	h.mu.Unlock()

	h.logger.Info("peer disconnected",
		"transport", h.name,
		"peer", p.id,
		"peers", count,
		"dropped", p.dropped.Load(),
	)
}

// broadcast queues pcm to every peer. The payload is copied once and shared
// read-only by all write pumps.
func (h *hub) broadcast(pcm []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrClosed
	}
	if len(h.peers) == 0 {
		return ErrNoPeer
	}

	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	for _, p := range h.peers {
		select {
		case p.send <- buf:
		default:
			// Peer's buffer is full - it's too slow for this frame
			p.dropped.Add(1)
			h.framesDropped.Add(1)
		}
	}
	return nil
}

// delivered records a frame written to a peer.
func (h *hub) delivered(n int) {
	h.framesSent.Add(1)
	h.bytesSent.Add(uint64(n))
}

// publish must be called with mu held so events leave in registry order.
func (h *hub) publish(ev Event) {
	h.evMu.Lock()
	defer h.evMu.Unlock()

	if h.evClosed {
		return
	}
	for {
		select {
		case h.events <- ev:
			return
		default:
		}
		select {
		case <-h.events:
			h.eventsDropped.Add(1)
		default:
		}
	}
}

// close disconnects every peer and closes the event channel.
func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, p := range h.peers {
		delete(h.peers, id)
		close(p.send)
		h.publish(Event{Kind: PeerDisconnected, PeerID: p.id, Remote: p.remote, Peers: len(h.peers), At: time.Now()})
	}
	h.mu.Unlock()

	h.evMu.Lock()
	h.evClosed = true
	close(h.events)
	h.evMu.Unlock()
}

// Events delivers peer changes.
func (h *hub) Events() <-chan Event {
	return h.events
}

// Peers returns the number of connected peers.
func (h *hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// PeerInfos returns info about all connected peers.
func (h *hub) PeerInfos() []PeerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]PeerInfo, 0, len(h.peers))
	for _, p := range h.peers {
		infos = append(infos, PeerInfo{
			ID:        p.id,
			Remote:    p.remote,
			Connected: p.connected,
			Dropped:   p.dropped.Load(),
		})
	}
	return infos
}

// Stats returns sink statistics.
func (h *hub) Stats() Stats {
	return Stats{
		Peers:         h.Peers(),
		FramesSent:    h.framesSent.Load(),
		BytesSent:     h.bytesSent.Load(),
		FramesDropped: h.framesDropped.Load(),
		EventsDropped: h.eventsDropped.Load(),
	}
}
