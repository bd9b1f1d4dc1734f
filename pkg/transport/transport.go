// Package transport delivers encoded PCM frames to listeners.
//
// A Sink accepts one frame per Send. Sinks with connected listeners
// (WebSocket, TCP) also publish peer lifecycle events so the caller can
// start capture when the first listener arrives and stop it when the last
// one leaves.
package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

// Common errors returned by sinks.
var (
	// ErrNoPeer means no listener is connected. The frame is dropped and
	// the caller keeps running.
	ErrNoPeer = errors.New("transport: no active peer")

	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: sink closed")
)

// Sink delivers encoded frames. Send must not retain pcm after it returns.
// Any error other than ErrNoPeer is fatal for the caller.
type Sink interface {
	Send(ctx context.Context, pcm []byte) error
	Name() string
	io.Closer
}

// EventKind identifies a peer lifecycle change.
type EventKind int

const (
	PeerConnected EventKind = iota + 1
	PeerDisconnected
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event describes a peer joining or leaving.
type Event struct {
	Kind   EventKind `json:"kind"`
	PeerID string    `json:"peer_id"`
	Remote string    `json:"remote"`

	// Peers is the number of connected peers after the change.
	Peers int       `json:"peers"`
	At    time.Time `json:"at"`
}

// EventSource is implemented by sinks that track connected peers.
type EventSource interface {
	// Events delivers peer changes. The channel is closed when the sink closes.
	// When the reader falls behind, the oldest undelivered events are
	// discarded; Event.Peers always reflects the latest count.
	Events() <-chan Event

	// Peers returns the number of connected peers.
	Peers() int
}

// PeerInfo contains info about a connected peer.
type PeerInfo struct {
	ID        string    `json:"id"`
	Remote    string    `json:"remote"`
	Connected time.Time `json:"connected"`
	Dropped   uint64    `json:"dropped"`
}

// Stats contains sink statistics.
type Stats struct {
	Peers         int    `json:"peers"`
	FramesSent    uint64 `json:"frames_sent"`
	BytesSent     uint64 `json:"bytes_sent"`
	FramesDropped uint64 `json:"frames_dropped"`
	EventsDropped uint64 `json:"events_dropped"`
}
