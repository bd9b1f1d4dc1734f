package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// maxMessageSize is the largest control message accepted from a peer.
// Listeners are not expected to send data.
const maxMessageSize = 4 * 1024

// WebSocketSink broadcasts each frame as one binary WebSocket message to
// every connected client.
type WebSocketSink struct {
	*hub
	cfg Config
}

// NewWebSocketSink creates a WebSocket sink. Call RegisterRoutes to attach
// it to an HTTP server.
func NewWebSocketSink(cfg Config, logger *slog.Logger) *WebSocketSink {
	return &WebSocketSink{
		hub: newHub("websocket", cfg.PeerBuffer, cfg.MaxPeers, logger),
		cfg: cfg,
	}
}

// RegisterRoutes registers the stream endpoint at cfg.Path on a Fiber app.
func (s *WebSocketSink) RegisterRoutes(app fiber.Router) {
	app.Get(s.cfg.Path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(s.handlePeer))
}

// handlePeer runs for the lifetime of one WebSocket connection.
func (s *WebSocketSink) handlePeer(c *websocket.Conn) {
	p, err := s.add(c.RemoteAddr().String())
	if err != nil {
		s.logger.Warn("rejecting websocket peer", "remote", c.RemoteAddr().String(), "error", err)
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(s.cfg.WriteTimeout))
		c.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(c, p)
	}()

	s.readPump(c)
	s.remove(p)
	<-done
}

// readPump reads until the connection closes. Peers are not expected to
// send data, but reading detects disconnection and receives pongs.
func (s *WebSocketSink) readPump(c *websocket.Conn) {
	pongWait := s.pongWait()

	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump is the only goroutine writing to the connection.
func (s *WebSocketSink) writePump(c *websocket.Conn, p *peer) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-p.send:
			c.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel - send close frame
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.logger.Debug("websocket write failed", "peer", p.id, "error", err)
				return
			}
			s.delivered(len(frame))

		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketSink) pongWait() time.Duration {
	return s.cfg.PingInterval * 10 / 9
}

// Send broadcasts pcm to every peer. It returns ErrNoPeer when nobody is
// connected.
func (s *WebSocketSink) Send(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.broadcast(pcm)
}

// Name returns "websocket".
func (s *WebSocketSink) Name() string {
	return "websocket"
}

// Close disconnects all peers.
func (s *WebSocketSink) Close() error {
	s.close()
	return nil
}

var (
	_ Sink        = (*WebSocketSink)(nil)
	_ EventSource = (*WebSocketSink)(nil)
)
