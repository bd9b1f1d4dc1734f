package server

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-micstream/pkg/audioio"
	"github.com/teslashibe/go-micstream/pkg/pipeline"
	"github.com/teslashibe/go-micstream/pkg/transport"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Uptime    string `json:"uptime"`
	Source    string `json:"source,omitempty"`
	Sink      string `json:"sink,omitempty"`
	Peers     int64  `json:"peers"`
	Streaming bool   `json:"streaming"`
}

// StatsResponse is returned by /api/stats.
type StatsResponse struct {
	Pipeline *pipeline.SupervisorStats `json:"pipeline,omitempty"`
	Source   *audioio.SourceStats      `json:"source,omitempty"`
	Sink     *transport.Stats          `json:"sink,omitempty"`
}

// handleHealth reports liveness and a short status summary
func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.cfg.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.source != nil {
		resp.Source = s.source.Name()
	}
	if s.sink != nil {
		resp.Sink = s.sink.Name()
	}
	if s.stats != nil {
		st := s.stats.Stats()
		resp.Peers = st.Peers
		resp.Streaming = st.Streaming
	}
	return c.JSON(resp)
}

// handleStats returns pipeline, source and sink counters
func (s *Server) handleStats(c *fiber.Ctx) error {
	var resp StatsResponse
	if s.stats != nil {
		st := s.stats.Stats()
		resp.Pipeline = &st
	}
	if src, ok := s.source.(audioio.SourceWithStats); ok {
		st := src.Stats()
		resp.Source = &st
	}
	if sink, ok := s.sink.(sinkStats); ok {
		st := sink.Stats()
		resp.Sink = &st
	}
	return c.JSON(resp)
}

// handlePeers lists connected peers
func (s *Server) handlePeers(c *fiber.Ctx) error {
	lister, ok := s.sink.(peerLister)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "sink does not track peers",
		})
	}
	return c.JSON(lister.PeerInfos())
}
