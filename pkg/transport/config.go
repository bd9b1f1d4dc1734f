package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kind selects the sink implementation.
type Kind string

const (
	// KindWebSocket serves binary frames to WebSocket clients.
	KindWebSocket Kind = "websocket"
	// KindTCP writes raw frames to every client of a TCP listener.
	KindTCP Kind = "tcp"
	// KindRTP sends RTP/UDP packets to a fixed remote.
	KindRTP Kind = "rtp"
	// KindBLE notifies a BLE central through a GATT characteristic.
	KindBLE Kind = "ble"
	// KindMock records frames in memory for testing.
	KindMock Kind = "mock"
)

// Config holds sink configuration.
type Config struct {
	// Kind selects the sink.
	// Default: "websocket"
	Kind Kind `yaml:"kind" json:"kind"`

	// Path is the WebSocket route on the HTTP server.
	// Default: "/"
	Path string `yaml:"path" json:"path"`

	// Listen is the TCP sink's listen address.
	// Default: ":12346"
	Listen string `yaml:"listen" json:"listen"`

	// Remote is the RTP destination host:port.
	Remote string `yaml:"remote" json:"remote"`

	// WriteTimeout bounds one write to a peer.
	// Default: 2s
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// PingInterval is the WebSocket keepalive period.
	// Default: 30s
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval"`

	// PeerBuffer is the number of frames queued per peer before frames
	// for that peer are dropped.
	// Default: 32
	PeerBuffer int `yaml:"peer_buffer" json:"peer_buffer"`

	// MaxPeers limits concurrent peers; 0 means unlimited.
	MaxPeers int `yaml:"max_peers" json:"max_peers"`

	// MTU is the largest RTP packet, header included. Must be even past
	// the header so samples are never split.
	// Default: 1200
	MTU int `yaml:"mtu" json:"mtu"`

	// PayloadType is the RTP dynamic payload type.
	// Default: 96
	PayloadType uint8 `yaml:"payload_type" json:"payload_type"`

	// BLEName is the advertised BLE local name.
	// Default: "micstream"
	BLEName string `yaml:"ble_name" json:"ble_name"`

	// BLEChunk is the payload bytes per BLE notification. Must be even.
	// Default: 20
	BLEChunk int `yaml:"ble_chunk" json:"ble_chunk"`

	// BLEPause is the delay between notifications of one frame.
	// Default: 1ms
	BLEPause time.Duration `yaml:"ble_pause" json:"ble_pause"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Kind:         KindWebSocket,
		Path:         "/",
		Listen:       ":12346",
		WriteTimeout: 2 * time.Second,
		PingInterval: 30 * time.Second,
		PeerBuffer:   32,
		MTU:          1200,
		PayloadType:  96,
		BLEName:      "micstream",
		BLEChunk:     20,
		BLEPause:     time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	switch c.Kind {
	case KindWebSocket:
		if !strings.HasPrefix(c.Path, "/") {
			errs = append(errs, fmt.Errorf("path must start with /, got %q", c.Path))
		}
		if c.PingInterval <= 0 {
			errs = append(errs, fmt.Errorf("ping_interval must be positive, got %v", c.PingInterval))
		}
	case KindTCP:
		if c.Listen == "" {
			errs = append(errs, errors.New("tcp transport requires listen"))
		}
	case KindRTP:
		if c.Remote == "" {
			errs = append(errs, errors.New("rtp transport requires remote"))
		}
		if c.MTU <= rtpHeaderSize || (c.MTU-rtpHeaderSize)%2 != 0 {
			errs = append(errs, fmt.Errorf("mtu must exceed %d with an even payload size, got %d", rtpHeaderSize, c.MTU))
		}
		if c.PayloadType > 127 {
			errs = append(errs, fmt.Errorf("payload_type must be <= 127, got %d", c.PayloadType))
		}
	case KindBLE:
		if c.BLEName == "" {
			errs = append(errs, errors.New("ble transport requires ble_name"))
		}
		if c.BLEChunk < 2 || c.BLEChunk%2 != 0 {
			errs = append(errs, fmt.Errorf("ble_chunk must be even and at least 2, got %d", c.BLEChunk))
		}
		if c.BLEPause < 0 {
			errs = append(errs, fmt.Errorf("ble_pause must not be negative, got %v", c.BLEPause))
		}
	case KindMock:
	default:
		errs = append(errs, fmt.Errorf("unknown transport kind %q", c.Kind))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write_timeout must be positive, got %v", c.WriteTimeout))
	}
	if c.PeerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("peer_buffer must be positive, got %d", c.PeerBuffer))
	}
	if c.MaxPeers < 0 {
		errs = append(errs, fmt.Errorf("max_peers must not be negative, got %d", c.MaxPeers))
	}
	return errors.Join(errs...)
}

// ParseKind converts a configuration string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindWebSocket, KindTCP, KindRTP, KindBLE, KindMock:
		return k, nil
	case "ws":
		return KindWebSocket, nil
	default:
		return "", fmt.Errorf("unknown transport kind %q", s)
	}
}

// New creates the sink selected by cfg.Kind. The WebSocket sink still needs
// its routes registered on an HTTP server.
func New(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("creating transport", "kind", cfg.Kind)

	switch cfg.Kind {
	case KindWebSocket:
		return NewWebSocketSink(cfg, logger), nil
	case KindTCP:
		return NewTCPSink(cfg, logger)
	case KindRTP:
		return NewRTPSink(cfg, logger)
	case KindBLE:
		return NewBLESink(cfg, logger)
	case KindMock:
		return NewMockSink(), nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Kind)
	}
}
