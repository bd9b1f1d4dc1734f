// Package config loads micstream configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-micstream/pkg/audioio"
	"github.com/teslashibe/go-micstream/pkg/pipeline"
	"github.com/teslashibe/go-micstream/pkg/transport"
)

// Default service configuration.
const (
	DefaultListen   = ":12345"
	DefaultLogLevel = "info"
)

// Environment variables read by ApplyEnv.
const (
	EnvListen      = "MICSTREAM_LISTEN"
	EnvLogLevel    = "MICSTREAM_LOG_LEVEL"
	EnvBackend     = "MICSTREAM_BACKEND"
	EnvDevice      = "MICSTREAM_DEVICE"
	EnvTransport   = "MICSTREAM_TRANSPORT"
	EnvRemote      = "MICSTREAM_REMOTE"
	EnvStartOnPeer = "MICSTREAM_START_ON_PEER"
)

// Config is the top-level micstream configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Listen is the HTTP address serving the WebSocket stream, health and metrics.
	Listen string `yaml:"listen" json:"listen"`

	// StartOnPeer runs the pipeline only while at least one peer is connected.
	StartOnPeer bool `yaml:"start_on_peer" json:"start_on_peer"`

	// Metrics enables the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics" json:"metrics"`

	Audio     audioio.Config   `yaml:"audio" json:"audio"`
	Pipeline  pipeline.Config  `yaml:"pipeline" json:"pipeline"`
	Transport transport.Config `yaml:"transport" json:"transport"`
}

// Default returns a Config with every section at its package defaults.
func Default() Config {
	return Config{
		LogLevel:    DefaultLogLevel,
		Listen:      DefaultListen,
		StartOnPeer: true,
		Metrics:     true,
		Audio:       audioio.DefaultConfig(),
		Pipeline:    pipeline.DefaultConfig(),
		Transport:   transport.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates it.
// Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, &cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from MICSTREAM_* environment variables.
func ApplyEnv(cfg *Config) error {
	cfg.Listen = envOr(EnvListen, cfg.Listen)
	cfg.LogLevel = envOr(EnvLogLevel, cfg.LogLevel)
	cfg.Audio.Device = envOr(EnvDevice, cfg.Audio.Device)
	cfg.Transport.Remote = envOr(EnvRemote, cfg.Transport.Remote)

	if v := os.Getenv(EnvBackend); v != "" {
		b, err := audioio.ParseBackend(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvBackend, err)
		}
		cfg.Audio.Backend = b
	}
	if v := os.Getenv(EnvTransport); v != "" {
		k, err := transport.ParseKind(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvTransport, err)
		}
		cfg.Transport.Kind = k
	}
	if v := os.Getenv(EnvStartOnPeer); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvStartOnPeer, err)
		}
		cfg.StartOnPeer = b
	}
	return nil
}

// envOr returns the value of key, or def when unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate checks every section and the constraints between them.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Listen == "" && cfg.Transport.Kind == transport.KindWebSocket {
		errs = append(errs, errors.New("listen is required for the websocket transport"))
	}

	if err := cfg.Audio.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if err := cfg.Transport.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("transport: %w", err))
	}

	if cfg.Pipeline.SlotSamples < cfg.Audio.BlockSamples {
		errs = append(errs, fmt.Errorf("pipeline.slot_samples (%d) must hold audio.block_samples (%d)",
			cfg.Pipeline.SlotSamples, cfg.Audio.BlockSamples))
	}

	return errors.Join(errs...)
}
