package audioio

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// NewSource creates a new audio source with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend(cfg)
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"block_ms", cfg.BlockDuration().Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendWAV:
		return NewWAVSource(cfg, logger)
	case BackendPortAudio:
		return newPortAudioSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend picks WAV for a .wav device, PortAudio when compiled in,
// and the mock otherwise.
func detectBestBackend(cfg Config) Backend {
	switch {
	case strings.EqualFold(filepath.Ext(cfg.Device), ".wav"):
		return BackendWAV
	case portAudioAvailable:
		return BackendPortAudio
	default:
		return BackendMock
	}
}

// AvailableBackends returns the list of backends compiled into this binary.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock, BackendWAV}
	if portAudioAvailable {
		backends = append(backends, BackendPortAudio)
	}
	return backends
}

// ParseBackend converts a configuration string into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendMock, BackendWAV, BackendPortAudio:
		return b, nil
	default:
		return "", fmt.Errorf("unknown audio backend %q", s)
	}
}
