package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-micstream/pkg/audioio"
	"github.com/teslashibe/go-micstream/pkg/transport"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Listen != ":12345" || !cfg.StartOnPeer {
		t.Errorf("defaults = listen %q start_on_peer %v, want :12345/true", cfg.Listen, cfg.StartOnPeer)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Pipeline.QueueCapacity != 10 {
		t.Errorf("QueueCapacity = %d, want default 10", cfg.Pipeline.QueueCapacity)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "micstream.yaml")
	yaml := `
log_level: debug
listen: ":9000"
start_on_peer: false
audio:
  backend: mock
  block_samples: 160
pipeline:
  queue_capacity: 4
  pool_slots: 6
  overflow: block-producer
  read_timeout: 50ms
  encoder:
    gain: 4
transport:
  kind: tcp
  listen: ":9001"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.Listen != ":9000" || cfg.StartOnPeer {
		t.Errorf("top-level = %+v", cfg)
	}
	if cfg.Audio.Backend != audioio.BackendMock || cfg.Audio.BlockSamples != 160 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Pipeline.QueueCapacity != 4 || cfg.Pipeline.Overflow != "block-producer" {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.ReadTimeout != 50*time.Millisecond {
		t.Errorf("ReadTimeout = %v, want 50ms", cfg.Pipeline.ReadTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Pipeline.Encoder.Gain != 4 || cfg.Pipeline.Encoder.ShiftStrong != 8 {
		t.Errorf("encoder = %+v, want gain 4 with default shifts", cfg.Pipeline.Encoder)
	}
	if cfg.Transport.Kind != transport.KindTCP || cfg.Transport.Listen != ":9001" {
		t.Errorf("transport = %+v", cfg.Transport)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("listen: \":1\"\nlisten_port: 2\n"))
	if err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %q, want default", cfg.Listen)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvListen, ":7000")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvBackend, "wav")
	t.Setenv(EnvDevice, "/tmp/clip.wav")
	t.Setenv(EnvTransport, "rtp")
	t.Setenv(EnvRemote, "10.0.0.2:5004")
	t.Setenv(EnvStartOnPeer, "false")

	cfg := Default()
	if err := ApplyEnv(&cfg); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Listen != ":7000" || cfg.LogLevel != "warn" || cfg.StartOnPeer {
		t.Errorf("top-level = listen %q level %q start_on_peer %v", cfg.Listen, cfg.LogLevel, cfg.StartOnPeer)
	}
	if cfg.Audio.Backend != audioio.BackendWAV || cfg.Audio.Device != "/tmp/clip.wav" {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Transport.Kind != transport.KindRTP || cfg.Transport.Remote != "10.0.0.2:5004" {
		t.Errorf("transport = %+v", cfg.Transport)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{EnvBackend, "alsa"},
		{EnvTransport, "pigeon"},
		{EnvStartOnPeer, "sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := Default()
			if err := ApplyEnv(&cfg); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.Pipeline.QueueCapacity = 0
	cfg.Pipeline.SlotSamples = 128

	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"log_level", "queue_capacity", "slot_samples"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_WebSocketNeedsListen(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	if err := Validate(&cfg); err == nil {
		t.Error("expected error for websocket transport without listen address")
	}

	cfg.Transport.Kind = transport.KindMock
	if err := Validate(&cfg); err != nil {
		t.Errorf("mock transport without listen: %v", err)
	}
}

func TestValidate_NoLogging(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := Default()
	cfg.StartOnPeer = true
	cfg.Transport.Kind = transport.KindRTP
	cfg.Transport.Remote = "127.0.0.1:5004"

	if err := Validate(&cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Validate logged %q, want no output", buf.String())
	}
}
