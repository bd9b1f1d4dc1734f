package audioio

import (
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.BlockBytes(); got != 1024 {
		t.Errorf("BlockBytes() = %d, want 1024", got)
	}
	if got := cfg.BlockDuration(); got != 16*time.Millisecond {
		t.Errorf("BlockDuration() = %v, want 16ms", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"stereo", func(c *Config) { c.Channels = 2 }, true},
		{"zero block", func(c *Config) { c.BlockSamples = 0 }, true},
		{"loud tone", func(c *Config) { c.ToneAmplitude = 1.5 }, true},
		{"wav without path", func(c *Config) { c.Backend = BackendWAV }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendAuto, false},
		{"MOCK", BackendMock, false},
		{" wav ", BackendWAV, false},
		{"portaudio", BackendPortAudio, false},
		{"alsa", "", true},
	}

	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseBackend(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestNewSource_Mock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock

	src, err := NewSource(cfg, nil)
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}
	defer src.Close()

	if src.Name() != "mock" {
		t.Errorf("Name() = %q, want mock", src.Name())
	}
}

func TestNewSource_AutoDetectsWAV(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = writeWAV(t, 16000, 1, ramp(32))

	src, err := NewSource(cfg, nil)
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}
	defer src.Close()

	if src.Name() != "wav" {
		t.Errorf("Name() = %q, want wav", src.Name())
	}
}

func TestNewSource_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 4
	if _, err := NewSource(cfg, nil); err == nil {
		t.Error("Expected error for multi-channel config")
	}
}

func TestAvailableBackends(t *testing.T) {
	backends := AvailableBackends()
	if len(backends) < 2 || backends[0] != BackendMock || backends[1] != BackendWAV {
		t.Errorf("AvailableBackends() = %v, want mock and wav first", backends)
	}
}
