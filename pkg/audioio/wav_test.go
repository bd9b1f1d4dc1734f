package audioio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV writes a 16-bit PCM fixture and returns its path.
func writeWAV(t *testing.T, sampleRate, channels int, data []int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}
	return path
}

func wavConfig(path string) Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendWAV
	cfg.Device = path
	cfg.BlockSamples = 160
	cfg.Realtime = false
	return cfg
}

func ramp(n int) []int {
	data := make([]int, n)
	for i := range data {
		data[i] = i*10 - 2000
	}
	return data
}

func TestWAVSource_ReadsClipThenEOF(t *testing.T) {
	data := ramp(400)
	src, err := NewWAVSource(wavConfig(writeWAV(t, 16000, 1, data)), nil)
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	buf := make([]int32, 160)
	var got []int32
	var sizes []int
	for {
		n, err := src.Read(ctx, buf, 0)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		sizes = append(sizes, n)
		got = append(got, buf[:n]...)
	}

	if len(sizes) != 3 || sizes[0] != 160 || sizes[1] != 160 || sizes[2] != 80 {
		t.Errorf("block sizes = %v, want [160 160 80]", sizes)
	}
	if len(got) != len(data) {
		t.Fatalf("read %d samples, want %d", len(got), len(data))
	}
	for i, v := range data {
		if want := int32(v) << 16; got[i] != want {
			t.Fatalf("sample %d = %d, want %d (16-bit widened)", i, got[i], want)
		}
	}
}

func TestWAVSource_StereoResampled(t *testing.T) {
	// 8kHz stereo, left channel carries the signal.
	frames := 100
	data := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		data[i*2] = 1000
		data[i*2+1] = -1000
	}

	src, err := NewWAVSource(wavConfig(writeWAV(t, 8000, 2, data)), nil)
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}
	defer src.Close()

	if want := 200; len(src.samples) != want {
		t.Errorf("decoded %d samples, want %d after 8k->16k", len(src.samples), want)
	}
	for i, s := range src.samples {
		if s != 1000<<16 {
			t.Fatalf("sample %d = %d, want left channel only", i, s)
		}
	}
}

func TestWAVSource_Loop(t *testing.T) {
	cfg := wavConfig(writeWAV(t, 16000, 1, ramp(100)))
	cfg.Loop = true

	src, err := NewWAVSource(cfg, nil)
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}
	defer src.Close()

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	buf := make([]int32, 160)
	n, err := src.Read(context.Background(), buf, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 160 {
		t.Errorf("looping read returned %d samples, want 160", n)
	}
	if buf[100] != buf[0] {
		t.Errorf("sample after wrap = %d, want clip start %d", buf[100], buf[0])
	}
	if src.Loops() != 1 {
		t.Errorf("Loops() = %d, want 1", src.Loops())
	}
}

func TestWAVSource_NotWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.wav")
	if err := os.WriteFile(path, []byte("definitely not riff data, just some text"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewWAVSource(wavConfig(path), nil)
	if !errors.Is(err, ErrNotWAV) {
		t.Errorf("Expected ErrNotWAV, got %v", err)
	}
}

func TestWAVSource_MissingFile(t *testing.T) {
	_, err := NewWAVSource(wavConfig(filepath.Join(t.TempDir(), "missing.wav")), nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}
