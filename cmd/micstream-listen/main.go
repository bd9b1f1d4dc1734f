// micstream-listen: connect to a micstream WebSocket stream and report levels,
// optionally recording the audio to a WAV file
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-micstream/internal/httpc"
	"github.com/teslashibe/go-micstream/pkg/audioio"
)

var (
	url        = flag.String("url", "ws://localhost:12345/", "Stream URL")
	record     = flag.String("record", "", "Write received audio to this WAV file")
	sampleRate = flag.Int("rate", 16000, "Stream sample rate (for the WAV header)")
	interval   = flag.Duration("interval", time.Second, "Report interval")
	noHealth   = flag.Bool("no-health", false, "Skip the server health check")
)

// health mirrors the fields of the server's /health response we print.
type health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Source    string `json:"source"`
	Sink      string `json:"sink"`
	Peers     int    `json:"peers"`
	Streaming bool   `json:"streaming"`
}

// checkHealth queries /health on the stream's server.
func checkHealth(streamURL string) (*health, error) {
	base, err := httpc.HTTPBase(streamURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var h health
	if err := httpc.GetJSON(ctx, base+"/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// meter accumulates one report interval.
type meter struct {
	mu      sync.Mutex
	frames  int
	bytes   int
	peak    int
	sumSq   float64
	samples int
}

func (m *meter) add(pcm []int16, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames++
	m.bytes += n
	m.peak = max(m.peak, audioio.Peak16(pcm))
	rms := audioio.CalculateRMS(pcm)
	m.sumSq += rms * rms * float64(len(pcm))
	m.samples += len(pcm)
}

func (m *meter) report(d time.Duration) {
	m.mu.Lock()
	frames, bytes, peak := m.frames, m.bytes, m.peak
	var rms float64
	if m.samples > 0 {
		rms = math.Sqrt(m.sumSq / float64(m.samples))
	}
	m.frames, m.bytes, m.peak, m.sumSq, m.samples = 0, 0, 0, 0, 0
	m.mu.Unlock()

	secs := d.Seconds()
	fmt.Printf("📈 %5.1f frames/s  %7.1f KB/s  peak %5d  rms %.3f %s\n",
		float64(frames)/secs, float64(bytes)/1024/secs, peak, rms, bar(rms))
}

// bar renders a level meter for an RMS in [0, 1].
func bar(rms float64) string {
	n := min(int(rms*40+0.5), 40)
	return "|" + strings.Repeat("█", n) + strings.Repeat(" ", 40-n) + "|"
}

func main() {
	flag.Parse()

	fmt.Println("🎧 micstream listener")
	if !*noHealth {
		if h, err := checkHealth(*url); err != nil {
			fmt.Printf("⚠️  Health check failed: %v\n", err)
		} else {
			fmt.Printf("Server %s v%s: %s -> %s, %d peers, streaming=%v\n",
				h.Status, h.Version, h.Source, h.Sink, h.Peers, h.Streaming)
		}
	}

	fmt.Printf("Connecting to %s...\n", *url)

	ws, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Printf("❌ Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer ws.Close()
	fmt.Println("✅ Connected")

	var enc *wav.Encoder
	if *record != "" {
		f, err := os.Create(*record)
		if err != nil {
			fmt.Printf("❌ Failed to create %s: %v\n", *record, err)
			os.Exit(1)
		}
		defer f.Close()
		enc = wav.NewEncoder(f, *sampleRate, 16, 1, 1)
		defer func() {
			if err := enc.Close(); err != nil {
				fmt.Printf("⚠️  Failed to finish %s: %v\n", *record, err)
				return
			}
			fmt.Printf("💾 Saved %s\n", *record)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	m := &meter{}
	done := make(chan struct{})

	go func() {
		defer close(done)
		buf := &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: *sampleRate},
			SourceBitDepth: 16,
		}
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					fmt.Printf("⚠️  Stream ended: %v\n", err)
				}
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}

			pcm := audioio.BytesToSamples(data)
			m.add(pcm, len(data))

			if enc != nil {
				buf.Data = buf.Data[:0]
				for _, s := range pcm {
					buf.Data = append(buf.Data, int(s))
				}
				if err := enc.Write(buf); err != nil {
					fmt.Printf("⚠️  Write failed: %v\n", err)
				}
			}
		}
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.report(*interval)
		case <-done:
			return
		case <-sigChan:
			fmt.Println("\n👋 Closing...")
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
