// micstream: capture microphone audio and stream voice to network listeners
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-micstream/internal/config"
	"github.com/teslashibe/go-micstream/internal/log"
	"github.com/teslashibe/go-micstream/internal/observe"
	"github.com/teslashibe/go-micstream/pkg/audioio"
	"github.com/teslashibe/go-micstream/pkg/pipeline"
	"github.com/teslashibe/go-micstream/pkg/server"
	"github.com/teslashibe/go-micstream/pkg/transport"
)

var version = "0.1.0"

var (
	configPath  = flag.String("config", "", "Path to YAML config file")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	backend     = flag.String("backend", "", "Audio backend: auto, portaudio, wav, mock")
	device      = flag.String("device", "", "Capture device name or WAV file path")
	kind        = flag.String("transport", "", "Transport: websocket, tcp, rtp, ble, mock")
	remote      = flag.String("remote", "", "RTP destination host:port")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	alwaysOn    = flag.Bool("always-on", false, "Stream continuously instead of only while peers are connected")
	debug       = flag.Bool("debug", false, "Enable HTTP access logs")
	listDevices = flag.Bool("list-backends", false, "List available audio backends and exit")
)

func main() {
	flag.Parse()

	if *listDevices {
		for _, b := range audioio.AvailableBackends() {
			fmt.Println(b)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)

	fmt.Println()
	fmt.Println("🎙️  micstream v" + version)
	fmt.Println()

	if err := run(cfg); err != nil {
		log.Error("micstream failed", "error", err)
		os.Exit(1)
	}
	log.Info("goodbye")
}

// loadConfig layers flags over the config file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *device != "" {
		cfg.Audio.Device = *device
	}
	if *remote != "" {
		cfg.Transport.Remote = *remote
	}
	if *alwaysOn {
		cfg.StartOnPeer = false
	}
	if *backend != "" {
		if cfg.Audio.Backend, err = audioio.ParseBackend(*backend); err != nil {
			return nil, err
		}
	}
	if *kind != "" {
		if cfg.Transport.Kind, err = transport.ParseKind(*kind); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.L()

	var metrics *observe.Metrics
	if cfg.Metrics {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		defer shutdown(context.Background())
		metrics = observe.DefaultMetrics()
	}

	src, err := audioio.NewSource(cfg.Audio, logger.With("component", "audio"))
	if err != nil {
		return fmt.Errorf("audio source: %w", err)
	}
	defer src.Close()

	sink, err := transport.New(cfg.Transport, logger.With("component", "transport"))
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer sink.Close()

	sup, err := pipeline.NewSupervisor(cfg.Pipeline, src, sink, cfg.StartOnPeer,
		pipeline.WithLogger(logger.With("component", "pipeline")),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	srv := server.New(server.Config{
		Addr:    cfg.Listen,
		Version: version,
		Debug:   *debug,
		Metrics: cfg.Metrics,
	}, sup, src, sink, metrics, logger.With("component", "http"))
	srvErr := srv.StartAsync()

	logger.Info("micstream running",
		"source", src.Name(),
		"transport", sink.Name(),
		"listen", cfg.Listen,
		"start_on_peer", cfg.StartOnPeer,
	)
	if cfg.Transport.Kind == transport.KindWebSocket {
		fmt.Printf("   Stream:  ws://localhost%s%s\n", cfg.Listen, cfg.Transport.Path)
	}
	fmt.Printf("   Health:  http://localhost%s/health\n", cfg.Listen)
	fmt.Println()

	supErr := make(chan error, 1)
	go func() { supErr <- sup.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		runErr = <-supErr
	case runErr = <-supErr:
	case err, ok := <-srvErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
		stop()
		<-supErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
