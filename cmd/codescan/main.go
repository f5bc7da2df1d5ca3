package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/camera"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/decoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/notify"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/webmonitor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/webrtc"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

const (
	firstFrameTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server is the scanner service: frame loop plus its presentation surfaces
type Server struct {
	cfg           config.Config
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	done          chan struct{}
	metrics       *metrics.Metrics
	source        camera.VideoSource
	pipeline      *pipeline.Pipeline
	web           *webmonitor.Server
	webrtc        *webrtc.Server
	dispatcher    *notify.Dispatcher
	notifier      notify.Notifier
	httpServer    *http.Server
	metricsServer *http.Server
}

func main() {
	envFile := os.Getenv(config.EnvPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := config.LoadEnv(envFile)
	if err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	var (
		symbologies = types.FormatSymbologyList(cfg.Scanner.Symbologies)
		stunServers = strings.Join(cfg.Server.STUNServers, ",")
		assetsDir   string
	)

	// Command-line flags override the environment
	flag.StringVar(&cfg.Server.Source, "source", cfg.Server.Source, "Video source (file:<path>, dir:<path>, mjpeg:<url>)")
	flag.IntVar(&cfg.Server.SourceFPS, "fps", cfg.Server.SourceFPS, "Playback rate for directory sources")
	flag.BoolVar(&cfg.Server.SourceLoop, "loop", cfg.Server.SourceLoop, "Loop directory sources")
	flag.StringVar(&cfg.Server.HTTPAddr, "http", cfg.Server.HTTPAddr, "HTTP server address")
	flag.StringVar(&cfg.Server.MetricsAddr, "metrics", cfg.Server.MetricsAddr, "Metrics server address (empty disables)")
	flag.StringVar(&cfg.Server.PprofAddr, "pprof", cfg.Server.PprofAddr, "pprof server address (empty disables)")
	flag.IntVar(&cfg.Server.MaxClients, "max-clients", cfg.Server.MaxClients, "Maximum WebRTC clients")
	flag.StringVar(&stunServers, "stun", stunServers, "STUN server URLs (comma-separated)")
	flag.StringVar(&cfg.Server.RedisURL, "redis", cfg.Server.RedisURL, "Redis URL for appearance notifications (empty disables)")
	flag.StringVar(&cfg.Server.RedisChannel, "redis-channel", cfg.Server.RedisChannel, "Redis pub/sub channel")
	flag.DurationVar(&cfg.Scanner.ThrottleInterval, "throttle", cfg.Scanner.ThrottleInterval, "Minimum interval between decodes")
	flag.DurationVar(&cfg.Scanner.RetentionWindow, "retention", cfg.Scanner.RetentionWindow, "How long an unseen code stays on screen")
	flag.DurationVar(&cfg.Scanner.PreviewInterval, "preview", cfg.Scanner.PreviewInterval, "Preview frame interval (0 disables)")
	flag.StringVar(&symbologies, "symbologies", symbologies, "Allowed symbologies (comma-separated)")
	flag.BoolVar(&cfg.Scanner.ShowContour, "contour", cfg.Scanner.ShowContour, "Draw code contours")
	flag.BoolVar(&cfg.Scanner.Beep, "beep", cfg.Scanner.Beep, "Ring the terminal bell on new codes")
	flag.StringVar(&assetsDir, "assets", "", "Web assets directory served under /assets/")
	flag.StringVar(&cfg.Server.LogLevel, "log-level", cfg.Server.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&cfg.Server.LogColor, "log-color", cfg.Server.LogColor, "Enable colored log output")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Server.LogColor)

	syms, err := types.ParseSymbologyList(symbologies)
	if err != nil {
		log.Fatalf("Invalid symbologies: %v", err)
	}
	cfg.Scanner.Symbologies = syms
	cfg.Server.STUNServers = config.SplitList(stunServers)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Info("Main", "Code scanner starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg, assetsDir)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal or the end of the source
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Main", "Received %s, shutting down...", sig)
	case <-srv.Done():
		logger.Info("Main", "Frame loop finished, shutting down...")
	}

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// NewServer wires every component from cfg
func NewServer(cfg config.Config, assetsDir string) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New()

	source, err := camera.Open(cfg.Server.Source, camera.Options{
		FPS:  cfg.Server.SourceFPS,
		Loop: cfg.Server.SourceLoop,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open source: %w", err)
	}

	zx, err := decoder.NewZXing(cfg.Scanner.Symbologies)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	worker := decoder.NewWorker(zx, cfg.Scanner.ContrastDelta)

	notifiers := notify.Multi{notify.NewLog(os.Stdout, cfg.Scanner.Beep)}
	if cfg.Server.RedisURL != "" {
		rn, err := notify.NewRedis(ctx, cfg.Server.RedisURL, cfg.Server.RedisChannel)
		if err != nil {
			cancel()
			return nil, err
		}
		logger.Info("Main", "Publishing appearances to Redis channel %s", cfg.Server.RedisChannel)
		notifiers = append(notifiers, rn)
	}
	dispatcher := notify.NewDispatcher(notifiers, 32, m)

	webCfg := webmonitor.DefaultConfig()
	webCfg.Addr = cfg.Server.HTTPAddr
	webCfg.AssetsDir = assetsDir
	webCfg.ContourColor = cfg.Scanner.ContourColor
	webCfg.ResultColor = cfg.Scanner.ResultColor
	webCfg.ShowContour = cfg.Scanner.ShowContour
	web := webmonitor.NewServer(webCfg, webmonitor.Options{Metrics: m})

	rtc := webrtc.NewServer(cfg.Server.STUNServers, cfg.Server.MaxClients, web.Events(), web, m)
	web.SetWebRTCOffer(rtc)

	var preview pipeline.PreviewSink
	if cfg.Scanner.PreviewInterval > 0 {
		preview = web
	}
	p := pipeline.New(pipeline.Options{
		Config:      cfg.Scanner,
		Source:      source,
		Worker:      worker,
		Presenter:   web,
		Preview:     preview,
		Appearances: dispatcher,
		Metrics:     m,
	})
	web.SetViewportTarget(p)

	srv := &Server{
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		metrics:    m,
		source:     source,
		pipeline:   p,
		web:        web,
		webrtc:     rtc,
		dispatcher: dispatcher,
		notifier:   notifiers,
		httpServer: &http.Server{
			Addr:    cfg.Server.HTTPAddr,
			Handler: web.Handler(),
		},
	}
	if cfg.Server.MetricsAddr != "" {
		srv.metricsServer = m.NewServer(cfg.Server.MetricsAddr)
	}
	return srv, nil
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting code scanner...")
	logger.Info("Main", "  Source: %s", s.cfg.Server.Source)
	logger.Info("Main", "  HTTP server: %s", s.cfg.Server.HTTPAddr)
	logger.Info("Main", "  Metrics server: %s", s.cfg.Server.MetricsAddr)
	logger.Info("Main", "  pprof server: %s", s.cfg.Server.PprofAddr)
	logger.Info("Main", "  Symbologies: %s", types.FormatSymbologyList(s.cfg.Scanner.Symbologies))

	if mj, ok := s.source.(*camera.MJPEG); ok {
		mj.Start(s.ctx)
		if err := mj.WaitFirstFrame(s.ctx, firstFrameTimeout); err != nil {
			return fmt.Errorf("mjpeg source: %w", err)
		}
	}

	// Start pprof server
	if s.cfg.Server.PprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", s.cfg.Server.PprofAddr)
			if err := http.ListenAndServe(s.cfg.Server.PprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	// Start metrics server
	if s.metricsServer != nil {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	// Start HTTP server
	go func() {
		logger.Info("Main", "Starting HTTP server on %s", s.cfg.Server.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	s.dispatcher.Start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		if err := s.pipeline.Run(s.ctx); err != nil {
			logger.Error("Main", "Frame loop error: %v", err)
		}
	}()

	logger.Info("Main", "Server started successfully")
	return nil
}

// Done is closed when the frame loop has returned
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	logger.Info("Main", "Shutting down...")

	// Stop the frame loop before its sinks go away; queued notifications still drain
	s.cancel()
	s.wg.Wait()
	s.dispatcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	s.web.Close()
	if err := s.webrtc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("webrtc: %w", err))
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if err := s.notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("notifier: %w", err))
	}

	snap := s.metrics.Snapshot()
	logger.Info("Main", "Final stats: captured=%d dispatched=%d decoded=%d appearances=%d",
		snap["framesCaptured"], snap["decodeDispatched"], snap["decodeSucceeded"], snap["appearances"])
	return errors.Join(errs...)
}
