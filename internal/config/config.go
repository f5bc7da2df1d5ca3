package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

// EnvPrefix prefixes every environment variable read by LoadEnv
const EnvPrefix = "CODESCAN_"

// Scanner holds the frame-loop, decode and overlay tuning.
// It is built once at startup and never mutated afterwards.
type Scanner struct {
	ThrottleInterval time.Duration // Minimum time between decode dispatches
	FreshnessSlack   time.Duration // Extra lifetime of the latest decode result beyond ThrottleInterval
	RetentionWindow  time.Duration // How long an unseen code stays tracked
	RefreshInterval  time.Duration // Frame loop tick (one display refresh)
	PreviewInterval  time.Duration // Preview JPEG cadence, 0 disables previews
	ContrastDelta    float64       // Luminance push away from the frame mean
	ViewportWidth    int           // Initial display container width
	ViewportHeight   int           // Initial display container height
	Symbologies      []types.Symbology

	ContourMargin float64 // Matrix code box expansion on every side
	BandThickness float64 // Linear code scan-line band height
	LabelHeight   float64
	ShowContour   bool
	ContourColor  string
	ResultColor   string
	Beep          bool
}

// Server holds process-level settings: listeners, collaborators and the video source.
type Server struct {
	HTTPAddr     string
	MetricsAddr  string
	PprofAddr    string
	Source       string // file:<path>, dir:<path> or mjpeg:<url>
	SourceFPS    int
	SourceLoop   bool
	STUNServers  []string
	MaxClients   int
	RedisURL     string
	RedisChannel string
	LogLevel     string
	LogColor     bool
}

// Config is the complete service configuration
type Config struct {
	Scanner Scanner
	Server  Server
}

// DefaultConfig returns the defaults the scanner was tuned with
func DefaultConfig() Config {
	return Config{
		Scanner: Scanner{
			ThrottleInterval: 500 * time.Millisecond,
			FreshnessSlack:   50 * time.Millisecond,
			RetentionWindow:  800 * time.Millisecond,
			RefreshInterval:  16 * time.Millisecond,
			PreviewInterval:  100 * time.Millisecond,
			ContrastDelta:    30,
			ViewportWidth:    1280,
			ViewportHeight:   720,
			Symbologies:      append([]types.Symbology(nil), types.AllSymbologies...),
			ContourMargin:    50,
			BandThickness:    30,
			LabelHeight:      24,
			ShowContour:      true,
			ContourColor:     "#FFD22B",
			ResultColor:      "#FFD22B",
			Beep:             true,
		},
		Server: Server{
			HTTPAddr:     ":8080",
			MetricsAddr:  ":9090",
			PprofAddr:    ":6060",
			Source:       "dir:./frames",
			SourceFPS:    30,
			SourceLoop:   true,
			STUNServers:  []string{"stun:stun.l.google.com:19302"},
			MaxClients:   10,
			RedisChannel: "codescan:appearances",
			LogLevel:     "info",
			LogColor:     true,
		},
	}
}

// LoadEnv loads an optional .env file and applies CODESCAN_* variables over the defaults.
// A missing env file is not an error; a malformed one is.
func LoadEnv(envFile string) (Config, error) {
	cfg := DefaultConfig()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var errs []error
	sc := &cfg.Scanner
	sc.ThrottleInterval = envDuration("THROTTLE", sc.ThrottleInterval, &errs)
	sc.FreshnessSlack = envDuration("FRESHNESS_SLACK", sc.FreshnessSlack, &errs)
	sc.RetentionWindow = envDuration("RETENTION", sc.RetentionWindow, &errs)
	sc.RefreshInterval = envDuration("REFRESH", sc.RefreshInterval, &errs)
	sc.PreviewInterval = envDuration("PREVIEW", sc.PreviewInterval, &errs)
	sc.ContrastDelta = envFloat("CONTRAST_DELTA", sc.ContrastDelta, &errs)
	sc.ViewportWidth = envInt("VIEWPORT_WIDTH", sc.ViewportWidth, &errs)
	sc.ViewportHeight = envInt("VIEWPORT_HEIGHT", sc.ViewportHeight, &errs)
	sc.ContourMargin = envFloat("CONTOUR_MARGIN", sc.ContourMargin, &errs)
	sc.BandThickness = envFloat("BAND_THICKNESS", sc.BandThickness, &errs)
	sc.LabelHeight = envFloat("LABEL_HEIGHT", sc.LabelHeight, &errs)
	sc.ShowContour = envBool("SHOW_CONTOUR", sc.ShowContour, &errs)
	sc.ContourColor = envString("CONTOUR_COLOR", sc.ContourColor)
	sc.ResultColor = envString("RESULT_COLOR", sc.ResultColor)
	sc.Beep = envBool("BEEP", sc.Beep, &errs)
	if v := os.Getenv(EnvPrefix + "SYMBOLOGIES"); v != "" {
		syms, err := types.ParseSymbologyList(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSYMBOLOGIES: %w", EnvPrefix, err))
		} else {
			sc.Symbologies = syms
		}
	}

	sv := &cfg.Server
	sv.HTTPAddr = envString("HTTP_ADDR", sv.HTTPAddr)
	sv.MetricsAddr = envString("METRICS_ADDR", sv.MetricsAddr)
	sv.PprofAddr = envString("PPROF_ADDR", sv.PprofAddr)
	sv.Source = envString("SOURCE", sv.Source)
	sv.SourceFPS = envInt("SOURCE_FPS", sv.SourceFPS, &errs)
	sv.SourceLoop = envBool("SOURCE_LOOP", sv.SourceLoop, &errs)
	if v := os.Getenv(EnvPrefix + "STUN"); v != "" {
		sv.STUNServers = SplitList(v)
	}
	sv.MaxClients = envInt("MAX_CLIENTS", sv.MaxClients, &errs)
	sv.RedisURL = envString("REDIS_URL", sv.RedisURL)
	sv.RedisChannel = envString("REDIS_CHANNEL", sv.RedisChannel)
	sv.LogLevel = envString("LOG_LEVEL", sv.LogLevel)
	sv.LogColor = envBool("LOG_COLOR", sv.LogColor, &errs)

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	sc := c.Scanner
	if sc.ThrottleInterval <= 0 {
		return fmt.Errorf("throttle interval must be positive, got %v", sc.ThrottleInterval)
	}
	if sc.FreshnessSlack < 0 {
		return fmt.Errorf("freshness slack must not be negative, got %v", sc.FreshnessSlack)
	}
	if sc.RetentionWindow <= 0 {
		return fmt.Errorf("retention window must be positive, got %v", sc.RetentionWindow)
	}
	if sc.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %v", sc.RefreshInterval)
	}
	if sc.PreviewInterval < 0 {
		return fmt.Errorf("preview interval must not be negative, got %v", sc.PreviewInterval)
	}
	if sc.ContrastDelta < 0 || sc.ContrastDelta > 255 {
		return fmt.Errorf("contrast delta must be between 0 and 255, got %v", sc.ContrastDelta)
	}
	if sc.ViewportWidth <= 0 || sc.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", sc.ViewportWidth, sc.ViewportHeight)
	}
	if len(sc.Symbologies) == 0 {
		return fmt.Errorf("at least one symbology must be allowed")
	}
	if sc.ContourMargin < 0 || sc.BandThickness <= 0 || sc.LabelHeight <= 0 {
		return fmt.Errorf("invalid overlay layout (margin=%v band=%v label=%v)",
			sc.ContourMargin, sc.BandThickness, sc.LabelHeight)
	}

	sv := c.Server
	if sv.HTTPAddr == "" {
		return fmt.Errorf("http address is required")
	}
	if sv.Source == "" {
		return fmt.Errorf("video source is required")
	}
	if sv.SourceFPS < 1 || sv.SourceFPS > 240 {
		return fmt.Errorf("source fps must be between 1 and 240, got %d", sv.SourceFPS)
	}
	if sv.MaxClients < 0 {
		return fmt.Errorf("max clients must not be negative, got %d", sv.MaxClients)
	}
	if sv.RedisURL != "" && sv.RedisChannel == "" {
		return fmt.Errorf("redis channel is required when redis url is set")
	}
	return nil
}

// SplitList splits a comma-separated list, dropping empty entries
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envString(key, def string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return def
	}
	return n
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return def
	}
	return f
}

func envBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return def
	}
	return b
}

// envDuration accepts Go durations ("750ms") or bare milliseconds ("750")
func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return def
	}
	return d
}
