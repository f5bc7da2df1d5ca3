package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	AssetsDir      string // optional directory served under /assets/
	ContourColor   string
	ResultColor    string
	ShowContour    bool
	ClientBuffer   int           // per-client event queue size
	SSEKeepalive   time.Duration // comment line interval on idle SSE streams
	MJPEGKeepalive time.Duration // blank frame interval on idle MJPEG streams
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ContourColor:   "#FFD22B",
		ResultColor:    "#FFD22B",
		ShowContour:    true,
		ClientBuffer:   8,
		SSEKeepalive:   30 * time.Second,
		MJPEGKeepalive: 5 * time.Second,
	}
}
