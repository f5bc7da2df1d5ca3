package webmonitor

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/tracker"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

// Event types carried on /api/codes/stream
const (
	EventOverlay  = "overlay"
	EventSelected = "selected"
)

// OverlayEvent is the payload for overlay updates on /api/codes/stream.
type OverlayEvent struct {
	Type         string                `json:"type"`
	Seq          uint64                `json:"seq"`
	Timestamp    float64               `json:"timestamp"`
	Width        int                   `json:"width"`
	Height       int                   `json:"height"`
	Instructions []overlay.Instruction `json:"instructions"`
	Elements     []overlay.Element     `json:"elements"`
}

// SelectedEvent is emitted when a displayed code is clicked.
type SelectedEvent struct {
	Type         string          `json:"type"`
	Value        string          `json:"value"`
	Symbology    types.Symbology `json:"symbology"`
	DisplayIndex int             `json:"displayIndex"`
	Source       string          `json:"source"` // http or webrtc client ID
	Timestamp    float64         `json:"timestamp"`
}

// CodesSnapshot is the payload for /api/codes.
type CodesSnapshot struct {
	Seq       uint64                `json:"seq"`
	Timestamp float64               `json:"timestamp"`
	Width     int                   `json:"width"`
	Height    int                   `json:"height"`
	Elements  []overlay.Element     `json:"elements"`
	Codes     []tracker.TrackedCode `json:"codes"`
	Selected  []SelectedEvent       `json:"selected"`
}

// ViewportRequest is the body of POST /api/viewport.
type ViewportRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
