package overlay

import (
	"strconv"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

// Layout holds the fixed overlay dimensions
type Layout struct {
	Margin        float64 // Matrix code box expansion on every side
	BandThickness float64 // Linear code scan-line band height
	LabelHeight   float64
	ShowContour   bool // When false elements carry no geometry
}

// DefaultLayout returns the layout the scanner ships with
func DefaultLayout() Layout {
	return Layout{
		Margin:        50,
		BandThickness: 30,
		LabelHeight:   24,
		ShowContour:   true,
	}
}

// Label anchors
const (
	AnchorBelow = "below"
	AnchorAbove = "above"
)

// Geometry is the on-screen layout of one tracked code
type Geometry struct {
	Box         types.Rect  `json:"box"`
	Band        *types.Rect `json:"band,omitempty"` // scan line, linear codes only
	Label       types.Rect  `json:"label"`
	LabelAnchor string      `json:"labelAnchor"`
}

// Compute derives the overlay geometry of a code from its boundary points.
// Matrix codes get their bounding box grown by the margin with the label below it;
// linear codes get their bounding box, a band centered on it and the label above it.
func (l Layout) Compute(sym types.Symbology, pts []types.Point) Geometry {
	minX, minY, maxX, maxY, ok := types.Bounds(pts)
	if !ok {
		return Geometry{LabelAnchor: anchorFor(sym)}
	}

	if sym.IsMatrix() {
		box := types.Rect{
			X: minX - l.Margin,
			Y: minY - l.Margin,
			W: (maxX - minX) + 2*l.Margin,
			H: (maxY - minY) + 2*l.Margin,
		}
		return Geometry{
			Box:         box,
			Label:       types.Rect{X: box.X, Y: box.Y + box.H, W: box.W, H: l.LabelHeight},
			LabelAnchor: AnchorBelow,
		}
	}

	box := types.Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
	centerY := (minY + maxY) / 2
	band := types.Rect{
		X: box.X,
		Y: centerY - l.BandThickness/2,
		W: box.W,
		H: l.BandThickness,
	}
	return Geometry{
		Box:         box,
		Band:        &band,
		Label:       types.Rect{X: box.X, Y: box.Y - l.LabelHeight, W: box.W, H: l.LabelHeight},
		LabelAnchor: AnchorAbove,
	}
}

func anchorFor(sym types.Symbology) string {
	if sym.IsMatrix() {
		return AnchorBelow
	}
	return AnchorAbove
}

// Fingerprint returns a stable key for a boundary; equal points give equal keys
func Fingerprint(pts []types.Point) string {
	buf := make([]byte, 0, len(pts)*16)
	for i, p := range pts {
		if i > 0 {
			buf = append(buf, ';')
		}
		buf = strconv.AppendFloat(buf, p.X, 'g', -1, 64)
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, p.Y, 'g', -1, 64)
	}
	return string(buf)
}
