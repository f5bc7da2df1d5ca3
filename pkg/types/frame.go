package types

// Point is a 2D point in capture-surface coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle in capture-surface coordinates
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Bounds returns the axis-aligned bounding box of pts.
// ok is false when pts is empty.
func Bounds(pts []Point) (minX, minY, maxX, maxY float64, ok bool) {
	if len(pts) == 0 {
		return 0, 0, 0, 0, false
	}
	minX, minY = pts[0].X, pts[0].Y
	maxX, maxY = minX, minY
	for _, p := range pts[1:] {
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
		maxX = max(maxX, p.X)
		maxY = max(maxY, p.Y)
	}
	return minX, minY, maxX, maxY, true
}
