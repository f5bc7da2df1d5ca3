// Package capture holds the offscreen surface frames are drawn onto before decoding.
package capture

import (
	"image"

	"golang.org/x/image/draw"
)

// Surface is an RGBA canvas sized to the presentation container.
// The source frame is scaled to cover the whole surface, centered, cropping overflow.
type Surface struct {
	img    *image.RGBA
	scaler draw.Scaler
}

// New creates an empty surface
func New() *Surface {
	return &Surface{
		img:    image.NewRGBA(image.Rectangle{}),
		scaler: draw.ApproxBiLinear,
	}
}

// Resize sets the surface size, reallocating only when it changed.
// It reports whether the size changed.
func (s *Surface) Resize(width, height int) bool {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	b := s.img.Bounds()
	if b.Dx() == width && b.Dy() == height && len(s.img.Pix) == width*height*4 {
		return false
	}
	s.img = image.NewRGBA(image.Rect(0, 0, width, height))
	return true
}

// Size returns the surface dimensions
func (s *Surface) Size() (int, int) {
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// CoverRect returns where a srcW x srcH frame lands on a dstW x dstH surface
// when scaled uniformly to cover it and centered.
func CoverRect(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}
	scale := float64(dstW) / float64(srcW)
	if sy := float64(dstH) / float64(srcH); sy > scale {
		scale = sy
	}
	w := int(float64(srcW)*scale + 0.5)
	h := int(float64(srcH)*scale + 0.5)
	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// Draw renders src onto the whole surface cover-fit and centered
func (s *Surface) Draw(src image.Image) {
	if src == nil {
		return
	}
	w, h := s.Size()
	sb := src.Bounds()
	dr := CoverRect(sb.Dx(), sb.Dy(), w, h)
	if dr.Empty() {
		return
	}
	s.scaler.Scale(s.img, dr, src, sb, draw.Src, nil)
}

// Snapshot returns a copy of the surface contents
func (s *Surface) Snapshot() *image.RGBA {
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// Detach hands the pixel buffer to the caller and gives the surface a fresh one.
// The returned slice is tightly packed RGBA, width*height*4 bytes.
func (s *Surface) Detach() (pix []byte, width, height int) {
	width, height = s.Size()
	pix = s.img.Pix
	s.img = image.NewRGBA(s.img.Bounds())
	return pix, width, height
}
