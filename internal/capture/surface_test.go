package capture

import (
	"image"
	"image/color"
	"testing"
)

func TestCoverRect(t *testing.T) {
	tests := []struct {
		name                   string
		srcW, srcH, dstW, dstH int
		want                   image.Rectangle
	}{
		{"same aspect", 640, 480, 320, 240, image.Rect(0, 0, 320, 240)},
		{"wide source crops sides", 1920, 1080, 600, 600, image.Rect(-233, 0, 834, 600)},
		{"tall source crops top and bottom", 480, 640, 480, 320, image.Rect(0, -160, 480, 480)},
		{"empty surface", 640, 480, 0, 100, image.Rectangle{}},
		{"empty source", 0, 480, 100, 100, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CoverRect(tt.srcW, tt.srcH, tt.dstW, tt.dstH)
			if got != tt.want {
				t.Fatalf("CoverRect = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDrawCoversSurface(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 40; x++ {
			// Left half red, right half blue.
			if x < 20 {
				src.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				src.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}

	s := New()
	s.Resize(20, 20)
	s.Draw(src)

	img := s.Snapshot()
	for _, p := range []image.Point{{0, 0}, {19, 19}, {5, 10}, {14, 10}} {
		if img.RGBAAt(p.X, p.Y).A != 255 {
			t.Fatalf("pixel %v not covered", p)
		}
	}
	if c := img.RGBAAt(2, 10); c.R < 200 || c.B > 50 {
		t.Fatalf("left pixel = %v, want red", c)
	}
	if c := img.RGBAAt(17, 10); c.B < 200 || c.R > 50 {
		t.Fatalf("right pixel = %v, want blue", c)
	}
}

func TestResizeReportsChange(t *testing.T) {
	s := New()
	if !s.Resize(10, 5) {
		t.Fatalf("first resize should change size")
	}
	if s.Resize(10, 5) {
		t.Fatalf("same size should not reallocate")
	}
	if w, h := s.Size(); w != 10 || h != 5 {
		t.Fatalf("size = %dx%d", w, h)
	}
	if s.Resize(-1, 5) != true {
		t.Fatalf("negative width should clamp to zero and change size")
	}
	if w, _ := s.Size(); w != 0 {
		t.Fatalf("width = %d", w)
	}
}

func filled(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDetachTransfersBuffer(t *testing.T) {
	s := New()
	s.Resize(4, 2)
	s.Draw(filled(4, 2, color.RGBA{R: 200, A: 255}))

	pix, w, h := s.Detach()
	if w != 4 || h != 2 || len(pix) != 32 || pix[0] < 190 {
		t.Fatalf("detached %dx%d len %d first %d", w, h, len(pix), pix[0])
	}
	s.Draw(filled(4, 2, color.RGBA{R: 20, A: 255}))
	if pix[0] < 190 {
		t.Fatalf("surface still shares the detached buffer")
	}
	if snap := s.Snapshot(); snap.Pix[0] > 30 {
		t.Fatalf("fresh buffer not drawn: %d", snap.Pix[0])
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := New()
	s.Resize(2, 2)
	snap := s.Snapshot()
	s.Draw(filled(2, 2, color.RGBA{R: 200, A: 255}))
	if snap.Pix[0] != 0 {
		t.Fatalf("snapshot shares memory with surface")
	}
}
