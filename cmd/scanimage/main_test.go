package main

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/decoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

type sizeDecoder struct{}

func (sizeDecoder) Decode(img *image.Gray) (decoder.Symbol, error) {
	b := img.Bounds()
	if b.Dx() != 40 || b.Dy() != 20 {
		return decoder.Symbol{}, decoder.ErrNotFound
	}
	return decoder.Symbol{
		Text:      "4006381333931",
		Symbology: types.EAN13,
		Points:    []types.Point{{X: 2, Y: 10}, {X: 38, Y: 10}},
	}, nil
}

func TestLoadFrameAndScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	src := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}
	src.Set(5, 5, color.Black)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, src); err != nil {
		t.Fatal(err)
	}
	f.Close()

	img, err := loadFrame(path)
	if err != nil {
		t.Fatalf("loadFrame: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 20 {
		t.Fatalf("frame size = %v", img.Bounds())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := decoder.NewWorker(sizeDecoder{}, 30)
	go w.Run(ctx)

	resp, err := scan(ctx, w, img, time.Second)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !resp.OK || resp.Text != "4006381333931" || resp.Symbology != types.EAN13 {
		t.Fatalf("unexpected response %+v", resp)
	}

	out := filepath.Join(t.TempDir(), "annotated.png")
	if err := writeAnnotated(out, img, resp); err != nil {
		t.Fatalf("writeAnnotated: %v", err)
	}
	if st, err := os.Stat(out); err != nil || st.Size() == 0 {
		t.Fatalf("annotated file missing: %v", err)
	}
}

// slowFirstDecoder takes longer than the scan timeout on its first call only
type slowFirstDecoder struct {
	calls atomic.Int32
}

func (d *slowFirstDecoder) Decode(img *image.Gray) (decoder.Symbol, error) {
	if d.calls.Add(1) == 1 {
		time.Sleep(100 * time.Millisecond)
		return decoder.Symbol{Text: "FIRST-IMAGE", Symbology: types.QRCode}, nil
	}
	return decoder.Symbol{Text: "SECOND-IMAGE", Symbology: types.QRCode}, nil
}

func TestScanIgnoresReplyToTimedOutRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := decoder.NewWorker(&slowFirstDecoder{}, 30)
	go w.Run(ctx)

	first := image.NewRGBA(image.Rect(0, 0, 8, 8))
	if _, err := scan(ctx, w, first, 20*time.Millisecond); err == nil {
		t.Fatalf("expected timeout on the slow first decode")
	}

	second := image.NewRGBA(image.Rect(0, 0, 16, 16))
	resp, err := scan(ctx, w, second, 2*time.Second)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !resp.OK || resp.Text != "SECOND-IMAGE" {
		t.Fatalf("second scan got %+v, want its own result", resp)
	}
}

func TestLoadFrameMissingFile(t *testing.T) {
	if _, err := loadFrame(filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Fatalf("expected error")
	}
}
