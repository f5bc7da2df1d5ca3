// Command scanimage decodes optical codes in image files through the scanner's decode worker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/camera"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/capture"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/decoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

var (
	symbologies = flag.String("symbologies", types.FormatSymbologyList(types.AllSymbologies), "Allowed symbologies (comma-separated)")
	contrast    = flag.Float64("contrast", config.DefaultConfig().Scanner.ContrastDelta, "Contrast delta applied before decoding")
	timeout     = flag.Duration("timeout", 5*time.Second, "Per-image decode timeout")
	jsonOut     = flag.Bool("json", false, "Print worker responses as JSON lines")
	annotate    = flag.String("annotate", "", "Write the last image with its overlay to this PNG path")
	logLevel    = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
)

// requestSeq numbers decode requests so late replies can be told apart
var requestSeq atomic.Uint64

// result pairs an input file with its decode response
type result struct {
	File string `json:"file"`
	types.DecodeResponse
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] image...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)

	syms, err := types.ParseSymbologyList(*symbologies)
	if err != nil {
		log.Fatalf("Invalid symbologies: %v", err)
	}
	zx, err := decoder.NewZXing(syms)
	if err != nil {
		log.Fatalf("Failed to create decoder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := decoder.NewWorker(zx, *contrast)
	go worker.Run(ctx)

	failed := 0
	enc := json.NewEncoder(os.Stdout)
	for _, path := range flag.Args() {
		img, err := loadFrame(path)
		if err != nil {
			logger.Error("ScanImage", "%s: %v", path, err)
			failed++
			continue
		}

		resp, err := scan(ctx, worker, img, *timeout)
		if err != nil {
			logger.Error("ScanImage", "%s: %v", path, err)
			failed++
			continue
		}
		if !resp.OK {
			failed++
		}

		if *jsonOut {
			_ = enc.Encode(result{File: path, DecodeResponse: resp})
		} else if resp.OK {
			fmt.Printf("%s\t%s\t%s\n", path, resp.Symbology, resp.Text)
		} else {
			fmt.Printf("%s\t-\t%s\n", path, resp.Error)
		}

		if *annotate != "" && resp.OK {
			if err := writeAnnotated(*annotate, img, resp); err != nil {
				logger.Error("ScanImage", "annotate: %v", err)
			}
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// loadFrame reads an image file into an RGBA frame at its natural size
func loadFrame(path string) (*image.RGBA, error) {
	still, err := camera.OpenStill(path)
	if err != nil {
		return nil, err
	}
	frame, err := still.Frame()
	if err != nil {
		return nil, err
	}
	w, h := still.NaturalSize()
	surface := capture.New()
	surface.Resize(w, h)
	surface.Draw(frame)
	return surface.Snapshot(), nil
}

// scan sends one request through the worker channels and waits for its reply.
// Replies to earlier requests that timed out are dropped.
func scan(ctx context.Context, w *decoder.Worker, img *image.RGBA, timeout time.Duration) (types.DecodeResponse, error) {
	b := img.Bounds()
	pix := make([]byte, len(img.Pix))
	copy(pix, img.Pix)
	req := types.DecodeRequest{
		Cmd:         types.CmdDecode,
		Width:       b.Dx(),
		Height:      b.Dy(),
		PixelBuffer: pix,
		FrameNum:    requestSeq.Add(1),
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case w.Requests() <- req:
	case <-timer.C:
		return types.DecodeResponse{}, fmt.Errorf("worker busy")
	case <-ctx.Done():
		return types.DecodeResponse{}, ctx.Err()
	}
	for {
		select {
		case resp := <-w.Responses():
			if resp.FrameNum != req.FrameNum {
				logger.Debug("ScanImage", "Ignoring late response for request %d", resp.FrameNum)
				continue
			}
			return resp, nil
		case <-timer.C:
			return types.DecodeResponse{}, fmt.Errorf("decode timed out after %v", timeout)
		case <-ctx.Done():
			return types.DecodeResponse{}, ctx.Err()
		}
	}
}

func writeAnnotated(path string, img *image.RGBA, resp types.DecodeResponse) error {
	geom := overlay.DefaultLayout().Compute(resp.Symbology, resp.BoundaryPoints)
	overlay.Compose(img, []overlay.Element{{
		Value:        resp.Text,
		Symbology:    resp.Symbology,
		DisplayIndex: 1,
		Geometry:     &geom,
	}}, overlay.DefaultStyle())

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
