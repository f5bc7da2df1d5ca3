// Package camera provides the video sources the frame loop reads from.
package camera

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"time"
)

// ErrNoFrame is returned when a source has nothing to show yet
var ErrNoFrame = errors.New("no frame available")

// State is the playback state of a source
type State int

const (
	Playing State = iota
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// VideoSource is a live frame producer.
// The frame loop stops for good once a source reports Paused or Ended.
type VideoSource interface {
	State() State
	NaturalSize() (width, height int)
	Frame() (image.Image, error)
}

// Options configure Open
type Options struct {
	FPS  int
	Loop bool
}

// Open builds a source from a spec string:
//
//	file:<path>   a single still image shown forever
//	dir:<path>    image files in name order, played at FPS
//	mjpeg:<url>   multipart JPEG stream over HTTP
//
// A bare path is treated as a file, or a directory when it is one.
func Open(spec string, opts Options) (VideoSource, error) {
	kind, target, found := strings.Cut(spec, ":")
	if !found || (kind != "file" && kind != "dir" && kind != "mjpeg") {
		kind, target = "", spec
		if st, err := os.Stat(spec); err == nil && st.IsDir() {
			kind = "dir"
		} else {
			kind = "file"
		}
	}

	switch kind {
	case "file":
		return OpenStill(target)
	case "dir":
		interval := time.Second / 30
		if opts.FPS > 0 {
			interval = time.Second / time.Duration(opts.FPS)
		}
		return OpenDirectory(target, interval, opts.Loop)
	case "mjpeg":
		return NewMJPEG(target), nil
	}
	return nil, fmt.Errorf("unknown source %q", spec)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
