package camera

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}

// Directory plays the images of a directory in name order at a fixed interval.
// Frames are decoded lazily and the last decoded frame is cached.
type Directory struct {
	files    []string
	interval time.Duration
	loop     bool
	now      func() time.Time

	mu        sync.Mutex
	start     time.Time
	cachedIdx int
	cached    image.Image
	width     int
	height    int
}

// OpenDirectory lists the image files in dir
func OpenDirectory(dir string, interval time.Duration, loop bool) (*Directory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(files)
	return newDirectory(files, interval, loop, time.Now)
}

func newDirectory(files []string, interval time.Duration, loop bool, now func() time.Time) (*Directory, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid frame interval %v", interval)
	}
	d := &Directory{
		files:     files,
		interval:  interval,
		loop:      loop,
		now:       now,
		start:     now(),
		cachedIdx: -1,
	}
	first, err := loadImage(files[0])
	if err != nil {
		return nil, err
	}
	d.cachedIdx, d.cached = 0, first
	d.width, d.height = first.Bounds().Dx(), first.Bounds().Dy()
	return d, nil
}

func (d *Directory) index() (int, bool) {
	n := int(d.now().Sub(d.start) / d.interval)
	if n >= len(d.files) {
		if !d.loop {
			return len(d.files) - 1, true
		}
		n %= len(d.files)
	}
	return n, false
}

func (d *Directory) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ended := d.index(); ended {
		return Ended
	}
	return Playing
}

// NaturalSize reports the size of the first image
func (d *Directory) NaturalSize() (int, int) {
	return d.width, d.height
}

func (d *Directory) Frame() (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx, _ := d.index()
	if idx == d.cachedIdx {
		return d.cached, nil
	}
	img, err := loadImage(d.files[idx])
	if err != nil {
		return d.cached, err
	}
	d.cachedIdx, d.cached = idx, img
	return img, nil
}
