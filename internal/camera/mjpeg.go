package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/logger"
)

// MJPEG reads a multipart/x-mixed-replace JPEG stream and keeps the latest frame
type MJPEG struct {
	url    string
	client *http.Client

	mu      sync.RWMutex
	latest  image.Image
	width   int
	height  int
	ended   bool
	err     error
	started bool
}

// NewMJPEG creates a source for url; call Start to begin reading
func NewMJPEG(url string) *MJPEG {
	return &MJPEG{
		url:    url,
		client: &http.Client{},
	}
}

// Start connects and reads frames until ctx is cancelled or the stream ends
func (m *MJPEG) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		err := m.read(ctx)
		m.mu.Lock()
		m.ended = true
		m.err = err
		m.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Camera", "MJPEG stream %s ended: %v", m.url, err)
		} else {
			logger.Info("Camera", "MJPEG stream %s ended", m.url)
		}
	}()
}

func (m *MJPEG) read(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("content type: %w", err)
	}
	if mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		return fmt.Errorf("not an MJPEG stream: %s", mediaType)
	}

	logger.Info("Camera", "Reading MJPEG stream %s", m.url)
	mr := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		img, err := jpeg.Decode(part)
		part.Close()
		if err != nil {
			logger.Debug("Camera", "Skipping undecodable part: %v", err)
			continue
		}

		m.mu.Lock()
		m.latest = img
		m.width, m.height = img.Bounds().Dx(), img.Bounds().Dy()
		m.mu.Unlock()
	}
}

func (m *MJPEG) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ended {
		return Ended
	}
	return Playing
}

// NaturalSize is zero until the first frame arrives
func (m *MJPEG) NaturalSize() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.width, m.height
}

func (m *MJPEG) Frame() (image.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return nil, ErrNoFrame
	}
	return m.latest, nil
}

// Err returns the error that ended the stream, if any
func (m *MJPEG) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// WaitFirstFrame blocks until a frame arrives, the stream ends or timeout passes
func (m *MJPEG) WaitFirstFrame(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		m.mu.RLock()
		ready, ended, err := m.latest != nil, m.ended, m.err
		m.mu.RUnlock()
		switch {
		case ready:
			return nil
		case ended:
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrNoFrame
		case <-tick.C:
		}
	}
}
