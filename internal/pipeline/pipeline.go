// Package pipeline runs the frame loop: it captures frames, schedules decodes,
// tracks codes and hands overlay updates to the presentation layer.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/camera"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/capture"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/scheduler"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/tracker"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

const previewQuality = 80

// DecodeWorker is the message channel pair of a decode worker
type DecodeWorker interface {
	Requests() chan<- types.DecodeRequest
	Responses() <-chan types.DecodeResponse
	Run(ctx context.Context)
}

// Batch is one overlay update handed to the presentation layer
type Batch struct {
	Seq          uint64                `json:"seq"`
	Timestamp    time.Time             `json:"timestamp"`
	Width        int                   `json:"width"`
	Height       int                   `json:"height"`
	Instructions []overlay.Instruction `json:"instructions"`
	Elements     []overlay.Element     `json:"elements"`
	Codes        []tracker.TrackedCode `json:"codes"`
}

// Presenter receives overlay updates; it must not block
type Presenter interface {
	Present(b Batch)
}

// PreviewSink receives JPEG preview frames with the overlay composited
type PreviewSink interface {
	PublishPreview(jpeg []byte)
}

// AppearanceSink receives newly appeared codes; it must not block
type AppearanceSink interface {
	Submit(app tracker.Appearance) bool
}

// Options wires the pipeline collaborators. Presenter, Preview and Appearances are optional.
type Options struct {
	Config      config.Scanner
	Source      camera.VideoSource
	Worker      DecodeWorker
	Presenter   Presenter
	Preview     PreviewSink
	Appearances AppearanceSink
	Metrics     *metrics.Metrics
}

// Pipeline is the frame loop. Step and Close must be called from one goroutine.
type Pipeline struct {
	cfg      config.Scanner
	source   camera.VideoSource
	worker   DecodeWorker
	surface  *capture.Surface
	sched    *scheduler.Scheduler
	tracker  *tracker.Tracker
	renderer *overlay.Renderer
	style    overlay.Style

	presenter   Presenter
	preview     PreviewSink
	appearances AppearanceSink
	metrics     *metrics.Metrics

	viewport     atomic.Uint64 // width<<32 | height
	frameNum     uint64
	seq          uint64
	dispatchedAt time.Time
	lastPreview  time.Time
	previewCh    chan *image.RGBA
	closeOnce    sync.Once
}

// New creates a pipeline from opts
func New(opts Options) *Pipeline {
	cfg := opts.Config
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	style := overlay.DefaultStyle()
	if c, err := overlay.ParseColor(cfg.ContourColor); err == nil {
		style.Contour = c
	}
	if c, err := overlay.ParseColor(cfg.ResultColor); err == nil {
		style.Result = c
	}

	p := &Pipeline{
		cfg:     cfg,
		source:  opts.Source,
		worker:  opts.Worker,
		surface: capture.New(),
		sched:   scheduler.New(cfg.ThrottleInterval, opts.Worker.Requests()),
		tracker: tracker.New(tracker.Config{
			ThrottleInterval: cfg.ThrottleInterval,
			FreshnessSlack:   cfg.FreshnessSlack,
			RetentionWindow:  cfg.RetentionWindow,
		}),
		renderer: overlay.NewRenderer(overlay.Layout{
			Margin:        cfg.ContourMargin,
			BandThickness: cfg.BandThickness,
			LabelHeight:   cfg.LabelHeight,
			ShowContour:   cfg.ShowContour,
		}),
		style:       style,
		presenter:   opts.Presenter,
		preview:     opts.Preview,
		appearances: opts.Appearances,
		metrics:     m,
		previewCh:   make(chan *image.RGBA, 1),
	}
	p.SetViewport(cfg.ViewportWidth, cfg.ViewportHeight)
	return p
}

// SetViewport sets the presentation container size the capture surface follows
func (p *Pipeline) SetViewport(width, height int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	p.viewport.Store(uint64(uint32(width))<<32 | uint64(uint32(height)))
}

// Viewport returns the current container size
func (p *Pipeline) Viewport() (int, int) {
	v := p.viewport.Load()
	return int(v >> 32), int(uint32(v))
}

// Run drives Step at the refresh interval until ctx is cancelled or the
// source pauses or ends. The worker runs for the lifetime of Run.
func (p *Pipeline) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.worker.Run(loopCtx)
	}()
	go func() {
		defer wg.Done()
		p.previewLoop(loopCtx)
	}()
	defer func() {
		cancel()
		wg.Wait()
		p.Close()
	}()

	interval := p.cfg.RefreshInterval
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Pipeline", "Frame loop started (refresh=%v throttle=%v retention=%v)",
		interval, p.cfg.ThrottleInterval, p.cfg.RetentionWindow)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Pipeline", "Frame loop stopping: %v", ctx.Err())
			return nil
		case now := <-ticker.C:
			if !p.Step(now) {
				logger.Info("Pipeline", "Frame loop finished: source %s", p.source.State())
				return nil
			}
		}
	}
}

// Step runs one frame tick. It returns false once the loop should stop:
// the source is paused or ended, or the pipeline was closed.
func (p *Pipeline) Step(now time.Time) bool {
	if p.tracker.Closed() {
		p.drainStale()
		return false
	}
	if st := p.source.State(); st == camera.Paused || st == camera.Ended {
		return false
	}

	width, height := p.Viewport()
	if p.surface.Resize(width, height) {
		logger.Debug("Pipeline", "Capture surface resized to %dx%d", width, height)
	}

	captured := p.capture()
	wantPreview := captured && p.preview != nil && p.cfg.PreviewInterval > 0 && width > 0 && height > 0 && now.Sub(p.lastPreview) >= p.cfg.PreviewInterval
	var snapshot *image.RGBA
	if wantPreview {
		snapshot = p.surface.Snapshot()
		p.lastPreview = now
	}

	select {
	case resp := <-p.worker.Responses():
		p.handleResponse(resp, now)
	default:
	}

	if captured {
		p.schedule(now)
	}
	p.metrics.DecodeInFlightMs.Store(uint64(p.sched.InFlight(now).Milliseconds()))

	tick := p.tracker.Advance(now)
	p.metrics.TrackedCodes.Store(uint64(len(tick.Codes)))
	p.metrics.Expirations.Add(uint64(len(tick.Expired)))
	for _, value := range tick.Expired {
		logger.Debug("Pipeline", "Code expired: %s", value)
	}

	up := p.renderer.Render(tick.Codes)
	p.metrics.Relayouts.Add(uint64(up.Relayouts))
	if len(up.Instructions) > 0 && p.presenter != nil {
		p.seq++
		p.presenter.Present(Batch{
			Seq:          p.seq,
			Timestamp:    now,
			Width:        width,
			Height:       height,
			Instructions: up.Instructions,
			Elements:     up.Elements,
			Codes:        copyCodes(tick.Codes),
		})
	}

	for _, app := range tick.Appeared {
		p.metrics.Appearances.Add(1)
		logger.Info("Pipeline", "Code appeared: %s (%s)", app.Value, app.Symbology)
		if p.appearances != nil {
			p.appearances.Submit(app)
		}
	}

	if snapshot != nil {
		overlay.Compose(snapshot, up.Elements, p.style)
		select {
		case p.previewCh <- snapshot:
		default:
		}
	}
	return true
}

func (p *Pipeline) capture() bool {
	img, err := p.source.Frame()
	if err != nil {
		p.metrics.FramesNoSource.Add(1)
		if !errors.Is(err, camera.ErrNoFrame) {
			logger.Warn("Pipeline", "Source frame error: %v", err)
		}
		return false
	}
	p.surface.Draw(img)
	p.frameNum++
	p.metrics.FramesCaptured.Add(1)
	return true
}

func (p *Pipeline) schedule(now time.Time) {
	decision := p.sched.Tick(now, func() types.DecodeRequest {
		pix, w, h := p.surface.Detach()
		return types.DecodeRequest{
			Cmd:         types.CmdDecode,
			Width:       w,
			Height:      h,
			PixelBuffer: pix,
			FrameNum:    p.frameNum,
		}
	})
	switch decision {
	case scheduler.Dispatched:
		p.dispatchedAt = now
		p.metrics.DecodeDispatched.Add(1)
	case scheduler.SkippedBusy:
		p.metrics.DecodeSkippedBusy.Add(1)
	case scheduler.SkippedThrottle:
		p.metrics.DecodeSkippedThrottle.Add(1)
	}
}

func (p *Pipeline) handleResponse(resp types.DecodeResponse, now time.Time) {
	p.sched.Complete()
	if !p.dispatchedAt.IsZero() {
		p.metrics.ObserveDecodeLatency(now.Sub(p.dispatchedAt))
	}

	if !p.tracker.Observe(resp, now) {
		p.metrics.StaleResponses.Add(1)
		logger.Debug("Pipeline", "Ignoring response for frame %d after teardown", resp.FrameNum)
		return
	}
	if resp.OK {
		p.metrics.DecodeSucceeded.Add(1)
		logger.Debug("Pipeline", "Decoded %s %q from frame %d", resp.Symbology, resp.Text, resp.FrameNum)
	} else {
		p.metrics.DecodeFailed.Add(1)
		logger.Debug("Pipeline", "Decode failed for frame %d: %s", resp.FrameNum, resp.Error)
	}
}

// drainStale consumes a response that arrived after teardown
func (p *Pipeline) drainStale() {
	select {
	case resp := <-p.worker.Responses():
		p.handleResponse(resp, time.Now())
	default:
	}
}

// Close tears the pipeline down: the tracker stops accepting results and
// presentation clients are told to remove every element.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.tracker.Close()
		removed := p.renderer.Reset()
		if len(removed) > 0 && p.presenter != nil {
			p.seq++
			p.presenter.Present(Batch{
				Seq:          p.seq,
				Timestamp:    time.Now(),
				Instructions: removed,
			})
		}
		p.metrics.TrackedCodes.Store(0)
		p.drainStale()
		logger.Info("Pipeline", "Pipeline closed")
	})
}

// Codes returns the currently tracked codes
func (p *Pipeline) Codes() []tracker.TrackedCode {
	return p.tracker.Codes()
}

func (p *Pipeline) previewLoop(ctx context.Context) {
	if p.preview == nil {
		return
	}
	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return
		case img := <-p.previewCh:
			buf.Reset()
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: previewQuality}); err != nil {
				logger.Warn("Pipeline", "Preview encode failed: %v", err)
				continue
			}
			p.preview.PublishPreview(bytes.Clone(buf.Bytes()))
			p.metrics.PreviewFrames.Add(1)
		}
	}
}

func copyCodes(codes []*tracker.TrackedCode) []tracker.TrackedCode {
	out := make([]tracker.TrackedCode, len(codes))
	for i, c := range codes {
		out[i] = *c
		out[i].BoundaryPoints = append([]types.Point(nil), c.BoundaryPoints...)
	}
	return out
}
