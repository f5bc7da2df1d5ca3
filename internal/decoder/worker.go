package decoder

import (
	"context"
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

// Worker runs decode requests on its own goroutine.
// It holds no state between requests besides its decoder configuration.
type Worker struct {
	decoder   SymbolDecoder
	delta     float64
	requests  chan types.DecodeRequest
	responses chan types.DecodeResponse
}

// NewWorker creates a worker around dec. delta is the contrast push applied before decoding.
func NewWorker(dec SymbolDecoder, delta float64) *Worker {
	return &Worker{
		decoder: dec,
		delta:   delta,
		// At most one request is ever outstanding.
		requests:  make(chan types.DecodeRequest, 1),
		responses: make(chan types.DecodeResponse, 1),
	}
}

// Requests is the inbound message channel
func (w *Worker) Requests() chan<- types.DecodeRequest {
	return w.requests
}

// Responses is the outbound message channel
func (w *Worker) Responses() <-chan types.DecodeResponse {
	return w.responses
}

// Run serves requests until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	logger.Debug("Decoder", "Worker started")
	defer logger.Debug("Decoder", "Worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			resp := w.Decode(req)
			select {
			case w.responses <- resp:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Decode handles a single request synchronously. Failures are reported in the
// response, never returned or panicked.
func (w *Worker) Decode(req types.DecodeRequest) (resp types.DecodeResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = failure(req, fmt.Errorf("decoder panic: %v", r))
		}
	}()

	if req.Cmd != types.CmdDecode {
		return failure(req, fmt.Errorf("unknown command %q", req.Cmd))
	}

	gray, err := EnhanceContrast(req.PixelBuffer, req.Width, req.Height, w.delta)
	if err != nil {
		return failure(req, err)
	}

	sym, err := w.decoder.Decode(gray)
	if err != nil {
		return failure(req, err)
	}

	return types.DecodeResponse{
		OK:             true,
		Text:           sym.Text,
		Symbology:      sym.Symbology,
		BoundaryPoints: sym.Points,
		FrameNum:       req.FrameNum,
	}
}

func failure(req types.DecodeRequest, err error) types.DecodeResponse {
	return types.DecodeResponse{
		OK:       false,
		Error:    err.Error(),
		FrameNum: req.FrameNum,
	}
}
