package types

// CmdDecode is the only command the decode worker understands
const CmdDecode = "decode"

// DecodeRequest is the message sent to the decode worker.
// Ownership of PixelBuffer moves to the worker with the message;
// the sender must not touch it after sending.
type DecodeRequest struct {
	Cmd         string `json:"cmd"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	PixelBuffer []byte `json:"pixelBuffer"`
	FrameNum    uint64 `json:"frameNum,omitempty"`
}

// DecodeResponse is the worker's reply: either a decoded symbol (OK) or a failure.
type DecodeResponse struct {
	OK             bool      `json:"ok"`
	Text           string    `json:"text,omitempty"`
	Symbology      Symbology `json:"symbology,omitempty"`
	BoundaryPoints []Point   `json:"boundaryPoints,omitempty"`
	Error          string    `json:"error,omitempty"`
	FrameNum       uint64    `json:"frameNum,omitempty"`
}
