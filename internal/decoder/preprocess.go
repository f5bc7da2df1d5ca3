package decoder

import (
	"fmt"
	"image"
)

// Perceptual luminance weights
const (
	weightR = 0.299
	weightG = 0.587
	weightB = 0.114
)

// EnhanceContrast converts an RGBA buffer to grayscale and pushes every pixel
// away from the frame's mean luminance by delta, clamped to [0,255].
// Pixels below the mean get darker, the rest get brighter.
func EnhanceContrast(pix []byte, width, height int, delta float64) (*image.Gray, error) {
	if err := validateBuffer(pix, width, height); err != nil {
		return nil, err
	}

	n := width * height

	// Pass 1: mean luminance
	var total float64
	for i := 0; i < len(pix); i += 4 {
		total += luminance(pix[i], pix[i+1], pix[i+2])
	}
	mean := total / float64(n)

	// Pass 2: push away from the mean
	gray := image.NewGray(image.Rect(0, 0, width, height))
	for i, j := 0, 0; j < n; i, j = i+4, j+1 {
		y := luminance(pix[i], pix[i+1], pix[i+2])
		if y < mean {
			y = max(0, y-delta)
		} else {
			y = min(255, y+delta)
		}
		gray.Pix[j] = uint8(y)
	}
	return gray, nil
}

func luminance(r, g, b uint8) float64 {
	return float64(r)*weightR + float64(g)*weightG + float64(b)*weightB
}

func validateBuffer(pix []byte, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrMalformedFrame, width, height)
	}
	if len(pix) != width*height*4 {
		return fmt.Errorf("%w: buffer is %d bytes, want %d for %dx%d RGBA",
			ErrMalformedFrame, len(pix), width*height*4, width, height)
	}
	return nil
}
