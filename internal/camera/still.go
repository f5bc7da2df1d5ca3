package camera

import "image"

// Still shows one image forever
type Still struct {
	img image.Image
}

// OpenStill loads an image file
func OpenStill(path string) (*Still, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, err
	}
	return NewStill(img), nil
}

// NewStill wraps an in-memory image
func NewStill(img image.Image) *Still {
	return &Still{img: img}
}

func (s *Still) State() State {
	return Playing
}

func (s *Still) NaturalSize() (int, int) {
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

func (s *Still) Frame() (image.Image, error) {
	return s.img, nil
}
